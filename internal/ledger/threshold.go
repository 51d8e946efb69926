package ledger

import "github.com/google/btree"

// ThresholdEntry is one user's forced-unwind data recorded at a liquidation
// supply key: the supply delta the unwind imposes on the market and the
// smooth-curve cost of that unwind, computed once when the index is built.
type ThresholdEntry struct {
	UserID     string
	SizeUnwind float64
	CostUnwind float64
}

// bucket is the btree item for one supply key; it holds every entry that
// shares that key, in the order they were inserted during the rebuild sweep.
type bucket struct {
	key     float64
	entries []ThresholdEntry
}

func (b *bucket) Less(than btree.Item) bool {
	return b.key < than.(*bucket).key
}

// ThresholdIndex is the per-post ordered map from liquidation supply to the
// forced-unwind entries of every user whose position would be wiped out at
// that supply. It is rebuilt from scratch by Rebuild whenever a post's
// positions may have changed, per the rebuild policy Ledger.RebuildThresholds
// implements; this type itself does no such bookkeeping, it just stores the
// result.
type ThresholdIndex struct {
	tree *btree.BTree
}

// NewThresholdIndex returns an empty index.
func NewThresholdIndex() *ThresholdIndex {
	return &ThresholdIndex{tree: btree.New(32)}
}

// Rebuild discards the current contents and inserts one bucket per distinct
// key in entriesByKey. Buckets with no entries are omitted.
func (idx *ThresholdIndex) Rebuild(entriesByKey map[float64][]ThresholdEntry) {
	tree := btree.New(32)
	for key, entries := range entriesByKey {
		if len(entries) == 0 {
			continue
		}
		tree.ReplaceOrInsert(&bucket{key: key, entries: entries})
	}
	idx.tree = tree
}

// Len reports the number of distinct keys currently in the index.
func (idx *ThresholdIndex) Len() int {
	return idx.tree.Len()
}

// NextAbove returns the smallest key strictly greater than s, along with its
// entries, and true if such a key exists.
func (idx *ThresholdIndex) NextAbove(s float64) (key float64, entries []ThresholdEntry, ok bool) {
	idx.tree.AscendGreaterOrEqual(&bucket{key: s}, func(item btree.Item) bool {
		b := item.(*bucket)
		if b.key <= s {
			return true // keep scanning past keys at or before s
		}
		key, entries, ok = b.key, b.entries, true
		return false
	})
	return
}

// NextBelow returns the largest key strictly less than s, along with its
// entries, and true if such a key exists.
func (idx *ThresholdIndex) NextBelow(s float64) (key float64, entries []ThresholdEntry, ok bool) {
	idx.tree.DescendLessOrEqual(&bucket{key: s}, func(item btree.Item) bool {
		b := item.(*bucket)
		if b.key >= s {
			return true // keep scanning past keys at or after s
		}
		key, entries, ok = b.key, b.entries, true
		return false
	})
	return
}
