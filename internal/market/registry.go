// Package market owns post lifecycle: creation, lookup, listing, and the
// per-post critical section a trade must hold for the duration of the
// executor's state-commit phase. It knows nothing about curve math or
// ledger accounting; it only guards supply and price, and the lock that
// makes mutating them safe.
package market

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/curvepost/engine/internal/curve"
)

// ErrNotFound is returned when a post id has no corresponding row.
var ErrNotFound = errors.New("market: post not found")

// Post is the externally-visible state of one post: its identity, content,
// and the bonding-curve state the engine maintains for it. Supply and Price
// must only be observed or mutated while holding the owning row's lock,
// which the Registry's accessor methods enforce.
type Post struct {
	ID        string
	UserID    string
	Content   string
	CreatedAt time.Time
	Supply    float64
	Price     float64
}

// postRow pairs a Post with the mutex that serializes every trade on it.
// The mutex also guards plain reads, keeping Supply/Price always
// internally consistent (the invariant in spec.md §3: the stored price
// equals P(supply) at all observable moments outside an in-flight trade).
type postRow struct {
	mu   sync.Mutex
	post Post
}

// Registry is the sharded store of every post. A top-level RWMutex guards
// whether a row exists; each row's own mutex guards its Post fields. This
// mirrors the teacher's `slotsMu sync.RWMutex` / `slots map[...]*marketSlot`
// split: one lock for "what markets exist", a separate lock per market for
// "what is happening inside this one".
type Registry struct {
	mu   sync.RWMutex
	rows map[string]*postRow
	// order preserves creation order for List, matching how the original
	// system's DashMap iteration order was at least stable per-process;
	// a Go map has none, so we track it explicitly.
	order []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{rows: make(map[string]*postRow)}
}

// Create adds a new post with supply 0 and price P(0) = 1, generating its id
// with github.com/google/uuid.
func (r *Registry) Create(userID, content string, createdAt time.Time) (Post, error) {
	price, err := curve.Price(0)
	if err != nil {
		return Post{}, err
	}
	post := Post{
		ID:        uuid.NewString(),
		UserID:    userID,
		Content:   content,
		CreatedAt: createdAt,
		Supply:    0,
		Price:     price,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[post.ID] = &postRow{post: post}
	r.order = append(r.order, post.ID)
	return post, nil
}

// Restore inserts a post exactly as given, preserving its existing id,
// supply, and price rather than generating a new one. Used by
// internal/store to rebuild the registry from a snapshot on startup.
func (r *Registry) Restore(post Post) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rows[post.ID]; !exists {
		r.order = append(r.order, post.ID)
	}
	r.rows[post.ID] = &postRow{post: post}
}

func (r *Registry) row(postID string) (*postRow, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	row, ok := r.rows[postID]
	return row, ok
}

// Get returns a snapshot of one post.
func (r *Registry) Get(postID string) (Post, bool) {
	row, ok := r.row(postID)
	if !ok {
		return Post{}, false
	}
	row.mu.Lock()
	defer row.mu.Unlock()
	return row.post, true
}

// List returns a snapshot of every post in creation order.
func (r *Registry) List() []Post {
	r.mu.RLock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	r.mu.RUnlock()

	out := make([]Post, 0, len(ids))
	for _, id := range ids {
		if p, ok := r.Get(id); ok {
			out = append(out, p)
		}
	}
	return out
}

// WithPost runs fn holding postID's row lock for its entire duration, giving
// fn exclusive access to mutate the post's Supply and Price fields. This is
// the per-post critical section required by spec.md §5 to cover the trade
// executor's state-commit steps atomically with respect to other trades on
// the same post. Returns ErrNotFound if the post does not exist.
func (r *Registry) WithPost(postID string, fn func(*Post) error) error {
	row, ok := r.row(postID)
	if !ok {
		return ErrNotFound
	}
	row.mu.Lock()
	defer row.mu.Unlock()
	return fn(&row.post)
}
