package ledger

import "testing"

func TestThresholdIndexNextAboveAndBelow(t *testing.T) {
	t.Parallel()

	idx := NewThresholdIndex()
	idx.Rebuild(map[float64][]ThresholdEntry{
		-5: {{UserID: "a", SizeUnwind: 1, CostUnwind: 0.1}},
		-1: {{UserID: "b", SizeUnwind: 1, CostUnwind: 0.2}},
		2:  {{UserID: "c", SizeUnwind: -1, CostUnwind: -0.3}},
		7:  {{UserID: "d", SizeUnwind: -1, CostUnwind: -0.4}},
	})

	if idx.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", idx.Len())
	}

	if key, entries, ok := idx.NextAbove(0); !ok || key != 2 || entries[0].UserID != "c" {
		t.Errorf("NextAbove(0) = %v, %v, %v; want 2, [c], true", key, entries, ok)
	}
	if key, _, ok := idx.NextAbove(2); !ok || key != 7 {
		t.Errorf("NextAbove(2) = %v, %v; want 7, true (strictly greater)", key, ok)
	}
	if _, _, ok := idx.NextAbove(7); ok {
		t.Error("NextAbove(7) should have no key strictly above 7")
	}

	if key, entries, ok := idx.NextBelow(0); !ok || key != -1 || entries[0].UserID != "b" {
		t.Errorf("NextBelow(0) = %v, %v, %v; want -1, [b], true", key, entries, ok)
	}
	if key, _, ok := idx.NextBelow(-1); !ok || key != -5 {
		t.Errorf("NextBelow(-1) = %v, %v; want -5, true (strictly less)", key, ok)
	}
	if _, _, ok := idx.NextBelow(-5); ok {
		t.Error("NextBelow(-5) should have no key strictly below -5")
	}
}

func TestThresholdIndexRebuildDiscardsPrevious(t *testing.T) {
	t.Parallel()

	idx := NewThresholdIndex()
	idx.Rebuild(map[float64][]ThresholdEntry{
		3: {{UserID: "stale", SizeUnwind: 1, CostUnwind: 0.1}},
	})
	idx.Rebuild(map[float64][]ThresholdEntry{
		9: {{UserID: "fresh", SizeUnwind: 1, CostUnwind: 0.1}},
	})

	if idx.Len() != 1 {
		t.Fatalf("Len() after rebuild = %d, want 1", idx.Len())
	}
	if _, _, ok := idx.NextAbove(-100); !ok {
		t.Fatal("expected the fresh key to be found")
	}
	key, entries, _ := idx.NextAbove(-100)
	if key != 9 || entries[0].UserID != "fresh" {
		t.Errorf("got key %v entries %v, want 9 [fresh]", key, entries)
	}
}

func TestThresholdIndexTiesShareKeyInInsertionOrder(t *testing.T) {
	t.Parallel()

	idx := NewThresholdIndex()
	idx.Rebuild(map[float64][]ThresholdEntry{
		4: {
			{UserID: "first", SizeUnwind: 1, CostUnwind: 0.1},
			{UserID: "second", SizeUnwind: 1, CostUnwind: 0.2},
		},
	})
	_, entries, ok := idx.NextAbove(0)
	if !ok || len(entries) != 2 {
		t.Fatalf("entries = %v, ok %v; want 2 entries", entries, ok)
	}
	if entries[0].UserID != "first" || entries[1].UserID != "second" {
		t.Errorf("entries order = %v, want [first, second]", entries)
	}
}
