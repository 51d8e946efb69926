package ledger

import (
	"math"
	"sync"
	"testing"
)

func TestLedgerAccountLazyCreation(t *testing.T) {
	t.Parallel()

	l := NewLedger(1000)
	acct := l.Account("u1")
	if acct.Balance != 1000 {
		t.Errorf("fresh account balance = %v, want 1000", acct.Balance)
	}
	if acct.RealizedPnL != 0 || acct.Exposure != 0 {
		t.Errorf("fresh account = %+v, want zeroed PnL/exposure", acct)
	}
}

func TestLedgerMutateAccountPersists(t *testing.T) {
	t.Parallel()

	l := NewLedger(1000)
	l.MutateAccount("u1", func(a *Account) { a.RealizedPnL -= 5.0 / 3.0 })
	got := l.Account("u1")
	if math.Abs(got.RealizedPnL+5.0/3.0) > 1e-9 {
		t.Errorf("RealizedPnL after mutate = %v, want %v", got.RealizedPnL, -5.0/3.0)
	}
}

func TestLedgerMutatePositionAndExposure(t *testing.T) {
	t.Parallel()

	l := NewLedger(1000)
	l.MutatePosition("u1", "post-a", func(p Position) Position {
		return p.Apply(1, 5.0/3.0)
	})
	l.MutatePosition("u1", "post-b", func(p Position) Position {
		return p.Apply(-1, -0.61371)
	})

	acct := l.RecomputeExposure("u1")
	want := 5.0/3.0 + 0.61371
	if math.Abs(acct.Exposure-want) > 1e-6 {
		t.Errorf("Exposure = %v, want %v", acct.Exposure, want)
	}
}

func TestLedgerRebuildThresholdsMatchesScenarioS5(t *testing.T) {
	t.Parallel()

	l := NewLedger(1000)
	// U1 holds long size=1, basis=5/3, balance=1, realized_pnl=0 -> collateral=1.
	l.MutateAccount("u1", func(a *Account) { a.Balance = 1; a.RealizedPnL = 0 })
	l.MutatePosition("u1", "post-p", func(p Position) Position {
		return p.Apply(1, 5.0/3.0)
	})

	l.RebuildThresholds("post-p")
	idx := l.Thresholds("post-p")

	key, entries, ok := idx.NextAbove(-100)
	if !ok {
		t.Fatal("expected a threshold entry for U1")
	}
	if math.Abs(key-(-0.25)) > 1e-9 {
		t.Errorf("s* = %v, want -0.25", key)
	}
	if len(entries) != 1 || entries[0].UserID != "u1" {
		t.Fatalf("entries = %v, want one entry for u1", entries)
	}
	if math.Abs(entries[0].SizeUnwind-(-1)) > 1e-9 {
		t.Errorf("size_unwind = %v, want -1", entries[0].SizeUnwind)
	}
}

func TestLedgerRebuildThresholdsSkipsUnliquidatableUsers(t *testing.T) {
	t.Parallel()

	l := NewLedger(1000)
	// Huge collateral means target_price <= 0, so no entry should be created.
	l.MutateAccount("rich", func(a *Account) { a.Balance = 1e9 })
	l.MutatePosition("rich", "post-p", func(p Position) Position {
		return p.Apply(1, 5.0/3.0)
	})

	l.RebuildThresholds("post-p")
	if l.Thresholds("post-p").Len() != 0 {
		t.Errorf("expected no threshold entries for an overcollateralized user")
	}
}

func TestLedgerConcurrentMutateAccountIsRaceFree(t *testing.T) {
	t.Parallel()

	l := NewLedger(0)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.MutateAccount("shared", func(a *Account) { a.RealizedPnL += 1 })
		}()
	}
	wg.Wait()

	got := l.Account("shared")
	if got.RealizedPnL != 100 {
		t.Errorf("RealizedPnL after concurrent mutation = %v, want 100", got.RealizedPnL)
	}
}
