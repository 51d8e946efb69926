package store

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/curvepost/engine/internal/ledger"
	"github.com/curvepost/engine/internal/market"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSaveAndLoadPost(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	p := market.Post{ID: "post-1", UserID: "alice", Content: "hello", Supply: 3, Price: 4}
	if err := s.SavePost(p); err != nil {
		t.Fatalf("SavePost: %v", err)
	}

	loaded, err := s.LoadPosts()
	if err != nil {
		t.Fatalf("LoadPosts: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("loaded %d posts, want 1", len(loaded))
	}
	if loaded[0] != p {
		t.Errorf("loaded post = %+v, want %+v", loaded[0], p)
	}
}

func TestSaveAccountOverwrites(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	_ = s.SaveAccount("alice", ledger.Account{Balance: 100})
	_ = s.SaveAccount("alice", ledger.Account{Balance: 200})

	accounts, err := s.LoadAccounts()
	if err != nil {
		t.Fatalf("LoadAccounts: %v", err)
	}
	if accounts["alice"].Balance != 200 {
		t.Errorf("balance = %v, want 200 (latest save)", accounts["alice"].Balance)
	}
}

func TestLoadPositionsMissingReturnsEmpty(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	keys, positions, err := s.LoadPositions()
	if err != nil {
		t.Fatalf("LoadPositions: %v", err)
	}
	if len(keys) != 0 || len(positions) != 0 {
		t.Errorf("expected no positions, got %d keys, %d positions", len(keys), len(positions))
	}
}

func TestSnapshotAllThenRestoreAllRoundTrips(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	reg := market.NewRegistry()
	led := ledger.NewLedger(0)

	post, err := reg.Create("alice", "hello", time.Now())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	reg.WithPost(post.ID, func(p *market.Post) error {
		p.Supply = 5
		p.Price = 6
		return nil
	})
	// collateral (1) well under avg_price*size (10) so the restored
	// position is geometrically liquidatable, exercising RebuildThresholds.
	led.MutateAccount("bob", func(a *ledger.Account) { a.RealizedPnL = 1 })
	led.MutatePosition("bob", post.ID, func(ledger.Position) ledger.Position {
		return ledger.Position{Size: 2, TotalCostBasis: 10}
	})

	if err := s.SnapshotAll(reg, led); err != nil {
		t.Fatalf("SnapshotAll: %v", err)
	}

	restoredReg := market.NewRegistry()
	restoredLedger := ledger.NewLedger(0)
	if err := s.RestoreAll(restoredReg, restoredLedger); err != nil {
		t.Fatalf("RestoreAll: %v", err)
	}

	got, ok := restoredReg.Get(post.ID)
	if !ok {
		t.Fatalf("restored post %s not found", post.ID)
	}
	if got.Supply != 5 || got.Price != 6 {
		t.Errorf("restored post = %+v, want supply=5 price=6", got)
	}

	acct := restoredLedger.Account("bob")
	if acct.RealizedPnL != 1 {
		t.Errorf("restored realized pnl = %v, want 1", acct.RealizedPnL)
	}

	pos := restoredLedger.Position("bob", post.ID)
	if pos.Size != 2 || pos.TotalCostBasis != 10 {
		t.Errorf("restored position = %+v, want size=2 cost_basis=10", pos)
	}

	if _, entries, ok := restoredLedger.Thresholds(post.ID).NextAbove(-1000); !ok || len(entries) == 0 {
		t.Error("expected a rebuilt threshold entry for bob's restored position")
	}
}

func TestRunPeriodicStopsOnContextCancel(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	reg := market.NewRegistry()
	led := ledger.NewLedger(1000)
	logger := newTestLogger()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.RunPeriodic(ctx, 5*time.Millisecond, reg, led, logger)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunPeriodic did not stop after context cancellation")
	}
}
