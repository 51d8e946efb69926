package ledger

import (
	"math"
	"sync"

	"github.com/curvepost/engine/internal/curve"
)

type posKey struct {
	user string
	post string
}

type accountRow struct {
	mu   sync.Mutex
	acct Account
}

type positionRow struct {
	mu  sync.Mutex
	pos Position
}

// Ledger is the sharded store of every user's account and every
// (user, post) position, plus one liquidation-threshold index per post. A
// row-level mutex (accountRow/positionRow) guards the value fields of one
// entity; the top-level mutex only guards whether a row exists yet, the
// same split the market registry uses for post rows. Atomicity across the
// several rows touched by one trade (§4.4 steps 1-7) is the caller's
// responsibility, enforced by holding that post's lock in internal/market
// for the whole critical section.
type Ledger struct {
	mu             sync.RWMutex
	initialBalance float64
	accounts       map[string]*accountRow
	positions      map[posKey]*positionRow
	byPost         map[string]map[string]struct{}
	byUser         map[string]map[string]struct{}
	thresholds     map[string]*ThresholdIndex
}

// NewLedger returns an empty ledger. Every account created lazily on first
// touch starts with the given balance.
func NewLedger(initialBalance float64) *Ledger {
	return &Ledger{
		initialBalance: initialBalance,
		accounts:       make(map[string]*accountRow),
		positions:      make(map[posKey]*positionRow),
		byPost:         make(map[string]map[string]struct{}),
		byUser:         make(map[string]map[string]struct{}),
		thresholds:     make(map[string]*ThresholdIndex),
	}
}

func (l *Ledger) accountRow(userID string) *accountRow {
	l.mu.RLock()
	row, ok := l.accounts[userID]
	l.mu.RUnlock()
	if ok {
		return row
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if row, ok := l.accounts[userID]; ok {
		return row
	}
	row = &accountRow{acct: Account{Balance: l.initialBalance}}
	l.accounts[userID] = row
	return row
}

// Account returns a snapshot of a user's account, creating it with the
// ledger's initial balance if this is the user's first touch.
func (l *Ledger) Account(userID string) Account {
	row := l.accountRow(userID)
	row.mu.Lock()
	defer row.mu.Unlock()
	return row.acct
}

// MutateAccount applies fn to a user's account under its row lock and
// returns the resulting snapshot.
func (l *Ledger) MutateAccount(userID string, fn func(*Account)) Account {
	row := l.accountRow(userID)
	row.mu.Lock()
	defer row.mu.Unlock()
	fn(&row.acct)
	return row.acct
}

func (l *Ledger) positionRow(userID, postID string) *positionRow {
	key := posKey{userID, postID}
	l.mu.RLock()
	row, ok := l.positions[key]
	l.mu.RUnlock()
	if ok {
		return row
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if row, ok := l.positions[key]; ok {
		return row
	}
	row = &positionRow{}
	l.positions[key] = row
	if l.byPost[postID] == nil {
		l.byPost[postID] = make(map[string]struct{})
	}
	l.byPost[postID][userID] = struct{}{}
	if l.byUser[userID] == nil {
		l.byUser[userID] = make(map[string]struct{})
	}
	l.byUser[userID][postID] = struct{}{}
	return row
}

// Position returns a snapshot of a user's position on a post, creating a
// flat one if none exists yet.
func (l *Ledger) Position(userID, postID string) Position {
	row := l.positionRow(userID, postID)
	row.mu.Lock()
	defer row.mu.Unlock()
	return row.pos
}

// MutatePosition applies fn to a user's position on a post under its row
// lock and returns the resulting snapshot. fn receives the position by
// value and returns the replacement, matching Position.Apply's shape.
func (l *Ledger) MutatePosition(userID, postID string, fn func(Position) Position) Position {
	row := l.positionRow(userID, postID)
	row.mu.Lock()
	defer row.mu.Unlock()
	row.pos = fn(row.pos)
	return row.pos
}

// PositionsForPost snapshots every user's position on a post, positions that
// were never created are absent rather than zero-valued.
func (l *Ledger) PositionsForPost(postID string) map[string]Position {
	l.mu.RLock()
	users := make([]string, 0, len(l.byPost[postID]))
	for u := range l.byPost[postID] {
		users = append(users, u)
	}
	l.mu.RUnlock()

	out := make(map[string]Position, len(users))
	for _, u := range users {
		out[u] = l.Position(u, postID)
	}
	return out
}

// PositionKey identifies one (user, post) position row, exported for
// callers outside this package that need to enumerate every position (the
// snapshot store).
type PositionKey struct {
	UserID string
	PostID string
}

// AllAccounts snapshots every account row the ledger has ever created.
func (l *Ledger) AllAccounts() map[string]Account {
	l.mu.RLock()
	userIDs := make([]string, 0, len(l.accounts))
	for u := range l.accounts {
		userIDs = append(userIDs, u)
	}
	l.mu.RUnlock()

	out := make(map[string]Account, len(userIDs))
	for _, u := range userIDs {
		out[u] = l.Account(u)
	}
	return out
}

// AllPositions snapshots every (user, post) position row the ledger has
// ever created, flat or not.
func (l *Ledger) AllPositions() map[PositionKey]Position {
	l.mu.RLock()
	keys := make([]posKey, 0, len(l.positions))
	for k := range l.positions {
		keys = append(keys, k)
	}
	l.mu.RUnlock()

	out := make(map[PositionKey]Position, len(keys))
	for _, k := range keys {
		out[PositionKey{UserID: k.user, PostID: k.post}] = l.Position(k.user, k.post)
	}
	return out
}

// PostsForUser lists every post a user has ever opened a position row on.
func (l *Ledger) PostsForUser(userID string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.byUser[userID]))
	for p := range l.byUser[userID] {
		out = append(out, p)
	}
	return out
}

// RecomputeExposure recalculates a user's aggregate exposure as the sum of
// |total_cost_basis| across every position they hold and stores it.
func (l *Ledger) RecomputeExposure(userID string) Account {
	var exposure float64
	for _, postID := range l.PostsForUser(userID) {
		exposure += math.Abs(l.Position(userID, postID).TotalCostBasis)
	}
	return l.MutateAccount(userID, func(a *Account) { a.Exposure = exposure })
}

// UnrealizedPnLTotal sums unrealized PnL across every position a user holds.
// priceOf resolves the current market price for a post; a post with no
// resolvable price contributes nothing (it has no open positions anyway in
// the canonical design, since a position implies the post exists).
func (l *Ledger) UnrealizedPnLTotal(userID string, priceOf func(postID string) (float64, bool)) float64 {
	var total float64
	for _, postID := range l.PostsForUser(userID) {
		price, ok := priceOf(postID)
		if !ok {
			continue
		}
		total += l.Position(userID, postID).UnrealizedPnL(price)
	}
	return total
}

func (l *Ledger) thresholdIndex(postID string) *ThresholdIndex {
	l.mu.RLock()
	idx, ok := l.thresholds[postID]
	l.mu.RUnlock()
	if ok {
		return idx
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if idx, ok := l.thresholds[postID]; ok {
		return idx
	}
	idx = NewThresholdIndex()
	l.thresholds[postID] = idx
	return idx
}

// Thresholds returns the liquidation-threshold index for a post, creating an
// empty one if this post has never had one rebuilt.
func (l *Ledger) Thresholds(postID string) *ThresholdIndex {
	return l.thresholdIndex(postID)
}

// RebuildThresholds recomputes the full liquidation-threshold index for a
// post from its current positions, per the §4.3 rebuild policy: a full
// sweep producing one entry per user whose liquidation is geometrically
// possible (target_price > 0), keyed by that user's liquidation supply.
func (l *Ledger) RebuildThresholds(postID string) {
	positions := l.PositionsForPost(postID)
	byKey := make(map[float64][]ThresholdEntry, len(positions))
	for userID, pos := range positions {
		acct := l.Account(userID)
		s, entry, ok := liquidationEntry(userID, pos, acct)
		if !ok {
			continue
		}
		byKey[s] = append(byKey[s], entry)
	}
	l.thresholdIndex(postID).Rebuild(byKey)
}

// LiquidationSupply reports the supply at which userID's position on postID
// would be wiped out, in isolation from every other position on that post
// (the same per-user formula RebuildThresholds sweeps over the whole book).
// ok is false if the position is flat or the liquidation is geometrically
// impossible (target_price <= 0, see curve.InverseAt).
func (l *Ledger) LiquidationSupply(userID, postID string) (float64, bool) {
	pos := l.Position(userID, postID)
	acct := l.Account(userID)
	s, _, ok := liquidationEntry(userID, pos, acct)
	return s, ok
}

func liquidationEntry(userID string, pos Position, acct Account) (float64, ThresholdEntry, bool) {
	if pos.IsFlat() {
		return 0, ThresholdEntry{}, false
	}
	targetPrice := pos.AvgPrice() - acct.Collateral()/pos.Size
	s, ok := curve.InverseAt(targetPrice)
	if !ok {
		return 0, ThresholdEntry{}, false
	}
	sizeUnwind := -pos.Size
	costUnwind, err := curve.SmoothCost(s, s+sizeUnwind)
	if err != nil {
		return 0, ThresholdEntry{}, false
	}
	return s, ThresholdEntry{UserID: userID, SizeUnwind: sizeUnwind, CostUnwind: costUnwind}, true
}
