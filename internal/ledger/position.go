// Package ledger holds the per-user, per-post accounting state: positions,
// balances, realized PnL, exposure, and the per-post liquidation-threshold
// index. It is the only package that knows the shape of that state; the
// trade executor in internal/engine reads and writes it through the methods
// below, which is what makes the per-post critical section in that package
// sufficient to guarantee atomicity (see market.Registry.WithPost).
package ledger

import "github.com/curvepost/engine/internal/curve"

// Position is a user's holding in one post. Size is signed: positive is
// long, negative is short. TotalCostBasis is the signed collateral
// attributable to the position: positive for longs, negative for shorts.
type Position struct {
	Size           float64
	TotalCostBasis float64
}

// IsFlat reports whether the position is within Epsilon of zero.
func (p Position) IsFlat() bool {
	return p.Size < curve.Epsilon && p.Size > -curve.Epsilon
}

// AvgPrice is total_cost_basis / size, or 0 if the position is flat. For a
// short this is positive (both operands are negative).
func (p Position) AvgPrice() float64 {
	if p.IsFlat() {
		return 0
	}
	return p.TotalCostBasis / p.Size
}

// UnrealizedPnL is (marketPrice - AvgPrice) * Size, or 0 if flat.
func (p Position) UnrealizedPnL(marketPrice float64) float64 {
	if p.IsFlat() {
		return 0
	}
	return (marketPrice - p.AvgPrice()) * p.Size
}

// Apply adds a trade of the given signed size and cost to the position,
// resetting both fields to exactly zero if the resulting size falls below
// Epsilon. The trader's own trade goes through it; a forced liquidation
// does not, it replaces the liquidated user's position with a zero Position.
func (p Position) Apply(sizeDelta, costDelta float64) Position {
	p.Size += sizeDelta
	p.TotalCostBasis += costDelta
	if p.IsFlat() {
		p.Size = 0
		p.TotalCostBasis = 0
	}
	return p
}
