package ledger

// Account is a user's balance-level state: the initial deposit (never
// touched by trading), cumulative realized PnL, and aggregate exposure
// (sum of |total_cost_basis| across that user's open positions).
type Account struct {
	Balance     float64
	RealizedPnL float64
	Exposure    float64
}

// Collateral is the amount available to back a trade's effective cost:
// balance plus realized PnL. It is what the collateral gate in the trade
// executor compares effective_cost against.
func (a Account) Collateral() float64 {
	return a.Balance + a.RealizedPnL
}

// Equity is balance + realized PnL + the sum of unrealized PnL across all
// of the user's open positions. unrealizedTotal must be computed by the
// caller, since Account has no knowledge of positions.
func (a Account) Equity(unrealizedTotal float64) float64 {
	return a.Balance + a.RealizedPnL + unrealizedTotal
}
