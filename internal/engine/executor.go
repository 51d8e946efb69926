package engine

import (
	"fmt"
	"math"

	"github.com/curvepost/engine/internal/curve"
	"github.com/curvepost/engine/internal/ledger"
)

// unwind is one forced-liquidation leg applied mid-trade.
type unwind struct {
	UserID     string
	CostUnwind float64
	SizeUnwind float64
}

// simResult is the pure, no-mutation outcome of walking the curve from a
// starting supply toward a target delta, applying any thresholds crossed
// along the way. Nothing is written to the ledger or the post registry
// until the caller decides, via the collateral gate, to commit it.
type simResult struct {
	EffectiveCost float64
	FinalSupply   float64
	Unwinds       []unwind
}

// simulateTrade is a direct transliteration of the segmented-integration
// algorithm in spec.md §4.4: walk from startSupply toward startSupply+delta,
// stopping at either the trade's completion or the next liquidation
// threshold in the direction of travel, whichever comes first; if a
// threshold is reached exactly, apply every unwind recorded at that key
// before continuing. The jump a threshold's unwinds impose on current
// supply does not count against the remaining distance to travel — only
// direct curve traversal does.
func simulateTrade(startSupply, delta float64, idx *ledger.ThresholdIndex) (simResult, error) {
	if math.Abs(delta) < curve.Epsilon {
		return simResult{FinalSupply: startSupply}, nil
	}

	direction := 1.0
	if delta < 0 {
		direction = -1.0
	}

	currentS := startSupply
	remaining := delta
	var effectiveCost float64
	var unwinds []unwind

	for math.Abs(remaining) > curve.Epsilon {
		var nextKey float64
		var entries []ledger.ThresholdEntry
		var hasNext bool
		if direction > 0 {
			nextKey, entries, hasNext = idx.NextAbove(currentS)
		} else {
			nextKey, entries, hasNext = idx.NextBelow(currentS)
		}

		limit := currentS + remaining
		if hasNext {
			limit = nextKey
		}

		deltaToLimit := limit - currentS
		deltaThisSeg := deltaToLimit
		if direction*deltaToLimit > direction*remaining {
			deltaThisSeg = remaining
		}

		segmentEnd := currentS + deltaThisSeg
		cost, err := curve.SmoothCost(currentS, segmentEnd)
		if err != nil {
			return simResult{}, err
		}
		effectiveCost += cost
		currentS = segmentEnd
		remaining -= deltaThisSeg

		if hasNext && math.Abs(currentS-nextKey) < curve.Epsilon {
			for _, e := range entries {
				effectiveCost += e.CostUnwind
				currentS += e.SizeUnwind
				unwinds = append(unwinds, unwind{UserID: e.UserID, CostUnwind: e.CostUnwind, SizeUnwind: e.SizeUnwind})
			}
		}
	}

	if math.IsNaN(effectiveCost) || math.IsInf(effectiveCost, 0) {
		return simResult{}, fmt.Errorf("non-finite effective cost at supply %v", currentS)
	}

	return simResult{EffectiveCost: effectiveCost, FinalSupply: currentS, Unwinds: unwinds}, nil
}
