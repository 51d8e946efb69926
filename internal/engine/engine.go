// Package engine implements the trading engine's core algorithm: the
// segmented-integration trade executor (spec.md §4.4) and the collateral
// gate (§4.5), wired to the post registry and the ledger. Orchestration
// here generalizes the teacher's engine.Engine shape (internal/engine in
// 0xtitan6-polymarket-mm), repurposed from supervising market-making
// goroutines to supervising trade commits: there is no background
// goroutine here since every trade is synchronous with respect to the
// caller, but the same "one struct owns every collaborator, one
// constructor wires them" shape is kept.
package engine

import (
	"errors"
	"log/slog"
	"time"

	"github.com/curvepost/engine/internal/curve"
	"github.com/curvepost/engine/internal/ledger"
	"github.com/curvepost/engine/internal/market"
)

// Recorder receives trade/liquidation/error counters. internal/telemetry
// implements it with prometheus counters; tests can use a no-op or a
// recording fake without importing prometheus.
type Recorder interface {
	ObserveTrade(side string)
	ObserveLiquidation()
	ObserveTradeError(kind Kind)
}

type noopRecorder struct{}

func (noopRecorder) ObserveTrade(string)    {}
func (noopRecorder) ObserveLiquidation()    {}
func (noopRecorder) ObserveTradeError(Kind) {}

// LiquidatedUser is one user forced out of a post mid-trade.
type LiquidatedUser struct {
	UserID     string
	ForcedPnL  float64
	CostUnwind float64
	SizeUnwind float64
}

// TradeResult is the committed outcome of a successful Buy or Sell.
type TradeResult struct {
	PostID        string
	EffectiveCost float64
	FinalSupply   float64
	Price         float64
	Liquidated    []LiquidatedUser
	AffectedUsers []string // trader first, then each liquidated user
}

// Engine ties the post registry and the ledger to the executor algorithm.
// It holds no state of its own beyond its collaborators; every trade's
// atomicity comes from market.Registry.WithPost holding that post's lock
// for the whole commit.
type Engine struct {
	registry *market.Registry
	ledger   *ledger.Ledger
	logger   *slog.Logger
	metrics  Recorder
}

// New wires an Engine. metrics may be nil, in which case observations are
// dropped.
func New(registry *market.Registry, led *ledger.Ledger, logger *slog.Logger, metrics Recorder) *Engine {
	if metrics == nil {
		metrics = noopRecorder{}
	}
	return &Engine{
		registry: registry,
		ledger:   led,
		logger:   logger.With("component", "engine"),
		metrics:  metrics,
	}
}

// CreatePost creates a new post authored by userID.
func (e *Engine) CreatePost(userID, content string) (market.Post, *TradeError) {
	if content == "" {
		return market.Post{}, malformed("content must not be empty")
	}
	post, err := e.registry.Create(userID, content, time.Now())
	if err != nil {
		e.metrics.ObserveTradeError(KindNumericFault)
		return market.Post{}, numericFault(err)
	}
	return post, nil
}

// Buy executes a buy of the given quantity against postID on userID's
// behalf. quantity must be strictly positive and at least Epsilon (spec.md
// §8 scenario S6).
func (e *Engine) Buy(postID, userID string, quantity float64) (TradeResult, *TradeError) {
	if quantity < curve.Epsilon {
		e.metrics.ObserveTradeError(KindMalformedRequest)
		return TradeResult{}, malformed("quantity must be positive and at least epsilon")
	}
	result, err := e.trade(postID, userID, quantity)
	if err != nil {
		e.metrics.ObserveTradeError(err.Kind)
		return TradeResult{}, err
	}
	e.metrics.ObserveTrade("buy")
	for range result.Liquidated {
		e.metrics.ObserveLiquidation()
	}
	return result, nil
}

// Sell executes a sell of the given quantity against postID on userID's
// behalf. Internally represented as Δ = -quantity, per spec.md §4.6.
func (e *Engine) Sell(postID, userID string, quantity float64) (TradeResult, *TradeError) {
	if quantity < curve.Epsilon {
		e.metrics.ObserveTradeError(KindMalformedRequest)
		return TradeResult{}, malformed("quantity must be positive and at least epsilon")
	}
	result, err := e.trade(postID, userID, -quantity)
	if err != nil {
		e.metrics.ObserveTradeError(err.Kind)
		return TradeResult{}, err
	}
	e.metrics.ObserveTrade("sell")
	for range result.Liquidated {
		e.metrics.ObserveLiquidation()
	}
	return result, nil
}

// trade runs the full §4.4 algorithm for signed quantity delta: simulate
// against the smooth curve and any thresholds, gate on collateral, and -
// only if the gate passes - commit steps 2-7, all while holding postID's
// lock so the whole sequence is atomic with respect to other trades on the
// same post.
func (e *Engine) trade(postID, userID string, delta float64) (TradeResult, *TradeError) {
	var result TradeResult
	var tradeErr *TradeError

	werr := e.registry.WithPost(postID, func(post *market.Post) error {
		idx := e.ledger.Thresholds(postID)
		sim, err := simulateTrade(post.Supply, delta, idx)
		if err != nil {
			tradeErr = numericFault(err)
			return nil
		}

		trader := e.ledger.Account(userID)
		available := trader.Collateral()
		if sim.EffectiveCost > available+curve.Epsilon {
			tradeErr = insufficientCollateral(sim.EffectiveCost, available)
			return nil
		}

		price, err := curve.Price(sim.FinalSupply)
		if err != nil {
			tradeErr = numericFault(err)
			return nil
		}
		post.Supply = sim.FinalSupply
		post.Price = price

		e.ledger.MutatePosition(userID, postID, func(p ledger.Position) ledger.Position {
			return p.Apply(delta, sim.EffectiveCost)
		})
		e.ledger.MutateAccount(userID, func(a *ledger.Account) {
			a.RealizedPnL -= sim.EffectiveCost
		})
		e.ledger.RecomputeExposure(userID)

		affected := []string{userID}
		liquidated := make([]LiquidatedUser, 0, len(sim.Unwinds))
		for _, u := range sim.Unwinds {
			pre := e.ledger.Position(u.UserID, postID)
			avgEntry := pre.AvgPrice()
			forcedPnL := -u.CostUnwind - avgEntry*pre.Size

			e.ledger.MutatePosition(u.UserID, postID, func(ledger.Position) ledger.Position {
				return ledger.Position{}
			})
			e.ledger.MutateAccount(u.UserID, func(a *ledger.Account) {
				a.RealizedPnL += forcedPnL
			})
			e.ledger.RecomputeExposure(u.UserID)

			liquidated = append(liquidated, LiquidatedUser{
				UserID:     u.UserID,
				ForcedPnL:  forcedPnL,
				CostUnwind: u.CostUnwind,
				SizeUnwind: u.SizeUnwind,
			})
			affected = append(affected, u.UserID)
		}

		e.ledger.RebuildThresholds(postID)

		result = TradeResult{
			PostID:        postID,
			EffectiveCost: sim.EffectiveCost,
			FinalSupply:   sim.FinalSupply,
			Price:         price,
			Liquidated:    liquidated,
			AffectedUsers: affected,
		}
		return nil
	})

	if errors.Is(werr, market.ErrNotFound) {
		return TradeResult{}, unknownPost()
	}
	if tradeErr != nil {
		return TradeResult{}, tradeErr
	}
	return result, nil
}
