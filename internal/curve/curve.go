// Package curve implements the bonding-curve pricing kernel: the
// instantaneous price function P(s), its closed-form antiderivative F(s),
// and the definite-integral cost of moving supply from one point to
// another. All three are pure functions of signed supply; none of them
// touch any shared state.
package curve

import (
	"fmt"
	"math"
)

// Epsilon is the single tolerance used for all curve and equity float
// comparisons in this module and its callers. Centralized here per the
// float-tolerance discipline the rest of the engine follows.
const Epsilon = 1e-9

// Price returns P(s), the instantaneous price at signed supply s.
//
//	s > 0: P(s) = 1 + sqrt(s)
//	s < 0: P(s) = 1 / (1 + sqrt(|s|))
//	s = 0: P(s) = 1 (the one-sided limits agree)
func Price(s float64) (float64, error) {
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return 0, fmt.Errorf("curve: non-finite supply %v", s)
	}
	switch {
	case s > Epsilon:
		return 1 + math.Sqrt(s), nil
	case s < -Epsilon:
		return 1 / (1 + math.Sqrt(-s)), nil
	default:
		return 1, nil
	}
}

// F returns the antiderivative of P evaluated at s, i.e. the integral of
// P(x) dx from 0 to s.
//
//	s > 0: F(s) = s + (2/3)*s^(3/2)
//	s < 0: F(s) = -(2*sqrt(|s|) - 2*ln(1+sqrt(|s|)))
//	s = 0: F(s) = 0
func F(s float64) (float64, error) {
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return 0, fmt.Errorf("curve: non-finite supply %v", s)
	}
	switch {
	case s > Epsilon:
		return s + (2.0/3.0)*math.Pow(s, 1.5), nil
	case s < -Epsilon:
		t := -s
		return -(2*math.Sqrt(t) - 2*math.Log(1+math.Sqrt(t))), nil
	default:
		return 0, nil
	}
}

// SmoothCost returns the smooth-segment cost of moving supply from a to b:
// F(b) - F(a). Positive when buying (b > a), negative when selling
// (b < a). A result within Epsilon of zero is returned as exactly zero.
// Non-finite inputs produce a propagated error rather than a silent zero.
func SmoothCost(a, b float64) (float64, error) {
	fa, err := F(a)
	if err != nil {
		return 0, err
	}
	fb, err := F(b)
	if err != nil {
		return 0, err
	}
	cost := fb - fa
	if math.IsNaN(cost) || math.IsInf(cost, 0) {
		return 0, fmt.Errorf("curve: non-finite cost moving supply %v -> %v", a, b)
	}
	if math.Abs(cost) < Epsilon {
		return 0, nil
	}
	return cost, nil
}

// InverseAt returns the supply s such that P(s) == targetPrice, provided
// targetPrice > 0. ok is false if the inverse is not defined (non-positive
// target price), in which case the liquidation this inverse feeds is
// treated as impossible.
//
//	targetPrice == 1: s = 0
//	targetPrice  > 1: s = (targetPrice - 1)^2   (positive branch)
//	0 < targetPrice < 1: s = -((1/targetPrice) - 1)^2   (negative branch)
//	targetPrice <= 0: undefined
func InverseAt(targetPrice float64) (s float64, ok bool) {
	switch {
	case targetPrice <= 0:
		return 0, false
	case math.Abs(targetPrice-1) < Epsilon:
		return 0, true
	case targetPrice > 1:
		d := targetPrice - 1
		return d * d, true
	default:
		d := (1 / targetPrice) - 1
		return -(d * d), true
	}
}
