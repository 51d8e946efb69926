package engine

import "fmt"

// Kind identifies which error-taxonomy bucket (spec.md §7) a TradeError
// belongs to, so a caller can map it to the right outbound error frame and
// the right trade_errors_total{kind} metric label without string matching.
type Kind string

const (
	KindMalformedRequest       Kind = "malformed_request"
	KindUnknownPost            Kind = "unknown_post"
	KindInsufficientCollateral Kind = "insufficient_collateral"
	KindNumericFault           Kind = "numeric_fault"
	KindInternal               Kind = "internal"
)

// TradeError is the typed error every public Engine method returns on
// failure.
type TradeError struct {
	Kind Kind
	Msg  string
}

func (e *TradeError) Error() string { return e.Msg }

func malformed(msg string) *TradeError {
	return &TradeError{Kind: KindMalformedRequest, Msg: msg}
}

func unknownPost() *TradeError {
	return &TradeError{Kind: KindUnknownPost, Msg: "post not found"}
}

func insufficientCollateral(cost, available float64) *TradeError {
	return &TradeError{
		Kind: KindInsufficientCollateral,
		Msg:  fmt.Sprintf("effective cost %v exceeds available collateral %v", cost, available),
	}
}

func numericFault(err error) *TradeError {
	return &TradeError{Kind: KindNumericFault, Msg: err.Error()}
}
