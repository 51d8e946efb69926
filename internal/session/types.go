// Package session dispatches inbound wire frames to the trading engine and
// fans outbound frames back out through the transport's broadcast fabric.
// The wire schema here is the unchanged JSON protocol spec.md §6 defines:
// every frame is tagged by a top-level "type" field with a snake_case
// value, its other fields flat alongside it rather than nested under a
// generic "data" envelope. This generalizes the teacher's
// internal/api.DashboardEvent (itself a Type+Data wrapper) one level
// flatter, since each message here has a fixed, small, well-known shape
// rather than the dashboard's open set of event payloads.
package session

import (
	"time"

	"github.com/curvepost/engine/internal/engine"
	"github.com/curvepost/engine/internal/ledger"
	"github.com/curvepost/engine/internal/market"
)

// envelope is the common header every inbound frame carries, read first to
// decide which concrete type to unmarshal the rest of the frame into.
type envelope struct {
	Type string `json:"type"`
}

// createPostIn is the create_post inbound frame.
type createPostIn struct {
	Content string `json:"content"`
}

// buyIn is the buy inbound frame.
type buyIn struct {
	PostID   string  `json:"post_id"`
	Quantity float64 `json:"quantity"`
}

// sellIn is the sell inbound frame.
type sellIn struct {
	PostID   string  `json:"post_id"`
	Quantity float64 `json:"quantity"`
}

// Post is the wire representation of a post, per spec.md §6.
type Post struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Supply    float64   `json:"supply"`
	Price     float64   `json:"price"`
}

func postToWire(p market.Post) Post {
	return Post{
		ID:        p.ID,
		UserID:    p.UserID,
		Content:   p.Content,
		Timestamp: p.CreatedAt,
		Supply:    p.Supply,
		Price:     p.Price,
	}
}

// PositionDetail is the wire representation of one of a user's positions,
// per spec.md §6. AveragePrice is the magnitude (non-negative) regardless
// of long/short. LiquidationSupply is nil when liquidation is geometrically
// impossible for this position (see ledger.Ledger.LiquidationSupply).
type PositionDetail struct {
	PostID            string   `json:"post_id"`
	Size              float64  `json:"size"`
	AveragePrice      float64  `json:"average_price"`
	UnrealizedPnL     float64  `json:"unrealized_pnl"`
	LiquidationSupply *float64 `json:"liquidation_supply"`
}

func positionDetail(postID string, pos ledger.Position, marketPrice float64, liqSupply float64, liqOK bool) PositionDetail {
	avg := pos.AvgPrice()
	if avg < 0 {
		avg = -avg
	}
	d := PositionDetail{
		PostID:        postID,
		Size:          pos.Size,
		AveragePrice:  avg,
		UnrealizedPnL: pos.UnrealizedPnL(marketPrice),
	}
	if liqOK {
		d.LiquidationSupply = &liqSupply
	}
	return d
}

// initialStateOut is sent once, right after a session is admitted.
type initialStateOut struct {
	Type  string `json:"type"`
	Posts []Post `json:"posts"`
}

func newInitialStateOut(posts []Post) initialStateOut {
	return initialStateOut{Type: "initial_state", Posts: posts}
}

// userSyncOut is sent to every session of an affected user after their
// account or positions change, and once on connect.
type userSyncOut struct {
	Type            string           `json:"type"`
	Balance         float64          `json:"balance"`
	Exposure        float64          `json:"exposure"`
	Equity          float64          `json:"equity"`
	Positions       []PositionDetail `json:"positions"`
	TotalRealizedPnL float64         `json:"total_realized_pnl"`
}

func newUserSyncOut(acct ledger.Account, unrealizedTotal float64, positions []PositionDetail) userSyncOut {
	return userSyncOut{
		Type:             "user_sync",
		Balance:          acct.Balance,
		Exposure:         acct.Exposure,
		Equity:           acct.Equity(unrealizedTotal),
		Positions:        positions,
		TotalRealizedPnL: acct.RealizedPnL,
	}
}

// newPostOut is broadcast to every session when a post is created.
type newPostOut struct {
	Type string `json:"type"`
	Post Post   `json:"post"`
}

func newNewPostOut(p Post) newPostOut {
	return newPostOut{Type: "new_post", Post: p}
}

// marketUpdateOut is broadcast to every session after a trade commits.
type marketUpdateOut struct {
	Type   string  `json:"type"`
	PostID string  `json:"post_id"`
	Price  float64 `json:"price"`
	Supply float64 `json:"supply"`
}

func newMarketUpdateOut(postID string, price, supply float64) marketUpdateOut {
	return marketUpdateOut{Type: "market_update", PostID: postID, Price: price, Supply: supply}
}

// errorOut is sent to the originating session only, on any rejected frame.
type errorOut struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func newErrorOut(message string) errorOut {
	return errorOut{Type: "error", Message: message}
}

// errorMessage maps an engine.TradeError to the text of the error frame's
// message field, per the taxonomy in spec.md §7.
func errorMessage(err *engine.TradeError) string {
	return err.Error()
}
