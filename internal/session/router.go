package session

import (
	"encoding/json"
	"log/slog"

	"github.com/curvepost/engine/internal/api"
	"github.com/curvepost/engine/internal/engine"
	"github.com/curvepost/engine/internal/ledger"
	"github.com/curvepost/engine/internal/market"
)

// broadcaster is the subset of *api.Hub the router needs, kept as an
// interface so router tests can fake it without standing up real
// websocket connections.
type broadcaster interface {
	BroadcastAll(frame []byte)
	SendToUser(userID string, frame []byte)
}

// marketObserver receives a post's current supply/price after every commit.
// internal/telemetry.Metrics implements it; nil is a valid no-op observer.
type marketObserver interface {
	ObserveMarket(postID string, supply, price float64)
}

// sessionObserver receives connect/disconnect notifications for the
// active-session gauge. internal/telemetry.Metrics implements it.
type sessionObserver interface {
	SessionOpened()
	SessionClosed()
}

// Observer is the full telemetry hook Router accepts; internal/telemetry.Metrics
// implements it. A nil Observer is replaced with a no-op.
type Observer interface {
	marketObserver
	sessionObserver
}

// Router implements api.InboundHandler and api.ConnectHandler, turning
// wire frames into engine calls and engine results back into wire frames.
// It is the only package that knows both the wire schema and the engine's
// Go API; internal/api and internal/engine know neither of each other.
type Router struct {
	engine   *engine.Engine
	registry *market.Registry
	ledger   *ledger.Ledger
	hub      broadcaster
	metrics  marketObserver
	sessions sessionObserver
	logger   *slog.Logger
}

// noopMetrics satisfies both marketObserver and sessionObserver so Router
// never has to nil-check before calling either.
type noopMetrics struct{}

func (noopMetrics) ObserveMarket(string, float64, float64) {}
func (noopMetrics) SessionOpened()                         {}
func (noopMetrics) SessionClosed()                         {}

// NewRouter wires a Router. metrics may be nil, in which case market and
// session observations are dropped.
func NewRouter(eng *engine.Engine, registry *market.Registry, led *ledger.Ledger, hub broadcaster, metrics Observer, logger *slog.Logger) *Router {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Router{
		engine:   eng,
		registry: registry,
		ledger:   led,
		hub:      hub,
		metrics:  metrics,
		sessions: metrics,
		logger:   logger.With("component", "session-router"),
	}
}

// HandleDisconnect implements api.DisconnectHandler.
func (rt *Router) HandleDisconnect(client *api.Client) {
	rt.sessions.SessionClosed()
}

// HandleConnect sends the initial_state/user_sync pair spec.md §4.6 requires
// of every newly admitted session.
func (rt *Router) HandleConnect(client *api.Client) {
	rt.sessions.SessionOpened()
	posts := rt.registry.List()
	wirePosts := make([]Post, 0, len(posts))
	for _, p := range posts {
		wirePosts = append(wirePosts, postToWire(p))
	}
	client.Send(rt.marshal(newInitialStateOut(wirePosts)))
	client.Send(rt.marshal(rt.buildUserSync(client.UserID())))
}

// HandleInbound dispatches one parsed client frame by its "type" tag.
func (rt *Router) HandleInbound(client *api.Client, raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		client.Send(rt.marshal(newErrorOut("malformed request: invalid json")))
		return
	}

	switch env.Type {
	case "create_post":
		rt.handleCreatePost(client, raw)
	case "buy":
		rt.handleTrade(client, raw, true)
	case "sell":
		rt.handleTrade(client, raw, false)
	default:
		client.Send(rt.marshal(newErrorOut("malformed request: unknown message type " + env.Type)))
	}
}

func (rt *Router) handleCreatePost(client *api.Client, raw []byte) {
	var in createPostIn
	if err := json.Unmarshal(raw, &in); err != nil {
		client.Send(rt.marshal(newErrorOut("malformed request: invalid create_post frame")))
		return
	}

	post, tradeErr := rt.engine.CreatePost(client.UserID(), in.Content)
	if tradeErr != nil {
		client.Send(rt.marshal(newErrorOut(errorMessage(tradeErr))))
		return
	}

	rt.metrics.ObserveMarket(post.ID, post.Supply, post.Price)
	rt.hub.BroadcastAll(rt.marshal(newNewPostOut(postToWire(post))))
}

func (rt *Router) handleTrade(client *api.Client, raw []byte, isBuy bool) {
	postID, quantity, err := parseTradeFrame(raw, isBuy)
	if err != nil {
		client.Send(rt.marshal(newErrorOut("malformed request: invalid trade frame")))
		return
	}

	var result engine.TradeResult
	var tradeErr *engine.TradeError
	if isBuy {
		result, tradeErr = rt.engine.Buy(postID, client.UserID(), quantity)
	} else {
		result, tradeErr = rt.engine.Sell(postID, client.UserID(), quantity)
	}
	if tradeErr != nil {
		client.Send(rt.marshal(newErrorOut(errorMessage(tradeErr))))
		return
	}

	rt.metrics.ObserveMarket(result.PostID, result.FinalSupply, result.Price)

	// market_update must reach every session before any user_sync arising
	// from the same trade, per spec.md §5's ordering guarantee.
	rt.hub.BroadcastAll(rt.marshal(newMarketUpdateOut(result.PostID, result.Price, result.FinalSupply)))
	for _, userID := range result.AffectedUsers {
		rt.hub.SendToUser(userID, rt.marshal(rt.buildUserSync(userID)))
	}
}

func parseTradeFrame(raw []byte, isBuy bool) (postID string, quantity float64, err error) {
	if isBuy {
		var in buyIn
		if err = json.Unmarshal(raw, &in); err != nil {
			return "", 0, err
		}
		return in.PostID, in.Quantity, nil
	}
	var in sellIn
	if err = json.Unmarshal(raw, &in); err != nil {
		return "", 0, err
	}
	return in.PostID, in.Quantity, nil
}

// buildUserSync assembles the current user_sync frame for userID from the
// ledger and registry: one snapshot read per position, each joined against
// its post's current price.
func (rt *Router) buildUserSync(userID string) userSyncOut {
	acct := rt.ledger.Account(userID)
	postIDs := rt.ledger.PostsForUser(userID)

	positions := make([]PositionDetail, 0, len(postIDs))
	var unrealizedTotal float64
	for _, postID := range postIDs {
		pos := rt.ledger.Position(userID, postID)
		if pos.IsFlat() {
			continue
		}
		post, ok := rt.registry.Get(postID)
		if !ok {
			continue
		}
		unrealizedTotal += pos.UnrealizedPnL(post.Price)
		liqSupply, liqOK := rt.ledger.LiquidationSupply(userID, postID)
		positions = append(positions, positionDetail(postID, pos, post.Price, liqSupply, liqOK))
	}

	return newUserSyncOut(acct, unrealizedTotal, positions)
}

func (rt *Router) marshal(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		rt.logger.Error("failed to marshal outbound frame", "error", err)
		return nil
	}
	return b
}
