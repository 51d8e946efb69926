package session

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/curvepost/engine/internal/api"
	"github.com/curvepost/engine/internal/auth"
	"github.com/curvepost/engine/internal/config"
	"github.com/curvepost/engine/internal/engine"
	"github.com/curvepost/engine/internal/ledger"
	"github.com/curvepost/engine/internal/market"
)

// newTestServer wires the full stack - ledger, registry, engine, hub,
// router, HTTP handlers - behind an httptest server, and returns a dialer
// that authenticates as the given user id via the stub validator.
func newTestServer(t *testing.T) (dial func(userID string) *websocket.Conn, reg *market.Registry) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg = market.NewRegistry()
	led := ledger.NewLedger(1000)
	eng := engine.New(reg, led, logger, nil)
	hub := api.NewHub(logger)
	go hub.Run()

	rt := NewRouter(eng, reg, led, hub, nil, logger)
	hub.SetDisconnectHandler(rt)
	handlers := api.NewHandlers(config.ServerConfig{}, hub, auth.NewStubValidator(), rt, rt, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", handlers.HandleWebSocket)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	dial = func(userID string) *websocket.Conn {
		wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + userID
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		t.Cleanup(func() { conn.Close() })
		return conn
	}
	return dial, reg
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var frame map[string]interface{}
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	return frame
}

func TestConnectSendsInitialStateThenUserSync(t *testing.T) {
	t.Parallel()

	dial, _ := newTestServer(t)
	conn := dial("alice")

	first := readFrame(t, conn)
	if first["type"] != "initial_state" {
		t.Fatalf("first frame type = %v, want initial_state", first["type"])
	}
	second := readFrame(t, conn)
	if second["type"] != "user_sync" {
		t.Fatalf("second frame type = %v, want user_sync", second["type"])
	}
	if second["balance"].(float64) != 1000 {
		t.Errorf("balance = %v, want 1000", second["balance"])
	}
}

func TestCreatePostBroadcastsNewPost(t *testing.T) {
	t.Parallel()

	dial, _ := newTestServer(t)
	conn := dial("alice")
	readFrame(t, conn) // initial_state
	readFrame(t, conn) // user_sync

	if err := conn.WriteJSON(map[string]string{"type": "create_post", "content": "hello world"}); err != nil {
		t.Fatalf("write create_post: %v", err)
	}

	frame := readFrame(t, conn)
	if frame["type"] != "new_post" {
		t.Fatalf("frame type = %v, want new_post", frame["type"])
	}
	post := frame["post"].(map[string]interface{})
	if post["content"] != "hello world" {
		t.Errorf("post content = %v, want %q", post["content"], "hello world")
	}
	if post["user_id"] != "alice" {
		t.Errorf("post user_id = %v, want alice", post["user_id"])
	}
}

func TestBuyBroadcastsMarketUpdateThenUserSync(t *testing.T) {
	t.Parallel()

	dial, reg := newTestServer(t)
	conn := dial("alice")
	readFrame(t, conn) // initial_state
	readFrame(t, conn) // user_sync

	if err := conn.WriteJSON(map[string]string{"type": "create_post", "content": "post"}); err != nil {
		t.Fatalf("write create_post: %v", err)
	}
	newPost := readFrame(t, conn)
	postID := newPost["post"].(map[string]interface{})["id"].(string)
	if _, ok := reg.Get(postID); !ok {
		t.Fatalf("post %s not found in registry", postID)
	}

	if err := conn.WriteJSON(map[string]interface{}{"type": "buy", "post_id": postID, "quantity": 1}); err != nil {
		t.Fatalf("write buy: %v", err)
	}

	update := readFrame(t, conn)
	if update["type"] != "market_update" {
		t.Fatalf("frame type = %v, want market_update", update["type"])
	}
	if update["post_id"] != postID {
		t.Errorf("post_id = %v, want %v", update["post_id"], postID)
	}
	if update["supply"].(float64) != 1 {
		t.Errorf("supply = %v, want 1", update["supply"])
	}

	sync := readFrame(t, conn)
	if sync["type"] != "user_sync" {
		t.Fatalf("frame type = %v, want user_sync", sync["type"])
	}
	positions := sync["positions"].([]interface{})
	if len(positions) != 1 {
		t.Fatalf("positions len = %d, want 1", len(positions))
	}
}

func TestUnknownPostTradeYieldsErrorFrame(t *testing.T) {
	t.Parallel()

	dial, _ := newTestServer(t)
	conn := dial("alice")
	readFrame(t, conn) // initial_state
	readFrame(t, conn) // user_sync

	if err := conn.WriteJSON(map[string]interface{}{"type": "buy", "post_id": "does-not-exist", "quantity": 1}); err != nil {
		t.Fatalf("write buy: %v", err)
	}

	frame := readFrame(t, conn)
	if frame["type"] != "error" {
		t.Fatalf("frame type = %v, want error", frame["type"])
	}
}

func TestMalformedJSONYieldsErrorFrame(t *testing.T) {
	t.Parallel()

	dial, _ := newTestServer(t)
	conn := dial("alice")
	readFrame(t, conn) // initial_state
	readFrame(t, conn) // user_sync

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write raw: %v", err)
	}

	frame := readFrame(t, conn)
	if frame["type"] != "error" {
		t.Fatalf("frame type = %v, want error", frame["type"])
	}
}
