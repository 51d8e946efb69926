package telemetry

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/curvepost/engine/internal/engine"
)

func TestObserveTradeIncrementsLabeledCounter(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveTrade("buy")
	m.ObserveTrade("buy")
	m.ObserveTrade("sell")

	body := scrape(t, m)
	if !strings.Contains(body, `curvepost_trades_total{side="buy"} 2`) {
		t.Errorf("scrape missing buy=2:\n%s", body)
	}
	if !strings.Contains(body, `curvepost_trades_total{side="sell"} 1`) {
		t.Errorf("scrape missing sell=1:\n%s", body)
	}
}

func TestObserveTradeErrorLabelsByKind(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveTradeError(engine.KindInsufficientCollateral)

	body := scrape(t, m)
	if !strings.Contains(body, `curvepost_trade_errors_total{kind="insufficient_collateral"} 1`) {
		t.Errorf("scrape missing trade error counter:\n%s", body)
	}
}

func TestSessionGaugeTracksOpenAndClose(t *testing.T) {
	t.Parallel()

	m := New()
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()

	body := scrape(t, m)
	if !strings.Contains(body, "curvepost_active_sessions 1") {
		t.Errorf("scrape missing active_sessions=1:\n%s", body)
	}
}

func TestObserveMarketSetsPerPostGauges(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveMarket("post-1", 3, 4.5)

	body := scrape(t, m)
	if !strings.Contains(body, `curvepost_post_supply{post_id="post-1"} 3`) {
		t.Errorf("scrape missing post_supply:\n%s", body)
	}
	if !strings.Contains(body, `curvepost_post_price{post_id="post-1"} 4.5`) {
		t.Errorf("scrape missing post_price:\n%s", body)
	}
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)
	return rec.Body.String()
}
