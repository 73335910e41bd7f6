package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/synthx/vamm-engine/internal/api"
	"github.com/synthx/vamm-engine/internal/engine"
	"github.com/synthx/vamm-engine/internal/model"
	"github.com/synthx/vamm-engine/internal/oracle"
	"github.com/synthx/vamm-engine/internal/store"
	"github.com/synthx/vamm-engine/internal/token"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	eng    *engine.Engine
	bank   *token.Bank
	oracle *oracle.Manual
	router chi.Router
	now    time.Time
}

// newTestEnv creates an HTTP service over an in-memory engine with a fixed,
// advanceable clock.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		bank:   token.NewBank(),
		oracle: oracle.NewManual(),
		now:    testNow,
	}
	env.eng = engine.New(store.NewMemoryStore(), env.bank, env.oracle, nil, nil)
	env.eng.SetClock(func() time.Time { return env.now })

	svc := api.NewService(env.eng, env.oracle)
	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)
	env.router = r
	return env
}

func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

// createMarket creates a standard market over HTTP and returns it.
func (env *testEnv) createMarket(t *testing.T) model.Market {
	t.Helper()
	w := env.do(t, "POST", "/api/v1/markets", engine.MarketParams{
		Symbol:       "VAMM-BTC-USD-20260930",
		InitialPrice: d(1),
		Expiry:       time.Date(2026, 9, 30, 16, 0, 0, 0, time.UTC),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create market: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var m model.Market
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode market: %v", err)
	}
	return m
}

func (env *testEnv) deposit(t *testing.T, marketID, trader string, amount float64) {
	t.Helper()
	env.bank.Mint(trader, d(amount))
	w := env.do(t, "POST", "/api/v1/markets/"+marketID+"/deposit",
		api.DepositRequest{Trader: trader, Amount: d(amount)})
	if w.Code != http.StatusOK {
		t.Fatalf("deposit: expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

// --- Market endpoints ---

func TestCreateMarket_HTTP(t *testing.T) {
	env := newTestEnv(t)
	m := env.createMarket(t)

	if m.Symbol != "VAMM-BTC-USD-20260930" {
		t.Errorf("symbol = %s", m.Symbol)
	}
	if m.Underlying != "BTC-USD" {
		t.Errorf("underlying = %s, want BTC-USD", m.Underlying)
	}
	if !m.VirtualLong.Equal(d(1_000_000)) || !m.VirtualShort.Equal(d(1_000_000)) {
		t.Errorf("seed reserves = %s/%s, want 1000000/1000000", m.VirtualLong, m.VirtualShort)
	}
}

func TestCreateMarket_InvalidParams(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name   string
		params engine.MarketParams
	}{
		{"bad symbol", engine.MarketParams{Symbol: "nope", InitialPrice: d(1),
			Expiry: time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC)}},
		{"zero price", engine.MarketParams{Symbol: "VAMM-BTC-USD-20260930",
			Expiry: time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC)}},
		{"past expiry", engine.MarketParams{Symbol: "VAMM-BTC-USD-20200930", InitialPrice: d(1),
			Expiry: time.Date(2020, 9, 30, 0, 0, 0, 0, time.UTC)}},
		{"expiry mismatch", engine.MarketParams{Symbol: "VAMM-BTC-USD-20260930", InitialPrice: d(1),
			Expiry: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "POST", "/api/v1/markets", tt.params)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}

	w := env.do(t, "GET", "/api/v1/markets", nil)
	var markets []model.Market
	json.Unmarshal(w.Body.Bytes(), &markets)
	if len(markets) != 0 {
		t.Errorf("registry should be empty after rejected creations, has %d", len(markets))
	}
}

func TestCreateMarket_DuplicateConflict(t *testing.T) {
	env := newTestEnv(t)
	env.createMarket(t)

	w := env.do(t, "POST", "/api/v1/markets", engine.MarketParams{
		Symbol:       "VAMM-BTC-USD-20260930",
		InitialPrice: d(1),
		Expiry:       time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC),
	})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", w.Code)
	}
}

func TestGetPrice_HTTP(t *testing.T) {
	env := newTestEnv(t)
	m := env.createMarket(t)

	w := env.do(t, "GET", "/api/v1/markets/"+m.ID+"/price", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]decimal.Decimal
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp["price"].Equal(d(1)) {
		t.Errorf("price = %s, want 1", resp["price"])
	}

	w = env.do(t, "GET", "/api/v1/markets/unknown/price", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown market: expected 404, got %d", w.Code)
	}
}

// --- Trading lifecycle over HTTP ---

func TestTradeLifecycle_HTTP(t *testing.T) {
	env := newTestEnv(t)
	m := env.createMarket(t)
	env.deposit(t, m.ID, "alice", 1000)

	// Open long 500.
	w := env.do(t, "POST", "/api/v1/markets/"+m.ID+"/open",
		api.OpenRequest{Trader: "alice", Collateral: d(500), Side: model.SideLong})
	if w.Code != http.StatusOK {
		t.Fatalf("open: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var pos model.Position
	json.Unmarshal(w.Body.Bytes(), &pos)
	if !pos.Size.Equal(d(500)) {
		t.Errorf("size = %s, want 500", pos.Size)
	}

	// Position query.
	w = env.do(t, "GET", "/api/v1/markets/"+m.ID+"/position/alice", nil)
	if w.Code != http.StatusOK {
		t.Errorf("position query: expected 200, got %d", w.Code)
	}

	// Close.
	w = env.do(t, "POST", "/api/v1/markets/"+m.ID+"/close",
		api.CloseRequest{Trader: "alice"})
	if w.Code != http.StatusOK {
		t.Fatalf("close: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var exit api.ExitResponse
	json.Unmarshal(w.Body.Bytes(), &exit)
	if !exit.PnL.IsZero() || !exit.Payout.Equal(d(500)) {
		t.Errorf("round trip: pnl=%s payout=%s, want 0/500", exit.PnL, exit.Payout)
	}

	// Withdraw everything.
	w = env.do(t, "POST", "/api/v1/markets/"+m.ID+"/withdraw",
		api.DepositRequest{Trader: "alice", Amount: d(1000)})
	if w.Code != http.StatusOK {
		t.Fatalf("withdraw: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	tok, _ := env.bank.BalanceOf(context.Background(), "alice")
	if !tok.Equal(d(1000)) {
		t.Errorf("token balance = %s, want 1000", tok)
	}

	// Ledger history shows the full lifecycle.
	w = env.do(t, "GET", "/api/v1/markets/"+m.ID+"/history", nil)
	var entries []model.LedgerEntry
	json.Unmarshal(w.Body.Bytes(), &entries)
	if len(entries) != 4 {
		t.Errorf("expected 4 ledger entries, got %d", len(entries))
	}
}

func TestOpen_ErrorStatuses(t *testing.T) {
	env := newTestEnv(t)
	m := env.createMarket(t)
	env.deposit(t, m.ID, "alice", 100)

	tests := []struct {
		name string
		req  api.OpenRequest
		want int
	}{
		{"missing trader", api.OpenRequest{Collateral: d(50), Side: model.SideLong}, http.StatusBadRequest},
		{"zero collateral", api.OpenRequest{Trader: "alice", Side: model.SideLong}, http.StatusBadRequest},
		{"bad side", api.OpenRequest{Trader: "alice", Collateral: d(50), Side: "UP"}, http.StatusBadRequest},
		{"insufficient balance", api.OpenRequest{Trader: "alice", Collateral: d(500), Side: model.SideLong}, http.StatusConflict},
		{"slippage bound", api.OpenRequest{Trader: "alice", Collateral: d(50), Side: model.SideLong, LimitPrice: d(0.5)}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "POST", "/api/v1/markets/"+m.ID+"/open", tt.req)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestClose_NoPositionConflict(t *testing.T) {
	env := newTestEnv(t)
	m := env.createMarket(t)

	w := env.do(t, "POST", "/api/v1/markets/"+m.ID+"/close", api.CloseRequest{Trader: "alice"})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

// --- Settlement over HTTP, fed by the manual oracle ---

func TestSettle_HTTP(t *testing.T) {
	env := newTestEnv(t)
	m := env.createMarket(t)
	env.deposit(t, m.ID, "alice", 1000)

	w := env.do(t, "POST", "/api/v1/markets/"+m.ID+"/open",
		api.OpenRequest{Trader: "alice", Collateral: d(500), Side: model.SideLong})
	if w.Code != http.StatusOK {
		t.Fatalf("open: %s", w.Body.String())
	}

	// Before expiry: conflict.
	w = env.do(t, "POST", "/api/v1/markets/"+m.ID+"/settle", api.SettleRequest{Trader: "alice"})
	if w.Code != http.StatusConflict {
		t.Errorf("settle before expiry: expected 409, got %d", w.Code)
	}

	// Feed the oracle and pass expiry.
	w = env.do(t, "PUT", "/api/v1/oracle/BTC-USD", api.OraclePriceRequest{Price: d(2)})
	if w.Code != http.StatusOK {
		t.Fatalf("oracle set: expected 200, got %d", w.Code)
	}
	env.now = m.Expiry.Add(time.Minute)

	w = env.do(t, "POST", "/api/v1/markets/"+m.ID+"/settle", api.SettleRequest{Trader: "alice"})
	if w.Code != http.StatusOK {
		t.Fatalf("settle: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var exit api.ExitResponse
	json.Unmarshal(w.Body.Bytes(), &exit)
	if !exit.ExitPrice.Equal(d(2)) {
		t.Errorf("exit price = %s, want oracle 2", exit.ExitPrice)
	}
	if !exit.PnL.Equal(d(500)) {
		t.Errorf("pnl = %s, want 500", exit.PnL)
	}

	// Second settle: no position left.
	w = env.do(t, "POST", "/api/v1/markets/"+m.ID+"/settle", api.SettleRequest{Trader: "alice"})
	if w.Code != http.StatusConflict {
		t.Errorf("settle twice: expected 409, got %d", w.Code)
	}
}

func TestPortfolio_HTTP(t *testing.T) {
	env := newTestEnv(t)
	m := env.createMarket(t)
	env.deposit(t, m.ID, "alice", 1000)
	env.do(t, "POST", "/api/v1/markets/"+m.ID+"/open",
		api.OpenRequest{Trader: "alice", Collateral: d(400), Side: model.SideShort})

	w := env.do(t, "GET", "/api/v1/portfolio/alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var p model.Portfolio
	json.Unmarshal(w.Body.Bytes(), &p)
	if len(p.Positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(p.Positions))
	}
	if p.Positions[0].Side != model.SideShort {
		t.Errorf("side = %s, want SHORT", p.Positions[0].Side)
	}
	if !p.Balances[m.ID].Equal(d(600)) {
		t.Errorf("free balance = %s, want 600", p.Balances[m.ID])
	}
}

func TestListMarkets_CreationOrder(t *testing.T) {
	env := newTestEnv(t)
	for _, base := range []string{"BTC", "ETH", "SOL"} {
		w := env.do(t, "POST", "/api/v1/markets", engine.MarketParams{
			Symbol:       fmt.Sprintf("VAMM-%s-USD-20260930", base),
			InitialPrice: d(1),
			Expiry:       time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC),
		})
		if w.Code != http.StatusCreated {
			t.Fatalf("create %s: %s", base, w.Body.String())
		}
	}

	w := env.do(t, "GET", "/api/v1/markets", nil)
	var markets []model.Market
	json.Unmarshal(w.Body.Bytes(), &markets)
	if len(markets) != 3 {
		t.Fatalf("expected 3 markets, got %d", len(markets))
	}
	for i, base := range []string{"BTC", "ETH", "SOL"} {
		want := fmt.Sprintf("VAMM-%s-USD-20260930", base)
		if markets[i].Symbol != want {
			t.Errorf("markets[%d] = %s, want %s", i, markets[i].Symbol, want)
		}
	}
}
