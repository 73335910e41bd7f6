// Package api provides the HTTP surface of the vAMM engine: market
// creation and listing, the five trading operations, and read-only
// price/position/balance/portfolio queries consumed by the UI layer.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/synthx/vamm-engine/internal/engine"
	"github.com/synthx/vamm-engine/internal/model"
	"github.com/synthx/vamm-engine/internal/oracle"
	"github.com/synthx/vamm-engine/internal/risk"
	"github.com/synthx/vamm-engine/internal/store"
	"github.com/synthx/vamm-engine/internal/symbol"
	"github.com/synthx/vamm-engine/internal/vamm"
)

// Service routes HTTP requests into the engine.
type Service struct {
	engine *engine.Engine
	admin  *oracle.Manual // nil when the oracle is not manually fed
}

// NewService creates the HTTP service. admin may be nil.
func NewService(eng *engine.Engine, admin *oracle.Manual) *Service {
	return &Service{engine: eng, admin: admin}
}

// Routes mounts all handlers under /api/v1 on the given router.
func (s *Service) Routes(r chi.Router) {
	r.Get("/markets", s.ListMarkets)
	r.Post("/markets", s.CreateMarket)
	r.Get("/markets/{marketID}", s.GetMarket)
	r.Get("/markets/{marketID}/price", s.GetPrice)
	r.Get("/markets/{marketID}/history", s.GetHistory)

	r.Post("/markets/{marketID}/deposit", s.Deposit)
	r.Post("/markets/{marketID}/open", s.Open)
	r.Post("/markets/{marketID}/close", s.Close)
	r.Post("/markets/{marketID}/withdraw", s.Withdraw)
	r.Post("/markets/{marketID}/settle", s.Settle)

	r.Get("/markets/{marketID}/balance/{trader}", s.GetBalance)
	r.Get("/markets/{marketID}/position/{trader}", s.GetPosition)
	r.Get("/portfolio/{trader}", s.GetPortfolio)

	r.Put("/oracle/{underlying}", s.SetOraclePrice)
}

// --- Request/Response types ---

// DepositRequest is the JSON body for deposit and withdraw.
type DepositRequest struct {
	Trader string          `json:"trader"`
	Amount decimal.Decimal `json:"amount"`
}

// OpenRequest is the JSON body for opening a position.
type OpenRequest struct {
	Trader     string          `json:"trader"`
	Collateral decimal.Decimal `json:"collateral"`
	Side       model.Side      `json:"side"`                  // "LONG" or "SHORT"
	LimitPrice decimal.Decimal `json:"limit_price,omitempty"` // 0 = no bound
}

// CloseRequest is the JSON body for closing a position.
type CloseRequest struct {
	Trader     string          `json:"trader"`
	LimitPrice decimal.Decimal `json:"limit_price,omitempty"`
}

// SettleRequest is the JSON body for settlement.
type SettleRequest struct {
	Trader string `json:"trader"`
}

// ExitResponse is returned from close and settle.
type ExitResponse struct {
	Trader    string          `json:"trader"`
	Side      model.Side      `json:"side"`
	Size      decimal.Decimal `json:"size"`
	ExitPrice decimal.Decimal `json:"exit_price"`
	PnL       decimal.Decimal `json:"pnl"`
	Payout    decimal.Decimal `json:"payout"`
	Shortfall decimal.Decimal `json:"shortfall"`
}

// OraclePriceRequest is the JSON body for the manual oracle admin endpoint.
type OraclePriceRequest struct {
	Price decimal.Decimal `json:"price"`
}

// --- Market handlers ---

// CreateMarket handles POST /api/v1/markets
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var params engine.MarketParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	m, err := s.engine.CreateMarket(r.Context(), params)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusCreated, m)
}

// ListMarkets handles GET /api/v1/markets
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.engine.AllMarkets(r.Context())
	if err != nil {
		writeError(w, "failed to list markets", http.StatusInternalServerError)
		return
	}
	if markets == nil {
		markets = []model.Market{}
	}
	writeJSON(w, http.StatusOK, markets)
}

// GetMarket handles GET /api/v1/markets/{marketID}
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	m, err := s.engine.Store().GetMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// GetPrice handles GET /api/v1/markets/{marketID}/price
func (s *Service) GetPrice(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	price, err := s.engine.GetPrice(r.Context(), marketID)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"price": price})
}

// GetHistory handles GET /api/v1/markets/{marketID}/history
// Returns the market's immutable ledger entries.
func (s *Service) GetHistory(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	entries, err := s.engine.Store().GetLedgerEntriesByMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, "failed to get market history", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Trading handlers ---

// Deposit handles POST /api/v1/markets/{marketID}/deposit
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Trader == "" {
		writeError(w, "trader is required", http.StatusBadRequest)
		return
	}

	if err := s.engine.Deposit(r.Context(), marketID, req.Trader, req.Amount); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	balance, _ := s.engine.Store().GetBalance(r.Context(), marketID, req.Trader)
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"balance": balance})
}

// Open handles POST /api/v1/markets/{marketID}/open
func (s *Service) Open(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var req OpenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Trader == "" {
		writeError(w, "trader is required", http.StatusBadRequest)
		return
	}

	pos, err := s.engine.Open(r.Context(), marketID, req.Trader, req.Collateral, req.Side, req.LimitPrice)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// Close handles POST /api/v1/markets/{marketID}/close
func (s *Service) Close(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var req CloseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Trader == "" {
		writeError(w, "trader is required", http.StatusBadRequest)
		return
	}

	entry, err := s.engine.Close(r.Context(), marketID, req.Trader, req.LimitPrice)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, exitResponse(entry))
}

// Withdraw handles POST /api/v1/markets/{marketID}/withdraw
func (s *Service) Withdraw(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Trader == "" {
		writeError(w, "trader is required", http.StatusBadRequest)
		return
	}

	if err := s.engine.Withdraw(r.Context(), marketID, req.Trader, req.Amount); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	balance, _ := s.engine.Store().GetBalance(r.Context(), marketID, req.Trader)
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"balance": balance})
}

// Settle handles POST /api/v1/markets/{marketID}/settle
func (s *Service) Settle(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var req SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Trader == "" {
		writeError(w, "trader is required", http.StatusBadRequest)
		return
	}

	entry, err := s.engine.Settle(r.Context(), marketID, req.Trader)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, exitResponse(entry))
}

// --- Query handlers ---

// GetBalance handles GET /api/v1/markets/{marketID}/balance/{trader}
func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	trader := chi.URLParam(r, "trader")

	balance, err := s.engine.Store().GetBalance(r.Context(), marketID, trader)
	if err != nil {
		writeError(w, "failed to load balance", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"balance": balance})
}

// GetPosition handles GET /api/v1/markets/{marketID}/position/{trader}
func (s *Service) GetPosition(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	trader := chi.URLParam(r, "trader")

	pos, err := s.engine.Store().GetPosition(r.Context(), marketID, trader)
	if err != nil {
		writeError(w, "position not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// GetPortfolio handles GET /api/v1/portfolio/{trader}
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	trader := chi.URLParam(r, "trader")

	portfolio, err := s.engine.Portfolio(r.Context(), trader)
	if err != nil {
		writeError(w, "failed to load portfolio", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, portfolio)
}

// SetOraclePrice handles PUT /api/v1/oracle/{underlying}
func (s *Service) SetOraclePrice(w http.ResponseWriter, r *http.Request) {
	if s.admin == nil {
		writeError(w, "oracle is not manually administered", http.StatusNotFound)
		return
	}
	underlying := chi.URLParam(r, "underlying")

	var req OraclePriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.admin.Set(underlying, req.Price); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	slog.Info("oracle price set", "underlying", underlying, "price", req.Price.String())
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"price": req.Price})
}

// --- Helpers ---

func exitResponse(entry *model.LedgerEntry) ExitResponse {
	return ExitResponse{
		Trader:    entry.Trader,
		Side:      entry.Side,
		Size:      entry.Size,
		ExitPrice: entry.Price,
		PnL:       entry.PnL,
		Payout:    entry.Amount,
		Shortfall: entry.Shortfall,
	}
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrMarketNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidAmount),
		errors.Is(err, engine.ErrInvalidSide),
		errors.Is(err, engine.ErrInvalidInitialPrice),
		errors.Is(err, engine.ErrInvalidExpiry),
		errors.Is(err, engine.ErrInvalidFeeRate),
		errors.Is(err, engine.ErrNilCapability),
		errors.Is(err, symbol.ErrInvalidSymbol),
		errors.Is(err, symbol.ErrExpiryMismatch):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrInsufficientBalance),
		errors.Is(err, engine.ErrNoPosition),
		errors.Is(err, engine.ErrMarketExpired),
		errors.Is(err, engine.ErrNotExpired),
		errors.Is(err, engine.ErrOppositeDirection),
		errors.Is(err, vamm.ErrPriceBound),
		errors.Is(err, risk.ErrPerMarketLimitExceeded),
		errors.Is(err, risk.ErrCorrelatedLimitExceeded),
		errors.Is(err, store.ErrDuplicateSymbol):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
