package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/synthx/vamm-engine/internal/metrics"
	"github.com/synthx/vamm-engine/internal/model"
	"github.com/synthx/vamm-engine/internal/symbol"
	"github.com/synthx/vamm-engine/internal/vamm"
)

var (
	// ErrNilCapability is returned when the factory is constructed or
	// invoked without a live oracle or collateral token.
	ErrNilCapability = errors.New("engine: oracle and collateral token are required")

	// ErrInvalidInitialPrice is returned for initial prices <= 0.
	ErrInvalidInitialPrice = errors.New("engine: initial price must be positive")

	// ErrInvalidExpiry is returned when expiry is not strictly in the future.
	ErrInvalidExpiry = errors.New("engine: expiry must be in the future")

	// ErrInvalidFeeRate is returned for fee rates outside [0, 1).
	ErrInvalidFeeRate = errors.New("engine: fee rate must be in [0, 1)")
)

// MarketParams are the creation-time parameters of a market.
type MarketParams struct {
	Symbol       string          `json:"symbol"` // VAMM-{BASE}-{QUOTE}-{YYYYMMDD}
	Collateral   string          `json:"collateral"`
	InitialPrice decimal.Decimal `json:"initial_price"`
	FeeRate      decimal.Decimal `json:"fee_rate"`
	Expiry       time.Time       `json:"expiry"`
}

// CreateMarket validates params, seeds the virtual reserves, and records
// the market in the append-only registry. Creation is all-or-nothing: the
// registry is untouched on any validation or persistence failure. Emits a
// market_created event on success.
func (e *Engine) CreateMarket(ctx context.Context, params MarketParams) (*model.Market, error) {
	if e.oracle == nil || e.token == nil {
		return nil, ErrNilCapability
	}
	if !params.InitialPrice.IsPositive() {
		return nil, ErrInvalidInitialPrice
	}
	if params.FeeRate.IsNegative() || params.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, ErrInvalidFeeRate
	}

	now := e.now()
	if !params.Expiry.After(now) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidExpiry, params.Expiry)
	}

	sym, err := symbol.Parse(params.Symbol)
	if err != nil {
		return nil, err
	}
	if err := sym.CheckExpiry(params.Expiry); err != nil {
		return nil, err
	}

	reserves, err := vamm.Seed(params.InitialPrice)
	if err != nil {
		return nil, err
	}

	collateral := params.Collateral
	if collateral == "" {
		collateral = "USDC"
	}

	m := &model.Market{
		ID:           uuid.New().String(),
		Symbol:       params.Symbol,
		Underlying:   sym.Underlying(),
		Oracle:       sym.Underlying(),
		Collateral:   collateral,
		InitialPrice: params.InitialPrice,
		FeeRate:      params.FeeRate,
		VirtualLong:  reserves.Long,
		VirtualShort: reserves.Short,
		Expiry:       params.Expiry.UTC(),
		Status:       model.StatusOpen,
		CreatedAt:    now,
	}

	if err := e.store.CreateMarket(ctx, m); err != nil {
		return nil, err
	}

	metrics.ActiveMarkets.Inc()

	slog.Info("market created",
		"id", m.ID,
		"symbol", m.Symbol,
		"underlying", m.Underlying,
		"collateral", m.Collateral,
		"initial_price", m.InitialPrice.String(),
		"fee_rate", m.FeeRate.String(),
		"expiry", m.Expiry,
	)

	e.emit(Event{
		Type:     EventMarketCreated,
		MarketID: m.ID,
		Symbol:   m.Symbol,
		Price:    m.InitialPrice.String(),
	})
	return m, nil
}

// AllMarkets enumerates the registry in stable creation order.
func (e *Engine) AllMarkets(ctx context.Context) ([]model.Market, error) {
	return e.store.ListMarkets(ctx)
}
