// Package store defines the persistence interface for the vAMM engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/synthx/vamm-engine/internal/model"
)

var (
	// ErrMarketNotFound is returned when no market matches the lookup.
	ErrMarketNotFound = errors.New("store: market not found")

	// ErrDuplicateSymbol is returned when creating a market whose symbol
	// already exists.
	ErrDuplicateSymbol = errors.New("store: market symbol already exists")

	// ErrPositionNotFound is returned when the trader has no open position
	// in the market.
	ErrPositionNotFound = errors.New("store: position not found")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Market registry ---

	// CreateMarket persists a new market. Fails with ErrDuplicateSymbol if
	// the symbol is taken; the registry is unchanged on failure.
	CreateMarket(ctx context.Context, market *model.Market) error

	// GetMarket retrieves a market by its ID.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// GetMarketBySymbol retrieves a market by its symbol.
	GetMarketBySymbol(ctx context.Context, sym string) (*model.Market, error)

	// ListMarkets returns all markets in stable creation order.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// UpdateReserves writes the virtual reserves after a trade.
	UpdateReserves(ctx context.Context, id string, virtualLong, virtualShort decimal.Decimal) error

	// --- Free balances ---

	// GetBalance returns the trader's free collateral in a market
	// (zero if never credited).
	GetBalance(ctx context.Context, marketID, trader string) (decimal.Decimal, error)

	// SetBalance writes the trader's free collateral in a market.
	SetBalance(ctx context.Context, marketID, trader string, amount decimal.Decimal) error

	// ListBalancesByTrader returns marketID → free balance for a trader.
	ListBalancesByTrader(ctx context.Context, trader string) (map[string]decimal.Decimal, error)

	// --- Positions ---

	// GetPosition returns the trader's open position in a market, or
	// ErrPositionNotFound.
	GetPosition(ctx context.Context, marketID, trader string) (*model.Position, error)

	// UpsertPosition creates or replaces the trader's position.
	UpsertPosition(ctx context.Context, pos *model.Position) error

	// DeletePosition removes the trader's position after close/settle.
	DeletePosition(ctx context.Context, marketID, trader string) error

	// ListPositionsByTrader returns all open positions for a trader.
	ListPositionsByTrader(ctx context.Context, trader string) ([]model.Position, error)

	// --- Immutable ledger ---

	// InsertLedgerEntry appends an immutable operation record.
	InsertLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error

	// GetLedgerEntriesByMarket returns all entries for a market.
	GetLedgerEntriesByMarket(ctx context.Context, marketID string) ([]model.LedgerEntry, error)

	// GetLedgerEntriesByTrader returns all entries for a trader.
	GetLedgerEntriesByTrader(ctx context.Context, trader string) ([]model.LedgerEntry, error)
}
