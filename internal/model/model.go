// Package model defines the core domain types shared across the vAMM engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a synthetic position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Valid reports whether s is a recognized side.
func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// Market statuses. Trading is gated on the clock, not on a stored
// transition: Status holds the persisted value while Expired() gives the
// live view.
const (
	StatusOpen    = "open"
	StatusExpired = "expired"
)

// Ledger entry operation kinds. One entry is appended per state-changing
// engine operation; entries are never modified or deleted.
const (
	OpDeposit  = "deposit"
	OpOpen     = "open"
	OpClose    = "close"
	OpWithdraw = "withdraw"
	OpSettle   = "settle"
)

// Market is one synthetic exposure market. Price is derived purely from the
// two virtual reserve counters: price = VirtualShort / VirtualLong. Both
// reserves must stay strictly positive for the lifetime of the market.
type Market struct {
	ID           string          `json:"id" db:"id"`
	Symbol       string          `json:"symbol" db:"symbol"` // VAMM-{BASE}-{QUOTE}-{YYYYMMDD}
	Underlying   string          `json:"underlying" db:"underlying"`
	Oracle       string          `json:"oracle" db:"oracle"`         // oracle lookup key
	Collateral   string          `json:"collateral" db:"collateral"` // collateral token identifier
	InitialPrice decimal.Decimal `json:"initial_price" db:"initial_price"`
	FeeRate      decimal.Decimal `json:"fee_rate" db:"fee_rate"` // fraction of open collateral, [0,1)
	VirtualLong  decimal.Decimal `json:"virtual_long" db:"virtual_long"`
	VirtualShort decimal.Decimal `json:"virtual_short" db:"virtual_short"`
	Expiry       time.Time       `json:"expiry" db:"expiry"`
	Status       string          `json:"status" db:"status"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Expired reports whether the market is at or past expiry at time now.
func (m *Market) Expired(now time.Time) bool {
	return !now.Before(m.Expiry)
}

// Position is a trader's single open position in one market. Size is always
// a positive magnitude; direction lives in Side. A trader holds at most one
// position per market.
type Position struct {
	Trader     string          `json:"trader" db:"trader"`
	MarketID   string          `json:"market_id" db:"market_id"`
	Side       Side            `json:"side" db:"side"`
	Size       decimal.Decimal `json:"size" db:"size"`               // notional magnitude, > 0
	EntryPrice decimal.Decimal `json:"entry_price" db:"entry_price"` // size-weighted cost basis
	Collateral decimal.Decimal `json:"collateral" db:"collateral"`   // locked behind the position
	OpenedAt   time.Time       `json:"opened_at" db:"opened_at"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`
}

// SignedSize returns size with direction applied: positive for longs,
// negative for shorts.
func (p *Position) SignedSize() decimal.Decimal {
	if p.Side == SideShort {
		return p.Size.Neg()
	}
	return p.Size
}

// LedgerEntry is an immutable record of one engine operation.
type LedgerEntry struct {
	ID        string          `json:"id" db:"id"`
	MarketID  string          `json:"market_id" db:"market_id"`
	Trader    string          `json:"trader" db:"trader"`
	Op        string          `json:"op" db:"op"`
	Side      Side            `json:"side,omitempty" db:"side"`
	Amount    decimal.Decimal `json:"amount" db:"amount"` // collateral moved by this op
	Size      decimal.Decimal `json:"size" db:"size"`     // notional touched (open/close/settle)
	Price     decimal.Decimal `json:"price" db:"price"`   // execution or oracle price
	Fee       decimal.Decimal `json:"fee" db:"fee"`
	PnL       decimal.Decimal `json:"pnl" db:"pnl"`             // signed, realized (close/settle)
	Shortfall decimal.Decimal `json:"shortfall" db:"shortfall"` // loss beyond locked collateral
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// PositionView is a position marked to a given price.
type PositionView struct {
	Position
	MarkPrice     decimal.Decimal `json:"mark_price"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// Portfolio aggregates one trader's state across all markets.
type Portfolio struct {
	Trader        string                     `json:"trader"`
	Balances      map[string]decimal.Decimal `json:"balances"` // marketID → free balance
	Positions     []PositionView             `json:"positions"`
	TotalPnL      decimal.Decimal            `json:"total_pnl"`      // Σ unrealized
	TotalNotional decimal.Decimal            `json:"total_notional"` // Σ |size|
}
