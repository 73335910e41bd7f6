// Package vamm implements the virtual automated market maker used to price
// synthetic long/short exposure without a real liquidity pool.
//
// Price is derived purely from two virtual reserve counters:
//
//	price = virtualShort / virtualLong
//
// Opening a long adds notional to the short reserve (buy pressure raises
// price); opening a short adds notional to the long reserve (sell pressure
// lowers price). Closing reverses the exact perturbation made at open.
//
// All monetary values use shopspring/decimal — never float64 for money.
// The package is stateless: reserves are passed as arguments, not stored.
package vamm

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/synthx/vamm-engine/internal/model"
)

var (
	// ErrNonPositiveReserve is returned when an operation would observe or
	// produce a virtual reserve <= 0. Reserves at zero make price undefined,
	// so this is treated as an invariant violation, never as infinity.
	ErrNonPositiveReserve = errors.New("vamm: virtual reserve must be positive")

	// ErrInvalidSize is returned for zero or negative notional sizes.
	ErrInvalidSize = errors.New("vamm: size must be positive")

	// ErrPriceBound is returned when execution price is worse than the
	// caller-supplied limit.
	ErrPriceBound = errors.New("vamm: execution price exceeds limit")

	// ErrInvalidFee is returned for fee rates outside [0, 1).
	ErrInvalidFee = errors.New("vamm: fee rate must be in [0, 1)")
)

// PriceScale is the number of decimal places for price rounding.
const PriceScale int32 = 8

// SeedReserve is the symmetric virtual reserve a fresh market is seeded
// with: virtualLong = SeedReserve, virtualShort = SeedReserve × initialPrice.
var SeedReserve = decimal.NewFromInt(1_000_000)

// Reserves is an immutable snapshot of the two virtual counters.
type Reserves struct {
	Long  decimal.Decimal
	Short decimal.Decimal
}

// Valid reports whether both reserves are strictly positive.
func (r Reserves) Valid() bool {
	return r.Long.IsPositive() && r.Short.IsPositive()
}

// Price computes the instantaneous synthetic price short/long, rounded to
// PriceScale. Errors instead of dividing by zero.
func Price(r Reserves) (decimal.Decimal, error) {
	if !r.Valid() {
		return decimal.Decimal{}, ErrNonPositiveReserve
	}
	return r.Short.DivRound(r.Long, PriceScale), nil
}

// Seed returns the creation-time reserves for a market with the given
// initial price: Long = SeedReserve, Short = SeedReserve × initialPrice,
// so that Price(Seed(p)) == p.
func Seed(initialPrice decimal.Decimal) (Reserves, error) {
	if !initialPrice.IsPositive() {
		return Reserves{}, ErrNonPositiveReserve
	}
	return Reserves{
		Long:  SeedReserve,
		Short: SeedReserve.Mul(initialPrice).Round(PriceScale),
	}, nil
}

// SizeForCollateral converts collateral into notional size at the given
// price, after deducting the fee: size = collateral × (1 − feeRate) / price.
// Exposure is 1× — no leverage multiplier is applied. The fee charged is
// returned alongside the size.
func SizeForCollateral(collateral, price, feeRate decimal.Decimal) (size, fee decimal.Decimal, err error) {
	if !collateral.IsPositive() {
		return decimal.Decimal{}, decimal.Decimal{}, ErrInvalidSize
	}
	if !price.IsPositive() {
		return decimal.Decimal{}, decimal.Decimal{}, ErrNonPositiveReserve
	}
	if feeRate.IsNegative() || feeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Decimal{}, decimal.Decimal{}, ErrInvalidFee
	}
	fee = collateral.Mul(feeRate).Round(PriceScale)
	size = collateral.Sub(fee).DivRound(price, PriceScale)
	if !size.IsPositive() {
		return decimal.Decimal{}, decimal.Decimal{}, ErrInvalidSize
	}
	return size, fee, nil
}

// ApplyOpen perturbs the reserves for a newly opened position: a long adds
// size to the short reserve, a short adds size to the long reserve.
func ApplyOpen(r Reserves, side model.Side, size decimal.Decimal) (Reserves, error) {
	if !size.IsPositive() {
		return Reserves{}, ErrInvalidSize
	}
	if !r.Valid() {
		return Reserves{}, ErrNonPositiveReserve
	}
	switch side {
	case model.SideLong:
		r.Short = r.Short.Add(size)
	case model.SideShort:
		r.Long = r.Long.Add(size)
	}
	return r, nil
}

// ApplyClose reverses the perturbation ApplyOpen made for a position of the
// given side and size. Errors if the reversal would leave a reserve <= 0.
func ApplyClose(r Reserves, side model.Side, size decimal.Decimal) (Reserves, error) {
	if !size.IsPositive() {
		return Reserves{}, ErrInvalidSize
	}
	switch side {
	case model.SideLong:
		r.Short = r.Short.Sub(size)
	case model.SideShort:
		r.Long = r.Long.Sub(size)
	}
	if !r.Valid() {
		return Reserves{}, ErrNonPositiveReserve
	}
	return r, nil
}

// PnL computes the signed profit of a position exiting at exitPrice:
//
//	long:  size × (exit − entry)
//	short: size × (entry − exit)
//
// size is a positive magnitude; the result may be negative.
func PnL(side model.Side, size, entry, exit decimal.Decimal) decimal.Decimal {
	diff := exit.Sub(entry)
	if side == model.SideShort {
		diff = diff.Neg()
	}
	return size.Mul(diff).Round(PriceScale)
}

// Payout returns the amount credited back when a position exits, and any
// shortfall beyond the locked collateral. A losing trader forfeits at most
// their collateral: payout = max(0, collateral + pnl).
func Payout(collateral, pnl decimal.Decimal) (payout, shortfall decimal.Decimal) {
	payout = collateral.Add(pnl)
	if payout.IsNegative() {
		shortfall = payout.Neg()
		payout = decimal.Zero
	}
	return payout, shortfall
}

// MergeEntryPrice computes the size-weighted average entry price when
// adding to an existing same-direction position. This preserves the cost
// basis across merges.
func MergeEntryPrice(oldSize, oldEntry, addSize, tradePrice decimal.Decimal) decimal.Decimal {
	total := oldSize.Add(addSize)
	weighted := oldSize.Mul(oldEntry).Add(addSize.Mul(tradePrice))
	return weighted.DivRound(total, PriceScale)
}

// CheckBound validates a caller-supplied worst acceptable price. A zero
// limit means no bound. For value entering at price (long open, short
// close) the bound is a maximum; for value exiting (short open, long close)
// it is a minimum. wantAtMost selects the direction.
func CheckBound(price, limit decimal.Decimal, wantAtMost bool) error {
	if limit.IsZero() {
		return nil
	}
	if wantAtMost && price.GreaterThan(limit) {
		return ErrPriceBound
	}
	if !wantAtMost && price.LessThan(limit) {
		return ErrPriceBound
	}
	return nil
}
