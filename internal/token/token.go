// Package token defines the fungible collateral asset the engine moves
// value through. The token is an external, untrusted collaborator: every
// transfer can fail and must abort the calling operation, and the engine
// orders its ledger effects before outbound transfers.
package token

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

var (
	// ErrTransferFailed is returned when a transfer cannot be completed.
	ErrTransferFailed = errors.New("token: transfer failed")

	// ErrInsufficientFunds is returned when the source holds less than the
	// transfer amount.
	ErrInsufficientFunds = errors.New("token: insufficient funds")
)

// CollateralToken is the standard fungible-asset transfer surface.
type CollateralToken interface {
	// TransferFrom pulls amount from the holder into the engine's custody.
	TransferFrom(ctx context.Context, from, to string, amount decimal.Decimal) error

	// Transfer pays amount out of the engine's custody.
	Transfer(ctx context.Context, from, to string, amount decimal.Decimal) error

	// BalanceOf returns the free token balance of a holder.
	BalanceOf(ctx context.Context, holder string) (decimal.Decimal, error)
}

// Bank is an in-memory collateral token used in dev mode and tests.
// FailNext, when set, makes the next transfer fail so callers' abort paths
// can be exercised.
type Bank struct {
	mu       sync.RWMutex
	balances map[string]decimal.Decimal
	failNext bool
}

// NewBank creates an empty in-memory token bank.
func NewBank() *Bank {
	return &Bank{balances: make(map[string]decimal.Decimal)}
}

// Mint credits amount to a holder out of thin air.
func (b *Bank) Mint(holder string, amount decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[holder] = b.balances[holder].Add(amount)
}

// FailNext makes the next transfer return ErrTransferFailed.
func (b *Bank) FailNext() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failNext = true
}

func (b *Bank) TransferFrom(ctx context.Context, from, to string, amount decimal.Decimal) error {
	return b.Transfer(ctx, from, to, amount)
}

func (b *Bank) Transfer(_ context.Context, from, to string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: non-positive amount %s", ErrTransferFailed, amount)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failNext {
		b.failNext = false
		return ErrTransferFailed
	}
	if b.balances[from].LessThan(amount) {
		return fmt.Errorf("%w: %s holds %s, needs %s",
			ErrInsufficientFunds, from, b.balances[from], amount)
	}
	b.balances[from] = b.balances[from].Sub(amount)
	b.balances[to] = b.balances[to].Add(amount)
	return nil
}

func (b *Bank) BalanceOf(_ context.Context, holder string) (decimal.Decimal, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.balances[holder], nil
}
