// Package oracle defines the external price source consulted at settlement.
// The engine never writes through this interface; it reads exactly one
// price per settle call.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// ErrNoPrice is returned when the oracle has no price for an underlying.
var ErrNoPrice = errors.New("oracle: no price for underlying")

// PriceOracle is the read-only settlement price capability.
type PriceOracle interface {
	// Price returns the settlement price for an underlying symbol.
	Price(ctx context.Context, underlying string) (decimal.Decimal, error)
}

// Static serves a fixed price table. Used in tests and dev mode.
type Static map[string]decimal.Decimal

func (s Static) Price(_ context.Context, underlying string) (decimal.Decimal, error) {
	p, ok := s[underlying]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: %s", ErrNoPrice, underlying)
	}
	return p, nil
}

// Manual is a runtime-updatable oracle fed through an admin endpoint.
// Prices must be strictly positive.
type Manual struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewManual creates an empty manual oracle.
func NewManual() *Manual {
	return &Manual{prices: make(map[string]decimal.Decimal)}
}

func (m *Manual) Price(_ context.Context, underlying string) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.prices[underlying]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: %s", ErrNoPrice, underlying)
	}
	return p, nil
}

// Set records the price for an underlying.
func (m *Manual) Set(underlying string, price decimal.Decimal) error {
	if !price.IsPositive() {
		return errors.New("oracle: price must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[underlying] = price
	return nil
}
