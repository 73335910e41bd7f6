// Package risk enforces notional exposure limits that account for
// correlation between markets on related underlyings.
//
// A trader long every BTC quarterly is carrying one directional bet, not
// many independent ones. This package groups markets by underlying prefix
// (e.g. "BTC" matches BTC-USD, BTC-EUR) and caps both the per-market
// notional and the aggregate notional across a correlated group.
package risk

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrPerMarketLimitExceeded is returned when an open would push a
	// trader's notional in a single market beyond the per-market maximum.
	ErrPerMarketLimitExceeded = errors.New("risk: per-market notional limit exceeded")

	// ErrCorrelatedLimitExceeded is returned when an open would push the
	// aggregate notional across correlated underlyings beyond the maximum.
	ErrCorrelatedLimitExceeded = errors.New("risk: correlated notional limit exceeded")
)

// Exposure is a trader's current open notional in one market.
type Exposure struct {
	Underlying string
	Notional   decimal.Decimal // positive magnitude
}

// Limiter enforces per-market and correlated-group notional caps.
// Correlation uses underlying prefix matching: underlyings sharing the
// leading PrefixLen characters (up to the first separator) are treated as
// one directional group.
type Limiter struct {
	// MaxPerMarket is the maximum open notional in any single market.
	MaxPerMarket decimal.Decimal

	// MaxCorrelated is the maximum aggregate notional across markets whose
	// underlying shares a prefix with the traded market.
	MaxCorrelated decimal.Decimal

	// PrefixLen is how many leading characters of the underlying must match
	// for two markets to be considered correlated.
	PrefixLen int
}

// NewLimiter creates a limiter with the given caps.
func NewLimiter(maxPerMarket, maxCorrelated decimal.Decimal, prefixLen int) *Limiter {
	if prefixLen < 1 {
		prefixLen = 1
	}
	return &Limiter{
		MaxPerMarket:  maxPerMarket,
		MaxCorrelated: maxCorrelated,
		PrefixLen:     prefixLen,
	}
}

// CheckOpen validates that adding notionalDelta to the trader's position in
// a market on targetUnderlying stays within limits. current is the trader's
// existing notional in that market; others are the trader's exposures in
// all other markets.
func (l *Limiter) CheckOpen(
	targetUnderlying string,
	current, notionalDelta decimal.Decimal,
	others []Exposure,
) error {
	newNotional := current.Add(notionalDelta)
	if newNotional.GreaterThan(l.MaxPerMarket) {
		return ErrPerMarketLimitExceeded
	}

	targetPrefix := l.prefix(targetUnderlying)
	total := newNotional
	for _, e := range others {
		if l.prefix(e.Underlying) == targetPrefix {
			total = total.Add(e.Notional)
		}
	}
	if total.GreaterThan(l.MaxCorrelated) {
		return ErrCorrelatedLimitExceeded
	}
	return nil
}

// prefix returns the correlation key for an underlying: the part before the
// first '-', truncated to PrefixLen characters.
func (l *Limiter) prefix(underlying string) string {
	if i := strings.IndexByte(underlying, '-'); i >= 0 {
		underlying = underlying[:i]
	}
	if l.PrefixLen < len(underlying) {
		return underlying[:l.PrefixLen]
	}
	return underlying
}
