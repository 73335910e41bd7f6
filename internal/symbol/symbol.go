// Package symbol handles vAMM market symbol parsing and validation.
package symbol

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// symbolRegex matches: VAMM-{BASE}-{QUOTE}-{YYYYMMDD}
// Example: VAMM-BTC-USD-20260930
var symbolRegex = regexp.MustCompile(
	`^VAMM-([A-Z0-9]{2,10})-([A-Z0-9]{2,10})-(\d{8})$`,
)

var (
	ErrInvalidSymbol  = errors.New("symbol: invalid market symbol format")
	ErrExpiryMismatch = errors.New("symbol: embedded expiry date does not match market expiry")
)

// Symbol is a parsed market symbol.
type Symbol struct {
	Raw        string    `json:"raw"`
	Base       string    `json:"base"`
	Quote      string    `json:"quote"`
	ExpiryDate time.Time `json:"expiry_date"` // midnight UTC of the embedded date
}

// Underlying returns the oracle key for the symbol, e.g. "BTC-USD".
func (s *Symbol) Underlying() string {
	return s.Base + "-" + s.Quote
}

// Parse parses and validates a market symbol string.
// Format: VAMM-{BASE}-{QUOTE}-{YYYYMMDD}
func Parse(raw string) (*Symbol, error) {
	matches := symbolRegex.FindStringSubmatch(raw)
	if matches == nil {
		return nil, fmt.Errorf("%w: %s (expected VAMM-{BASE}-{QUOTE}-{YYYYMMDD})",
			ErrInvalidSymbol, raw)
	}

	expiry, err := time.Parse("20060102", matches[3])
	if err != nil {
		return nil, fmt.Errorf("%w: invalid date %s", ErrInvalidSymbol, matches[3])
	}

	return &Symbol{
		Raw:        raw,
		Base:       matches[1],
		Quote:      matches[2],
		ExpiryDate: expiry,
	}, nil
}

// CheckExpiry verifies that the market's expiry falls on the calendar day
// embedded in the symbol.
func (s *Symbol) CheckExpiry(expiry time.Time) error {
	if expiry.UTC().Format("20060102") != s.ExpiryDate.Format("20060102") {
		return fmt.Errorf("%w: symbol says %s, market expires %s",
			ErrExpiryMismatch,
			s.ExpiryDate.Format("2006-01-02"),
			expiry.UTC().Format("2006-01-02"))
	}
	return nil
}
