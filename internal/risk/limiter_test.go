package risk

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newTestLimiter() *Limiter {
	return NewLimiter(d(1000), d(5000), 3)
}

func TestCheckOpen_WithinLimits(t *testing.T) {
	l := newTestLimiter()
	err := l.CheckOpen("BTC-USD", d(100), d(200), nil)
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheckOpen_PerMarketExceeded(t *testing.T) {
	l := newTestLimiter()
	err := l.CheckOpen("BTC-USD", d(900), d(200), nil)
	if !errors.Is(err, ErrPerMarketLimitExceeded) {
		t.Errorf("expected ErrPerMarketLimitExceeded, got %v", err)
	}
}

func TestCheckOpen_ExactlyAtLimit(t *testing.T) {
	l := newTestLimiter()
	err := l.CheckOpen("BTC-USD", d(800), d(200), nil)
	if err != nil {
		t.Errorf("hitting the limit exactly should pass, got %v", err)
	}
}

func TestCheckOpen_CorrelatedExceeded(t *testing.T) {
	l := newTestLimiter()
	others := []Exposure{
		{Underlying: "BTC-EUR", Notional: d(1000)},
		{Underlying: "BTC-JPY", Notional: d(1000)},
		{Underlying: "BTC-GBP", Notional: d(1000)},
		{Underlying: "BTC-CHF", Notional: d(1500)},
	}
	err := l.CheckOpen("BTC-USD", d(800), d(200), others)
	if !errors.Is(err, ErrCorrelatedLimitExceeded) {
		t.Errorf("expected ErrCorrelatedLimitExceeded, got %v", err)
	}
}

func TestCheckOpen_UncorrelatedNotCounted(t *testing.T) {
	l := newTestLimiter()
	others := []Exposure{
		{Underlying: "ETH-USD", Notional: d(4000)},
		{Underlying: "SOL-USD", Notional: d(4000)},
	}
	err := l.CheckOpen("BTC-USD", d(800), d(200), others)
	if err != nil {
		t.Errorf("uncorrelated exposure should not count, got %v", err)
	}
}

func TestPrefix_StopsAtSeparator(t *testing.T) {
	l := NewLimiter(d(1000), d(5000), 8)
	if got := l.prefix("BTC-USD"); got != "BTC" {
		t.Errorf("prefix(BTC-USD) = %q, want BTC", got)
	}
	if got := l.prefix("BT"); got != "BT" {
		t.Errorf("prefix(BT) = %q, want BT", got)
	}
}
