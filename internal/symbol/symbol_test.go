package symbol

import (
	"errors"
	"testing"
	"time"
)

func TestParse_Valid(t *testing.T) {
	s, err := Parse("VAMM-BTC-USD-20260930")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Base != "BTC" || s.Quote != "USD" {
		t.Errorf("parsed %s/%s, want BTC/USD", s.Base, s.Quote)
	}
	if s.Underlying() != "BTC-USD" {
		t.Errorf("underlying = %s, want BTC-USD", s.Underlying())
	}
	want := time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC)
	if !s.ExpiryDate.Equal(want) {
		t.Errorf("expiry date = %v, want %v", s.ExpiryDate, want)
	}
}

func TestParse_Invalid(t *testing.T) {
	bad := []string{
		"",
		"BTC-USD-20260930",
		"VAMM-btc-USD-20260930",
		"VAMM-BTC-USD-2026093",
		"VAMM-BTC-USD-20260930-EXTRA",
		"VAMM-B-USD-20260930",
	}
	for _, raw := range bad {
		if _, err := Parse(raw); !errors.Is(err, ErrInvalidSymbol) {
			t.Errorf("Parse(%q): expected ErrInvalidSymbol, got %v", raw, err)
		}
	}
}

func TestCheckExpiry(t *testing.T) {
	s, _ := Parse("VAMM-BTC-USD-20260930")

	ok := time.Date(2026, 9, 30, 16, 0, 0, 0, time.UTC)
	if err := s.CheckExpiry(ok); err != nil {
		t.Errorf("same-day expiry should pass, got %v", err)
	}

	wrong := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	if err := s.CheckExpiry(wrong); !errors.Is(err, ErrExpiryMismatch) {
		t.Errorf("expected ErrExpiryMismatch, got %v", err)
	}
}
