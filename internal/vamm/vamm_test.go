package vamm

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/synthx/vamm-engine/internal/model"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// --- Price tests ---

func TestPrice_RatioOfReserves(t *testing.T) {
	tests := []struct {
		long, short, want float64
	}{
		{1_000_000, 1_000_000, 1.0},
		{1_000_000, 2_000_000, 2.0},
		{2_000_000, 1_000_000, 0.5},
		{1_000_000, 1_500_000, 1.5},
	}
	for _, tt := range tests {
		price, err := Price(Reserves{Long: d(tt.long), Short: d(tt.short)})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !price.Equal(d(tt.want)) {
			t.Errorf("Price(%v/%v) = %s, want %v", tt.short, tt.long, price, tt.want)
		}
	}
}

func TestPrice_ZeroReserveIsError(t *testing.T) {
	for _, r := range []Reserves{
		{Long: decimal.Zero, Short: d(1_000_000)},
		{Long: d(1_000_000), Short: decimal.Zero},
		{Long: d(-1), Short: d(1)},
	} {
		if _, err := Price(r); !errors.Is(err, ErrNonPositiveReserve) {
			t.Errorf("expected ErrNonPositiveReserve for %+v, got %v", r, err)
		}
	}
}

func TestSeed_PriceEqualsInitialPrice(t *testing.T) {
	for _, p := range []float64{1.0, 0.5, 2500, 0.0001} {
		r, err := Seed(d(p))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !r.Long.Equal(SeedReserve) {
			t.Errorf("long seed should be %s, got %s", SeedReserve, r.Long)
		}
		price, _ := Price(r)
		if !price.Equal(d(p)) {
			t.Errorf("Price(Seed(%v)) = %s, want %v", p, price, p)
		}
	}
}

func TestSeed_RejectsNonPositive(t *testing.T) {
	if _, err := Seed(decimal.Zero); !errors.Is(err, ErrNonPositiveReserve) {
		t.Errorf("expected ErrNonPositiveReserve, got %v", err)
	}
}

// --- Sizing tests ---

func TestSizeForCollateral_OneTimesExposure(t *testing.T) {
	size, fee, err := SizeForCollateral(d(500), d(1), decimal.Zero)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !size.Equal(d(500)) {
		t.Errorf("size = %s, want 500", size)
	}
	if !fee.IsZero() {
		t.Errorf("fee = %s, want 0", fee)
	}
}

func TestSizeForCollateral_FeeDeductedFirst(t *testing.T) {
	size, fee, err := SizeForCollateral(d(1000), d(2), d(0.01))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fee.Equal(d(10)) {
		t.Errorf("fee = %s, want 10", fee)
	}
	if !size.Equal(d(495)) {
		t.Errorf("size = %s, want 495", size)
	}
}

func TestSizeForCollateral_Invalid(t *testing.T) {
	if _, _, err := SizeForCollateral(decimal.Zero, d(1), decimal.Zero); !errors.Is(err, ErrInvalidSize) {
		t.Errorf("zero collateral: got %v", err)
	}
	if _, _, err := SizeForCollateral(d(100), d(1), d(1)); !errors.Is(err, ErrInvalidFee) {
		t.Errorf("fee=1: got %v", err)
	}
	if _, _, err := SizeForCollateral(d(100), d(1), d(-0.1)); !errors.Is(err, ErrInvalidFee) {
		t.Errorf("negative fee: got %v", err)
	}
}

// --- Reserve perturbation tests ---

func TestApplyOpen_LongRaisesPrice(t *testing.T) {
	r, _ := Seed(d(1))
	before, _ := Price(r)

	after, err := ApplyOpen(r, model.SideLong, d(500))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !after.Short.Equal(r.Short.Add(d(500))) {
		t.Errorf("long open should add size to short reserve")
	}
	price, _ := Price(after)
	if price.LessThanOrEqual(before) {
		t.Errorf("opening long should raise price: before=%s after=%s", before, price)
	}
}

func TestApplyOpen_ShortLowersPrice(t *testing.T) {
	r, _ := Seed(d(1))
	before, _ := Price(r)

	after, err := ApplyOpen(r, model.SideShort, d(500))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !after.Long.Equal(r.Long.Add(d(500))) {
		t.Errorf("short open should add size to long reserve")
	}
	price, _ := Price(after)
	if price.GreaterThanOrEqual(before) {
		t.Errorf("opening short should lower price: before=%s after=%s", before, price)
	}
}

func TestApplyClose_ReversesOpen(t *testing.T) {
	r, _ := Seed(d(1))
	for _, side := range []model.Side{model.SideLong, model.SideShort} {
		opened, _ := ApplyOpen(r, side, d(123.456))
		closed, err := ApplyClose(opened, side, d(123.456))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !closed.Long.Equal(r.Long) || !closed.Short.Equal(r.Short) {
			t.Errorf("%s: close did not restore reserves: %+v vs %+v", side, closed, r)
		}
	}
}

func TestApplyClose_DrainedReserveIsError(t *testing.T) {
	r := Reserves{Long: d(100), Short: d(100)}
	if _, err := ApplyClose(r, model.SideLong, d(100)); !errors.Is(err, ErrNonPositiveReserve) {
		t.Errorf("expected ErrNonPositiveReserve, got %v", err)
	}
	if _, err := ApplyClose(r, model.SideShort, d(150)); !errors.Is(err, ErrNonPositiveReserve) {
		t.Errorf("expected ErrNonPositiveReserve, got %v", err)
	}
}

// --- PnL tests ---

func TestPnL_Signs(t *testing.T) {
	tests := []struct {
		side        model.Side
		entry, exit float64
		want        float64
	}{
		{model.SideLong, 1.0, 1.2, 20},   // long, price up
		{model.SideLong, 1.0, 0.8, -20},  // long, price down
		{model.SideShort, 1.0, 0.8, 20},  // short, price down
		{model.SideShort, 1.0, 1.2, -20}, // short, price up
		{model.SideLong, 1.0, 1.0, 0},    // unchanged
	}
	for _, tt := range tests {
		got := PnL(tt.side, d(100), d(tt.entry), d(tt.exit))
		if !got.Equal(d(tt.want)) {
			t.Errorf("PnL(%s, 100, %v, %v) = %s, want %v",
				tt.side, tt.entry, tt.exit, got, tt.want)
		}
	}
}

func TestPayout_FlooredAtZero(t *testing.T) {
	payout, shortfall := Payout(d(500), d(-700))
	if !payout.IsZero() {
		t.Errorf("payout should floor at zero, got %s", payout)
	}
	if !shortfall.Equal(d(200)) {
		t.Errorf("shortfall = %s, want 200", shortfall)
	}

	payout, shortfall = Payout(d(500), d(-100))
	if !payout.Equal(d(400)) {
		t.Errorf("payout = %s, want 400", payout)
	}
	if !shortfall.IsZero() {
		t.Errorf("shortfall = %s, want 0", shortfall)
	}
}

// --- Merge tests ---

func TestMergeEntryPrice_SizeWeighted(t *testing.T) {
	// 100 @ 1.0 merged with 300 @ 2.0 → entry 1.75
	got := MergeEntryPrice(d(100), d(1.0), d(300), d(2.0))
	if !got.Equal(d(1.75)) {
		t.Errorf("merged entry = %s, want 1.75", got)
	}
}

func TestMergeEntryPrice_SamePriceUnchanged(t *testing.T) {
	got := MergeEntryPrice(d(250), d(1.5), d(750), d(1.5))
	if !got.Equal(d(1.5)) {
		t.Errorf("merged entry = %s, want 1.5", got)
	}
}

// --- Slippage bound tests ---

func TestCheckBound(t *testing.T) {
	if err := CheckBound(d(1.2), decimal.Zero, true); err != nil {
		t.Errorf("zero limit should pass, got %v", err)
	}
	if err := CheckBound(d(1.2), d(1.3), true); err != nil {
		t.Errorf("price under max should pass, got %v", err)
	}
	if err := CheckBound(d(1.2), d(1.1), true); !errors.Is(err, ErrPriceBound) {
		t.Errorf("price over max should fail, got %v", err)
	}
	if err := CheckBound(d(1.2), d(1.1), false); err != nil {
		t.Errorf("price over min should pass, got %v", err)
	}
	if err := CheckBound(d(1.2), d(1.3), false); !errors.Is(err, ErrPriceBound) {
		t.Errorf("price under min should fail, got %v", err)
	}
}

// Round-trip: open then immediately close at unchanged price returns the
// original collateral exactly when the fee is zero.
func TestRoundTrip_ZeroPnLReturnsCollateral(t *testing.T) {
	r, _ := Seed(d(1))
	price, _ := Price(r)

	size, fee, err := SizeForCollateral(d(500), price, decimal.Zero)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fee.IsZero() {
		t.Fatalf("fee should be zero, got %s", fee)
	}

	pnl := PnL(model.SideLong, size, price, price)
	payout, shortfall := Payout(d(500), pnl)
	if !payout.Equal(d(500)) {
		t.Errorf("round trip payout = %s, want 500", payout)
	}
	if !shortfall.IsZero() {
		t.Errorf("round trip shortfall = %s, want 0", shortfall)
	}
}
