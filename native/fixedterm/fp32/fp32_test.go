package fp32

import (
	"errors"
	"math"
	"testing"
)

func TestFromQuoteAmountRate(t *testing.T) {
	amount, err := FromQuoteAmountRate(1_000, 2_000)
	if err != nil {
		t.Fatalf("from quote: %v", err)
	}
	if amount.Base != 1_200 {
		t.Fatalf("expected base 1200, got %d", amount.Base)
	}
	if amount.Quote != 1_000 {
		t.Fatalf("expected quote 1000, got %d", amount.Quote)
	}
	want, _ := FromRatio(1_000, 1_200)
	if amount.Price != want {
		t.Fatalf("expected price %d, got %d", want, amount.Price)
	}

	lend, err := FromQuoteAmountRate(500, 1_500)
	if err != nil {
		t.Fatalf("from quote: %v", err)
	}
	if lend.Base != 575 {
		t.Fatalf("expected base 575, got %d", lend.Base)
	}
	if lend.Price <= amount.Price {
		t.Fatalf("lower rate must produce a higher price: %d <= %d", lend.Price, amount.Price)
	}
}

func TestFromBaseAmountRate(t *testing.T) {
	amount, err := FromBaseAmountRate(1_200, 2_000)
	if err != nil {
		t.Fatalf("from base: %v", err)
	}
	if amount.Quote != 1_000 {
		t.Fatalf("expected quote 1000, got %d", amount.Quote)
	}
}

func TestConversionRounding(t *testing.T) {
	price, err := FromRatio(1_000, 1_200)
	if err != nil {
		t.Fatalf("ratio: %v", err)
	}
	base, err := DivFloor(500, price)
	if err != nil {
		t.Fatalf("div: %v", err)
	}
	if base != 600 {
		t.Fatalf("expected 600 base for 500 quote, got %d", base)
	}
	floor, err := MulFloor(600, price)
	if err != nil {
		t.Fatalf("mul floor: %v", err)
	}
	ceil, err := MulCeil(600, price)
	if err != nil {
		t.Fatalf("mul ceil: %v", err)
	}
	if floor != 499 || ceil != 500 {
		t.Fatalf("expected floor 499 / ceil 500, got %d / %d", floor, ceil)
	}
	up, err := DivCeil(499, price)
	if err != nil {
		t.Fatalf("div ceil: %v", err)
	}
	if up != 599 {
		t.Fatalf("expected ceil(499/price) = 599, got %d", up)
	}
}

func TestExactConversionsDoNotRound(t *testing.T) {
	half := One / 2
	floor, _ := MulFloor(10, half)
	ceil, _ := MulCeil(10, half)
	if floor != 5 || ceil != 5 {
		t.Fatalf("expected exact 5/5, got %d/%d", floor, ceil)
	}
	d, _ := DivCeil(5, half)
	if d != 10 {
		t.Fatalf("expected exact 10, got %d", d)
	}
}

func TestRatePriceRoundTrip(t *testing.T) {
	for _, bps := range []uint64{0, 1, 150, 2_000, 10_000, 55_555} {
		price, err := RateToPrice(bps)
		if err != nil {
			t.Fatalf("rate %d: %v", bps, err)
		}
		got, err := PriceToRate(price)
		if err != nil {
			t.Fatalf("price %d: %v", price, err)
		}
		// The floor in both directions may lose at most one basis point.
		if got != bps && got+1 != bps && got != bps+1 {
			t.Fatalf("rate %d round-tripped to %d", bps, got)
		}
	}
	if r, _ := PriceToRate(One); r != 0 {
		t.Fatalf("price one must be a zero rate, got %d", r)
	}
}

func TestAnnualRate(t *testing.T) {
	price, err := AnnualRateToPrice(1_000, SecondsPerYear)
	if err != nil {
		t.Fatalf("annual: %v", err)
	}
	perTerm, _ := RateToPrice(1_000)
	if diff := int64(price) - int64(perTerm); diff > 1 || diff < -1 {
		t.Fatalf("one-year tenor should match the per-term price: %d vs %d", price, perTerm)
	}
	half, err := AnnualRateToPrice(1_000, SecondsPerYear/2)
	if err != nil {
		t.Fatalf("annual half: %v", err)
	}
	if half <= price {
		t.Fatalf("shorter tenor must price higher: %d <= %d", half, price)
	}
	rate, err := PriceToAnnualRate(half, SecondsPerYear/2)
	if err != nil {
		t.Fatalf("to annual: %v", err)
	}
	if rate < 999 || rate > 1_000 {
		t.Fatalf("expected ~1000 bps, got %d", rate)
	}
}

func TestErrors(t *testing.T) {
	if _, err := FromRatio(1, 0); !errors.Is(err, ErrZeroDenominator) {
		t.Fatalf("expected zero denominator, got %v", err)
	}
	if _, err := DivFloor(1, 0); !errors.Is(err, ErrZeroPrice) {
		t.Fatalf("expected zero price, got %v", err)
	}
	if _, err := MulFloor(math.MaxUint64, Fp32(math.MaxUint64)); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if got := SaturatingDivFloor(math.MaxUint64, 1); got != math.MaxUint64 {
		t.Fatalf("expected saturation, got %d", got)
	}
}
