// Package fp32 implements the Q32.32 fixed-point arithmetic used to express
// order prices as a ratio of underlying tokens (quote) to tickets (base).
//
// A price of One means one token buys one ticket, i.e. a zero interest rate.
// Positive rates therefore map to prices strictly below One.
package fp32

import (
	"errors"
	"math"

	"github.com/holiman/uint256"
)

// Fp32 is an unsigned fixed-point number with 32 fractional bits.
type Fp32 uint64

const (
	// FractionalBits is the number of bits after the binary point.
	FractionalBits = 32
	// One is the fixed-point representation of 1.0.
	One Fp32 = 1 << FractionalBits

	// BasisPoints is the denominator used by all basis-point quantities.
	BasisPoints = 10_000
	// SecondsPerYear is used to annualise tenor based rates.
	SecondsPerYear = 365 * 24 * 60 * 60
)

var (
	ErrZeroDenominator = errors.New("fp32: zero denominator")
	ErrOverflow        = errors.New("fp32: result overflows 64 bits")
	ErrZeroPrice       = errors.New("fp32: price must be positive")
)

// FromRatio returns floor(num / den) as a fixed-point value.
func FromRatio(num, den uint64) (Fp32, error) {
	if den == 0 {
		return 0, ErrZeroDenominator
	}
	n := new(uint256.Int).SetUint64(num)
	n.Lsh(n, FractionalBits)
	n.Div(n, uint256.NewInt(den))
	if !n.IsUint64() {
		return 0, ErrOverflow
	}
	return Fp32(n.Uint64()), nil
}

// FromInt converts an integer quantity into a fixed-point value.
func FromInt(v uint64) (Fp32, error) {
	if v > math.MaxUint32 {
		return 0, ErrOverflow
	}
	return Fp32(v << FractionalBits), nil
}

// MulFloor returns floor(qty * price), converting a base quantity into quote.
func MulFloor(qty uint64, price Fp32) (uint64, error) {
	return mul(qty, price, false)
}

// MulCeil returns ceil(qty * price).
func MulCeil(qty uint64, price Fp32) (uint64, error) {
	return mul(qty, price, true)
}

// DivFloor returns floor(qty / price), converting a quote quantity into base.
func DivFloor(qty uint64, price Fp32) (uint64, error) {
	return div(qty, price, false)
}

// DivCeil returns ceil(qty / price).
func DivCeil(qty uint64, price Fp32) (uint64, error) {
	return div(qty, price, true)
}

// SaturatingDivFloor behaves like DivFloor but clamps overflowing results to
// math.MaxUint64. Matching uses it to turn an unbounded quote budget into an
// unbounded base budget.
func SaturatingDivFloor(qty uint64, price Fp32) uint64 {
	if price == 0 {
		return math.MaxUint64
	}
	v, err := DivFloor(qty, price)
	if err != nil {
		return math.MaxUint64
	}
	return v
}

func mul(qty uint64, price Fp32, roundUp bool) (uint64, error) {
	product := new(uint256.Int).Mul(uint256.NewInt(qty), uint256.NewInt(uint64(price)))
	if roundUp {
		product.AddUint64(product, uint64(One)-1)
	}
	product.Rsh(product, FractionalBits)
	if !product.IsUint64() {
		return 0, ErrOverflow
	}
	return product.Uint64(), nil
}

func div(qty uint64, price Fp32, roundUp bool) (uint64, error) {
	if price == 0 {
		return 0, ErrZeroPrice
	}
	n := new(uint256.Int).SetUint64(qty)
	n.Lsh(n, FractionalBits)
	d := uint256.NewInt(uint64(price))
	if roundUp {
		n.Add(n, new(uint256.Int).SubUint64(d, 1))
	}
	n.Div(n, d)
	if !n.IsUint64() {
		return 0, ErrOverflow
	}
	return n.Uint64(), nil
}

// RateToPrice converts a per-term simple interest rate in basis points into
// the price of one ticket: 10000 / (10000 + bps).
func RateToPrice(bps uint64) (Fp32, error) {
	if bps > math.MaxUint64-BasisPoints {
		return 0, ErrOverflow
	}
	return FromRatio(BasisPoints, BasisPoints+bps)
}

// PriceToRate converts a ticket price back into a per-term rate in basis
// points, rounding down. Prices above One (negative rates) report zero.
func PriceToRate(price Fp32) (uint64, error) {
	if price == 0 {
		return 0, ErrZeroPrice
	}
	if price >= One {
		return 0, nil
	}
	// bps = 10000 * (1 - p) / p, computed on the raw representation.
	n := new(uint256.Int).SetUint64(uint64(One - price))
	n.Mul(n, uint256.NewInt(BasisPoints))
	n.Div(n, uint256.NewInt(uint64(price)))
	if !n.IsUint64() {
		return 0, ErrOverflow
	}
	return n.Uint64(), nil
}

// AnnualRateToPrice converts an annualised simple rate into the price of a
// ticket maturing after tenor seconds.
func AnnualRateToPrice(bps, tenor uint64) (Fp32, error) {
	termBps, err := scaleRate(bps, tenor, SecondsPerYear)
	if err != nil {
		return 0, err
	}
	return rateToPriceScaled(termBps)
}

// PriceToAnnualRate converts a ticket price into an annualised simple rate in
// basis points for the given tenor, rounding down.
func PriceToAnnualRate(price Fp32, tenor uint64) (uint64, error) {
	if tenor == 0 {
		return 0, ErrZeroDenominator
	}
	if price == 0 {
		return 0, ErrZeroPrice
	}
	if price >= One {
		return 0, nil
	}
	n := new(uint256.Int).SetUint64(uint64(One - price))
	n.Mul(n, uint256.NewInt(BasisPoints))
	n.Mul(n, uint256.NewInt(SecondsPerYear))
	d := new(uint256.Int).Mul(uint256.NewInt(uint64(price)), uint256.NewInt(tenor))
	n.Div(n, d)
	if !n.IsUint64() {
		return 0, ErrOverflow
	}
	return n.Uint64(), nil
}

// scaleRate returns bps * tenor / period as a 32.32 fixed-point basis-point
// amount so fractional per-term rates are not truncated.
func scaleRate(bps, tenor, period uint64) (*uint256.Int, error) {
	if period == 0 {
		return nil, ErrZeroDenominator
	}
	n := new(uint256.Int).Mul(uint256.NewInt(bps), uint256.NewInt(tenor))
	n.Lsh(n, FractionalBits)
	n.Div(n, uint256.NewInt(period))
	return n, nil
}

func rateToPriceScaled(termBps *uint256.Int) (Fp32, error) {
	// price = 10000 / (10000 + r), with r carrying 32 fractional bits.
	den := new(uint256.Int).Lsh(uint256.NewInt(BasisPoints), FractionalBits)
	den.Add(den, termBps)
	num := new(uint256.Int).Lsh(uint256.NewInt(BasisPoints), 2*FractionalBits)
	num.Div(num, den)
	if !num.IsUint64() {
		return 0, ErrOverflow
	}
	return Fp32(num.Uint64()), nil
}

// Float returns an approximate float64 rendering, intended for logs and read
// APIs only.
func (p Fp32) Float() float64 {
	return float64(p) / float64(One)
}

// OrderAmount couples a base (ticket) quantity with a quote (token) quantity
// and the price implied by their ratio.
type OrderAmount struct {
	Base  uint64
	Quote uint64
	Price Fp32
}

// FromQuoteAmountRate builds an order for a fixed token amount at the given
// per-term rate: base = quote + quote*bps/10000.
func FromQuoteAmountRate(quote, bps uint64) (OrderAmount, error) {
	interest := new(uint256.Int).Mul(uint256.NewInt(quote), uint256.NewInt(bps))
	interest.Div(interest, uint256.NewInt(BasisPoints))
	base := interest.AddUint64(interest, quote)
	if !base.IsUint64() {
		return OrderAmount{}, ErrOverflow
	}
	return newOrderAmount(base.Uint64(), quote)
}

// FromBaseAmountRate builds an order for a fixed ticket amount at the given
// per-term rate: quote = base * 10000 / (10000 + bps).
func FromBaseAmountRate(base, bps uint64) (OrderAmount, error) {
	if bps > math.MaxUint64-BasisPoints {
		return OrderAmount{}, ErrOverflow
	}
	quote := new(uint256.Int).Mul(uint256.NewInt(base), uint256.NewInt(BasisPoints))
	quote.Div(quote, uint256.NewInt(BasisPoints+bps))
	return newOrderAmount(base, quote.Uint64())
}

func newOrderAmount(base, quote uint64) (OrderAmount, error) {
	price, err := FromRatio(quote, base)
	if err != nil {
		return OrderAmount{}, err
	}
	if price == 0 {
		return OrderAmount{}, ErrZeroPrice
	}
	return OrderAmount{Base: base, Quote: quote, Price: price}, nil
}
