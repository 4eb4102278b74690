// Package tax computes consumption tax for a register basket under the
// inclusive/exclusive two-rate regime. Every function is pure.
package tax

import (
	"slices"

	"regisync/backend/internal/domain"
)

// Line is the tax-relevant projection of a basket line or a persisted detail.
type Line struct {
	UnitPrice           int64
	Quantity            int
	Class               domain.TaxClass
	Rate                int
	CountsTowardReceipt bool
}

func (l Line) amount() int64 {
	return l.UnitPrice * int64(l.Quantity)
}

// FloorSigned returns sign(n) * floor(|n| / d). Rounding toward zero keeps a
// return the exact mirror of the sale it reverses.
func FloorSigned(n int64, d int64) int64 {
	if d <= 0 {
		return 0
	}
	if n < 0 {
		return -((-n) / d)
	}
	return n / d
}

// ExclusiveTax is the tax added on top of exclusive-class lines at rate.
func ExclusiveTax(lines []Line, rate int, sign int64) int64 {
	total := sumWhere(lines, domain.TaxClassExclusive, rate)
	return FloorSigned(total*int64(rate), 100) * sign
}

// InclusiveTax backs out the tax already embedded in inclusive-class lines at rate.
func InclusiveTax(lines []Line, rate int, sign int64) int64 {
	total := sumWhere(lines, domain.TaxClassInclusive, rate)
	return FloorSigned(total*int64(rate), int64(100+rate)) * sign
}

// ReceiptOnly keeps the lines printed on (and charged through) the customer receipt.
func ReceiptOnly(lines []Line) []Line {
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		if l.CountsTowardReceipt {
			out = append(out, l)
		}
	}
	return out
}

// SalesTotal is the signed amount of every line plus exclusive tax on receipt lines.
// Inclusive tax is already part of the line prices.
func SalesTotal(lines []Line, sign int64) int64 {
	receipt := ReceiptOnly(lines)
	return sumAll(lines)*sign + ExclusiveTax(receipt, domain.TaxRateNormal, sign) + ExclusiveTax(receipt, domain.TaxRateReduced, sign)
}

// SalesExceptHidden is the charged amount: receipt lines only plus their exclusive tax.
func SalesExceptHidden(lines []Line, sign int64) int64 {
	receipt := ReceiptOnly(lines)
	return sumAll(receipt)*sign + ExclusiveTax(receipt, domain.TaxRateNormal, sign) + ExclusiveTax(receipt, domain.TaxRateReduced, sign)
}

func IsSupportedRate(rate int) bool {
	return domain.IsSupportedTaxRate(rate)
}

// Breakdown holds every total a Sale persists.
type Breakdown struct {
	SalesTotal        int64
	SalesExceptHidden int64
	TaxTotal          int64
	SalesTaxFreeTotal int64
	SalesNormalTotal  int64
	SalesReducedTotal int64
	TaxNormalTotal    int64
	TaxReducedTotal   int64

	ExclusiveTaxNormal  int64
	ExclusiveTaxReduced int64
	InclusiveTaxNormal  int64
	InclusiveTaxReduced int64

	// UnsupportedRates lists rates outside {0, 8, 10}. Their lines are counted in
	// the sales totals but not taxed; callers flag them as anomalies.
	UnsupportedRates []int
}

func Compute(lines []Line, sign int64) Breakdown {
	receipt := ReceiptOnly(lines)

	b := Breakdown{
		ExclusiveTaxNormal:  ExclusiveTax(receipt, domain.TaxRateNormal, sign),
		ExclusiveTaxReduced: ExclusiveTax(receipt, domain.TaxRateReduced, sign),
		InclusiveTaxNormal:  InclusiveTax(receipt, domain.TaxRateNormal, sign),
		InclusiveTaxReduced: InclusiveTax(receipt, domain.TaxRateReduced, sign),
	}

	var priceNormal, priceReduced, priceFree int64
	for _, l := range receipt {
		switch l.Rate {
		case domain.TaxRateNormal:
			priceNormal += l.amount()
		case domain.TaxRateReduced:
			priceReduced += l.amount()
		case domain.TaxRateFree:
			priceFree += l.amount()
		}
	}

	b.SalesTotal = sumAll(lines)*sign + b.ExclusiveTaxNormal + b.ExclusiveTaxReduced
	b.SalesExceptHidden = sumAll(receipt)*sign + b.ExclusiveTaxNormal + b.ExclusiveTaxReduced
	b.TaxNormalTotal = b.ExclusiveTaxNormal + b.InclusiveTaxNormal
	b.TaxReducedTotal = b.ExclusiveTaxReduced + b.InclusiveTaxReduced
	b.TaxTotal = b.TaxNormalTotal + b.TaxReducedTotal
	b.SalesTaxFreeTotal = priceFree * sign
	b.SalesNormalTotal = priceNormal*sign + b.ExclusiveTaxNormal
	b.SalesReducedTotal = priceReduced*sign + b.ExclusiveTaxReduced
	b.UnsupportedRates = unsupportedRates(lines)
	return b
}

// LinesFromDetails rebuilds the tax lines of a persisted sale.
func LinesFromDetails(details []domain.SaleDetail) []Line {
	lines := make([]Line, 0, len(details))
	for _, d := range details {
		lines = append(lines, Line{
			UnitPrice:           d.SellingPrice,
			Quantity:            d.Quantity,
			Class:               d.SellingTaxClass,
			Rate:                d.SellingTax,
			CountsTowardReceipt: d.OutputReceipt,
		})
	}
	return lines
}

func LinesFromBasket(basket []domain.BasketLine) []Line {
	lines := make([]Line, 0, len(basket))
	for _, b := range basket {
		lines = append(lines, Line{
			UnitPrice:           b.SellingPrice,
			Quantity:            b.Quantity,
			Class:               b.SellingTaxClass,
			Rate:                b.SellingTax,
			CountsTowardReceipt: b.OutputReceipt,
		})
	}
	return lines
}

func sumWhere(lines []Line, class domain.TaxClass, rate int) int64 {
	var total int64
	for _, l := range lines {
		if l.Class == class && l.Rate == rate {
			total += l.amount()
		}
	}
	return total
}

func sumAll(lines []Line) int64 {
	var total int64
	for _, l := range lines {
		total += l.amount()
	}
	return total
}

func unsupportedRates(lines []Line) []int {
	var rates []int
	for _, l := range lines {
		if !IsSupportedRate(l.Rate) && !slices.Contains(rates, l.Rate) {
			rates = append(rates, l.Rate)
		}
	}
	slices.Sort(rates)
	return rates
}
