// Package report derives the end-of-day cash and tax report from ledger rows.
// Nothing here reads stored totals except to cross-check them, and the same
// input always produces the same output.
package report

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"regisync/backend/internal/domain"
	"regisync/backend/internal/tax"
)

const (
	AnomalyUnsupportedTaxRate   = "unsupported_tax_rate"
	AnomalyOrphanDetail         = "orphan_detail"
	AnomalyMissingDetails       = "missing_details"
	AnomalyDetailsCountMismatch = "details_count_mismatch"
	AnomalyTaxTotalMismatch     = "tax_total_mismatch"
	AnomalyUnknownPaymentType   = "unknown_payment_type"
	AnomalyUnknownDivision      = "unknown_division"
)

type Input struct {
	ShopCode string
	Window   domain.ReportWindow
	Sales    []domain.Sale
	Details  []domain.SaleDetail
}

type PaymentLine struct {
	PaymentType         domain.PaymentType `json:"payment_type"`
	Count               int                `json:"count"`
	Amount              int64              `json:"amount"`
	ExclusiveTaxNormal  int64              `json:"exclusive_tax_normal"`
	ExclusiveTaxReduced int64              `json:"exclusive_tax_reduced"`
}

type TaxSummary struct {
	ExclusivePriceNormal  int64 `json:"exclusive_price_normal"`
	ExclusivePriceReduced int64 `json:"exclusive_price_reduced"`
	InclusivePriceNormal  int64 `json:"inclusive_price_normal"`
	InclusivePriceReduced int64 `json:"inclusive_price_reduced"`
	PriceTaxFree          int64 `json:"price_tax_free"`
	ExclusiveTaxNormal    int64 `json:"exclusive_tax_normal"`
	ExclusiveTaxReduced   int64 `json:"exclusive_tax_reduced"`
	InclusiveTaxNormal    int64 `json:"inclusive_tax_normal"`
	InclusiveTaxReduced   int64 `json:"inclusive_tax_reduced"`
}

type DivisionLine struct {
	Code           string `json:"code"`
	Name           string `json:"name"`
	Count          int    `json:"count"`
	Amount         int64  `json:"amount"`
	DiscountCount  int    `json:"discount_count"`
	DiscountAmount int64  `json:"discount_amount"`
}

type Anomaly struct {
	Kind    string `json:"kind"`
	SaleID  string `json:"sale_id"`
	Index   int    `json:"index"`
	Message string `json:"message"`
}

type DailyReport struct {
	ShopCode       string              `json:"shop_code"`
	Window         domain.ReportWindow `json:"window"`
	CustomerCount  int                 `json:"customer_count"`
	CustomerAmount int64               `json:"customer_amount"`
	DetailsCount   int                 `json:"details_count"`
	Payments       []PaymentLine       `json:"payments"`
	Taxes          TaxSummary          `json:"taxes"`
	Divisions      []DivisionLine      `json:"divisions"`
	DivisionTotal  DivisionLine        `json:"division_total"`
	DiscountCount  int                 `json:"discount_count"`
	DiscountAmount int64               `json:"discount_amount"`
	ReturnCount    int                 `json:"return_count"`
	ReturnAmount   int64               `json:"return_amount"`
	Anomalies      []Anomaly           `json:"anomalies"`
}

var paymentOrder = []domain.PaymentType{domain.PaymentCash, domain.PaymentCredit, domain.PaymentDigital}

// Aggregate reduces the sales inside in.Window. Sales outside the window and
// their details are ignored.
func Aggregate(in Input) DailyReport {
	sales := make([]domain.Sale, 0, len(in.Sales))
	for _, sale := range in.Sales {
		if in.Window.Contains(sale.CreatedAt) {
			sales = append(sales, sale)
		}
	}
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	inWindow := make(map[string]bool, len(in.Sales))
	for _, sale := range in.Sales {
		inWindow[sale.ID] = in.Window.Contains(sale.CreatedAt)
	}
	bySale := make(map[string][]domain.SaleDetail, len(sales))
	agg := newAggregator(in)
	for _, d := range in.Details {
		included, known := inWindow[d.SaleID]
		if !known {
			agg.flag(AnomalyOrphanDetail, d.SaleID, d.Index, "detail has no sale")
			continue
		}
		if included {
			bySale[d.SaleID] = append(bySale[d.SaleID], d)
		}
	}

	for _, sale := range sales {
		details := bySale[sale.ID]
		slices.SortFunc(details, func(a, b domain.SaleDetail) int {
			return cmp.Compare(a.Index, b.Index)
		})
		agg.addSale(sale, details)
	}
	return agg.finish()
}

type aggregator struct {
	report    DailyReport
	payments  map[domain.PaymentType]*PaymentLine
	divisions map[string]*DivisionLine
}

func newAggregator(in Input) *aggregator {
	a := &aggregator{
		report: DailyReport{
			ShopCode:  in.ShopCode,
			Window:    in.Window,
			Anomalies: []Anomaly{},
		},
		payments:  make(map[domain.PaymentType]*PaymentLine, len(paymentOrder)),
		divisions: make(map[string]*DivisionLine, len(domain.Divisions)),
	}
	for _, pt := range paymentOrder {
		a.payments[pt] = &PaymentLine{PaymentType: pt}
	}
	return a
}

func (a *aggregator) flag(kind string, saleID string, index int, format string, args ...any) {
	a.report.Anomalies = append(a.report.Anomalies, Anomaly{
		Kind:    kind,
		SaleID:  saleID,
		Index:   index,
		Message: fmt.Sprintf(format, args...),
	})
}

func (a *aggregator) division(code string) *DivisionLine {
	line, ok := a.divisions[code]
	if !ok {
		line = &DivisionLine{Code: code, Name: domain.Divisions[code]}
		a.divisions[code] = line
	}
	return line
}

func (a *aggregator) addSale(sale domain.Sale, details []domain.SaleDetail) {
	sign := sale.Status.Sign()
	r := &a.report

	r.CustomerCount++
	if sale.Status == domain.SaleStatusReturn {
		r.ReturnCount++
	}
	if sale.DiscountTotal != 0 {
		r.DiscountCount++
		r.DiscountAmount += sale.DiscountTotal * sign
	}

	payment, knownPayment := a.payments[sale.PaymentType]
	if !knownPayment {
		a.flag(AnomalyUnknownPaymentType, sale.ID, -1, "payment type %q", sale.PaymentType)
	}
	if len(details) == 0 {
		a.flag(AnomalyMissingDetails, sale.ID, -1, "sale has no details")
	}

	var otcExclusiveNormal, otcExclusiveReduced int64
	coded := 0
	for _, d := range details {
		amount := d.SellingPrice * int64(d.Quantity) * sign
		r.DetailsCount++

		if !domain.IsSupportedTaxRate(d.SellingTax) {
			a.flag(AnomalyUnsupportedTaxRate, sale.ID, d.Index, "rate %d%%", d.SellingTax)
		}
		if !domain.IsKnownDivision(d.Division) {
			a.flag(AnomalyUnknownDivision, sale.ID, d.Index, "division %q", d.Division)
		}

		code := d.Division
		if code == domain.DivisionOTC && d.SellingTax == domain.TaxRateReduced {
			code = domain.DivisionOTCReduced
		}
		div := a.division(code)
		if d.ProductCode != "" {
			div.Count++
			coded++
		}
		div.Amount += amount
		if d.Discount != 0 {
			div.DiscountCount++
			div.DiscountAmount += d.Discount * sign
		}

		switch {
		case d.SellingTaxClass == domain.TaxClassExclusive && d.SellingTax == domain.TaxRateNormal:
			r.Taxes.ExclusivePriceNormal += amount
		case d.SellingTaxClass == domain.TaxClassExclusive && d.SellingTax == domain.TaxRateReduced:
			r.Taxes.ExclusivePriceReduced += amount
		case d.SellingTaxClass == domain.TaxClassInclusive && d.SellingTax == domain.TaxRateNormal:
			r.Taxes.InclusivePriceNormal += amount
		case d.SellingTaxClass == domain.TaxClassInclusive && d.SellingTax == domain.TaxRateReduced:
			r.Taxes.InclusivePriceReduced += amount
		case d.SellingTaxClass == domain.TaxClassNone || d.SellingTax == domain.TaxRateFree:
			r.Taxes.PriceTaxFree += amount
		}

		if d.Division == domain.DivisionOTC && d.SellingTaxClass == domain.TaxClassExclusive {
			switch d.SellingTax {
			case domain.TaxRateNormal:
				otcExclusiveNormal += amount
			case domain.TaxRateReduced:
				otcExclusiveReduced += amount
			}
		}
	}

	a.division(domain.DivisionOTC).Amount += tax.FloorSigned(otcExclusiveNormal*domain.TaxRateNormal, 100)
	a.division(domain.DivisionOTCReduced).Amount += tax.FloorSigned(otcExclusiveReduced*domain.TaxRateReduced, 100)

	b := tax.Compute(tax.LinesFromDetails(details), sign)
	r.Taxes.ExclusiveTaxNormal += b.ExclusiveTaxNormal
	r.Taxes.ExclusiveTaxReduced += b.ExclusiveTaxReduced
	r.Taxes.InclusiveTaxNormal += b.InclusiveTaxNormal
	r.Taxes.InclusiveTaxReduced += b.InclusiveTaxReduced
	r.CustomerAmount += b.SalesExceptHidden
	if sale.Status == domain.SaleStatusReturn {
		r.ReturnAmount += b.SalesExceptHidden
	}
	if knownPayment {
		payment.Count++
		payment.Amount += b.SalesExceptHidden
		payment.ExclusiveTaxNormal += b.ExclusiveTaxNormal
		payment.ExclusiveTaxReduced += b.ExclusiveTaxReduced
	}

	if len(details) > 0 && coded != sale.DetailsCount {
		a.flag(AnomalyDetailsCountMismatch, sale.ID, -1, "stored %d, found %d", sale.DetailsCount, coded)
	}
	if len(details) > 0 && b.TaxTotal != sale.TaxTotal {
		a.flag(AnomalyTaxTotalMismatch, sale.ID, -1, "stored %d, recomputed %d", sale.TaxTotal, b.TaxTotal)
	}
}

func (a *aggregator) finish() DailyReport {
	r := a.report

	r.Payments = make([]PaymentLine, 0, len(paymentOrder))
	for _, pt := range paymentOrder {
		r.Payments = append(r.Payments, *a.payments[pt])
	}

	r.Divisions = make([]DivisionLine, 0, len(a.divisions))
	r.DivisionTotal = DivisionLine{Code: "all", Name: "合計"}
	for _, line := range a.divisions {
		if line.Count == 0 && line.Amount == 0 && line.DiscountCount == 0 {
			continue
		}
		r.Divisions = append(r.Divisions, *line)
		r.DivisionTotal.Count += line.Count
		r.DivisionTotal.Amount += line.Amount
		r.DivisionTotal.DiscountCount += line.DiscountCount
		r.DivisionTotal.DiscountAmount += line.DiscountAmount
	}
	slices.SortFunc(r.Divisions, func(x, y DivisionLine) int {
		return compareDivisionCodes(x.Code, y.Code)
	})

	slices.SortStableFunc(r.Anomalies, func(x, y Anomaly) int {
		if c := strings.Compare(x.Kind, y.Kind); c != 0 {
			return c
		}
		if c := strings.Compare(x.SaleID, y.SaleID); c != 0 {
			return c
		}
		if c := cmp.Compare(x.Index, y.Index); c != 0 {
			return c
		}
		return strings.Compare(x.Message, y.Message)
	})
	return r
}

// compareDivisionCodes orders numeric codes numerically and anything else
// after them, lexically.
func compareDivisionCodes(a, b string) int {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	switch {
	case errA == nil && errB == nil:
		return cmp.Compare(na, nb)
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	default:
		return strings.Compare(a, b)
	}
}
