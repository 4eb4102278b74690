package report

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"
)

// RenderCSV writes one row per report line as section,key,name,count,amount.
func RenderCSV(w io.Writer, r DailyReport) error {
	cw := csv.NewWriter(w)
	row := func(section, key, name string, count int, amount int64) {
		_ = cw.Write([]string{section, key, name, strconv.Itoa(count), strconv.FormatInt(amount, 10)})
	}

	_ = cw.Write([]string{"section", "key", "name", "count", "amount"})
	row("window", "from", formatTime(r.Window.From), 0, 0)
	row("window", "to", formatTime(r.Window.To), 0, 0)
	row("window", "source", r.Window.Source, 0, 0)
	row("summary", "customer", "", r.CustomerCount, r.CustomerAmount)
	row("summary", "details", "", r.DetailsCount, 0)
	row("summary", "discount", "", r.DiscountCount, r.DiscountAmount)
	row("summary", "return", "", r.ReturnCount, r.ReturnAmount)

	for _, p := range r.Payments {
		key := string(p.PaymentType)
		row("payment", key, "amount", p.Count, p.Amount)
		row("payment", key, "exclusive_tax_normal", 0, p.ExclusiveTaxNormal)
		row("payment", key, "exclusive_tax_reduced", 0, p.ExclusiveTaxReduced)
	}

	t := r.Taxes
	row("tax", "exclusive_price_normal", "", 0, t.ExclusivePriceNormal)
	row("tax", "exclusive_price_reduced", "", 0, t.ExclusivePriceReduced)
	row("tax", "inclusive_price_normal", "", 0, t.InclusivePriceNormal)
	row("tax", "inclusive_price_reduced", "", 0, t.InclusivePriceReduced)
	row("tax", "price_tax_free", "", 0, t.PriceTaxFree)
	row("tax", "exclusive_tax_normal", "", 0, t.ExclusiveTaxNormal)
	row("tax", "exclusive_tax_reduced", "", 0, t.ExclusiveTaxReduced)
	row("tax", "inclusive_tax_normal", "", 0, t.InclusiveTaxNormal)
	row("tax", "inclusive_tax_reduced", "", 0, t.InclusiveTaxReduced)

	divisionRows := func(d DivisionLine) {
		row("division", d.Code, d.Name, d.Count, d.Amount)
		row("division_discount", d.Code, d.Name, d.DiscountCount, d.DiscountAmount)
	}
	for _, d := range r.Divisions {
		divisionRows(d)
	}
	divisionRows(r.DivisionTotal)

	for _, a := range r.Anomalies {
		_ = cw.Write([]string{"anomaly", a.Kind, a.SaleID, strconv.Itoa(a.Index), a.Message})
	}

	cw.Flush()
	return cw.Error()
}

// RenderJSON writes the report as indented JSON.
func RenderJSON(w io.Writer, r DailyReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
