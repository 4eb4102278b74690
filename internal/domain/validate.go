package domain

import (
	"errors"
	"fmt"
	"strings"
)

var ErrValidation = errors.New("validation failed")

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects every rejected field of a payload so the caller can
// show them all at once.
type ValidationError struct {
	Fields []FieldError `json:"errors"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func (e *ValidationError) add(field string, format string, args ...any) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

func IsSupportedTaxRate(rate int) bool {
	return rate == TaxRateFree || rate == TaxRateReduced || rate == TaxRateNormal
}

func (r RecordSaleRequest) Validate() error {
	verr := &ValidationError{}
	if !r.PaymentType.Valid() {
		verr.add("payment_type", "unsupported payment type %q", r.PaymentType)
	}
	if !r.Status.Valid() {
		verr.add("status", "unsupported status %q", r.Status)
	}
	if r.InputMode != "" && !r.InputMode.Valid() {
		verr.add("input_mode", "unsupported input mode %q", r.InputMode)
	}
	if len(r.Lines) == 0 {
		verr.add("lines", "at least one line is required")
	}
	validateLines(verr, r.Lines)
	return verr.orNil()
}

func (r QuoteRequest) Validate() error {
	verr := &ValidationError{}
	if r.Status != "" && !r.Status.Valid() {
		verr.add("status", "unsupported status %q", r.Status)
	}
	validateLines(verr, r.Lines)
	return verr.orNil()
}

func validateLines(verr *ValidationError, lines []BasketLine) {
	for i, line := range lines {
		field := fmt.Sprintf("lines[%d]", i)
		if line.Quantity < 0 {
			verr.add(field+".quantity", "must not be negative")
		}
		if !line.SellingTaxClass.Valid() {
			verr.add(field+".selling_tax_class", "unsupported tax class %q", line.SellingTaxClass)
		}
		if !IsSupportedTaxRate(line.SellingTax) {
			verr.add(field+".selling_tax", "unsupported tax rate %d", line.SellingTax)
		}
		if strings.TrimSpace(line.Division) == "" {
			verr.add(field+".division", "is required")
		}
		if line.ProductCode == "" && line.SellingPrice < 0 && i == 0 {
			verr.add(field, "discount line must follow a priced line")
		}
		if line.ProductCode != "" && line.SellingPrice < 0 {
			verr.add(field+".selling_price", "must not be negative for a product line")
		}
	}
}

// Validate checks a document arriving from outside the ledger (cloud pull or
// shadow replay) before it is materialized.
func (d SaleDocument) Validate() error {
	verr := &ValidationError{}
	if strings.TrimSpace(d.Sale.ID) == "" {
		verr.add("sale.id", "is required")
	}
	if d.Sale.CreatedAt.IsZero() {
		verr.add("sale.createdAt", "is required")
	}
	if !d.Sale.Status.Valid() {
		verr.add("sale.status", "unsupported status %q", d.Sale.Status)
	}
	seen := make(map[int]bool, len(d.SaleDetails))
	for i, detail := range d.SaleDetails {
		if detail.SaleID != d.Sale.ID {
			verr.add(fmt.Sprintf("saleDetails[%d].saleId", i), "does not match sale id")
		}
		if seen[detail.Index] {
			verr.add(fmt.Sprintf("saleDetails[%d].index", i), "duplicate index %d", detail.Index)
		}
		seen[detail.Index] = true
	}
	return verr.orNil()
}

// Invalid reports a single rejected field.
func Invalid(field string, format string, args ...any) error {
	verr := &ValidationError{}
	verr.add(field, format, args...)
	return verr
}
