package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"regisync/backend/internal/domain"
)

//go:generate mockgen -source=printer.go -destination=printer_mock.go -package=service

// ReceiptPrinter prints a customer receipt. Drivers live outside this module.
type ReceiptPrinter interface {
	Print(ctx context.Context, receipt domain.SaleReceipt) error
}

// TextPrinter renders receipts as plain text, for spool files and dev mode.
type TextPrinter struct {
	mu  sync.Mutex
	w   io.Writer
	loc *time.Location
}

func NewTextPrinter(w io.Writer, loc *time.Location) *TextPrinter {
	if loc == nil {
		loc = time.UTC
	}
	return &TextPrinter{w: w, loc: loc}
}

func (p *TextPrinter) Print(ctx context.Context, receipt domain.SaleReceipt) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var b strings.Builder
	sale := receipt.Sale
	fmt.Fprintf(&b, "%s  No.%d\n", sale.CreatedAt.In(p.loc).Format("2006/01/02 15:04"), sale.ReceiptNumber)
	if sale.Status == domain.SaleStatusReturn {
		b.WriteString("** 返品 **\n")
	}
	if sale.InputMode == domain.InputModeTest {
		b.WriteString("** テスト **\n")
	}
	for _, d := range receipt.Details {
		if !d.OutputReceipt || d.Hidden {
			continue
		}
		marker := ""
		if d.SellingTax == domain.TaxRateReduced {
			marker = "*"
		}
		fmt.Fprintf(&b, "%s%s x%d %d\n", marker, receiptName(d), d.Quantity, d.SellingPrice*int64(d.Quantity))
	}
	fmt.Fprintf(&b, "合計 %d (内税 %d)\n", sale.SalesTotal, sale.TaxTotal)
	fmt.Fprintf(&b, "%s %d  釣銭 %d\n\n", sale.PaymentType, sale.CashAmount, receipt.Change)

	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := io.WriteString(p.w, b.String())
	return err
}

func receiptName(d domain.SaleDetail) string {
	if d.Abbr != "" {
		return d.Abbr
	}
	return d.ProductName
}
