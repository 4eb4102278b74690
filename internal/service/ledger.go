package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"regisync/backend/internal/domain"
	"regisync/backend/internal/promo"
	"regisync/backend/internal/store"
	"regisync/backend/internal/tax"
	"regisync/backend/internal/xid"
)

// RecordSale writes one finalized sale. The register must be open. Totals are
// computed here from the lines; the caller's numbers are never trusted.
func (s *Service) RecordSale(ctx context.Context, req domain.RecordSaleRequest) (domain.SaleReceipt, error) {
	if err := req.Validate(); err != nil {
		return domain.SaleReceipt{}, err
	}

	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	session, err := s.repo.LatestSession(ctx)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !session.IsOpen()) {
		return domain.SaleReceipt{}, ErrSessionClosed
	}
	if err != nil {
		return domain.SaleReceipt{}, err
	}

	mode := req.InputMode
	if mode == "" {
		if mode, err = s.InputMode(ctx); err != nil {
			return domain.SaleReceipt{}, err
		}
	}

	sign := req.Status.Sign()
	b := tax.Compute(tax.LinesFromBasket(req.Lines), sign)

	// The customer is charged for receipt lines only.
	charged := b.SalesExceptHidden
	cash := charged
	if req.CashAmount != nil {
		cash = *req.CashAmount
	}
	if req.PaymentType == domain.PaymentCash && sign > 0 && cash < charged {
		return domain.SaleReceipt{}, domain.Invalid("cash_amount", "tendered %d is less than total %d", cash, charged)
	}

	createdAt := s.now().UTC().Truncate(time.Microsecond)
	sale := domain.Sale{
		ID:                xid.New(),
		ReceiptNumber:     createdAt.UnixMilli(),
		ShopCode:          s.shopCode,
		CreatedAt:         createdAt,
		SalesTotal:        charged,
		TaxTotal:          b.TaxTotal,
		PaymentType:       req.PaymentType,
		CashAmount:        cash,
		SalesTaxFreeTotal: b.SalesTaxFreeTotal,
		SalesNormalTotal:  b.SalesNormalTotal,
		SalesReducedTotal: b.SalesReducedTotal,
		TaxNormalTotal:    b.TaxNormalTotal,
		TaxReducedTotal:   b.TaxReducedTotal,
		Status:            req.Status,
		InputMode:         mode,
	}
	details := buildDetails(sale.ID, req.Status, req.Lines)
	for _, d := range details {
		if d.ProductCode != "" {
			sale.DetailsCount++
		}
		if d.IsDiscountLine() {
			sale.DiscountTotal += d.SellingPrice * int64(d.Quantity)
		}
	}

	if err := s.repo.CreateSale(ctx, sale, details); err != nil {
		return domain.SaleReceipt{}, fmt.Errorf("record sale: %w", err)
	}

	if s.journal != nil {
		if err := s.journal.Write(sale, details); err != nil {
			s.logger.Warn("shadow write failed", "sale_id", sale.ID, "error", err)
		}
	}

	s.logAudit(ctx, "sale_record", "sale", sale.ID, fmt.Sprintf("status=%s,total=%d,mode=%s", sale.Status, sale.SalesTotal, sale.InputMode))
	return domain.SaleReceipt{Sale: sale, Details: details, Change: cash - sale.SalesTotal}, nil
}

// buildDetails numbers the lines and attaches each discount line's amount to
// the priced line before it.
func buildDetails(saleID string, status domain.SaleStatus, lines []domain.BasketLine) []domain.SaleDetail {
	details := make([]domain.SaleDetail, 0, len(lines))
	lastPriced := -1
	for i, line := range lines {
		d := domain.SaleDetail{
			SaleID:          saleID,
			Index:           i,
			ProductCode:     strings.TrimSpace(line.ProductCode),
			ProductName:     line.ProductName,
			Abbr:            line.Abbr,
			Kana:            line.Kana,
			Note:            line.Note,
			Hidden:          line.Hidden,
			Unregistered:    line.Unregistered,
			SellingPrice:    line.SellingPrice,
			CostPrice:       line.CostPrice,
			AvgCostPrice:    line.AvgCostPrice,
			SellingTaxClass: line.SellingTaxClass,
			StockTaxClass:   line.StockTaxClass,
			SellingTax:      line.SellingTax,
			StockTax:        line.StockTax,
			SelfMedication:  line.SelfMedication,
			SupplierCode:    line.SupplierCode,
			NoReturn:        line.NoReturn,
			Division:        line.Division,
			Quantity:        line.Quantity,
			OutputReceipt:   line.OutputReceipt,
			Status:          status,
		}
		if d.IsDiscountLine() {
			if lastPriced >= 0 {
				details[lastPriced].Discount += d.SellingPrice * int64(d.Quantity)
			}
		} else {
			lastPriced = i
		}
		details = append(details, d)
	}
	return details
}

// CompleteSale records the sale and prints its receipt. When printing fails
// the sale is voided so the ledger never holds a sale the customer has no
// receipt for.
func (s *Service) CompleteSale(ctx context.Context, req domain.RecordSaleRequest) (domain.SaleReceipt, error) {
	receipt, err := s.RecordSale(ctx, req)
	if err != nil {
		return domain.SaleReceipt{}, err
	}
	if s.printer == nil || !hasReceiptLine(receipt.Details) {
		return receipt, nil
	}

	if err := s.printer.Print(ctx, receipt); err != nil {
		s.logger.Warn("receipt print failed, voiding sale", "sale_id", receipt.Sale.ID, "error", err)
		if voidErr := s.VoidSale(ctx, receipt.Sale.ID); voidErr != nil {
			s.logger.Error("void after print failure failed", "sale_id", receipt.Sale.ID, "error", voidErr)
			return domain.SaleReceipt{}, fmt.Errorf("%w: %w", ErrReceiptFailed, errors.Join(err, voidErr))
		}
		return domain.SaleReceipt{}, fmt.Errorf("%w: %w", ErrReceiptFailed, err)
	}
	return receipt, nil
}

func hasReceiptLine(details []domain.SaleDetail) bool {
	for _, d := range details {
		if d.OutputReceipt {
			return true
		}
	}
	return false
}

// VoidSale deletes a sale that was never handed to the customer. Sales already
// mirrored to the cloud are compensated with a Return sale instead.
func (s *Service) VoidSale(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Invalid("id", "is required")
	}

	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return err
	}

	if s.reconciler != nil {
		release, ok := s.reconciler.TryAcquire()
		if !ok {
			return ErrSyncInProgress
		}
		defer release()

		if sale.InputMode == domain.InputModeNormal {
			watermark, err := s.reconciler.Watermark(ctx, sale.ShopCode)
			if err != nil {
				return err
			}
			if sale.CreatedAt.Before(watermark) {
				return ErrAlreadyMirrored
			}
		}
	}

	if err := s.repo.DeleteSale(ctx, id); err != nil {
		return err
	}
	if s.journal != nil {
		if err := s.journal.Remove(*sale); err != nil {
			s.logger.Warn("shadow remove failed", "sale_id", id, "error", err)
		}
	}

	s.logAudit(ctx, "sale_void", "sale", id, fmt.Sprintf("total=%d", sale.SalesTotal))
	return nil
}

type SalesQuery struct {
	Date      string
	InputMode domain.InputMode
	Status    domain.SaleStatus
	Limit     int
}

type SalesPage struct {
	Window domain.ReportWindow `json:"window"`
	Sales  []domain.Sale       `json:"sales"`
}

// QuerySales lists the shop's sales inside the report window of q.Date,
// ordered by createdAt.
func (s *Service) QuerySales(ctx context.Context, q SalesQuery) (SalesPage, error) {
	if q.InputMode != "" && !q.InputMode.Valid() {
		return SalesPage{}, domain.Invalid("input_mode", "unsupported input mode %q", q.InputMode)
	}
	if q.Status != "" && !q.Status.Valid() {
		return SalesPage{}, domain.Invalid("status", "unsupported status %q", q.Status)
	}
	if q.Limit < 1 || q.Limit > 1000 {
		q.Limit = 200
	}

	window, err := s.ReportWindow(ctx, q.Date)
	if err != nil {
		return SalesPage{}, err
	}
	sales, err := s.repo.ListSales(ctx, store.SaleFilter{
		ShopCode:  s.shopCode,
		InputMode: q.InputMode,
		Status:    q.Status,
		From:      window.From,
		To:        window.To,
		Limit:     q.Limit,
	})
	if err != nil {
		return SalesPage{}, err
	}
	return SalesPage{Window: window, Sales: sales}, nil
}

func (s *Service) QueryDetails(ctx context.Context, saleID string) ([]domain.SaleDetail, error) {
	if _, err := s.repo.GetSale(ctx, saleID); err != nil {
		return nil, err
	}
	return s.repo.ListSaleDetails(ctx, saleID)
}

// Quote applies bundle discounts to the basket and prices it. Nothing is written.
func (s *Service) Quote(ctx context.Context, req domain.QuoteRequest) (domain.QuoteResponse, error) {
	if err := req.Validate(); err != nil {
		return domain.QuoteResponse{}, err
	}
	if req.Status == "" {
		req.Status = domain.SaleStatusSales
	}

	bundles, err := s.repo.ListProductBundles(ctx)
	if err != nil {
		return domain.QuoteResponse{}, err
	}
	lines := promo.ApplyBundles(req.Lines, bundles)
	b := tax.Compute(tax.LinesFromBasket(lines), req.Status.Sign())

	return domain.QuoteResponse{
		Lines:             lines,
		SalesTotal:        b.SalesTotal,
		SalesExceptHidden: b.SalesExceptHidden,
		TaxTotal:          b.TaxTotal,
		TaxNormalTotal:    b.TaxNormalTotal,
		TaxReducedTotal:   b.TaxReducedTotal,
		UnsupportedRates:  b.UnsupportedRates,
	}, nil
}
