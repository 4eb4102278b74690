package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"regisync/backend/internal/domain"
	"regisync/backend/internal/store"
)

func TestCreateSaleRoundTripAndDuplicate(t *testing.T) {
	databaseURL := os.Getenv("REGISYNC_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set REGISYNC_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	stamp := time.Now().UnixNano()
	saleID := fmt.Sprintf("it-sale-%d", stamp)
	shopCode := fmt.Sprintf("it-shop-%d", stamp)
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_details WHERE sale_id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, saleID)
	})

	createdAt := time.Now().UTC().Truncate(time.Millisecond)
	sale := domain.Sale{
		ID:            saleID,
		ReceiptNumber: createdAt.UnixMilli(),
		ShopCode:      shopCode,
		CreatedAt:     createdAt,
		DetailsCount:  1,
		SalesTotal:    220,
		TaxTotal:      20,
		PaymentType:   domain.PaymentCash,
		CashAmount:    220,
		Status:        domain.SaleStatusSales,
		InputMode:     domain.InputModeNormal,
	}
	details := []domain.SaleDetail{{
		SaleID:          saleID,
		Index:           0,
		ProductCode:     "4987000000008",
		ProductName:     "マスク",
		SellingPrice:    200,
		SellingTaxClass: domain.TaxClassExclusive,
		SellingTax:      domain.TaxRateNormal,
		Division:        domain.DivisionOTC,
		Quantity:        1,
		OutputReceipt:   true,
		Status:          domain.SaleStatusSales,
	}}

	if err := s.CreateSale(ctx, sale, details); err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if err := s.CreateSale(ctx, sale, details); !errors.Is(err, store.ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}

	listed, err := s.ListSales(ctx, store.SaleFilter{ShopCode: shopCode, From: createdAt, To: createdAt.Add(time.Second)})
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(listed) != 1 || listed[0].SalesTotal != 220 {
		t.Fatalf("unexpected sales %+v", listed)
	}

	got, err := s.ListDetailsBySaleIDs(ctx, []string{saleID})
	if err != nil {
		t.Fatalf("list details: %v", err)
	}
	if len(got) != 1 || got[0].ProductName != "マスク" {
		t.Fatalf("unexpected details %+v", got)
	}

	if err := s.DeleteSale(ctx, saleID); err != nil {
		t.Fatalf("delete sale: %v", err)
	}
	if _, err := s.GetSale(ctx, saleID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
