package service

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"regisync/backend/internal/cloud"
	"regisync/backend/internal/domain"
	"regisync/backend/internal/reconcile"
	"regisync/backend/internal/shadow"
	"regisync/backend/internal/store"
	"regisync/backend/internal/store/memory"
	"regisync/backend/internal/vault"
)

var jst = time.FixedZone("JST", 9*60*60)

// t0 is 2024-05-01 10:00 in the shop's time zone.
var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, jst)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc     *Service
	repo    *memory.Store
	clock   *testClock
	cloud   *cloud.MemoryStore
	engine  *reconcile.Engine
	journal *shadow.Journal
}

func newFixture(t *testing.T, printer ReceiptPrinter) *fixture {
	t.Helper()

	repo := memory.New()
	clock := &testClock{now: t0}
	cloudStore := cloud.NewMemoryStore()
	engine := reconcile.New(repo, cloudStore, reconcile.Config{ShopCode: "S001", Now: clock.Now})
	journal, err := shadow.New(t.TempDir(), shadow.Options{Location: jst})
	require.NoError(t, err)
	v, err := vault.New("test passphrase")
	require.NoError(t, err)

	svc := New(repo, Options{
		ShopCode:   "S001",
		Location:   jst,
		Now:        clock.Now,
		Journal:    journal,
		Printer:    printer,
		Reconciler: engine,
		Inventory:  cloudStore,
		Vault:      v,
	})
	return &fixture{svc: svc, repo: repo, clock: clock, cloud: cloudStore, engine: engine, journal: journal}
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func saleRequest() domain.RecordSaleRequest {
	cash := int64(3000)
	return domain.RecordSaleRequest{
		PaymentType: domain.PaymentCash,
		Status:      domain.SaleStatusSales,
		CashAmount:  &cash,
		Lines: []domain.BasketLine{
			{ProductCode: "P1", ProductName: "かぜ薬", SellingPrice: 1000, Quantity: 2, SellingTaxClass: domain.TaxClassExclusive, SellingTax: 10, Division: domain.DivisionOTC, OutputReceipt: true},
			{SellingPrice: -100, Quantity: 1, SellingTaxClass: domain.TaxClassExclusive, SellingTax: 10, Division: domain.DivisionOTC, OutputReceipt: true},
			{ProductCode: "P2", ProductName: "のど飴", SellingPrice: 500, Quantity: 1, SellingTaxClass: domain.TaxClassInclusive, SellingTax: 8, Division: domain.DivisionOTC, OutputReceipt: true},
		},
	}
}

func shadowFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	require.NoError(t, err)
	return matches
}

func TestOpenSessionLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := adminCtx()

	opened, err := f.svc.OpenSession(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "20240501", opened.DateString)
	assert.True(t, opened.IsOpen())

	f.clock.Advance(time.Minute)
	again, err := f.svc.OpenSession(ctx, "20240501")
	require.NoError(t, err)
	assert.Equal(t, opened.OpenedAt, again.OpenedAt, "opening an open session is a no-op")

	closed, err := f.svc.CloseSession(ctx, "20240501")
	require.NoError(t, err)
	assert.False(t, closed.IsOpen())

	reopened, err := f.svc.OpenSession(ctx, "20240501")
	require.NoError(t, err)
	assert.True(t, reopened.IsOpen(), "a closed session reopens on its own business day")
	_, err = f.svc.CloseSession(ctx, "20240501")
	require.NoError(t, err)

	f.clock.Advance(24 * time.Hour)
	_, err = f.svc.OpenSession(ctx, "20240501")
	require.ErrorIs(t, err, ErrAlreadyClosed)

	next, err := f.svc.OpenSession(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "20240502", next.DateString)
}

func TestOpenSessionRejectsSecondOpenDate(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.OpenSession(adminCtx(), "20240501")
	require.NoError(t, err)
	_, err = f.svc.OpenSession(adminCtx(), "20240502")
	require.ErrorIs(t, err, ErrAnotherSessionOpen)
}

func TestCloseSessionErrors(t *testing.T) {
	f := newFixture(t, nil)
	ctx := adminCtx()

	_, err := f.svc.CloseSession(ctx, "20240501")
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.svc.OpenSession(ctx, "20240501")
	require.NoError(t, err)
	_, err = f.svc.CloseSession(ctx, "20240501")
	require.NoError(t, err)
	_, err = f.svc.CloseSession(ctx, "20240501")
	require.ErrorIs(t, err, ErrSessionNotOpen)

	_, err = f.svc.CloseSession(ctx, "2024-05-01")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestReportWindowFallsBackToCalendarDay(t *testing.T) {
	f := newFixture(t, nil)

	window, err := f.svc.ReportWindow(context.Background(), "20240501")
	require.NoError(t, err)
	assert.Equal(t, domain.WindowSourceFallback, window.Source)
	assert.True(t, window.From.Equal(time.Date(2024, 5, 1, 0, 0, 0, 0, jst)))
	assert.True(t, window.To.Equal(time.Date(2024, 5, 2, 0, 0, 0, 0, jst)))

	current, err := f.svc.CurrentSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, current, "the read path never creates a session")
}

func TestReportWindowFollowsSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := adminCtx()

	opened, err := f.svc.OpenSession(ctx, "")
	require.NoError(t, err)

	window, err := f.svc.ReportWindow(ctx, "20240501")
	require.NoError(t, err)
	assert.Equal(t, domain.WindowSourceSession, window.Source)
	assert.True(t, window.From.Equal(opened.OpenedAt))
	assert.True(t, window.To.IsZero(), "an open session has an open-ended window")

	f.clock.Advance(8 * time.Hour)
	closed, err := f.svc.CloseSession(ctx, "")
	require.NoError(t, err)

	window, err = f.svc.ReportWindow(ctx, "20240501")
	require.NoError(t, err)
	assert.True(t, window.To.Equal(*closed.ClosedAt))

	view, err := f.svc.CurrentSessionView(ctx)
	require.NoError(t, err)
	require.NotNil(t, view.Session)
	assert.Equal(t, window, view.Window)
}

func TestRecordSaleRequiresOpenSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := adminCtx()

	_, err := f.svc.RecordSale(ctx, saleRequest())
	require.ErrorIs(t, err, ErrSessionClosed)

	_, err = f.svc.OpenSession(ctx, "")
	require.NoError(t, err)
	_, err = f.svc.CloseSession(ctx, "")
	require.NoError(t, err)

	_, err = f.svc.RecordSale(ctx, saleRequest())
	require.ErrorIs(t, err, ErrSessionClosed)
}

func TestRecordSaleComputesTotals(t *testing.T) {
	f := newFixture(t, nil)
	ctx := adminCtx()
	_, err := f.svc.OpenSession(ctx, "")
	require.NoError(t, err)
	f.clock.Advance(time.Second)

	receipt, err := f.svc.RecordSale(ctx, saleRequest())
	require.NoError(t, err)

	sale := receipt.Sale
	assert.Len(t, sale.ID, 20)
	assert.Equal(t, t0.Add(time.Second).UnixMilli(), sale.ReceiptNumber)
	assert.Equal(t, "S001", sale.ShopCode)
	assert.Equal(t, int64(2590), sale.SalesTotal)
	assert.Equal(t, int64(227), sale.TaxTotal)
	assert.Equal(t, int64(190), sale.TaxNormalTotal)
	assert.Equal(t, int64(37), sale.TaxReducedTotal)
	assert.Equal(t, int64(-100), sale.DiscountTotal)
	assert.Equal(t, 2, sale.DetailsCount)
	assert.Equal(t, domain.InputModeNormal, sale.InputMode)
	assert.Equal(t, int64(410), receipt.Change)

	details, err := f.svc.QueryDetails(ctx, sale.ID)
	require.NoError(t, err)
	require.Len(t, details, 3)
	assert.Equal(t, int64(-100), details[0].Discount, "discount attaches to the preceding priced line")
	assert.Zero(t, details[2].Discount)
	for i, d := range details {
		assert.Equal(t, i, d.Index)
		assert.Equal(t, domain.SaleStatusSales, d.Status)
	}

	_, err = os.Stat(f.journal.Path(sale))
	require.NoError(t, err, "every recorded sale is shadow-written")

	logs, err := f.svc.ListAuditLogs(ctx, "", 10)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Equal(t, "sale_record", logs[0].Action)
	assert.Equal(t, "admin", logs[0].ActorUsername)
}

func TestRecordSaleRejectsInvalidRequests(t *testing.T) {
	f := newFixture(t, nil)
	ctx := adminCtx()
	_, err := f.svc.OpenSession(ctx, "")
	require.NoError(t, err)

	bad := saleRequest()
	bad.Lines[0].SellingTax = 5
	_, err = f.svc.RecordSale(ctx, bad)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "lines[0].selling_tax", verr.Fields[0].Field)

	short := saleRequest()
	cash := int64(100)
	short.CashAmount = &cash
	_, err = f.svc.RecordSale(ctx, short)
	require.ErrorIs(t, err, domain.ErrValidation)

	page, err := f.svc.QuerySales(ctx, SalesQuery{})
	require.NoError(t, err)
	assert.Empty(t, page.Sales)
}

func TestRecordSaleUsesInputModeSetting(t *testing.T) {
	f := newFixture(t, nil)
	ctx := adminCtx()
	_, err := f.svc.OpenSession(ctx, "")
	require.NoError(t, err)

	_, err = f.svc.SetInputMode(ctx, domain.InputModeTest)
	require.NoError(t, err)
	receipt, err := f.svc.RecordSale(ctx, saleRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.InputModeTest, receipt.Sale.InputMode)

	_, err = f.svc.SetInputMode(ctx, "Training")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestCompleteSalePrintsReceipt(t *testing.T) {
	ctrl := gomock.NewController(t)
	printer := NewMockReceiptPrinter(ctrl)
	f := newFixture(t, printer)
	ctx := adminCtx()
	_, err := f.svc.OpenSession(ctx, "")
	require.NoError(t, err)

	printer.EXPECT().
		Print(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, receipt domain.SaleReceipt) error {
			assert.Equal(t, int64(2590), receipt.Sale.SalesTotal)
			return nil
		})

	receipt, err := f.svc.CompleteSale(ctx, saleRequest())
	require.NoError(t, err)
	exists, err := f.repo.SaleExists(ctx, receipt.Sale.ID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCompleteSaleVoidsOnPrintFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	printer := NewMockReceiptPrinter(ctrl)
	f := newFixture(t, printer)
	ctx := adminCtx()
	_, err := f.svc.OpenSession(ctx, "")
	require.NoError(t, err)

	printer.EXPECT().Print(gomock.Any(), gomock.Any()).Return(errors.New("paper out"))

	_, err = f.svc.CompleteSale(ctx, saleRequest())
	require.ErrorIs(t, err, ErrReceiptFailed)

	page, err := f.svc.QuerySales(ctx, SalesQuery{})
	require.NoError(t, err)
	assert.Empty(t, page.Sales)
	assert.Empty(t, shadowFiles(t, f.journal.Dir()))
}

func TestCompleteSaleSkipsPrinterWithoutReceiptLines(t *testing.T) {
	ctrl := gomock.NewController(t)
	printer := NewMockReceiptPrinter(ctrl)
	f := newFixture(t, printer)
	ctx := adminCtx()
	_, err := f.svc.OpenSession(ctx, "")
	require.NoError(t, err)

	req := saleRequest()
	for i := range req.Lines {
		req.Lines[i].OutputReceipt = false
	}
	_, err = f.svc.CompleteSale(ctx, req)
	require.NoError(t, err)
}

func nonReceiptSaleRequest() domain.RecordSaleRequest {
	return domain.RecordSaleRequest{
		PaymentType: domain.PaymentCash,
		Status:      domain.SaleStatusSales,
		Lines: []domain.BasketLine{
			{ProductCode: "P1", ProductName: "目薬", SellingPrice: 1000, Quantity: 1, SellingTaxClass: domain.TaxClassExclusive, SellingTax: 10, Division: domain.DivisionOTC, OutputReceipt: true},
			{ProductCode: "P2", ProductName: "調剤料", SellingPrice: 300, Quantity: 1, SellingTaxClass: domain.TaxClassExclusive, SellingTax: 10, Division: domain.DivisionOTC},
		},
	}
}

func TestCompleteSaleChargesReceiptLinesOnly(t *testing.T) {
	var buf bytes.Buffer
	f := newFixture(t, NewTextPrinter(&buf, jst))
	ctx := adminCtx()
	_, err := f.svc.OpenSession(ctx, "")
	require.NoError(t, err)

	receipt, err := f.svc.CompleteSale(ctx, nonReceiptSaleRequest())
	require.NoError(t, err)
	assert.Equal(t, int64(1100), receipt.Sale.SalesTotal)
	assert.Equal(t, int64(100), receipt.Sale.TaxTotal)
	assert.Equal(t, int64(1100), receipt.Sale.CashAmount)
	assert.Zero(t, receipt.Change)

	stored, err := f.repo.GetSale(ctx, receipt.Sale.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1100), stored.SalesTotal)

	out := buf.String()
	assert.Contains(t, out, "目薬 x1 1000")
	assert.NotContains(t, out, "調剤料")
	assert.Contains(t, out, "合計 1100 (内税 100)")
	assert.Contains(t, out, "Cash 1100")
}

func TestRecordSaleCashCheckUsesChargedTotal(t *testing.T) {
	f := newFixture(t, nil)
	ctx := adminCtx()
	_, err := f.svc.OpenSession(ctx, "")
	require.NoError(t, err)

	req := nonReceiptSaleRequest()
	short := int64(1099)
	req.CashAmount = &short
	_, err = f.svc.RecordSale(ctx, req)
	require.ErrorIs(t, err, domain.ErrValidation)

	exact := int64(1100)
	req.CashAmount = &exact
	receipt, err := f.svc.RecordSale(ctx, req)
	require.NoError(t, err)
	assert.Zero(t, receipt.Change)
}

func TestRecordSaleTruncatesCreatedAtToMicroseconds(t *testing.T) {
	f := newFixture(t, nil)
	ctx := adminCtx()
	_, err := f.svc.OpenSession(ctx, "")
	require.NoError(t, err)
	f.clock.Advance(time.Second + 123456789*time.Nanosecond)

	receipt, err := f.svc.RecordSale(ctx, saleRequest())
	require.NoError(t, err)
	want := t0.Add(time.Second + 123456*time.Microsecond).UTC()
	assert.True(t, want.Equal(receipt.Sale.CreatedAt), "got %s", receipt.Sale.CreatedAt)
	assert.Zero(t, receipt.Sale.CreatedAt.Nanosecond()%1000)
}

func TestOpenSessionRejectsFutureDate(t *testing.T) {
	f := newFixture(t, nil)
	ctx := adminCtx()

	_, err := f.svc.OpenSession(ctx, "20240502")
	require.ErrorIs(t, err, domain.ErrValidation)

	opened, err := f.svc.OpenSession(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "20240501", opened.DateString)
}

func TestVoidSaleRejectedAfterReconciliation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := adminCtx()
	_, err := f.svc.OpenSession(ctx, "")
	require.NoError(t, err)
	receipt, err := f.svc.RecordSale(ctx, saleRequest())
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	res, err := f.svc.RunReconciliation(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pushed)

	err = f.svc.VoidSale(ctx, receipt.Sale.ID)
	require.ErrorIs(t, err, ErrAlreadyMirrored)
}

func TestVoidSaleRejectedWhileRunInFlight(t *testing.T) {
	f := newFixture(t, nil)
	ctx := adminCtx()
	_, err := f.svc.OpenSession(ctx, "")
	require.NoError(t, err)
	receipt, err := f.svc.RecordSale(ctx, saleRequest())
	require.NoError(t, err)

	release, ok := f.engine.TryAcquire()
	require.True(t, ok)
	err = f.svc.VoidSale(ctx, receipt.Sale.ID)
	require.ErrorIs(t, err, ErrSyncInProgress)
	release()

	require.NoError(t, f.svc.VoidSale(ctx, receipt.Sale.ID))
	_, err = f.svc.QueryDetails(ctx, receipt.Sale.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, f.svc.VoidSale(ctx, receipt.Sale.ID), store.ErrNotFound)
}

func TestQuerySalesUsesSessionWindow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := adminCtx()

	_, err := f.svc.OpenSession(ctx, "")
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	first, err := f.svc.RecordSale(ctx, saleRequest())
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.svc.CloseSession(ctx, "")
	require.NoError(t, err)

	f.clock.Advance(24 * time.Hour)
	_, err = f.svc.OpenSession(ctx, "")
	require.NoError(t, err)
	ret := saleRequest()
	ret.Status = domain.SaleStatusReturn
	ret.CashAmount = nil
	_, err = f.svc.RecordSale(ctx, ret)
	require.NoError(t, err)

	page, err := f.svc.QuerySales(ctx, SalesQuery{Date: "20240501"})
	require.NoError(t, err)
	require.Len(t, page.Sales, 1)
	assert.Equal(t, first.Sale.ID, page.Sales[0].ID)
	assert.Equal(t, domain.WindowSourceSession, page.Window.Source)

	page, err = f.svc.QuerySales(ctx, SalesQuery{Date: "20240502", Status: domain.SaleStatusReturn})
	require.NoError(t, err)
	require.Len(t, page.Sales, 1)
	assert.Equal(t, int64(-2590), page.Sales[0].SalesTotal)

	_, err = f.svc.QuerySales(ctx, SalesQuery{Status: "Refund"})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestQuoteAppliesBundles(t *testing.T) {
	f := newFixture(t, nil)
	ctx := adminCtx()
	_, err := f.svc.UpsertProductBundles(ctx, []domain.ProductBundle{{
		Code: "BND-1", Name: "2点で100円引", SellingTaxClass: domain.TaxClassExclusive, SellingTax: 10,
		Quantity: 2, Discount: 100, ProductCodes: []string{"P1", "P2"},
	}})
	require.NoError(t, err)

	quote, err := f.svc.Quote(ctx, domain.QuoteRequest{Lines: []domain.BasketLine{
		{ProductCode: "P1", SellingPrice: 500, Quantity: 1, SellingTaxClass: domain.TaxClassExclusive, SellingTax: 10, Division: domain.DivisionOTC, OutputReceipt: true},
		{ProductCode: "P2", SellingPrice: 500, Quantity: 1, SellingTaxClass: domain.TaxClassExclusive, SellingTax: 10, Division: domain.DivisionOTC, OutputReceipt: true},
	}})
	require.NoError(t, err)
	require.Len(t, quote.Lines, 3)
	assert.Equal(t, int64(-100), quote.Lines[2].SellingPrice)
	assert.Equal(t, int64(990), quote.SalesTotal)
	assert.Equal(t, int64(90), quote.TaxTotal)

	page, err := f.svc.QuerySales(ctx, SalesQuery{})
	require.NoError(t, err)
	assert.Empty(t, page.Sales, "quoting writes nothing")
}

func TestDailyReportFollowsInputMode(t *testing.T) {
	f := newFixture(t, nil)
	ctx := adminCtx()
	_, err := f.svc.OpenSession(ctx, "")
	require.NoError(t, err)

	_, err = f.svc.RecordSale(ctx, saleRequest())
	require.NoError(t, err)
	test := saleRequest()
	test.InputMode = domain.InputModeTest
	test.PaymentType = domain.PaymentCredit
	_, err = f.svc.RecordSale(ctx, test)
	require.NoError(t, err)

	r, err := f.svc.DailyReport(ctx, "20240501")
	require.NoError(t, err)
	assert.Equal(t, 1, r.CustomerCount)
	assert.Equal(t, int64(2590), r.CustomerAmount)
	assert.Equal(t, 1, r.Payments[0].Count)
	assert.Empty(t, r.Anomalies)

	_, err = f.svc.SetInputMode(ctx, domain.InputModeTest)
	require.NoError(t, err)
	r, err = f.svc.DailyReport(ctx, "20240501")
	require.NoError(t, err)
	assert.Equal(t, 1, r.CustomerCount)
	assert.Equal(t, 1, r.Payments[1].Count)
}

func TestCredentialsAreSealed(t *testing.T) {
	f := newFixture(t, nil)
	ctx := adminCtx()

	require.NoError(t, f.svc.SetCredential(ctx, "nas", "s3cret"))
	raw, err := f.repo.GetSetting(ctx, domain.CredentialSettingKey("nas"))
	require.NoError(t, err)
	assert.NotContains(t, raw, "s3cret")

	plain, err := f.svc.Credential(ctx, "nas")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", plain)

	require.ErrorIs(t, f.svc.SetCredential(ctx, "bad name", "x"), domain.ErrValidation)

	bare := New(memory.New(), Options{})
	require.ErrorIs(t, bare.SetCredential(ctx, "nas", "x"), ErrNotConfigured)
}

func TestUpsertCatalogValidates(t *testing.T) {
	f := newFixture(t, nil)
	ctx := adminCtx()

	_, err := f.svc.UpsertProductBulks(ctx, []domain.ProductBulk{{ParentProductCode: "BOX", ChildProductCode: "BOX", Quantity: 0}})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Fields, 2)

	bulks, err := f.svc.UpsertProductBulks(ctx, []domain.ProductBulk{{ParentProductCode: "BOX", ChildProductCode: "PIECE", Quantity: 12}})
	require.NoError(t, err)
	require.Len(t, bulks, 1)
	assert.Equal(t, 12, bulks[0].Quantity)

	_, err = f.svc.UpsertProductBundles(ctx, []domain.ProductBundle{{Code: "B", Name: "x", Quantity: 2}})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestReplayShadowRestoresLostSales(t *testing.T) {
	f := newFixture(t, nil)
	ctx := adminCtx()
	_, err := f.svc.OpenSession(ctx, "")
	require.NoError(t, err)
	receipt, err := f.svc.RecordSale(ctx, saleRequest())
	require.NoError(t, err)

	rebuilt := memory.New()
	restored := New(rebuilt, Options{ShopCode: "S001", Location: jst, Now: f.clock.Now, Journal: f.journal})
	res, err := restored.ReplayShadow(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.ReplayResult{Files: 1, Restored: 1}, res)

	details, err := rebuilt.ListSaleDetails(ctx, receipt.Sale.ID)
	require.NoError(t, err)
	assert.Len(t, details, 3)

	res, err = restored.ReplayShadow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
}

func TestInventoryReflectsReconciledSales(t *testing.T) {
	f := newFixture(t, nil)
	ctx := adminCtx()
	_, err := f.svc.OpenSession(ctx, "")
	require.NoError(t, err)
	_, err = f.svc.RecordSale(ctx, saleRequest())
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	_, err = f.svc.RunReconciliation(ctx)
	require.NoError(t, err)

	level, err := f.svc.Inventory(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, domain.InventoryLevel{ShopCode: "S001", ProductCode: "P1", Quantity: -2}, level)

	status, err := f.svc.SyncStatus()
	require.NoError(t, err)
	assert.Equal(t, 1, status.Pushed)
	assert.True(t, status.Watermark.Equal(t0.Add(time.Minute)))

	_, err = f.svc.Inventory(ctx, " ")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestLedgerIsImmutableOutsideVoid(t *testing.T) {
	f := newFixture(t, nil)
	ctx := adminCtx()
	_, err := f.svc.OpenSession(ctx, "")
	require.NoError(t, err)
	receipt, err := f.svc.RecordSale(ctx, saleRequest())
	require.NoError(t, err)

	before, err := f.repo.GetSale(ctx, receipt.Sale.ID)
	require.NoError(t, err)
	beforeDetails, err := f.svc.QueryDetails(ctx, receipt.Sale.ID)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	_, err = f.svc.Quote(ctx, domain.QuoteRequest{Lines: saleRequest().Lines})
	require.NoError(t, err)
	_, err = f.svc.QuerySales(ctx, SalesQuery{})
	require.NoError(t, err)
	_, err = f.svc.DailyReport(ctx, "")
	require.NoError(t, err)
	_, err = f.svc.RunReconciliation(ctx)
	require.NoError(t, err)
	_, err = f.svc.ReplayShadow(ctx)
	require.NoError(t, err)
	_, err = f.svc.SetInputMode(ctx, domain.InputModeTest)
	require.NoError(t, err)
	_, err = f.svc.CloseSession(ctx, "")
	require.NoError(t, err)

	after, err := f.repo.GetSale(ctx, receipt.Sale.ID)
	require.NoError(t, err)
	afterDetails, err := f.svc.QueryDetails(ctx, receipt.Sale.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, beforeDetails, afterDetails)
}

func TestTextPrinterSkipsHiddenLines(t *testing.T) {
	var buf bytes.Buffer
	printer := NewTextPrinter(&buf, jst)

	err := printer.Print(context.Background(), domain.SaleReceipt{
		Sale: domain.Sale{CreatedAt: t0, ReceiptNumber: 42, SalesTotal: 1100, TaxTotal: 100, PaymentType: domain.PaymentCash, CashAmount: 2000},
		Details: []domain.SaleDetail{
			{ProductName: "目薬", Abbr: "メグスリ", SellingPrice: 1000, Quantity: 1, SellingTax: 10, OutputReceipt: true},
			{ProductName: "調剤", SellingPrice: 300, Quantity: 1, OutputReceipt: true, Hidden: true},
		},
		Change: 900,
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "2024/05/01 10:00  No.42")
	assert.Contains(t, out, "メグスリ x1 1000")
	assert.NotContains(t, out, "調剤")
	assert.Contains(t, out, "釣銭 900")
}
