// Package reconcile pushes locally recorded sales to the shared cloud store and
// pulls sales made by other registers, exactly once per sale.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"regisync/backend/internal/cloud"
	"regisync/backend/internal/domain"
	"regisync/backend/internal/store"
)

var (
	ErrInFlight           = errors.New("reconciliation already in flight")
	ErrConnectivityFailed = errors.New("reconciliation connectivity failed")
	ErrTransactionAborted = errors.New("reconciliation transaction aborted")
)

const DefaultInterval = 5 * time.Minute

// LocalStore is the part of the local database a run touches.
type LocalStore interface {
	store.Ledger
	store.Settings
	ListProductBulks(ctx context.Context) ([]domain.ProductBulk, error)
}

type Config struct {
	ShopCode   string
	Interval   time.Duration
	Now        func() time.Time
	Logger     *slog.Logger
	Registerer prometheus.Registerer
}

type Result struct {
	StartedAt       time.Time `json:"started_at"`
	Watermark       time.Time `json:"watermark"`
	Pushed          int       `json:"pushed"`
	SkippedExisting int       `json:"skipped_existing"`
	Pulled          int       `json:"pulled"`
}

type Engine struct {
	local    LocalStore
	cloud    cloud.Store
	shopCode string
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
	metrics  *metrics

	runMu sync.Mutex

	statusMu sync.RWMutex
	status   domain.SyncStatus

	stopChan chan struct{}
	wg       sync.WaitGroup
}

func New(local LocalStore, cloudStore cloud.Store, cfg Config) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		local:    local,
		cloud:    cloudStore,
		shopCode: cfg.ShopCode,
		interval: cfg.Interval,
		now:      cfg.Now,
		logger:   cfg.Logger.With("component", "reconcile"),
		metrics:  newMetrics(cfg.Registerer),
		status:   domain.SyncStatus{ShopCode: cfg.ShopCode},
		stopChan: make(chan struct{}),
	}
}

// TryAcquire takes the run lock for work that must not overlap a run, such as
// deleting a sale. ok is false while a run is in flight.
func (e *Engine) TryAcquire() (release func(), ok bool) {
	if !e.runMu.TryLock() {
		return nil, false
	}
	return e.runMu.Unlock, true
}

// Watermark returns the lower bound of the next run for shopCode. A shop that
// never synced starts from the Unix epoch.
func (e *Engine) Watermark(ctx context.Context, shopCode string) (time.Time, error) {
	raw, err := e.local.GetSetting(ctx, domain.WatermarkSettingKey(shopCode))
	if errors.Is(err, store.ErrNotFound) {
		return time.Unix(0, 0).UTC(), nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read watermark: %w", err)
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse watermark %q: %w", raw, err)
	}
	return at.UTC(), nil
}

// Run performs one reconciliation for shopCode. It returns ErrInFlight
// immediately when another run holds the lock.
func (e *Engine) Run(ctx context.Context, shopCode string) (Result, error) {
	if !e.runMu.TryLock() {
		return Result{}, ErrInFlight
	}
	defer e.runMu.Unlock()

	e.setInProgress(true)
	start := time.Now()
	res, err := e.run(ctx, shopCode)
	e.metrics.duration.Observe(time.Since(start).Seconds())
	e.finish(res, err)
	return res, err
}

func (e *Engine) run(ctx context.Context, shopCode string) (Result, error) {
	startedAt := e.now().UTC().Truncate(time.Microsecond)
	res := Result{StartedAt: startedAt}

	watermark, err := e.Watermark(ctx, shopCode)
	if err != nil {
		return res, err
	}
	res.Watermark = watermark

	outbound, err := e.pendingDocuments(ctx, shopCode, watermark)
	if err != nil {
		return res, err
	}
	bulks, err := e.bulkIndex(ctx)
	if err != nil {
		return res, err
	}

	var inbound []domain.SaleDocument
	err = e.cloud.RunTransaction(ctx, shopCode, func(ctx context.Context, tx cloud.Tx) error {
		res.Pushed, res.SkippedExisting, inbound = 0, 0, nil

		for _, doc := range outbound {
			exists, err := tx.SaleExists(ctx, doc.Sale.ID)
			if err != nil {
				return err
			}
			if exists {
				res.SkippedExisting++
				continue
			}
			if err := tx.PutSale(ctx, doc); err != nil {
				return err
			}
			for _, adj := range inventoryAdjustments(doc, bulks) {
				if err := tx.IncrementInventory(ctx, adj.productCode, adj.delta); err != nil {
					return err
				}
			}
			res.Pushed++
		}

		remote, err := tx.QuerySales(ctx, watermark)
		if err != nil {
			return err
		}
		inbound = remote
		return nil
	})
	if err != nil {
		res.Pushed, res.SkippedExisting = 0, 0
		return res, classifyCloudError(err)
	}

	pulled, err := e.materialize(ctx, inbound)
	res.Pulled = pulled
	if err != nil {
		return res, err
	}

	next := startedAt
	if next.Before(watermark) {
		next = watermark
	}
	if err := e.local.SetSetting(ctx, domain.WatermarkSettingKey(shopCode), next.Format(time.RFC3339Nano)); err != nil {
		return res, fmt.Errorf("advance watermark: %w", err)
	}
	res.Watermark = next
	return res, nil
}

// pendingDocuments loads the Normal sales recorded since watermark together
// with their details.
func (e *Engine) pendingDocuments(ctx context.Context, shopCode string, watermark time.Time) ([]domain.SaleDocument, error) {
	sales, err := e.local.ListSales(ctx, store.SaleFilter{
		ShopCode:  shopCode,
		InputMode: domain.InputModeNormal,
		From:      watermark,
	})
	if err != nil {
		return nil, fmt.Errorf("list local sales: %w", err)
	}
	if len(sales) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(sales))
	for _, sale := range sales {
		ids = append(ids, sale.ID)
	}
	details, err := e.local.ListDetailsBySaleIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list local details: %w", err)
	}
	bySale := make(map[string][]domain.SaleDetail, len(sales))
	for _, d := range details {
		bySale[d.SaleID] = append(bySale[d.SaleID], d)
	}

	docs := make([]domain.SaleDocument, 0, len(sales))
	for _, sale := range sales {
		docs = append(docs, domain.SaleDocument{Sale: sale, SaleDetails: bySale[sale.ID]})
	}
	return docs, nil
}

func (e *Engine) bulkIndex(ctx context.Context) (map[string]domain.ProductBulk, error) {
	bulks, err := e.local.ListProductBulks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list product bulks: %w", err)
	}
	index := make(map[string]domain.ProductBulk, len(bulks))
	for _, b := range bulks {
		index[b.ParentProductCode] = b
	}
	return index, nil
}

// materialize writes cloud sales missing locally. Inventory is not touched; the
// register that recorded the sale already adjusted it.
func (e *Engine) materialize(ctx context.Context, docs []domain.SaleDocument) (int, error) {
	pulled := 0
	for _, doc := range docs {
		if err := doc.Validate(); err != nil {
			e.logger.Warn("skipping malformed cloud sale", "sale_id", doc.Sale.ID, "error", err)
			continue
		}
		exists, err := e.local.SaleExists(ctx, doc.Sale.ID)
		if err != nil {
			return pulled, fmt.Errorf("check local sale %s: %w", doc.Sale.ID, err)
		}
		if exists {
			continue
		}

		doc.Sale.InputMode = domain.InputModeNormal
		err = e.local.CreateSale(ctx, doc.Sale, doc.SaleDetails)
		if errors.Is(err, store.ErrDuplicateID) {
			continue
		}
		if err != nil {
			return pulled, fmt.Errorf("materialize sale %s: %w", doc.Sale.ID, err)
		}
		pulled++
	}
	return pulled, nil
}

type adjustment struct {
	productCode string
	delta       int64
}

// inventoryAdjustments lists the counter changes of one sale. Only registered
// OTC products are stocked; a bulk parent moves its child by the bulk ratio.
func inventoryAdjustments(doc domain.SaleDocument, bulks map[string]domain.ProductBulk) []adjustment {
	sign := doc.Sale.Status.Sign()
	out := make([]adjustment, 0, len(doc.SaleDetails))
	for _, d := range doc.SaleDetails {
		if d.Division != domain.DivisionOTC || d.ProductCode == "" || d.Unregistered {
			continue
		}
		code := d.ProductCode
		qty := int64(d.Quantity)
		if bulk, ok := bulks[code]; ok {
			code = bulk.ChildProductCode
			qty *= int64(bulk.Quantity)
		}
		if qty == 0 {
			continue
		}
		out = append(out, adjustment{productCode: code, delta: -sign * qty})
	}
	return out
}

func classifyCloudError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, cloud.ErrUnavailable) {
		return fmt.Errorf("%w: %w", ErrConnectivityFailed, err)
	}
	return fmt.Errorf("%w: %w", ErrTransactionAborted, err)
}

// Status returns a snapshot of the last run.
func (e *Engine) Status() domain.SyncStatus {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.status
}

func (e *Engine) setInProgress(inProgress bool) {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	e.status.InProgress = inProgress
}

func (e *Engine) finish(res Result, err error) {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()

	e.status.InProgress = false
	e.status.LastRunAt = res.StartedAt
	if err != nil {
		e.status.LastError = err.Error()
		e.metrics.runs.WithLabelValues(outcome(err)).Inc()
		return
	}
	e.status.LastError = ""
	e.status.LastSuccessAt = res.StartedAt
	e.status.Watermark = res.Watermark
	e.status.Pushed = res.Pushed
	e.status.Pulled = res.Pulled
	e.status.SkippedExisting = res.SkippedExisting

	e.metrics.runs.WithLabelValues("success").Inc()
	e.metrics.pushed.Add(float64(res.Pushed))
	e.metrics.pulled.Add(float64(res.Pulled))
	e.metrics.watermark.Set(float64(res.Watermark.Unix()))
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrConnectivityFailed):
		return "connectivity_failed"
	case errors.Is(err, ErrTransactionAborted):
		return "aborted"
	default:
		return "error"
	}
}

// Start runs the shop's reconciliation right away and then on every tick. A
// tick that finds a run in flight is dropped.
func (e *Engine) Start(ctx context.Context) {
	e.logger.Info("starting reconciliation loop", "shop_code", e.shopCode, "interval", e.interval)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()

		e.spawnTick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.stopChan:
				return
			case <-ticker.C:
				e.spawnTick(ctx)
			}
		}
	}()
}

// Stop ends the loop and waits for an in-flight tick to return.
func (e *Engine) Stop() {
	select {
	case <-e.stopChan:
	default:
		close(e.stopChan)
	}
	e.wg.Wait()
}

func (e *Engine) spawnTick(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.tick(ctx)
	}()
}

func (e *Engine) tick(ctx context.Context) {
	res, err := e.Run(ctx, e.shopCode)
	if errors.Is(err, ErrInFlight) {
		e.metrics.skippedTicks.Inc()
		e.logger.Debug("reconciliation tick skipped, run in flight")
		return
	}
	if err != nil {
		e.logger.Warn("reconciliation run failed", "shop_code", e.shopCode, "error", err)
		return
	}
	e.logger.Info("reconciliation run completed",
		"shop_code", e.shopCode,
		"pushed", res.Pushed,
		"skipped_existing", res.SkippedExisting,
		"pulled", res.Pulled,
		"watermark", res.Watermark,
	)
}
