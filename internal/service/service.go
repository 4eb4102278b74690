package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"regisync/backend/internal/domain"
	"regisync/backend/internal/reconcile"
	"regisync/backend/internal/shadow"
	"regisync/backend/internal/store"
)

var (
	ErrAlreadyClosed      = errors.New("session for that date is already closed")
	ErrAnotherSessionOpen = errors.New("another session is still open")
	ErrSessionNotOpen     = errors.New("session is not open")
	ErrSessionClosed      = errors.New("no open register session")
	ErrReceiptFailed      = errors.New("receipt printing failed, sale voided")
	ErrAlreadyMirrored    = errors.New("sale was already reconciled, record a return instead")
	ErrSyncInProgress     = errors.New("reconciliation in progress, retry shortly")
	ErrNotConfigured      = errors.New("feature not configured")
)

const businessDateLayout = "20060102"

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Reconciler is the part of the reconciliation engine the service drives.
type Reconciler interface {
	TryAcquire() (release func(), ok bool)
	Watermark(ctx context.Context, shopCode string) (time.Time, error)
	Run(ctx context.Context, shopCode string) (reconcile.Result, error)
	Status() domain.SyncStatus
}

type Journal interface {
	Write(sale domain.Sale, details []domain.SaleDetail) error
	Remove(sale domain.Sale) error
	Replay(ctx context.Context, sink shadow.Sink) (domain.ReplayResult, error)
}

type InventoryReader interface {
	Inventory(ctx context.Context, shopCode string, productCode string) (int64, error)
}

type SecretSealer interface {
	Seal(plain string) (string, error)
	Open(sealed string) (string, error)
}

type Options struct {
	ShopCode   string
	Location   *time.Location
	Now        func() time.Time
	Logger     *slog.Logger
	Journal    Journal
	Printer    ReceiptPrinter
	Reconciler Reconciler
	Inventory  InventoryReader
	Vault      SecretSealer
}

type Service struct {
	repo       store.Repository
	shopCode   string
	loc        *time.Location
	now        func() time.Time
	logger     *slog.Logger
	journal    Journal
	printer    ReceiptPrinter
	reconciler Reconciler
	inventory  InventoryReader
	vault      SecretSealer

	// sessionMu serializes session transitions against sale recording so a
	// sale never lands after the session it checked was closed.
	sessionMu sync.Mutex
}

func New(repo store.Repository, opts Options) *Service {
	if opts.ShopCode == "" {
		opts.ShopCode = "S001"
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Service{
		repo:       repo,
		shopCode:   opts.ShopCode,
		loc:        opts.Location,
		now:        opts.Now,
		logger:     opts.Logger.With("component", "service"),
		journal:    opts.Journal,
		printer:    opts.Printer,
		reconciler: opts.Reconciler,
		inventory:  opts.Inventory,
		vault:      opts.Vault,
	}
}

func (s *Service) ShopCode() string {
	return s.shopCode
}

// today is the business date in the shop's time zone.
func (s *Service) today() string {
	return s.now().In(s.loc).Format(businessDateLayout)
}

// parseBusinessDate accepts yyyyMMdd and defaults to today.
func (s *Service) parseBusinessDate(date string) (string, time.Time, error) {
	if date == "" {
		date = s.today()
	}
	day, err := time.ParseInLocation(businessDateLayout, date, s.loc)
	if err != nil || len(date) != len(businessDateLayout) {
		return "", time.Time{}, domain.Invalid("date", "must be yyyyMMdd, got %q", date)
	}
	return date, day, nil
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            uuid.NewString(),
		ShopCode:      s.shopCode,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now().UTC(),
	}); err != nil {
		s.logger.Warn("failed to write audit log", "action", action, "entity", fmt.Sprintf("%s/%s", entityType, entityID), "error", err)
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	_, day, err := s.parseBusinessDate(date)
	if err != nil {
		return nil, err
	}
	return s.repo.ListAuditLogs(ctx, s.shopCode, day.UTC(), day.AddDate(0, 0, 1).UTC(), limit)
}
