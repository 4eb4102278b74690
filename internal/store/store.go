package store

import (
	"context"
	"errors"
	"time"

	"regisync/backend/internal/domain"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrDuplicateID = errors.New("duplicate id")
	ErrInvalidSale = errors.New("invalid sale")
)

// SaleFilter selects ledger entries. Zero values leave a dimension unfiltered;
// From is inclusive and To exclusive.
type SaleFilter struct {
	ShopCode  string
	InputMode domain.InputMode
	Status    domain.SaleStatus
	From      time.Time
	To        time.Time
	Limit     int
}

func (f SaleFilter) Matches(sale domain.Sale) bool {
	if f.ShopCode != "" && sale.ShopCode != f.ShopCode {
		return false
	}
	if f.InputMode != "" && sale.InputMode != f.InputMode {
		return false
	}
	if f.Status != "" && sale.Status != f.Status {
		return false
	}
	if !f.From.IsZero() && sale.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !sale.CreatedAt.Before(f.To) {
		return false
	}
	return true
}

// Ledger is the sale/detail surface of the local database.
type Ledger interface {
	CreateSale(ctx context.Context, sale domain.Sale, details []domain.SaleDetail) error
	DeleteSale(ctx context.Context, id string) error
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	SaleExists(ctx context.Context, id string) (bool, error)
	ListSales(ctx context.Context, filter SaleFilter) ([]domain.Sale, error)
	ListSaleDetails(ctx context.Context, saleID string) ([]domain.SaleDetail, error)
	ListDetailsBySaleIDs(ctx context.Context, saleIDs []string) ([]domain.SaleDetail, error)
}

type Settings interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key string, value string) error
}

type Repository interface {
	Ledger
	Settings

	GetSession(ctx context.Context, date string) (*domain.RegisterSession, error)
	LatestSession(ctx context.Context) (*domain.RegisterSession, error)
	SaveSession(ctx context.Context, session domain.RegisterSession) error

	ListProductBulks(ctx context.Context) ([]domain.ProductBulk, error)
	UpsertProductBulk(ctx context.Context, bulk domain.ProductBulk) error
	ListProductBundles(ctx context.Context) ([]domain.ProductBundle, error)
	UpsertProductBundle(ctx context.Context, bundle domain.ProductBundle) error

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, shopCode string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
