// Package cloud is the shared document store every register of a shop
// reconciles against. Sales live as documents keyed by id and inventory as
// atomic per-product counters.
package cloud

import (
	"context"
	"errors"
	"time"

	"regisync/backend/internal/domain"
)

var (
	// ErrAborted means the transaction applied nothing, usually after losing an
	// optimistic concurrency race too many times.
	ErrAborted = errors.New("cloud transaction aborted")
	// ErrUnavailable means the store could not be reached. A commit may or may
	// not have landed.
	ErrUnavailable = errors.New("cloud store unavailable")
)

// Tx is the view of one shop inside a transaction. Writes become visible to
// other clients only when the transaction commits, all at once.
type Tx interface {
	SaleExists(ctx context.Context, id string) (bool, error)
	PutSale(ctx context.Context, doc domain.SaleDocument) error
	IncrementInventory(ctx context.Context, productCode string, delta int64) error
	// QuerySales returns sales created at or after since, newest first.
	QuerySales(ctx context.Context, since time.Time) ([]domain.SaleDocument, error)
}

type Store interface {
	// RunTransaction runs fn and commits its writes atomically. fn may be
	// invoked more than once when the store retries a conflicted attempt, so it
	// must not keep state across invocations.
	RunTransaction(ctx context.Context, shopCode string, fn func(ctx context.Context, tx Tx) error) error
	Inventory(ctx context.Context, shopCode string, productCode string) (int64, error)
}
