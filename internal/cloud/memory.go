package cloud

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"regisync/backend/internal/domain"
)

type shopData struct {
	sales     map[string]domain.SaleDocument
	inventory map[string]int64
}

// MemoryStore is an in-process Store. Faults can be injected to exercise the
// abort and lost-acknowledgement paths of callers.
type MemoryStore struct {
	mu          sync.Mutex
	shops       map[string]*shopData
	failCommits int
	lostAcks    int
	unavailable bool
	writes      int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{shops: make(map[string]*shopData)}
}

// FailNextCommits makes the next n transactions abort without applying anything.
func (m *MemoryStore) FailNextCommits(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCommits = n
}

// LoseNextAcks makes the next n transactions commit but report ErrUnavailable,
// like a connection dropped right after EXEC.
func (m *MemoryStore) LoseNextAcks(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lostAcks = n
}

func (m *MemoryStore) SetUnavailable(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = down
}

// Writes counts sale documents committed so far.
func (m *MemoryStore) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Seed stores a document directly, as if another register had pushed it.
func (m *MemoryStore) Seed(shopCode string, doc domain.SaleDocument) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shop(shopCode).sales[doc.Sale.ID] = cloneDocument(doc)
}

// Sales lists the committed documents of a shop ordered by creation time.
func (m *MemoryStore) Sales(shopCode string) []domain.SaleDocument {
	m.mu.Lock()
	defer m.mu.Unlock()

	data := m.shop(shopCode)
	docs := make([]domain.SaleDocument, 0, len(data.sales))
	for _, doc := range data.sales {
		docs = append(docs, cloneDocument(doc))
	}
	slices.SortFunc(docs, func(a, b domain.SaleDocument) int {
		if c := a.Sale.CreatedAt.Compare(b.Sale.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Sale.ID, b.Sale.ID)
	})
	return docs
}

func (m *MemoryStore) Inventory(_ context.Context, shopCode string, productCode string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unavailable {
		return 0, ErrUnavailable
	}
	return m.shop(shopCode).inventory[productCode], nil
}

func (m *MemoryStore) RunTransaction(ctx context.Context, shopCode string, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unavailable {
		return ErrUnavailable
	}

	tx := &memoryTx{
		committed:  m.shop(shopCode),
		puts:       make(map[string]domain.SaleDocument),
		increments: make(map[string]int64),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if m.failCommits > 0 {
		m.failCommits--
		return ErrAborted
	}

	for id, doc := range tx.puts {
		tx.committed.sales[id] = doc
		m.writes++
	}
	for code, delta := range tx.increments {
		tx.committed.inventory[code] += delta
	}

	if m.lostAcks > 0 {
		m.lostAcks--
		return ErrUnavailable
	}
	return nil
}

func (m *MemoryStore) shop(shopCode string) *shopData {
	data, ok := m.shops[shopCode]
	if !ok {
		data = &shopData{
			sales:     make(map[string]domain.SaleDocument),
			inventory: make(map[string]int64),
		}
		m.shops[shopCode] = data
	}
	return data
}

type memoryTx struct {
	committed  *shopData
	puts       map[string]domain.SaleDocument
	increments map[string]int64
}

func (t *memoryTx) SaleExists(_ context.Context, id string) (bool, error) {
	if _, ok := t.puts[id]; ok {
		return true, nil
	}
	_, ok := t.committed.sales[id]
	return ok, nil
}

func (t *memoryTx) PutSale(_ context.Context, doc domain.SaleDocument) error {
	t.puts[doc.Sale.ID] = cloneDocument(doc)
	return nil
}

func (t *memoryTx) IncrementInventory(_ context.Context, productCode string, delta int64) error {
	t.increments[productCode] += delta
	return nil
}

func (t *memoryTx) QuerySales(_ context.Context, since time.Time) ([]domain.SaleDocument, error) {
	docs := make([]domain.SaleDocument, 0, 16)
	for _, doc := range t.committed.sales {
		if !doc.Sale.CreatedAt.Before(since) {
			docs = append(docs, cloneDocument(doc))
		}
	}
	slices.SortFunc(docs, func(a, b domain.SaleDocument) int {
		if c := b.Sale.CreatedAt.Compare(a.Sale.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.Sale.ID, a.Sale.ID)
	})
	return docs, nil
}

func cloneDocument(doc domain.SaleDocument) domain.SaleDocument {
	return domain.SaleDocument{
		Sale:        doc.Sale,
		SaleDetails: slices.Clone(doc.SaleDetails),
	}
}
