package memory

import (
	"context"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"regisync/backend/internal/domain"
	"regisync/backend/internal/store"
)

type Store struct {
	mu              sync.RWMutex
	sales           map[string]domain.Sale
	detailsBySale   map[string][]domain.SaleDetail
	sessions        map[string]domain.RegisterSession
	settings        map[string]string
	bulks           map[string]domain.ProductBulk
	bundles         map[string]domain.ProductBundle
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		sales:           make(map[string]domain.Sale),
		detailsBySale:   make(map[string][]domain.SaleDetail),
		sessions:        make(map[string]domain.RegisterSession),
		settings:        make(map[string]string),
		bulks:           make(map[string]domain.ProductBulk),
		bundles:         make(map[string]domain.ProductBundle),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store with demo users and catalog rules for dev mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD,
// falling back to dev defaults with a warning.
func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()
	s.bulks["4987000000015"] = domain.ProductBulk{
		ParentProductCode: "4987000000015",
		ParentProductName: "マスク 10箱セット",
		ChildProductCode:  "4987000000008",
		ChildProductName:  "マスク 1箱",
		Quantity:          10,
	}
	s.bundles["BND-001"] = domain.ProductBundle{
		Code:            "BND-001",
		Name:            "目薬 2点割引",
		SellingTaxClass: domain.TaxClassExclusive,
		SellingTax:      domain.TaxRateNormal,
		Quantity:        2,
		Discount:        100,
		ProductCodes:    []string{"4987000000107", "4987000000114"},
	}
	return s
}

func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		slog.Warn("memory store is using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			panic("memory store: hash seed password: " + err.Error())
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale, details []domain.SaleDetail) error {
	if strings.TrimSpace(sale.ID) == "" {
		return store.ErrInvalidSale
	}
	for _, d := range details {
		if d.SaleID != sale.ID {
			return store.ErrInvalidSale
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sales[sale.ID]; exists {
		return store.ErrDuplicateID
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	s.sales[sale.ID] = sale
	s.detailsBySale[sale.ID] = sortedDetails(details)
	return nil
}

func (s *Store) DeleteSale(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sales[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.sales, id)
	delete(s.detailsBySale, id)
	return nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.sales[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &sale, nil
}

func (s *Store) SaleExists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.sales[id]
	return exists, nil
}

func (s *Store) ListSales(_ context.Context, filter store.SaleFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, 64)
	for _, sale := range s.sales {
		if filter.Matches(sale) {
			result = append(result, sale)
		}
	}
	slices.SortFunc(result, func(a, b domain.Sale) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(a.ID, b.ID)
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) ListSaleDetails(_ context.Context, saleID string) ([]domain.SaleDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.detailsBySale[saleID]), nil
}

func (s *Store) ListDetailsBySaleIDs(_ context.Context, saleIDs []string) ([]domain.SaleDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.SaleDetail, 0, len(saleIDs)*4)
	for _, id := range saleIDs {
		result = append(result, s.detailsBySale[id]...)
	}
	return result, nil
}

func (s *Store) GetSession(_ context.Context, date string) (*domain.RegisterSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[date]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneSession(session), nil
}

func (s *Store) LatestSession(_ context.Context) (*domain.RegisterSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.RegisterSession
	for _, session := range s.sessions {
		if latest == nil || session.OpenedAt.After(latest.OpenedAt) {
			latest = cloneSession(session)
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	return latest, nil
}

func (s *Store) SaveSession(_ context.Context, session domain.RegisterSession) error {
	if len(session.DateString) != 8 || session.OpenedAt.IsZero() {
		return store.ErrInvalidSale
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[session.DateString] = *cloneSession(session)
	return nil
}

func (s *Store) GetSetting(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, exists := s.settings[key]
	if !exists {
		return "", store.ErrNotFound
	}
	return value, nil
}

func (s *Store) SetSetting(_ context.Context, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings[key] = value
	return nil
}

func (s *Store) ListProductBulks(_ context.Context) ([]domain.ProductBulk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.ProductBulk, 0, len(s.bulks))
	for _, bulk := range s.bulks {
		result = append(result, bulk)
	}
	slices.SortFunc(result, func(a, b domain.ProductBulk) int {
		return strings.Compare(a.ParentProductCode, b.ParentProductCode)
	})
	return result, nil
}

func (s *Store) UpsertProductBulk(_ context.Context, bulk domain.ProductBulk) error {
	if bulk.ParentProductCode == "" || bulk.ChildProductCode == "" || bulk.Quantity < 1 {
		return store.ErrInvalidSale
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.bulks[bulk.ParentProductCode] = bulk
	return nil
}

func (s *Store) ListProductBundles(_ context.Context) ([]domain.ProductBundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.ProductBundle, 0, len(s.bundles))
	for _, bundle := range s.bundles {
		bundle.ProductCodes = slices.Clone(bundle.ProductCodes)
		result = append(result, bundle)
	}
	slices.SortFunc(result, func(a, b domain.ProductBundle) int {
		return strings.Compare(a.Code, b.Code)
	})
	return result, nil
}

func (s *Store) UpsertProductBundle(_ context.Context, bundle domain.ProductBundle) error {
	if bundle.Code == "" || bundle.Quantity < 1 {
		return store.ErrInvalidSale
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bundle.ProductCodes = slices.Clone(bundle.ProductCodes)
	s.bundles[bundle.Code] = bundle
	return nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, shopCode string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if shopCode != "" && entry.ShopCode != shopCode {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidSale
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrDuplicateID
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidSale
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func sortedDetails(details []domain.SaleDetail) []domain.SaleDetail {
	dup := slices.Clone(details)
	slices.SortFunc(dup, func(a, b domain.SaleDetail) int {
		return a.Index - b.Index
	})
	return dup
}

func cloneSession(src domain.RegisterSession) *domain.RegisterSession {
	dup := src
	if src.ClosedAt != nil {
		at := *src.ClosedAt
		dup.ClosedAt = &at
	}
	return &dup
}
