package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"regisync/backend/internal/domain"
	"regisync/backend/internal/store"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Migrate creates the ledger tables when they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const saleColumns = `
	id, receipt_number, shop_code, created_at, details_count, sales_total, tax_total,
	discount_total, payment_type, cash_amount, sales_tax_free_total, sales_normal_total,
	sales_reduced_total, tax_normal_total, tax_reduced_total, status, input_mode`

const detailColumns = `
	sale_id, idx, product_code, product_name, abbr, kana, note, hidden, unregistered,
	selling_price, cost_price, avg_cost_price, selling_tax_class, stock_tax_class,
	selling_tax, stock_tax, self_medication, supplier_code, no_return, division,
	quantity, discount, output_receipt, status`

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale, details []domain.SaleDetail) error {
	if strings.TrimSpace(sale.ID) == "" {
		return store.ErrInvalidSale
	}
	for _, d := range details {
		if d.SaleID != sale.ID {
			return store.ErrInvalidSale
		}
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO sales (`+saleColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, sale.ID, sale.ReceiptNumber, sale.ShopCode, sale.CreatedAt.UTC(), sale.DetailsCount,
		sale.SalesTotal, sale.TaxTotal, sale.DiscountTotal, string(sale.PaymentType), sale.CashAmount,
		sale.SalesTaxFreeTotal, sale.SalesNormalTotal, sale.SalesReducedTotal,
		sale.TaxNormalTotal, sale.TaxReducedTotal, string(sale.Status), string(sale.InputMode))
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateID
		}
		return err
	}

	for _, d := range details {
		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO sale_details (`+detailColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)
		`, d.SaleID, d.Index, d.ProductCode, d.ProductName, d.Abbr, d.Kana, d.Note, d.Hidden, d.Unregistered,
			d.SellingPrice, d.CostPrice, d.AvgCostPrice, string(d.SellingTaxClass), string(d.StockTaxClass),
			d.SellingTax, d.StockTax, d.SelfMedication, d.SupplierCode, d.NoReturn, d.Division,
			d.Quantity, d.Discount, d.OutputReceipt, string(d.Status))
		if err != nil {
			if isUniqueViolation(err) {
				return store.ErrInvalidSale
			}
			return err
		}
	}

	return pgTx.Commit()
}

func (s *Store) DeleteSale(ctx context.Context, id string) error {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	if _, err := pgTx.ExecContext(ctx, `DELETE FROM sale_details WHERE sale_id = $1`, id); err != nil {
		return err
	}
	res, err := pgTx.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return pgTx.Commit()
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id)
	sale, err := scanSale(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &sale, nil
}

func (s *Store) SaleExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM sales WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func (s *Store) ListSales(ctx context.Context, filter store.SaleFilter) ([]domain.Sale, error) {
	query := `SELECT ` + saleColumns + ` FROM sales WHERE 1=1`
	args := make([]any, 0, 6)
	argIdx := 1

	if filter.ShopCode != "" {
		query += fmt.Sprintf(" AND shop_code = $%d", argIdx)
		args = append(args, filter.ShopCode)
		argIdx++
	}
	if filter.InputMode != "" {
		query += fmt.Sprintf(" AND input_mode = $%d", argIdx)
		args = append(args, string(filter.InputMode))
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if !filter.From.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.From.UTC())
		argIdx++
	}
	if !filter.To.IsZero() {
		query += fmt.Sprintf(" AND created_at < $%d", argIdx)
		args = append(args, filter.To.UTC())
		argIdx++
	}
	query += " ORDER BY created_at ASC, id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 64)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) ListSaleDetails(ctx context.Context, saleID string) ([]domain.SaleDetail, error) {
	return s.queryDetails(ctx, `SELECT `+detailColumns+` FROM sale_details WHERE sale_id = $1 ORDER BY idx`, saleID)
}

func (s *Store) ListDetailsBySaleIDs(ctx context.Context, saleIDs []string) ([]domain.SaleDetail, error) {
	if len(saleIDs) == 0 {
		return []domain.SaleDetail{}, nil
	}
	return s.queryDetails(ctx, `
		SELECT `+detailColumns+`
		FROM sale_details
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, idx
	`, saleIDs)
}

func (s *Store) queryDetails(ctx context.Context, query string, args ...any) ([]domain.SaleDetail, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	details := make([]domain.SaleDetail, 0, 16)
	for rows.Next() {
		var d domain.SaleDetail
		var sellingClass, stockClass, status string
		if err := rows.Scan(&d.SaleID, &d.Index, &d.ProductCode, &d.ProductName, &d.Abbr, &d.Kana, &d.Note,
			&d.Hidden, &d.Unregistered, &d.SellingPrice, &d.CostPrice, &d.AvgCostPrice, &sellingClass,
			&stockClass, &d.SellingTax, &d.StockTax, &d.SelfMedication, &d.SupplierCode, &d.NoReturn,
			&d.Division, &d.Quantity, &d.Discount, &d.OutputReceipt, &status); err != nil {
			return nil, err
		}
		d.SellingTaxClass = domain.TaxClass(sellingClass)
		d.StockTaxClass = domain.TaxClass(stockClass)
		d.Status = domain.SaleStatus(status)
		details = append(details, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return details, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSale(row rowScanner) (domain.Sale, error) {
	var sale domain.Sale
	var paymentType, status, inputMode string
	err := row.Scan(&sale.ID, &sale.ReceiptNumber, &sale.ShopCode, &sale.CreatedAt, &sale.DetailsCount,
		&sale.SalesTotal, &sale.TaxTotal, &sale.DiscountTotal, &paymentType, &sale.CashAmount,
		&sale.SalesTaxFreeTotal, &sale.SalesNormalTotal, &sale.SalesReducedTotal,
		&sale.TaxNormalTotal, &sale.TaxReducedTotal, &status, &inputMode)
	if err != nil {
		return domain.Sale{}, err
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	sale.PaymentType = domain.PaymentType(paymentType)
	sale.Status = domain.SaleStatus(status)
	sale.InputMode = domain.InputMode(inputMode)
	return sale, nil
}

func (s *Store) GetSession(ctx context.Context, date string) (*domain.RegisterSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT date_string, opened_at, closed_at
		FROM register_sessions
		WHERE date_string = $1
	`, date)
	return scanSession(row)
}

func (s *Store) LatestSession(ctx context.Context) (*domain.RegisterSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT date_string, opened_at, closed_at
		FROM register_sessions
		ORDER BY opened_at DESC
		LIMIT 1
	`)
	return scanSession(row)
}

func scanSession(row rowScanner) (*domain.RegisterSession, error) {
	var session domain.RegisterSession
	var closedAt sql.NullTime
	if err := row.Scan(&session.DateString, &session.OpenedAt, &closedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	session.OpenedAt = session.OpenedAt.UTC()
	if closedAt.Valid {
		at := closedAt.Time.UTC()
		session.ClosedAt = &at
	}
	return &session, nil
}

func (s *Store) SaveSession(ctx context.Context, session domain.RegisterSession) error {
	if len(session.DateString) != 8 || session.OpenedAt.IsZero() {
		return store.ErrInvalidSale
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO register_sessions (date_string, opened_at, closed_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (date_string)
		DO UPDATE SET opened_at = EXCLUDED.opened_at, closed_at = EXCLUDED.closed_at
	`, session.DateString, session.OpenedAt.UTC(), nullTime(session.ClosedAt))
	return err
}

func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM app_settings WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", store.ErrNotFound
		}
		return "", err
	}
	return value, nil
}

func (s *Store) SetSetting(ctx context.Context, key string, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_settings (key, value, updated_at)
		VALUES ($1,$2,now())
		ON CONFLICT (key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, key, value)
	return err
}

func (s *Store) ListProductBulks(ctx context.Context) ([]domain.ProductBulk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT parent_product_code, parent_product_name, child_product_code, child_product_name, quantity
		FROM product_bulks
		ORDER BY parent_product_code
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bulks := make([]domain.ProductBulk, 0, 32)
	for rows.Next() {
		var b domain.ProductBulk
		if err := rows.Scan(&b.ParentProductCode, &b.ParentProductName, &b.ChildProductCode, &b.ChildProductName, &b.Quantity); err != nil {
			return nil, err
		}
		bulks = append(bulks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bulks, nil
}

func (s *Store) UpsertProductBulk(ctx context.Context, bulk domain.ProductBulk) error {
	if bulk.ParentProductCode == "" || bulk.ChildProductCode == "" || bulk.Quantity < 1 {
		return store.ErrInvalidSale
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO product_bulks (parent_product_code, parent_product_name, child_product_code, child_product_name, quantity)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (parent_product_code)
		DO UPDATE SET
			parent_product_name = EXCLUDED.parent_product_name,
			child_product_code = EXCLUDED.child_product_code,
			child_product_name = EXCLUDED.child_product_name,
			quantity = EXCLUDED.quantity
	`, bulk.ParentProductCode, bulk.ParentProductName, bulk.ChildProductCode, bulk.ChildProductName, bulk.Quantity)
	return err
}

func (s *Store) ListProductBundles(ctx context.Context) ([]domain.ProductBundle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT code, name, selling_tax_class, selling_tax, quantity, discount, product_codes
		FROM product_bundles
		ORDER BY code
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bundles := make([]domain.ProductBundle, 0, 16)
	for rows.Next() {
		var b domain.ProductBundle
		var class string
		var codesRaw []byte
		if err := rows.Scan(&b.Code, &b.Name, &class, &b.SellingTax, &b.Quantity, &b.Discount, &codesRaw); err != nil {
			return nil, err
		}
		b.SellingTaxClass = domain.TaxClass(class)
		if err := json.Unmarshal(codesRaw, &b.ProductCodes); err != nil {
			return nil, fmt.Errorf("decode bundle %s product codes: %w", b.Code, err)
		}
		bundles = append(bundles, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bundles, nil
}

func (s *Store) UpsertProductBundle(ctx context.Context, bundle domain.ProductBundle) error {
	if bundle.Code == "" || bundle.Quantity < 1 {
		return store.ErrInvalidSale
	}
	codes := bundle.ProductCodes
	if codes == nil {
		codes = []string{}
	}
	codesRaw, err := json.Marshal(codes)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO product_bundles (code, name, selling_tax_class, selling_tax, quantity, discount, product_codes)
		VALUES ($1,$2,$3,$4,$5,$6,$7::jsonb)
		ON CONFLICT (code)
		DO UPDATE SET
			name = EXCLUDED.name,
			selling_tax_class = EXCLUDED.selling_tax_class,
			selling_tax = EXCLUDED.selling_tax,
			quantity = EXCLUDED.quantity,
			discount = EXCLUDED.discount,
			product_codes = EXCLUDED.product_codes
	`, bundle.Code, bundle.Name, string(bundle.SellingTaxClass), bundle.SellingTax, bundle.Quantity, bundle.Discount, string(codesRaw))
	return err
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, shop_code, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.ShopCode, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, shopCode string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shop_code, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE shop_code = $1
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, shopCode, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ShopCode, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidSale
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,true,$4,now())
	`, user.Username, user.Password, user.Role, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateID
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidSale
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return val.UTC()
}
