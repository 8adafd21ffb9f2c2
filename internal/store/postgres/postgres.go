package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"onesmart/inventory/internal/domain"
	"onesmart/inventory/internal/inventory"
	"onesmart/inventory/internal/store"
	"onesmart/inventory/internal/xid"
)

//go:embed schema.sql
var schema string

const (
	productColumns  = `id, name, flavor, color, weight, volume, created_at, updated_at`
	purchaseColumns = `id, product_name, purchase_date, quantity, purchase_price, discount, mrp, expiry_date, remaining_qty, created_at, updated_at`
	billColumns     = `id, bill_no, customer_name, customer_phone, items, total_amount, paid_amount, payment_method, created_at, updated_at`
	returnColumns   = `id, purchase_id, returned_qty, expected_refund, actual_refund, return_date, created_at, updated_at`
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return NewWithDB(db), nil
}

// NewWithDB wraps an open handle. It does not migrate; call Migrate for that.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Migrate creates the tables when they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Specific.Flavor, &p.Specific.Color, &p.Specific.Weight, &p.Specific.Volume, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" {
		return nil, store.ErrInvalidRecord
	}
	product.Meta = s.meta("prd")

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, product.ID, product.Name, product.Specific.Flavor, product.Specific.Color, product.Specific.Weight,
		product.Specific.Volume, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: product %q", store.ErrDuplicate, product.Name)
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) ListPurchases(ctx context.Context) ([]domain.PurchaseBatch, error) {
	return s.queryPurchases(ctx, s.db, `SELECT `+purchaseColumns+` FROM purchases ORDER BY created_at, id`)
}

func (s *Store) ListExpiringPurchases(ctx context.Context, from time.Time, to time.Time) ([]domain.PurchaseBatch, error) {
	return s.queryPurchases(ctx, s.db, `
		SELECT `+purchaseColumns+`
		FROM purchases
		WHERE remaining_qty > 0 AND expiry_date BETWEEN $1 AND $2
		ORDER BY expiry_date, id
	`, from, to)
}

func (s *Store) CreatePurchase(ctx context.Context, batch domain.PurchaseBatch) (*domain.PurchaseBatch, error) {
	if batch.ProductName == "" || batch.Quantity < 1 {
		return nil, store.ErrInvalidRecord
	}
	batch.Meta = s.meta("pur")
	batch.RemainingQty = batch.Quantity

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO purchases (`+purchaseColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, batch.ID, batch.ProductName, batch.PurchaseDate, batch.Quantity, batch.PurchasePrice, batch.Discount,
		batch.MRP, nullTime(batch.ExpiryDate), batch.RemainingQty, batch.CreatedAt, batch.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

func (s *Store) ListBills(ctx context.Context) ([]domain.Bill, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+billColumns+` FROM bills ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bills := make([]domain.Bill, 0, 64)
	for rows.Next() {
		var (
			b     domain.Bill
			items []byte
		)
		if err := rows.Scan(&b.ID, &b.BillNo, &b.CustomerName, &b.CustomerPhone, &items, &b.TotalAmount,
			&b.PaidAmount, &b.PaymentMethod, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(items, &b.Items); err != nil {
			return nil, fmt.Errorf("decode items of bill %s: %w", b.ID, err)
		}
		bills = append(bills, b)
	}
	return bills, rows.Err()
}

// CreateBill locks the candidate batches of every billed product, depletes
// them FIFO and inserts the bill in one serializable transaction.
func (s *Store) CreateBill(ctx context.Context, bill domain.Bill) (*domain.Bill, error) {
	if bill.BillNo == "" || len(bill.Items) == 0 {
		return nil, store.ErrInvalidRecord
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var batches []*domain.PurchaseBatch
	for _, demand := range inventory.Demands(bill.Items) {
		locked, err := s.queryPurchases(ctx, tx, `
			SELECT `+purchaseColumns+`
			FROM purchases
			WHERE product_name = $1 AND remaining_qty > 0
			ORDER BY purchase_date, created_at, id
			FOR UPDATE
		`, demand.ProductName)
		if err != nil {
			return nil, err
		}
		for i := range locked {
			batches = append(batches, &locked[i])
		}
	}

	touched, warnings := inventory.ApplyBill(batches, bill.Items)
	if err := store.Shortage(warnings); err != nil {
		return nil, err
	}

	bill.Meta = s.meta("bil")
	for _, batch := range touched {
		_, err := tx.ExecContext(ctx, `
			UPDATE purchases SET remaining_qty = $1, updated_at = $2 WHERE id = $3
		`, batch.RemainingQty, bill.CreatedAt, batch.ID)
		if err != nil {
			return nil, err
		}
	}

	items, err := json.Marshal(bill.Items)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO bills (`+billColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, bill.ID, bill.BillNo, bill.CustomerName, bill.CustomerPhone, items, bill.TotalAmount, bill.PaidAmount,
		bill.PaymentMethod, bill.CreatedAt, bill.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: bill %s", store.ErrDuplicate, bill.BillNo)
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &bill, nil
}

func (s *Store) ListReturns(ctx context.Context) ([]domain.Return, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+returnColumns+` FROM returns ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	returns := make([]domain.Return, 0, 32)
	for rows.Next() {
		var r domain.Return
		if err := rows.Scan(&r.ID, &r.PurchaseID, &r.ReturnedQty, &r.ExpectedRefund, &r.ActualRefund,
			&r.ReturnDate, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		returns = append(returns, r)
	}
	return returns, rows.Err()
}

func (s *Store) CreateReturn(ctx context.Context, ret domain.Return) (*domain.Return, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	locked, err := s.queryPurchases(ctx, tx, `
		SELECT `+purchaseColumns+` FROM purchases WHERE id = $1 FOR UPDATE
	`, ret.PurchaseID)
	if err != nil {
		return nil, err
	}
	if len(locked) == 0 {
		return nil, fmt.Errorf("%w: purchase %s", store.ErrNotFound, ret.PurchaseID)
	}
	batch := locked[0]
	if err := store.CheckReturn(&batch, ret.ReturnedQty); err != nil {
		return nil, err
	}

	ret.Meta = s.meta("ret")
	if _, err := tx.ExecContext(ctx, `
		UPDATE purchases SET remaining_qty = remaining_qty - $1, updated_at = $2 WHERE id = $3
	`, ret.ReturnedQty, ret.CreatedAt, batch.ID); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO returns (`+returnColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, ret.ID, ret.PurchaseID, ret.ReturnedQty, ret.ExpectedRefund, ret.ActualRefund, ret.ReturnDate,
		ret.CreatedAt, ret.UpdatedAt); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &ret, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) queryPurchases(ctx context.Context, q querier, query string, args ...any) ([]domain.PurchaseBatch, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batches := make([]domain.PurchaseBatch, 0, 16)
	for rows.Next() {
		var (
			b      domain.PurchaseBatch
			expiry sql.NullTime
		)
		if err := rows.Scan(&b.ID, &b.ProductName, &b.PurchaseDate, &b.Quantity, &b.PurchasePrice, &b.Discount,
			&b.MRP, &expiry, &b.RemainingQty, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		if expiry.Valid {
			e := expiry.Time.UTC()
			b.ExpiryDate = &e
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func (s *Store) meta(prefix string) domain.Meta {
	now := s.now().UTC()
	return domain.Meta{ID: xid.New(prefix), CreatedAt: now, UpdatedAt: now}
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
	return *val
}
