package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"martpos/backend/internal/domain"
	"martpos/backend/internal/store"
	"martpos/backend/internal/xid"
)

const maxReturnReasonLen = 500

type Store struct {
	db *sql.DB
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

	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// queryer lets the totals helpers run against either the pool or an open
// transaction, so close_shift aggregates from the same snapshot it commits.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			barcode TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			price NUMERIC(14,2) NOT NULL,
			unit TEXT NOT NULL DEFAULT 'pcs',
			perishable BOOLEAN NOT NULL DEFAULT false,
			min_stock NUMERIC(12,3) NOT NULL DEFAULT 0,
			active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS inventory_lots (
			id TEXT PRIMARY KEY,
			product_id TEXT NOT NULL REFERENCES products(id),
			qty_received NUMERIC(12,3) NOT NULL,
			qty_available NUMERIC(12,3) NOT NULL,
			unit_cost NUMERIC(14,2) NOT NULL DEFAULT 0,
			expiry_date DATE,
			source_type TEXT NOT NULL DEFAULT 'receipt',
			source_id TEXT,
			received_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			CONSTRAINT lot_qty_bounds CHECK (qty_available >= 0 AND qty_available <= qty_received)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_lots_product_fefo ON inventory_lots (product_id, expiry_date ASC NULLS LAST, id ASC)`,
		`CREATE TABLE IF NOT EXISTS stock_adjustments (
			id TEXT PRIMARY KEY,
			product_id TEXT NOT NULL REFERENCES products(id),
			qty NUMERIC(12,3) NOT NULL,
			reason TEXT NOT NULL,
			actor_name TEXT NOT NULL DEFAULT '',
			lots JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS shifts (
			id TEXT PRIMARY KEY,
			employee_id TEXT NOT NULL,
			status TEXT NOT NULL,
			start_cash NUMERIC(14,2) NOT NULL,
			expected_cash NUMERIC(14,2),
			counted_cash NUMERIC(14,2),
			variance NUMERIC(14,2),
			opened_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			closed_at TIMESTAMPTZ
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_shifts_one_open_per_employee ON shifts (employee_id) WHERE status = 'open'`,
		`CREATE TABLE IF NOT EXISTS customers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			phone TEXT NOT NULL DEFAULT '',
			loyalty_points BIGINT NOT NULL DEFAULT 0 CHECK (loyalty_points >= 0),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			shift_id TEXT NOT NULL REFERENCES shifts(id),
			customer_id TEXT REFERENCES customers(id),
			subtotal NUMERIC(14,2) NOT NULL,
			discount NUMERIC(14,2) NOT NULL DEFAULT 0,
			total NUMERIC(14,2) NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_shift ON transactions (shift_id)`,
		`CREATE TABLE IF NOT EXISTS transaction_lines (
			id TEXT PRIMARY KEY,
			transaction_id TEXT NOT NULL REFERENCES transactions(id),
			product_id TEXT NOT NULL REFERENCES products(id),
			lot_id TEXT REFERENCES inventory_lots(id),
			qty NUMERIC(12,3) NOT NULL,
			unit_price NUMERIC(14,2) NOT NULL,
			line_total NUMERIC(14,2) NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_lines_transaction ON transaction_lines (transaction_id)`,
		`CREATE TABLE IF NOT EXISTS payments (
			id TEXT PRIMARY KEY,
			transaction_id TEXT NOT NULL REFERENCES transactions(id),
			method TEXT NOT NULL,
			amount NUMERIC(14,2) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_transaction ON payments (transaction_id)`,
		`CREATE TABLE IF NOT EXISTS returns (
			id TEXT PRIMARY KEY,
			transaction_id TEXT NOT NULL REFERENCES transactions(id),
			refund_total NUMERIC(14,2) NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS return_lines (
			id TEXT PRIMARY KEY,
			return_id TEXT NOT NULL REFERENCES returns(id),
			line_id TEXT NOT NULL REFERENCES transaction_lines(id),
			qty NUMERIC(12,3) NOT NULL,
			refund_amount NUMERIC(14,2) NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_return_lines_line ON return_lines (line_id)`,
		`CREATE TABLE IF NOT EXISTS audit_logs (
			id TEXT PRIMARY KEY,
			actor_username TEXT NOT NULL DEFAULT '',
			actor_role TEXT NOT NULL DEFAULT '',
			action TEXT NOT NULL,
			entity_type TEXT NOT NULL DEFAULT '',
			entity_id TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			employee_id TEXT NOT NULL,
			password TEXT NOT NULL,
			role TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema: %w", err)
		}
	}
	return nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" {
		return nil, fmt.Errorf("%w: product name is required", store.ErrValidation)
	}
	if product.Price.IsNegative() {
		return nil, fmt.Errorf("%w: product price must not be negative", store.ErrValidation)
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if product.Unit == "" {
		product.Unit = "pcs"
	}
	product.Active = true
	product.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, barcode, category, price, unit, perishable, min_stock, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, product.ID, product.Name, product.Barcode, product.Category, product.Price, product.Unit, product.Perishable, product.MinStock, product.Active, product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: product %s already exists", store.ErrValidation, product.ID)
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, barcode, category, price, unit, perishable, min_stock, active, created_at
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Barcode, &p.Category, &p.Price, &p.Unit, &p.Perishable, &p.MinStock, &p.Active, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, id)
		}
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, barcode, category, price, unit, perishable, min_stock, active, created_at
		FROM products
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Barcode, &p.Category, &p.Price, &p.Unit, &p.Perishable, &p.MinStock, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) DeactivateProduct(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE products SET active = false WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: product %s", store.ErrNotFound, id)
	}
	return nil
}

func (s *Store) CreateInventoryLot(ctx context.Context, lot domain.InventoryLot) (*domain.InventoryLot, error) {
	if !lot.QtyReceived.IsPositive() {
		return nil, fmt.Errorf("%w: lot quantity must be positive", store.ErrInvalidQuantity)
	}
	if lot.UnitCost.IsNegative() {
		return nil, fmt.Errorf("%w: unit cost must not be negative", store.ErrValidation)
	}
	if lot.ID == "" {
		lot.ID = xid.New("lot")
	}
	lot.QtyReceived = domain.RoundQty(lot.QtyReceived)
	lot.QtyAvailable = lot.QtyReceived
	if lot.SourceType == "" {
		lot.SourceType = domain.LotSourceReceipt
	}
	lot.ReceivedAt = time.Now().UTC()

	var expiry sql.NullTime
	if lot.ExpiryDate != nil {
		expiry = sql.NullTime{Time: *lot.ExpiryDate, Valid: true}
	}
	var sourceID sql.NullString
	if lot.SourceID != "" {
		sourceID = sql.NullString{String: lot.SourceID, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_lots (id, product_id, qty_received, qty_available, unit_cost, expiry_date, source_type, source_id, received_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, lot.ID, lot.ProductID, lot.QtyReceived, lot.QtyAvailable, lot.UnitCost, expiry, lot.SourceType, sourceID, lot.ReceivedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, lot.ProductID)
		}
		return nil, err
	}

	created := lot
	return &created, nil
}

func (s *Store) ListInventoryLots(ctx context.Context, productID string) ([]domain.InventoryLot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, qty_received, qty_available, unit_cost, expiry_date, source_type, source_id, received_at
		FROM inventory_lots
		WHERE product_id = $1 AND qty_available > 0
		ORDER BY expiry_date ASC NULLS LAST, id ASC
	`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lots, err := scanLots(rows)
	if err != nil {
		return nil, err
	}
	return lots, nil
}

func scanLots(rows *sql.Rows) ([]domain.InventoryLot, error) {
	lots := make([]domain.InventoryLot, 0, 8)
	for rows.Next() {
		var lot domain.InventoryLot
		var expiry sql.NullTime
		var sourceID sql.NullString
		if err := rows.Scan(&lot.ID, &lot.ProductID, &lot.QtyReceived, &lot.QtyAvailable, &lot.UnitCost, &expiry, &lot.SourceType, &sourceID, &lot.ReceivedAt); err != nil {
			return nil, err
		}
		if expiry.Valid {
			e := expiry.Time.UTC()
			lot.ExpiryDate = &e
		}
		lot.SourceID = sourceID.String
		lot.ReceivedAt = lot.ReceivedAt.UTC()
		lots = append(lots, lot)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lots, nil
}

// lockLotsForProduct reads the product's stocked lots in FEFO order and
// leaves them row-locked until the enclosing transaction commits.
func lockLotsForProduct(ctx context.Context, tx *sql.Tx, productID string) ([]domain.InventoryLot, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, product_id, qty_received, qty_available, unit_cost, expiry_date, source_type, source_id, received_at
		FROM inventory_lots
		WHERE product_id = $1 AND qty_available > 0
		ORDER BY expiry_date ASC NULLS LAST, id ASC
		FOR UPDATE
	`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLots(rows)
}

func applyAllocations(ctx context.Context, tx *sql.Tx, allocs []domain.LotAllocation) error {
	for _, alloc := range allocs {
		res, err := tx.ExecContext(ctx, `
			UPDATE inventory_lots
			SET qty_available = qty_available - $1
			WHERE id = $2 AND qty_available >= $1
		`, alloc.Qty, alloc.LotID)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("%w: lot %s", store.ErrInsufficientStock, alloc.LotID)
		}
	}
	return nil
}

func (s *Store) CreateStockAdjustment(ctx context.Context, adj domain.StockAdjustment) (*domain.StockAdjustment, error) {
	if !adj.Qty.IsPositive() {
		return nil, fmt.Errorf("%w: adjustment quantity must be positive", store.ErrInvalidQuantity)
	}
	if strings.TrimSpace(adj.Reason) == "" {
		return nil, fmt.Errorf("%w: adjustment reason is required", store.ErrValidation)
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var exists bool
	if err := pgTx.QueryRowContext(ctx, `SELECT true FROM products WHERE id = $1`, adj.ProductID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, adj.ProductID)
		}
		return nil, err
	}

	lots, err := lockLotsForProduct(ctx, pgTx, adj.ProductID)
	if err != nil {
		return nil, err
	}
	allocs, ok := domain.PlanAllocation(lots, domain.RoundQty(adj.Qty))
	if !ok {
		return nil, fmt.Errorf("%w: product %s", store.ErrInsufficientStock, adj.ProductID)
	}
	if err := applyAllocations(ctx, pgTx, allocs); err != nil {
		return nil, err
	}

	adj.ID = xid.New("adj")
	adj.Qty = domain.RoundQty(adj.Qty)
	adj.Lots = allocs
	adj.CreatedAt = time.Now().UTC()
	lotsJSON, err := json.Marshal(allocs)
	if err != nil {
		return nil, err
	}
	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO stock_adjustments (id, product_id, qty, reason, actor_name, lots, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, adj.ID, adj.ProductID, adj.Qty, adj.Reason, adj.ActorName, lotsJSON, adj.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	created := adj
	return &created, nil
}

func (s *Store) OpenShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error) {
	if shift.EmployeeID == "" {
		return nil, fmt.Errorf("%w: employee id is required", store.ErrValidation)
	}
	if shift.StartCash.IsNegative() {
		return nil, fmt.Errorf("%w: start cash must not be negative", store.ErrValidation)
	}

	shift.ID = xid.New("shift")
	shift.Status = domain.ShiftStatusOpen
	shift.StartCash = domain.RoundMoney(shift.StartCash)
	shift.OpenedAt = time.Now().UTC()

	// The partial unique index on open shifts turns a lost race into a
	// unique violation instead of a double-open.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shifts (id, employee_id, status, start_cash, opened_at)
		VALUES ($1,$2,$3,$4,$5)
	`, shift.ID, shift.EmployeeID, shift.Status, shift.StartCash, shift.OpenedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: employee %s", store.ErrShiftAlreadyOpen, shift.EmployeeID)
		}
		return nil, err
	}

	created := shift
	return &created, nil
}

func scanShiftRow(row *sql.Row) (*domain.Shift, error) {
	var shift domain.Shift
	var expected, counted, variance decimal.NullDecimal
	var closedAt sql.NullTime
	err := row.Scan(&shift.ID, &shift.EmployeeID, &shift.Status, &shift.StartCash, &expected, &counted, &variance, &shift.OpenedAt, &closedAt)
	if err != nil {
		return nil, err
	}
	if expected.Valid {
		shift.ExpectedCash = &expected.Decimal
	}
	if counted.Valid {
		shift.CountedCash = &counted.Decimal
	}
	if variance.Valid {
		shift.Variance = &variance.Decimal
	}
	if closedAt.Valid {
		t := closedAt.Time.UTC()
		shift.ClosedAt = &t
	}
	shift.OpenedAt = shift.OpenedAt.UTC()
	return &shift, nil
}

const shiftColumns = `id, employee_id, status, start_cash, expected_cash, counted_cash, variance, opened_at, closed_at`

func (s *Store) GetShift(ctx context.Context, id string) (*domain.Shift, error) {
	shift, err := scanShiftRow(s.db.QueryRowContext(ctx, `
		SELECT `+shiftColumns+` FROM shifts WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: shift %s", store.ErrNotFound, id)
		}
		return nil, err
	}
	return shift, nil
}

func (s *Store) GetActiveShift(ctx context.Context, employeeID string) (*domain.Shift, error) {
	shift, err := scanShiftRow(s.db.QueryRowContext(ctx, `
		SELECT `+shiftColumns+` FROM shifts WHERE employee_id = $1 AND status = 'open'
	`, employeeID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: no open shift for employee %s", store.ErrNotFound, employeeID)
		}
		return nil, err
	}
	return shift, nil
}

func (s *Store) ComputeShiftTotals(ctx context.Context, shiftID string) (*domain.ShiftTotals, error) {
	var startCash decimal.Decimal
	err := s.db.QueryRowContext(ctx, `SELECT start_cash FROM shifts WHERE id = $1`, shiftID).Scan(&startCash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: shift %s", store.ErrNotFound, shiftID)
		}
		return nil, err
	}
	totals, err := shiftTotals(ctx, s.db, shiftID, startCash)
	if err != nil {
		return nil, err
	}
	return totals, nil
}

// shiftTotals aggregates payments of the shift's non-void transactions,
// sign-separated per method and rounded after each accumulation step.
func shiftTotals(ctx context.Context, q queryer, shiftID string, startCash decimal.Decimal) (*domain.ShiftTotals, error) {
	totals := &domain.ShiftTotals{
		ShiftID:       shiftID,
		StartCash:     startCash,
		CashSales:     decimal.Zero,
		CashRefunds:   decimal.Zero,
		CardSales:     decimal.Zero,
		CardRefunds:   decimal.Zero,
		OnlineSales:   decimal.Zero,
		OnlineRefunds: decimal.Zero,
	}

	rows, err := q.QueryContext(ctx, `
		SELECT p.method, p.amount
		FROM payments p
		JOIN transactions t ON t.id = p.transaction_id
		WHERE t.shift_id = $1 AND t.status <> 'voided'
		ORDER BY p.created_at ASC, p.id ASC
	`, shiftID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var method string
		var amount decimal.Decimal
		if err := rows.Scan(&method, &amount); err != nil {
			_ = rows.Close()
			return nil, err
		}
		switch method {
		case domain.PaymentCash:
			if amount.IsNegative() {
				totals.CashRefunds = domain.RoundMoney(totals.CashRefunds.Add(amount.Abs()))
			} else {
				totals.CashSales = domain.RoundMoney(totals.CashSales.Add(amount))
			}
		case domain.PaymentCard:
			if amount.IsNegative() {
				totals.CardRefunds = domain.RoundMoney(totals.CardRefunds.Add(amount.Abs()))
			} else {
				totals.CardSales = domain.RoundMoney(totals.CardSales.Add(amount))
			}
		default:
			if amount.IsNegative() {
				totals.OnlineRefunds = domain.RoundMoney(totals.OnlineRefunds.Add(amount.Abs()))
			} else {
				totals.OnlineSales = domain.RoundMoney(totals.OnlineSales.Add(amount))
			}
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	totals.ExpectedCash = domain.RoundMoney(totals.StartCash.Add(totals.CashSales).Sub(totals.CashRefunds))

	soldRows, err := q.QueryContext(ctx, `
		SELECT l.product_id, pr.name, SUM(l.qty), SUM(l.line_total)
		FROM transaction_lines l
		JOIN transactions t ON t.id = l.transaction_id
		JOIN products pr ON pr.id = l.product_id
		WHERE t.shift_id = $1 AND t.status <> 'voided' AND l.qty > 0
		GROUP BY l.product_id, pr.name
		ORDER BY l.product_id ASC
	`, shiftID)
	if err != nil {
		return nil, err
	}
	defer soldRows.Close()
	for soldRows.Next() {
		var item domain.ShiftSoldItem
		if err := soldRows.Scan(&item.ProductID, &item.Name, &item.Qty, &item.Amount); err != nil {
			return nil, err
		}
		item.Qty = domain.RoundQty(item.Qty)
		item.Amount = domain.RoundMoney(item.Amount)
		totals.SoldItems = append(totals.SoldItems, item)
	}
	if err := soldRows.Err(); err != nil {
		return nil, err
	}
	return totals, nil
}

func (s *Store) CloseShift(ctx context.Context, shiftID string, countedCash decimal.Decimal, closedAt time.Time) (*domain.ShiftCloseSummary, error) {
	if countedCash.IsNegative() {
		return nil, fmt.Errorf("%w: counted cash must not be negative", store.ErrValidation)
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var status string
	var startCash decimal.Decimal
	err = pgTx.QueryRowContext(ctx, `
		SELECT status, start_cash FROM shifts WHERE id = $1 FOR UPDATE
	`, shiftID).Scan(&status, &startCash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: shift %s", store.ErrNotFound, shiftID)
		}
		return nil, err
	}
	if status == domain.ShiftStatusClosed {
		return nil, fmt.Errorf("%w: shift %s", store.ErrShiftClosed, shiftID)
	}

	totals, err := shiftTotals(ctx, pgTx, shiftID, startCash)
	if err != nil {
		return nil, err
	}
	counted := domain.RoundMoney(countedCash)
	variance := domain.RoundMoney(counted.Sub(totals.ExpectedCash))
	closed := closedAt.UTC()

	_, err = pgTx.ExecContext(ctx, `
		UPDATE shifts
		SET status = 'closed', expected_cash = $2, counted_cash = $3, variance = $4, closed_at = $5
		WHERE id = $1
	`, shiftID, totals.ExpectedCash, counted, variance, closed)
	if err != nil {
		return nil, err
	}

	shift, err := scanShiftRow(pgTx.QueryRowContext(ctx, `
		SELECT `+shiftColumns+` FROM shifts WHERE id = $1
	`, shiftID))
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	return &domain.ShiftCloseSummary{
		Shift:       *shift,
		Totals:      *totals,
		CountedCash: counted,
		Variance:    variance,
	}, nil
}

func (s *Store) CreateCheckout(ctx context.Context, params store.CheckoutParams) (*domain.CheckoutResult, error) {
	if len(params.Lines) == 0 {
		return nil, fmt.Errorf("%w: cart is empty", store.ErrValidation)
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var shiftStatus string
	err = pgTx.QueryRowContext(ctx, `
		SELECT status FROM shifts WHERE id = $1 FOR UPDATE
	`, params.ShiftID).Scan(&shiftStatus)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: shift %s", store.ErrNotFound, params.ShiftID)
		}
		return nil, err
	}
	if shiftStatus != domain.ShiftStatusOpen {
		return nil, fmt.Errorf("%w: shift %s", store.ErrShiftNotOpen, params.ShiftID)
	}

	var loyaltyPoints int64 = -1
	if params.CustomerID != "" {
		err = pgTx.QueryRowContext(ctx, `
			SELECT loyalty_points FROM customers WHERE id = $1 FOR UPDATE
		`, params.CustomerID).Scan(&loyaltyPoints)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, params.CustomerID)
			}
			return nil, err
		}
	}

	// Totals come strictly from the lines; caller-supplied totals are
	// never trusted.
	subtotal := decimal.Zero
	for _, line := range params.Lines {
		subtotal = subtotal.Add(domain.RoundMoney(line.Qty.Abs().Mul(line.UnitPrice)))
	}
	subtotal = domain.RoundMoney(subtotal)

	discount := params.Discount
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	// A manual discount never exceeds what was rung up.
	discount = decimal.Min(domain.RoundMoney(discount), subtotal)

	var pointsSpent, pointsEarned int64
	loyaltyDiscount := decimal.Zero
	if !params.IsRefund && loyaltyPoints >= 0 && params.RedeemPoints > 0 {
		if params.RedeemPoints > loyaltyPoints {
			return nil, fmt.Errorf("%w: requested %d, balance %d", store.ErrInsufficientPoints, params.RedeemPoints, loyaltyPoints)
		}
		loyaltyDiscount, pointsSpent = params.Loyalty.Redemption(params.RedeemPoints, subtotal)
	}

	finalTotal := domain.RoundMoney(subtotal.Sub(discount).Sub(loyaltyDiscount))
	if params.IsRefund {
		finalTotal = finalTotal.Neg()
	}

	status := domain.TxStatusPaid
	if params.IsRefund {
		status = domain.TxStatusRefund
	}
	txID := xid.New("txn")
	createdAt := time.Now().UTC()

	var customerID sql.NullString
	if params.CustomerID != "" {
		customerID = sql.NullString{String: params.CustomerID, Valid: true}
	}
	totalDiscount := domain.RoundMoney(discount.Add(loyaltyDiscount))
	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO transactions (id, shift_id, customer_id, subtotal, discount, total, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, txID, params.ShiftID, customerID, subtotal, totalDiscount, finalTotal, status, createdAt)
	if err != nil {
		return nil, err
	}

	var txLines []domain.TransactionLine
	for _, line := range params.Lines {
		if line.Qty.IsZero() {
			continue
		}

		if params.IsRefund {
			qty := domain.RoundQty(line.Qty.Abs())
			lot := domain.InventoryLot{
				ID:           xid.New("lot"),
				ProductID:    line.ProductID,
				QtyReceived:  qty,
				QtyAvailable: qty,
				UnitCost:     line.UnitPrice,
				SourceType:   domain.LotSourceRefund,
				SourceID:     txID,
				ReceivedAt:   createdAt,
			}
			_, err = pgTx.ExecContext(ctx, `
				INSERT INTO inventory_lots (id, product_id, qty_received, qty_available, unit_cost, source_type, source_id, received_at)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			`, lot.ID, lot.ProductID, lot.QtyReceived, lot.QtyAvailable, lot.UnitCost, lot.SourceType, lot.SourceID, lot.ReceivedAt)
			if err != nil {
				if isForeignKeyViolation(err) {
					return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, line.ProductID)
				}
				return nil, err
			}
			txLines = append(txLines, domain.TransactionLine{
				ID:        xid.New("txl"),
				ProductID: line.ProductID,
				LotID:     lot.ID,
				Qty:       qty.Neg(),
				UnitPrice: line.UnitPrice,
				LineTotal: domain.RoundMoney(qty.Mul(line.UnitPrice)).Neg(),
			})
			continue
		}

		if line.Qty.IsNegative() {
			return nil, fmt.Errorf("%w: negative quantity on sale line for product %s", store.ErrInvalidQuantity, line.ProductID)
		}

		lots, err := lockLotsForProduct(ctx, pgTx, line.ProductID)
		if err != nil {
			return nil, err
		}
		allocs, enough := domain.PlanAllocation(lots, domain.RoundQty(line.Qty))
		if !enough {
			return nil, fmt.Errorf("%w: product %s", store.ErrInsufficientStock, line.ProductID)
		}
		if err := applyAllocations(ctx, pgTx, allocs); err != nil {
			return nil, err
		}
		for _, alloc := range allocs {
			txLines = append(txLines, domain.TransactionLine{
				ID:        xid.New("txl"),
				ProductID: line.ProductID,
				LotID:     alloc.LotID,
				Qty:       alloc.Qty,
				UnitPrice: line.UnitPrice,
				LineTotal: domain.RoundMoney(alloc.Qty.Mul(line.UnitPrice)),
			})
		}
	}
	if len(txLines) == 0 {
		return nil, fmt.Errorf("%w: cart has no non-zero lines", store.ErrValidation)
	}

	for _, tl := range txLines {
		var lotID sql.NullString
		if tl.LotID != "" {
			lotID = sql.NullString{String: tl.LotID, Valid: true}
		}
		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO transaction_lines (id, transaction_id, product_id, lot_id, qty, unit_price, line_total)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, tl.ID, txID, tl.ProductID, lotID, tl.Qty, tl.UnitPrice, tl.LineTotal)
		if err != nil {
			if isForeignKeyViolation(err) {
				return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, tl.ProductID)
			}
			return nil, err
		}
	}

	payment := domain.Payment{
		ID:     xid.New("pay"),
		Method: params.PaymentMethod,
		Amount: finalTotal,
	}
	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO payments (id, transaction_id, method, amount, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, payment.ID, txID, payment.Method, payment.Amount, createdAt)
	if err != nil {
		return nil, err
	}

	if !params.IsRefund && loyaltyPoints >= 0 {
		netPaid := finalTotal
		if netPaid.IsNegative() {
			netPaid = decimal.Zero
		}
		pointsEarned = params.Loyalty.AccruedPoints(netPaid)
		if pointsSpent > 0 || pointsEarned > 0 {
			newBalance := domain.ApplyBalanceDelta(loyaltyPoints, pointsSpent, pointsEarned)
			_, err = pgTx.ExecContext(ctx, `
				UPDATE customers SET loyalty_points = $2 WHERE id = $1
			`, params.CustomerID, newBalance)
			if err != nil {
				return nil, err
			}
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	return &domain.CheckoutResult{
		Transaction: domain.Transaction{
			ID:         txID,
			ShiftID:    params.ShiftID,
			CustomerID: params.CustomerID,
			Subtotal:   subtotal,
			Discount:   totalDiscount,
			Total:      finalTotal,
			Status:     status,
			Lines:      txLines,
			Payment:    payment,
			CreatedAt:  createdAt,
		},
		PointsSpent:     pointsSpent,
		PointsEarned:    pointsEarned,
		LoyaltyDiscount: loyaltyDiscount,
	}, nil
}

func (s *Store) CreateReturn(ctx context.Context, params store.ReturnParams) (*domain.ReturnResult, error) {
	if len(params.Lines) == 0 {
		return nil, fmt.Errorf("%w: no return lines", store.ErrValidation)
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var txStatus string
	var customerID sql.NullString
	err = pgTx.QueryRowContext(ctx, `
		SELECT status, customer_id FROM transactions WHERE id = $1 FOR UPDATE
	`, params.TransactionID).Scan(&txStatus, &customerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: transaction %s", store.ErrNotFound, params.TransactionID)
		}
		return nil, err
	}
	if txStatus == domain.TxStatusVoided {
		return nil, fmt.Errorf("%w: transaction %s", store.ErrTransactionVoided, params.TransactionID)
	}

	lineRows, err := pgTx.QueryContext(ctx, `
		SELECT id, product_id, lot_id, qty, unit_price, line_total
		FROM transaction_lines
		WHERE transaction_id = $1
		FOR UPDATE
	`, params.TransactionID)
	if err != nil {
		return nil, err
	}
	linesByID := make(map[string]domain.TransactionLine)
	for lineRows.Next() {
		var line domain.TransactionLine
		var lotID sql.NullString
		if err := lineRows.Scan(&line.ID, &line.ProductID, &lotID, &line.Qty, &line.UnitPrice, &line.LineTotal); err != nil {
			_ = lineRows.Close()
			return nil, err
		}
		line.LotID = lotID.String
		linesByID[line.ID] = line
	}
	if err := lineRows.Err(); err != nil {
		_ = lineRows.Close()
		return nil, err
	}
	_ = lineRows.Close()

	returnedQty := make(map[string]decimal.Decimal)
	retRows, err := pgTx.QueryContext(ctx, `
		SELECT rl.line_id, COALESCE(SUM(rl.qty), 0)
		FROM return_lines rl
		JOIN returns r ON r.id = rl.return_id
		WHERE r.transaction_id = $1
		GROUP BY rl.line_id
	`, params.TransactionID)
	if err != nil {
		return nil, err
	}
	for retRows.Next() {
		var lineID string
		var qty decimal.Decimal
		if err := retRows.Scan(&lineID, &qty); err != nil {
			_ = retRows.Close()
			return nil, err
		}
		returnedQty[lineID] = qty
	}
	if err := retRows.Err(); err != nil {
		_ = retRows.Close()
		return nil, err
	}
	_ = retRows.Close()

	refundTotal := decimal.Zero
	var retLines []domain.ReturnLine
	lotIncrements := make(map[string]decimal.Decimal)
	var reasons []string
	pending := make(map[string]decimal.Decimal)

	for _, req := range params.Lines {
		line, exists := linesByID[req.LineID]
		if !exists {
			return nil, fmt.Errorf("%w: transaction line %s", store.ErrNotFound, req.LineID)
		}
		qty := domain.RoundQty(req.Qty)
		if !qty.IsPositive() {
			return nil, fmt.Errorf("%w: return quantity must be positive", store.ErrInvalidQuantity)
		}
		// Refund lines carry negative quantities and are not returnable.
		if !line.Qty.IsPositive() {
			return nil, fmt.Errorf("%w: line %s is not returnable", store.ErrValidation, req.LineID)
		}
		remaining := line.Qty.Sub(returnedQty[req.LineID]).Sub(pending[req.LineID])
		if !remaining.IsPositive() || qty.GreaterThan(remaining) {
			return nil, fmt.Errorf("%w: line %s has %s remaining", store.ErrOverReturn, req.LineID, remaining.String())
		}
		pending[req.LineID] = pending[req.LineID].Add(qty)

		unitRefund := domain.UnitRefund(line.LineTotal, line.Qty)
		lineRefund := domain.LineRefund(unitRefund, qty)
		refundTotal = domain.RoundMoney(refundTotal.Add(lineRefund))

		if line.LotID != "" {
			lotIncrements[line.LotID] = lotIncrements[line.LotID].Add(qty)
		}
		if strings.TrimSpace(req.Reason) != "" {
			reasons = append(reasons, strings.TrimSpace(req.Reason))
		}
		retLines = append(retLines, domain.ReturnLine{
			ID:           xid.New("rtl"),
			LineID:       req.LineID,
			Qty:          qty,
			RefundAmount: lineRefund,
		})
	}

	reason := strings.Join(reasons, "; ")
	if reason == "" {
		reason = strings.TrimSpace(params.Reason)
	}
	if len(reason) > maxReturnReasonLen {
		reason = reason[:maxReturnReasonLen]
	}

	for lotID, qty := range lotIncrements {
		_, err = pgTx.ExecContext(ctx, `
			UPDATE inventory_lots
			SET qty_available = qty_available + $1
			WHERE id = $2
		`, qty, lotID)
		if err != nil {
			return nil, err
		}
	}

	record := domain.ReturnRecord{
		ID:            xid.New("ret"),
		TransactionID: params.TransactionID,
		RefundTotal:   refundTotal,
		Reason:        reason,
		Lines:         retLines,
		CreatedAt:     time.Now().UTC(),
	}
	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO returns (id, transaction_id, refund_total, reason, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, record.ID, record.TransactionID, record.RefundTotal, record.Reason, record.CreatedAt)
	if err != nil {
		return nil, err
	}
	for _, rl := range retLines {
		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO return_lines (id, return_id, line_id, qty, refund_amount)
			VALUES ($1,$2,$3,$4,$5)
		`, rl.ID, record.ID, rl.LineID, rl.Qty, rl.RefundAmount)
		if err != nil {
			return nil, err
		}
	}

	var pointsReverted int64
	if customerID.Valid && refundTotal.IsPositive() {
		var balance int64
		err = pgTx.QueryRowContext(ctx, `
			SELECT loyalty_points FROM customers WHERE id = $1 FOR UPDATE
		`, customerID.String).Scan(&balance)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		if err == nil {
			pointsReverted = params.Loyalty.RevertedPoints(refundTotal)
			if pointsReverted > 0 {
				newBalance := domain.ApplyBalanceDelta(balance, pointsReverted, 0)
				_, err = pgTx.ExecContext(ctx, `
					UPDATE customers SET loyalty_points = $2 WHERE id = $1
				`, customerID.String, newBalance)
				if err != nil {
					return nil, err
				}
			}
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &domain.ReturnResult{Return: record, PointsReverted: pointsReverted}, nil
}

func (s *Store) FindTransactionByID(ctx context.Context, id string) (*domain.Transaction, error) {
	var tx domain.Transaction
	var customerID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, shift_id, customer_id, subtotal, discount, total, status, created_at
		FROM transactions
		WHERE id = $1
	`, id).Scan(&tx.ID, &tx.ShiftID, &customerID, &tx.Subtotal, &tx.Discount, &tx.Total, &tx.Status, &tx.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: transaction %s", store.ErrNotFound, id)
		}
		return nil, err
	}
	tx.CustomerID = customerID.String
	tx.CreatedAt = tx.CreatedAt.UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, lot_id, qty, unit_price, line_total
		FROM transaction_lines
		WHERE transaction_id = $1
		ORDER BY id ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var line domain.TransactionLine
		var lotID sql.NullString
		if err := rows.Scan(&line.ID, &line.ProductID, &lotID, &line.Qty, &line.UnitPrice, &line.LineTotal); err != nil {
			return nil, err
		}
		line.LotID = lotID.String
		tx.Lines = append(tx.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT id, method, amount FROM payments WHERE transaction_id = $1 ORDER BY created_at ASC LIMIT 1
	`, id).Scan(&tx.Payment.ID, &tx.Payment.Method, &tx.Payment.Amount)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	return &tx, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if strings.TrimSpace(customer.Name) == "" {
		return nil, fmt.Errorf("%w: customer name is required", store.ErrValidation)
	}
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	if customer.LoyaltyPoints < 0 {
		customer.LoyaltyPoints = 0
	}
	customer.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, phone, loyalty_points, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, customer.ID, customer.Name, customer.Phone, customer.LoyaltyPoints, customer.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: customer %s already exists", store.ErrValidation, customer.ID)
		}
		return nil, err
	}

	created := customer
	return &created, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, loyalty_points, created_at FROM customers WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Phone, &c.LoyaltyPoints, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, id)
		}
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (s *Store) FindCustomerByPhone(ctx context.Context, phone string) (*domain.Customer, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, loyalty_points, created_at FROM customers WHERE phone = $1 LIMIT 1
	`, phone).Scan(&c.ID, &c.Name, &c.Phone, &c.LoyaltyPoints, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: customer with phone %s", store.ErrNotFound, phone)
		}
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (s *Store) ListCustomers(ctx context.Context, limit int) ([]domain.Customer, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, phone, loyalty_points, created_at
		FROM customers
		ORDER BY name ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, limit)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.LoyaltyPoints, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) LowStockProducts(ctx context.Context) ([]domain.LowStockProduct, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.name, COALESCE(SUM(l.qty_available), 0), p.min_stock
		FROM products p
		LEFT JOIN inventory_lots l ON l.product_id = p.id
		WHERE p.active = true
		GROUP BY p.id, p.name, p.min_stock
		HAVING COALESCE(SUM(l.qty_available), 0) <= p.min_stock
		ORDER BY p.name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var low []domain.LowStockProduct
	for rows.Next() {
		var item domain.LowStockProduct
		if err := rows.Scan(&item.ProductID, &item.Name, &item.OnHand, &item.MinStock); err != nil {
			return nil, err
		}
		item.OnHand = domain.RoundQty(item.OnHand)
		low = append(low, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return low, nil
}

func (s *Store) ExpiringLots(ctx context.Context, before time.Time) ([]domain.ExpiringLot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.id, l.product_id, p.name, l.qty_available, l.expiry_date
		FROM inventory_lots l
		JOIN products p ON p.id = l.product_id
		WHERE l.expiry_date IS NOT NULL AND l.expiry_date <= $1 AND l.qty_available > 0
		ORDER BY l.expiry_date ASC, l.id ASC
	`, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var expiring []domain.ExpiringLot
	for rows.Next() {
		var lot domain.ExpiringLot
		if err := rows.Scan(&lot.LotID, &lot.ProductID, &lot.Name, &lot.QtyAvailable, &lot.ExpiryDate); err != nil {
			return nil, err
		}
		lot.ExpiryDate = lot.ExpiryDate.UTC()
		expiring = append(expiring, lot)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return expiring, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("aud")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
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
	if user.EmployeeID == "" {
		user.EmployeeID = xid.New("emp")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, employee_id, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, user.Username, user.EmployeeID, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: username %s already exists", store.ErrValidation, user.Username)
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, employee_id, password, role, active, created_at
		FROM users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.EmployeeID, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.CreatedAt = u.CreatedAt.UTC()
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: user %s", store.ErrNotFound, username)
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

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}
