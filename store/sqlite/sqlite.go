/*
Package sqlite provides the SQLite-backed ledger store.

PURPOSE:
  Implements stock.Store on a single local data file. The schema enforces
  the invariants at the storage boundary, so even a buggy caller cannot
  drive a balance negative or write a movement of an unknown kind.

KEY TABLES:
  products:        Catalog rows with the running stock_quantity
  stock_movements: Immutable ledger, one row per movement

CONSTRAINTS:
  - products.code UNIQUE, products.barcode UNIQUE (NULLs allowed)
  - stock_non_negative: stock_quantity >= 0
  - movement_kind: kind IN ('Entrada','Saida','Ajuste','Inicial')
  - movement_direction: direction follows kind (only Ajuste may carry either sign)
  - movement_quantity: quantity > 0
  - stock_movements.product_id REFERENCES products(id) ON DELETE CASCADE
  - stock_movements_immutable trigger: no UPDATE of ledger rows, ever
  - stock_movements_append_only trigger: no DELETE of ledger rows while
    their product exists (the product delete cascade still goes through)

CONCURRENCY:
  One process, one handle, one connection (SetMaxOpenConns(1)). Units of
  work hold the writer mutex and open IMMEDIATE transactions, so the
  read-check-write sequence of a movement cannot interleave with another
  write.

USAGE:
  store, err := sqlite.New("./data/stock.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := stock.NewEngine(store)

SEE ALSO:
  - stock/store.go: Interface definitions
  - errors.go: Driver error translation
  - stock/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/stock-engine/stock"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements stock.Store using SQLite.
type Store struct {
	db     *sqlx.DB
	mu     sync.RWMutex
	closed bool
}

var _ stock.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single handle for the whole process; ":memory:" databases also
	// live only as long as their one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection. Every later call fails with
// stock.ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL CONSTRAINT product_name CHECK (length(trim(name)) > 0),
		description TEXT NOT NULL DEFAULT '',
		code TEXT NOT NULL UNIQUE,
		barcode TEXT UNIQUE,
		brand TEXT NOT NULL DEFAULT '',
		application TEXT NOT NULL DEFAULT '',
		cost_price TEXT NOT NULL DEFAULT '0'
			CONSTRAINT product_cost_price CHECK (CAST(cost_price AS REAL) >= 0),
		sale_price TEXT NOT NULL DEFAULT '0'
			CONSTRAINT product_sale_price CHECK (CAST(sale_price AS REAL) >= 0),
		stock_quantity INTEGER NOT NULL DEFAULT 0
			CONSTRAINT stock_non_negative CHECK (stock_quantity >= 0),
		minimum_stock INTEGER NOT NULL DEFAULT 0
			CONSTRAINT product_minimum_stock CHECK (minimum_stock >= 0),
		photo_path TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active'
			CONSTRAINT product_status CHECK (status IN ('active', 'inactive')),
		search_key TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_products_status_search
		ON products(status, search_key);

	-- Append-only ledger
	CREATE TABLE IF NOT EXISTS stock_movements (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
		kind TEXT NOT NULL
			CONSTRAINT movement_kind CHECK (kind IN ('Entrada', 'Saida', 'Ajuste', 'Inicial')),
		direction INTEGER NOT NULL
			CONSTRAINT movement_direction CHECK (
				(kind = 'Saida' AND direction = -1) OR
				(kind IN ('Entrada', 'Inicial') AND direction = 1) OR
				(kind = 'Ajuste' AND direction IN (1, -1))
			),
		quantity INTEGER NOT NULL CONSTRAINT movement_quantity CHECK (quantity > 0),
		unit_cost TEXT
			CONSTRAINT movement_unit_cost CHECK (
				unit_cost IS NULL OR (kind IN ('Entrada', 'Inicial') AND CAST(unit_cost AS REAL) >= 0)
			),
		unit_sale_price TEXT
			CONSTRAINT movement_unit_sale_price CHECK (
				unit_sale_price IS NULL OR (kind = 'Saida' AND CAST(unit_sale_price AS REAL) >= 0)
			),
		note TEXT NOT NULL DEFAULT '',
		actor TEXT,
		created_at TEXT NOT NULL
	);

	-- History hot path: one product, newest first
	CREATE INDEX IF NOT EXISTS idx_movements_product_created
		ON stock_movements(product_id, created_at DESC);

	CREATE INDEX IF NOT EXISTS idx_movements_kind
		ON stock_movements(kind);

	CREATE TRIGGER IF NOT EXISTS stock_movements_immutable
	BEFORE UPDATE ON stock_movements
	BEGIN
		SELECT RAISE(ABORT, 'stock movements are immutable');
	END;

	CREATE TRIGGER IF NOT EXISTS stock_movements_append_only
	BEFORE DELETE ON stock_movements
	WHEN EXISTS (SELECT 1 FROM products WHERE id = OLD.product_id)
	BEGIN
		SELECT RAISE(ABORT, 'stock movements are immutable');
	END;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// UNIT OF WORK (stock.Store interface)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx stock.Tx) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return stock.ErrStoreClosed
	}

	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			sqlTx.Rollback()
		}
	}()

	if err = fn(&txStore{ext: sqlTx}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", translate(err))
	}
	return nil
}

// txStore binds the query functions to one open transaction.
type txStore struct {
	ext sqlx.ExtContext
}

func (ts *txStore) GetProduct(ctx context.Context, id stock.ProductID) (stock.Product, error) {
	return getProduct(ctx, ts.ext, id)
}

func (ts *txStore) ListProducts(ctx context.Context, filter stock.ProductFilter) ([]stock.Product, error) {
	return listProducts(ctx, ts.ext, filter)
}

func (ts *txStore) ListMovements(ctx context.Context, filter stock.MovementFilter) ([]stock.Movement, error) {
	return listMovements(ctx, ts.ext, filter)
}

func (ts *txStore) CountMovements(ctx context.Context, id stock.ProductID) (int, error) {
	return countMovements(ctx, ts.ext, id)
}

func (ts *txStore) LedgerSums(ctx context.Context) (map[stock.ProductID]int64, error) {
	return ledgerSums(ctx, ts.ext)
}

// InsertProduct adds a catalog row at zero stock.
func (ts *txStore) InsertProduct(ctx context.Context, p stock.Product) error {
	if p.StockQuantity != 0 {
		return &stock.ValidationError{Field: "stock_quantity", Reason: "new products start at zero; record an Inicial movement"}
	}
	row := toProductRow(p)

	query := `
		INSERT INTO products
		(id, name, description, code, barcode, brand, application, cost_price, sale_price,
		 stock_quantity, minimum_stock, photo_path, status, search_key, created_at, updated_at)
		VALUES
		(:id, :name, :description, :code, :barcode, :brand, :application, :cost_price, :sale_price,
		 0, :minimum_stock, :photo_path, :status, :search_key, :created_at, :updated_at)
	`
	if _, err := sqlx.NamedExecContext(ctx, ts.ext, query, row); err != nil {
		return fmt.Errorf("failed to insert product: %w", translate(err))
	}
	return nil
}

// UpdateProductDetails rewrites editable columns; stock_quantity is not in the statement.
func (ts *txStore) UpdateProductDetails(ctx context.Context, id stock.ProductID, d stock.ProductDetails, at time.Time) error {
	query := `
		UPDATE products SET
			name = ?, description = ?, code = ?, barcode = ?, brand = ?, application = ?,
			cost_price = ?, sale_price = ?, minimum_stock = ?, photo_path = ?,
			search_key = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := ts.ext.ExecContext(ctx, query,
		d.Name, d.Description, d.Code, nullString(d.Barcode), d.Brand, d.Application,
		d.CostPrice, d.SalePrice, d.MinimumStock, d.PhotoPath,
		stock.SearchKey(d), formatTime(at),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update product: %w", translate(err))
	}
	return requireRow(res)
}

func (ts *txStore) SetProductStatus(ctx context.Context, id stock.ProductID, status stock.Status, at time.Time) error {
	res, err := ts.ext.ExecContext(ctx,
		"UPDATE products SET status = ?, updated_at = ? WHERE id = ?",
		status, formatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update product status: %w", translate(err))
	}
	return requireRow(res)
}

func (ts *txStore) DeleteProduct(ctx context.Context, id stock.ProductID) error {
	res, err := ts.ext.ExecContext(ctx, "DELETE FROM products WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete product: %w", translate(err))
	}
	return requireRow(res)
}

// ApplyDelta changes the balance in one statement. The stock_non_negative
// check is the last line of defence if a caller skipped the engine's check.
func (ts *txStore) ApplyDelta(ctx context.Context, id stock.ProductID, delta int64, at time.Time) error {
	res, err := ts.ext.ExecContext(ctx,
		"UPDATE products SET stock_quantity = stock_quantity + ?, updated_at = ? WHERE id = ?",
		delta, formatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("failed to apply stock delta: %w", translate(err))
	}
	return requireRow(res)
}

// AppendMovement adds a ledger row. This is the only statement that writes
// stock_movements.
func (ts *txStore) AppendMovement(ctx context.Context, m stock.Movement) error {
	query := `
		INSERT INTO stock_movements
		(id, product_id, kind, direction, quantity, unit_cost, unit_sale_price, note, actor, created_at)
		VALUES
		(:id, :product_id, :kind, :direction, :quantity, :unit_cost, :unit_sale_price, :note, :actor, :created_at)
	`
	if _, err := sqlx.NamedExecContext(ctx, ts.ext, query, toMovementRow(m)); err != nil {
		return fmt.Errorf("failed to append movement: %w", translate(err))
	}
	return nil
}

// =============================================================================
// READS (stock.Reader interface)
// =============================================================================

func (s *Store) GetProduct(ctx context.Context, id stock.ProductID) (stock.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return stock.Product{}, stock.ErrStoreClosed
	}
	return getProduct(ctx, s.db, id)
}

func (s *Store) ListProducts(ctx context.Context, filter stock.ProductFilter) ([]stock.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, stock.ErrStoreClosed
	}
	return listProducts(ctx, s.db, filter)
}

func (s *Store) ListMovements(ctx context.Context, filter stock.MovementFilter) ([]stock.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, stock.ErrStoreClosed
	}
	return listMovements(ctx, s.db, filter)
}

func (s *Store) CountMovements(ctx context.Context, id stock.ProductID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, stock.ErrStoreClosed
	}
	return countMovements(ctx, s.db, id)
}

func (s *Store) LedgerSums(ctx context.Context) (map[stock.ProductID]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, stock.ErrStoreClosed
	}
	return ledgerSums(ctx, s.db)
}

const productColumns = `id, name, description, code, barcode, brand, application, cost_price, sale_price,
	stock_quantity, minimum_stock, photo_path, status, search_key, created_at, updated_at`

const movementColumns = `id, product_id, kind, direction, quantity, unit_cost, unit_sale_price,
	note, actor, created_at`

func getProduct(ctx context.Context, q sqlx.QueryerContext, id stock.ProductID) (stock.Product, error) {
	var row productRow
	err := sqlx.GetContext(ctx, q, &row, "SELECT "+productColumns+" FROM products WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return stock.Product{}, fmt.Errorf("%w: %s", stock.ErrProductNotFound, id)
	}
	if err != nil {
		return stock.Product{}, fmt.Errorf("failed to get product: %w", err)
	}
	return row.toProduct()
}

func listProducts(ctx context.Context, q sqlx.QueryerContext, filter stock.ProductFilter) ([]stock.Product, error) {
	statuses := filter.Status.Statuses()
	query, args, err := sqlx.In("SELECT "+productColumns+" FROM products WHERE status IN (?)", statuses)
	if err != nil {
		return nil, err
	}
	if filter.SearchKey != "" {
		query += ` AND search_key LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(filter.SearchKey)+"%")
	}
	if filter.LowStockOnly {
		query += " AND stock_quantity <= minimum_stock"
	}
	query += " ORDER BY search_key, id"

	var rows []productRow
	if err := sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	products := make([]stock.Product, 0, len(rows))
	for _, r := range rows {
		p, err := r.toProduct()
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, nil
}

func listMovements(ctx context.Context, q sqlx.QueryerContext, filter stock.MovementFilter) ([]stock.Movement, error) {
	query := "SELECT " + movementColumns + " FROM stock_movements WHERE product_id = ?"
	args := []any{filter.ProductID}
	if len(filter.Kinds) > 0 {
		in, inArgs, err := sqlx.In(" AND kind IN (?)", filter.Kinds)
		if err != nil {
			return nil, err
		}
		query += in
		args = append(args, inArgs...)
	}
	// rowid breaks ties between movements committed in the same instant
	query += " ORDER BY created_at DESC, rowid DESC"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	} else if filter.Offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, filter.Offset)
	}

	var rows []movementRow
	if err := sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query movements: %w", err)
	}

	movements := make([]stock.Movement, 0, len(rows))
	for _, r := range rows {
		m, err := r.toMovement()
		if err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, nil
}

func countMovements(ctx context.Context, q sqlx.QueryerContext, id stock.ProductID) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, q, &n, "SELECT COUNT(*) FROM stock_movements WHERE product_id = ?", id)
	return n, err
}

func ledgerSums(ctx context.Context, q sqlx.QueryerContext) (map[stock.ProductID]int64, error) {
	var rows []struct {
		ProductID string `db:"product_id"`
		Total     int64  `db:"total"`
	}
	err := sqlx.SelectContext(ctx, q, &rows,
		"SELECT product_id, SUM(direction * quantity) AS total FROM stock_movements GROUP BY product_id")
	if err != nil {
		return nil, fmt.Errorf("failed to sum ledger: %w", err)
	}

	sums := make(map[stock.ProductID]int64, len(rows))
	for _, r := range rows {
		sums[stock.ProductID(r.ProductID)] = r.Total
	}
	return sums, nil
}

// =============================================================================
// ROW MAPPING
// =============================================================================

type productRow struct {
	ID            string          `db:"id"`
	Name          string          `db:"name"`
	Description   string          `db:"description"`
	Code          string          `db:"code"`
	Barcode       sql.NullString  `db:"barcode"`
	Brand         string          `db:"brand"`
	Application   string          `db:"application"`
	CostPrice     decimal.Decimal `db:"cost_price"`
	SalePrice     decimal.Decimal `db:"sale_price"`
	StockQuantity int64           `db:"stock_quantity"`
	MinimumStock  int64           `db:"minimum_stock"`
	PhotoPath     string          `db:"photo_path"`
	Status        string          `db:"status"`
	SearchKey     string          `db:"search_key"`
	CreatedAt     string          `db:"created_at"`
	UpdatedAt     string          `db:"updated_at"`
}

func toProductRow(p stock.Product) productRow {
	return productRow{
		ID:            string(p.ID),
		Name:          p.Name,
		Description:   p.Description,
		Code:          p.Code,
		Barcode:       nullString(p.Barcode),
		Brand:         p.Brand,
		Application:   p.Application,
		CostPrice:     p.CostPrice,
		SalePrice:     p.SalePrice,
		StockQuantity: p.StockQuantity,
		MinimumStock:  p.MinimumStock,
		PhotoPath:     p.PhotoPath,
		Status:        string(p.Status),
		SearchKey:     stock.SearchKey(p.ProductDetails),
		CreatedAt:     formatTime(p.CreatedAt),
		UpdatedAt:     formatTime(p.UpdatedAt),
	}
}

func (r productRow) toProduct() (stock.Product, error) {
	createdAt, err := parseTime(r.CreatedAt)
	if err != nil {
		return stock.Product{}, err
	}
	updatedAt, err := parseTime(r.UpdatedAt)
	if err != nil {
		return stock.Product{}, err
	}
	return stock.Product{
		ID: stock.ProductID(r.ID),
		ProductDetails: stock.ProductDetails{
			Name:         r.Name,
			Description:  r.Description,
			Code:         r.Code,
			Barcode:      r.Barcode.String,
			Brand:        r.Brand,
			Application:  r.Application,
			CostPrice:    r.CostPrice,
			SalePrice:    r.SalePrice,
			MinimumStock: r.MinimumStock,
			PhotoPath:    r.PhotoPath,
		},
		StockQuantity: r.StockQuantity,
		Status:        stock.Status(r.Status),
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
	}, nil
}

type movementRow struct {
	ID            string              `db:"id"`
	ProductID     string              `db:"product_id"`
	Kind          string              `db:"kind"`
	Direction     int                 `db:"direction"`
	Quantity      int64               `db:"quantity"`
	UnitCost      decimal.NullDecimal `db:"unit_cost"`
	UnitSalePrice decimal.NullDecimal `db:"unit_sale_price"`
	Note          string              `db:"note"`
	Actor         sql.NullString      `db:"actor"`
	CreatedAt     string              `db:"created_at"`
}

func toMovementRow(m stock.Movement) movementRow {
	return movementRow{
		ID:            string(m.ID),
		ProductID:     string(m.ProductID),
		Kind:          string(m.Kind),
		Direction:     int(m.Direction),
		Quantity:      m.Quantity,
		UnitCost:      m.UnitCost,
		UnitSalePrice: m.UnitSalePrice,
		Note:          m.Note,
		Actor:         nullString(m.Actor),
		CreatedAt:     formatTime(m.CreatedAt),
	}
}

func (r movementRow) toMovement() (stock.Movement, error) {
	createdAt, err := parseTime(r.CreatedAt)
	if err != nil {
		return stock.Movement{}, err
	}
	return stock.Movement{
		ID:            stock.MovementID(r.ID),
		ProductID:     stock.ProductID(r.ProductID),
		Kind:          stock.Kind(r.Kind),
		Direction:     stock.Direction(r.Direction),
		Quantity:      r.Quantity,
		UnitCost:      r.UnitCost,
		UnitSalePrice: r.UnitSalePrice,
		Note:          r.Note,
		Actor:         r.Actor.String,
		CreatedAt:     createdAt,
	}, nil
}

// Helper functions

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return stock.ErrProductNotFound
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
