package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"inventory-agent/internal/domain"

	_ "modernc.org/sqlite"
)

// movementTimeLayout is how movement timestamps are stored. The fixed-width
// UTC form sorts lexically and is understood by SQLite's date().
const movementTimeLayout = "2006-01-02T15:04:05Z"

const inventorySchema = `
CREATE TABLE IF NOT EXISTS products (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	quantity INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS movements (
	id INTEGER PRIMARY KEY,
	product_id INTEGER NOT NULL REFERENCES products(id),
	change INTEGER NOT NULL,
	date TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_movements_product_date ON movements(product_id, date);
`

const earliestMovementSQL = `SELECT MIN(m.date)
FROM movements m
JOIN products p ON p.id = m.product_id
WHERE p.name = ?;`

// InventoryStore runs read queries against the SQLite inventory database.
type InventoryStore struct {
	db *sql.DB
}

// OpenInventory opens (or creates) the inventory database at path and
// ensures the schema exists.
func OpenInventory(ctx context.Context, path string) (*InventoryStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("repository: inventory path must not be empty")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("repository: open inventory: %w", err)
	}
	// one writer keeps seeding and reads consistent on a single file
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, inventorySchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("repository: init inventory schema: %w", err)
	}
	return &InventoryStore{db: db}, nil
}

// Close releases the database handle.
func (s *InventoryStore) Close() error {
	return s.db.Close()
}

// EarliestMovement returns the timestamp of the product's oldest movement.
// ok is false when the product has no movements (or does not exist).
func (s *InventoryStore) EarliestMovement(ctx context.Context, product string) (time.Time, bool, error) {
	var raw sql.NullString
	if err := s.db.QueryRowContext(ctx, earliestMovementSQL, product).Scan(&raw); err != nil {
		return time.Time{}, false, fmt.Errorf("repository: EarliestMovement: %w", err)
	}
	if !raw.Valid {
		return time.Time{}, false, nil
	}
	ts, err := parseMovementTime(raw.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("repository: EarliestMovement: %w", err)
	}
	return ts, true, nil
}

// Run executes op and decodes its rows according to op.Kind. A missing
// product yields an empty Result, not an error.
func (s *InventoryStore) Run(ctx context.Context, op domain.RetrievalOp) (domain.Result, error) {
	if strings.TrimSpace(op.SQL) == "" {
		return domain.Result{}, errors.New("repository: Run: empty query")
	}
	rows, err := s.db.QueryContext(ctx, op.SQL, op.Args...)
	if err != nil {
		return domain.Result{}, fmt.Errorf("repository: Run %s: %w", op.Kind, err)
	}
	defer func() { _ = rows.Close() }()

	res := domain.Result{Kind: op.Kind}
	switch op.Kind {
	case domain.KindBalance:
		if rows.Next() {
			var row domain.BalanceRow
			if err := rows.Scan(&row.Quantity); err != nil {
				return domain.Result{}, fmt.Errorf("repository: Run balance scan: %w", err)
			}
			res.Balance = &row
		}
	case domain.KindHistory:
		for rows.Next() {
			var (
				row  domain.MovementRow
				date string
			)
			if err := rows.Scan(&row.Change, &date); err != nil {
				return domain.Result{}, fmt.Errorf("repository: Run history scan: %w", err)
			}
			if row.Date, err = parseMovementTime(date); err != nil {
				return domain.Result{}, fmt.Errorf("repository: Run history: %w", err)
			}
			res.History = append(res.History, row)
		}
	case domain.KindProjection:
		if rows.Next() {
			var (
				row domain.ProjectionRow
				net sql.NullInt64
			)
			if err := rows.Scan(&row.CurrentStock, &net); err != nil {
				return domain.Result{}, fmt.Errorf("repository: Run projection scan: %w", err)
			}
			row.NetMovement = int(net.Int64)
			res.Projection = &row
		}
	default:
		return domain.Result{}, fmt.Errorf("repository: Run: unsupported kind %d", op.Kind)
	}
	if err := rows.Err(); err != nil {
		return domain.Result{}, fmt.Errorf("repository: Run %s rows: %w", op.Kind, err)
	}
	return res, nil
}

// Counts returns the number of products and movements in the store.
func (s *InventoryStore) Counts(ctx context.Context) (products, movements int, err error) {
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products;`).Scan(&products); err != nil {
		return 0, 0, fmt.Errorf("repository: Counts products: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM movements;`).Scan(&movements); err != nil {
		return 0, 0, fmt.Errorf("repository: Counts movements: %w", err)
	}
	return products, movements, nil
}

// Product is one row of the products table.
type Product struct {
	ID       int64
	Name     string
	Quantity int
}

// Products lists every product ordered by id.
func (s *InventoryStore) Products(ctx context.Context) ([]Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, quantity FROM products ORDER BY id;`)
	if err != nil {
		return nil, fmt.Errorf("repository: Products: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Quantity); err != nil {
			return nil, fmt.Errorf("repository: Products scan: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: Products rows: %w", err)
	}
	return out, nil
}

func formatMovementTime(t time.Time) string {
	return t.UTC().Format(movementTimeLayout)
}

func parseMovementTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{movementTimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05", time.DateOnly} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse movement date %q", raw)
}
