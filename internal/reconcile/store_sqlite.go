package reconcile

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/bnzr-team/grinder/internal/core"
)

// SQLiteExpectedStore persists expected orders across restarts so a
// freshly started instance can reconcile against orders placed by its
// previous incarnation.
type SQLiteExpectedStore struct {
	db *sql.DB
}

// NewSQLiteExpectedStore opens (or creates) the database at path.
func NewSQLiteExpectedStore(path string) (*SQLiteExpectedStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open expected store: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS expected_orders (
			client_order_id TEXT PRIMARY KEY,
			order_id        TEXT NOT NULL,
			symbol          TEXT NOT NULL,
			side            TEXT NOT NULL,
			price           TEXT NOT NULL,
			qty             TEXT NOT NULL,
			status          TEXT NOT NULL,
			created_ts_ms   INTEGER NOT NULL
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create expected_orders table: %w", err)
	}
	return &SQLiteExpectedStore{db: db}, nil
}

// Save upserts one expected order.
func (s *SQLiteExpectedStore) Save(order ExpectedOrder) error {
	_, err := s.db.Exec(`
		INSERT INTO expected_orders
			(client_order_id, order_id, symbol, side, price, qty, status, created_ts_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_order_id) DO UPDATE SET
			order_id = excluded.order_id,
			status   = excluded.status`,
		order.ClientOrderID, order.OrderID, order.Symbol, string(order.Side),
		order.Price.String(), order.Qty.String(), string(order.Status), order.CreatedTsMs)
	return err
}

// LoadOpen returns every non-terminal expected order.
func (s *SQLiteExpectedStore) LoadOpen() ([]ExpectedOrder, error) {
	rows, err := s.db.Query(`
		SELECT client_order_id, order_id, symbol, side, price, qty, status, created_ts_ms
		FROM expected_orders
		WHERE status NOT IN ('FILLED', 'CANCELLED', 'REJECTED', 'EXPIRED')
		ORDER BY created_ts_ms`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExpectedOrder
	for rows.Next() {
		var o ExpectedOrder
		var side, price, qty, status string
		if err := rows.Scan(&o.ClientOrderID, &o.OrderID, &o.Symbol, &side, &price, &qty, &status, &o.CreatedTsMs); err != nil {
			return nil, err
		}
		o.Side = core.OrderSide(side)
		o.Status = core.OrderState(status)
		if o.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("corrupt price for %s: %w", o.ClientOrderID, err)
		}
		if o.Qty, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("corrupt qty for %s: %w", o.ClientOrderID, err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Prune deletes terminal orders created before the cutoff.
func (s *SQLiteExpectedStore) Prune(cutoffTsMs int64) error {
	_, err := s.db.Exec(`
		DELETE FROM expected_orders
		WHERE created_ts_ms < ?
		  AND status IN ('FILLED', 'CANCELLED', 'REJECTED', 'EXPIRED')`, cutoffTsMs)
	return err
}

// Close releases the database handle.
func (s *SQLiteExpectedStore) Close() error { return s.db.Close() }
