package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"simbroker/internal/broker"
	"simbroker/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ OrderStore = (*SQLiteStore)(nil)
var _ TradeStore = (*SQLiteStore)(nil)
var _ broker.Journal = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	session        TEXT    NOT NULL,
	ref            INTEGER NOT NULL,
	symbol         TEXT    NOT NULL,
	side           TEXT    NOT NULL,
	type           TEXT    NOT NULL,
	size           TEXT    NOT NULL,
	price          TEXT,
	price_limit    TEXT,
	valid_until    INTEGER NOT NULL DEFAULT 0,
	status         TEXT    NOT NULL,
	reject_reason  TEXT    NOT NULL DEFAULT '',
	executed_size  TEXT    NOT NULL,
	executed_price TEXT    NOT NULL,
	commission     TEXT    NOT NULL,
	pnl            TEXT    NOT NULL,
	created_at     INTEGER NOT NULL,
	updated_at     INTEGER NOT NULL,
	PRIMARY KEY (session, ref)
);
CREATE TABLE IF NOT EXISTS trades (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	session        TEXT    NOT NULL,
	time           INTEGER NOT NULL,
	ref            INTEGER NOT NULL,
	symbol         TEXT    NOT NULL,
	side           TEXT    NOT NULL,
	type           TEXT    NOT NULL,
	size           TEXT    NOT NULL,
	price          TEXT    NOT NULL,
	commission     TEXT    NOT NULL,
	pnl            TEXT    NOT NULL,
	position_size  TEXT    NOT NULL,
	position_price TEXT    NOT NULL,
	cash           TEXT    NOT NULL,
	status         TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS trades_session_symbol ON trades (session, symbol);
`

// SQLiteStore implements OrderStore and TradeStore backed by a SQLite
// database. Every row is tagged with the session the store was opened for,
// so several backtests can share one file. It also serves as a broker
// trade journal.
type SQLiteStore struct {
	db      *sql.DB
	session string
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// tables when missing and scopes the store to session.
func NewSQLiteStore(dbPath, session string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema in %s: %w", dbPath, err)
	}
	return &SQLiteStore{db: db, session: session}, nil
}

// Session returns the session the store writes to.
func (s *SQLiteStore) Session() string { return s.session }

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Record writes a trade record; it makes the store usable as the broker's
// journal.
func (s *SQLiteStore) Record(rec domain.TradeRecord) error {
	return s.SaveTrade(context.Background(), rec)
}

// ---------------------------------------------------------------------------
// OrderStore implementation
// ---------------------------------------------------------------------------

// SaveOrder upserts the order snapshot.
func (s *SQLiteStore) SaveOrder(ctx context.Context, o *domain.Order) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO orders (session, ref, symbol, side, type, size, price, price_limit, valid_until,
	status, reject_reason, executed_size, executed_price, commission, pnl, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (session, ref) DO UPDATE SET
	status = excluded.status,
	reject_reason = excluded.reject_reason,
	executed_size = excluded.executed_size,
	executed_price = excluded.executed_price,
	commission = excluded.commission,
	pnl = excluded.pnl,
	updated_at = excluded.updated_at`,
		s.session, int64(o.Ref), o.Symbol, string(o.Side), string(o.Type), o.Size,
		nullDecimal(o.Price), nullDecimal(o.PriceLimit), unixMilli(o.ValidUntil),
		string(o.Status), o.RejectReason, o.Executed.Size, o.Executed.Price,
		o.Executed.Commission, o.Executed.PnL, unixMilli(o.CreatedAt), unixMilli(o.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving order %d: %w", o.Ref, err)
	}
	return nil
}

const orderColumns = `ref, symbol, side, type, size, price, price_limit, valid_until, status,
	reject_reason, executed_size, executed_price, commission, pnl, created_at, updated_at`

// GetOrder retrieves a single order by its ref.
func (s *SQLiteStore) GetOrder(ctx context.Context, ref uint64) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE session = ? AND ref = ?`, s.session, int64(ref))
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %d: %w", ref, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

// ListOrders returns all orders matching the given status.
func (s *SQLiteStore) ListOrders(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE session = ? AND status = ? ORDER BY ref`,
		s.session, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(sc scanner) (*domain.Order, error) {
	var (
		o                   domain.Order
		ref                 int64
		side, typ, status   string
		price, priceLimit   decimal.NullDecimal
		validUntil          int64
		createdAt, updateAt int64
	)
	err := sc.Scan(&ref, &o.Symbol, &side, &typ, &o.Size, &price, &priceLimit, &validUntil,
		&status, &o.RejectReason, &o.Executed.Size, &o.Executed.Price, &o.Executed.Commission,
		&o.Executed.PnL, &createdAt, &updateAt)
	if err != nil {
		return nil, err
	}
	o.Ref = uint64(ref)
	o.Side = domain.OrderSide(side)
	o.Type = domain.OrderType(typ)
	o.Status = domain.OrderStatus(status)
	if price.Valid {
		o.Price = &price.Decimal
	}
	if priceLimit.Valid {
		o.PriceLimit = &priceLimit.Decimal
	}
	o.ValidUntil = fromUnixMilli(validUntil)
	o.CreatedAt = fromUnixMilli(createdAt)
	o.UpdatedAt = fromUnixMilli(updateAt)
	return &o, nil
}

// ---------------------------------------------------------------------------
// TradeStore implementation
// ---------------------------------------------------------------------------

// SaveTrade appends one trade record.
func (s *SQLiteStore) SaveTrade(ctx context.Context, r domain.TradeRecord) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO trades (session, time, ref, symbol, side, type, size, price, commission, pnl,
	position_size, position_price, cash, status)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.session, unixMilli(r.Time), int64(r.Ref), r.Symbol, string(r.Side), string(r.Type),
		r.Size, r.Price, r.Commission, r.PnL, r.PositionSize, r.PositionPrice, r.Cash, string(r.Status),
	)
	if err != nil {
		return fmt.Errorf("saving trade for order %d: %w", r.Ref, err)
	}
	return nil
}

// ListTrades returns the session's trade records, optionally for one symbol.
func (s *SQLiteStore) ListTrades(ctx context.Context, symbol string) ([]domain.TradeRecord, error) {
	q := `SELECT time, ref, symbol, side, type, size, price, commission, pnl,
	position_size, position_price, cash, status FROM trades WHERE session = ?`
	args := []any{s.session}
	if symbol != "" {
		q += ` AND symbol = ?`
		args = append(args, symbol)
	}
	q += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TradeRecord
	for rows.Next() {
		var (
			r                 domain.TradeRecord
			ts, ref           int64
			side, typ, status string
		)
		if err := rows.Scan(&ts, &ref, &r.Symbol, &side, &typ, &r.Size, &r.Price, &r.Commission,
			&r.PnL, &r.PositionSize, &r.PositionPrice, &r.Cash, &status); err != nil {
			return nil, err
		}
		r.Time = fromUnixMilli(ts)
		r.Ref = uint64(ref)
		r.Side = domain.OrderSide(side)
		r.Type = domain.OrderType(typ)
		r.Status = domain.OrderStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Column helpers
// ---------------------------------------------------------------------------

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
