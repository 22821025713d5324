// Package store defines storage interfaces for bars, order snapshots and
// trade records, with Parquet and SQLite implementations.
package store

import (
	"context"
	"errors"
	"time"

	"simbroker/internal/domain"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("not found")

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars to storage.
	WriteBars(ctx context.Context, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and market within [start, end].
	ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market string) ([]string, error)
}

// OrderStore persists order snapshots of a backtest session.
type OrderStore interface {
	// SaveOrder inserts the order or replaces the stored snapshot.
	SaveOrder(ctx context.Context, order *domain.Order) error

	// GetOrder retrieves a single order by its ref.
	GetOrder(ctx context.Context, ref uint64) (*domain.Order, error)

	// ListOrders returns all orders in the given status, by ref.
	ListOrders(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error)
}

// TradeStore persists the fills of a backtest session.
type TradeStore interface {
	// SaveTrade appends one trade record.
	SaveTrade(ctx context.Context, rec domain.TradeRecord) error

	// ListTrades returns the trade records for symbol (all symbols when
	// empty) in insertion order.
	ListTrades(ctx context.Context, symbol string) ([]domain.TradeRecord, error)
}
