package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"

	"simbroker/internal/domain"
)

// Compile-time interface check.
var _ BarStore = (*ParquetStore)(nil)

// ParquetStore keeps daily bars and exported backtest trades as Parquet
// files under DataDir.
type ParquetStore struct {
	DataDir string
	// Market is used by WriteBars; empty means "us".
	Market string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir, Market: string(domain.MarketUS)}
}

// ---------------------------------------------------------------------------
// On-disk schemas
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for daily bar data.
type BarRecord struct {
	Symbol     string  `parquet:"symbol"`
	Timestamp  int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open       float64 `parquet:"open"`
	High       float64 `parquet:"high"`
	Low        float64 `parquet:"low"`
	Close      float64 `parquet:"close"`
	Volume     int64   `parquet:"volume"`
	TradeCount int64   `parquet:"trade_count"`
	VWAP       float64 `parquet:"vwap"`
}

// TradeRow is the Parquet schema for exported trade records. Decimal
// amounts are kept as their exact string form.
type TradeRow struct {
	Timestamp     int64  `parquet:"timestamp,timestamp(millisecond)"`
	Ref           int64  `parquet:"ref"`
	Symbol        string `parquet:"symbol"`
	Side          string `parquet:"side"`
	Type          string `parquet:"type"`
	Size          string `parquet:"size"`
	Price         string `parquet:"price"`
	Commission    string `parquet:"commission"`
	PnL           string `parquet:"pnl"`
	PositionSize  string `parquet:"position_size"`
	PositionPrice string `parquet:"position_price"`
	Cash          string `parquet:"cash"`
	Status        string `parquet:"status"`
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// WriteBars writes bars under the store's market, one file per symbol and
// year:
//
//	<DataDir>/<market>/daily/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) WriteBars(_ context.Context, bars []domain.Bar) error {
	market := s.Market
	if market == "" {
		market = string(domain.MarketUS)
	}
	return s.WriteBarsForMarket(bars, market)
}

// WriteBarsForMarket merges bars into the per symbol+year files of market.
func (s *ParquetStore) WriteBarsForMarket(bars []domain.Bar, market string) error {
	if len(bars) == 0 {
		return nil
	}
	type key struct {
		symbol string
		year   int
	}
	groups := make(map[key][]BarRecord)
	for _, b := range bars {
		k := key{symbol: strings.ToUpper(b.Symbol), year: b.Timestamp.Year()}
		groups[k] = append(groups[k], toBarRecord(b))
	}

	for k, records := range groups {
		path := s.barPath(k.symbol, market, k.year)

		existing, _ := readParquetFile[BarRecord](path)
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", k.symbol, k.year, err)
		}
	}
	return nil
}

// ReadBars returns the bars of symbol within [start, end], oldest first.
// Missing year files are skipped.
func (s *ParquetStore) ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error) {
	var bars []domain.Bar
	for year := start.Year(); year <= end.Year(); year++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := s.barPath(symbol, market, year)
		records, err := readParquetFile[BarRecord](path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).UTC()
			if ts.Before(start) || ts.After(end) {
				continue
			}
			bars = append(bars, fromBarRecord(r))
		}
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	return bars, nil
}

// ListSymbols lists all symbols that have bar data in the given market.
func (s *ParquetStore) ListSymbols(_ context.Context, market string) ([]string, error) {
	dir := filepath.Join(s.DataDir, market, "daily")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// ---------------------------------------------------------------------------
// Trade export
// ---------------------------------------------------------------------------

// WriteTrades replaces the exported trades of a backtest session:
//
//	<DataDir>/backtests/<session>/trades.parquet
func (s *ParquetStore) WriteTrades(session string, recs []domain.TradeRecord) (string, error) {
	rows := make([]TradeRow, len(recs))
	for i, r := range recs {
		rows[i] = TradeRow{
			Timestamp:     r.Time.UnixMilli(),
			Ref:           int64(r.Ref),
			Symbol:        r.Symbol,
			Side:          string(r.Side),
			Type:          string(r.Type),
			Size:          r.Size.String(),
			Price:         r.Price.String(),
			Commission:    r.Commission.String(),
			PnL:           r.PnL.String(),
			PositionSize:  r.PositionSize.String(),
			PositionPrice: r.PositionPrice.String(),
			Cash:          r.Cash.String(),
			Status:        string(r.Status),
		}
	}
	path := s.tradesPath(session)
	if err := writeParquetFile(path, rows); err != nil {
		return "", fmt.Errorf("writing trades for %s: %w", session, err)
	}
	return path, nil
}

// ReadTrades loads the exported trades of a backtest session.
func (s *ParquetStore) ReadTrades(session string) ([]domain.TradeRecord, error) {
	rows, err := readParquetFile[TradeRow](s.tradesPath(session))
	if err != nil {
		return nil, err
	}
	out := make([]domain.TradeRecord, 0, len(rows))
	for _, r := range rows {
		rec := domain.TradeRecord{
			Time:   time.UnixMilli(r.Timestamp).UTC(),
			Ref:    uint64(r.Ref),
			Symbol: r.Symbol,
			Side:   domain.OrderSide(r.Side),
			Type:   domain.OrderType(r.Type),
			Status: domain.OrderStatus(r.Status),
		}
		fields := []struct {
			dst *decimal.Decimal
			src string
		}{
			{&rec.Size, r.Size}, {&rec.Price, r.Price}, {&rec.Commission, r.Commission},
			{&rec.PnL, r.PnL}, {&rec.PositionSize, r.PositionSize},
			{&rec.PositionPrice, r.PositionPrice}, {&rec.Cash, r.Cash},
		}
		for _, f := range fields {
			if *f.dst, err = decimal.NewFromString(f.src); err != nil {
				return nil, fmt.Errorf("trade %d: %w", r.Ref, err)
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// barPath returns the filesystem path for a bar Parquet file.
// Layout: <dataDir>/<market>/daily/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) barPath(symbol, market string, year int) string {
	return filepath.Join(s.DataDir, market, "daily", strings.ToUpper(symbol), fmt.Sprintf("%d.parquet", year))
}

// tradesPath returns the filesystem path of a session's trade export.
func (s *ParquetStore) tradesPath(session string) string {
	return filepath.Join(s.DataDir, "backtests", session, "trades.parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return parquet.ReadFile[T](path)
}

func toBarRecord(b domain.Bar) BarRecord {
	return BarRecord{
		Symbol:     strings.ToUpper(b.Symbol),
		Timestamp:  b.Timestamp.UnixMilli(),
		Open:       b.Open,
		High:       b.High,
		Low:        b.Low,
		Close:      b.Close,
		Volume:     b.Volume,
		TradeCount: b.TradeCount,
		VWAP:       b.VWAP,
	}
}

func fromBarRecord(r BarRecord) domain.Bar {
	return domain.Bar{
		Symbol:     r.Symbol,
		Timestamp:  time.UnixMilli(r.Timestamp).UTC(),
		Open:       r.Open,
		High:       r.High,
		Low:        r.Low,
		Close:      r.Close,
		Volume:     r.Volume,
		TradeCount: r.TradeCount,
		VWAP:       r.VWAP,
	}
}

// mergeBarRecords deduplicates bar records by (symbol, timestamp), preferring
// new records over existing ones.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Timestamp}] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
