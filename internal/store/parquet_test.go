package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"simbroker/internal/domain"
)

func dayBar(symbol string, y int, m time.Month, d int, px float64) domain.Bar {
	return domain.Bar{
		Symbol:     symbol,
		Timestamp:  time.Date(y, m, d, 5, 0, 0, 0, time.UTC),
		Open:       px - 1,
		High:       px + 1,
		Low:        px - 2,
		Close:      px,
		Volume:     1_000_000,
		TradeCount: 10_000,
		VWAP:       px,
	}
}

func TestParquetStorePaths(t *testing.T) {
	ps := NewParquetStore("/data")

	if got, want := ps.barPath("aapl", "us", 2024), filepath.Join("/data", "us", "daily", "AAPL", "2024.parquet"); got != want {
		t.Errorf("barPath = %s, want %s", got, want)
	}
	if got, want := ps.tradesPath("run-1"), filepath.Join("/data", "backtests", "run-1", "trades.parquet"); got != want {
		t.Errorf("tradesPath = %s, want %s", got, want)
	}
}

func TestParquetStoreBarsAcrossYears(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	bars := []domain.Bar{
		dayBar("AAPL", 2024, 1, 3, 186),
		dayBar("AAPL", 2023, 12, 29, 192),
		dayBar("AAPL", 2024, 1, 2, 185.5),
	}
	if err := ps.WriteBars(ctx, bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	got, err := ps.ReadBars(ctx, "AAPL", "us",
		time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ReadBars returned %d bars, want 3", len(got))
	}
	wantCloses := []float64{192, 185.5, 186}
	for i, c := range wantCloses {
		if got[i].Close != c {
			t.Errorf("bar %d Close = %v, want %v", i, got[i].Close, c)
		}
	}
	if got[0].Volume != 1_000_000 || got[0].TradeCount != 10_000 {
		t.Errorf("bar 0 volume/trades = %d/%d", got[0].Volume, got[0].TradeCount)
	}

	// Range filtering inside one year file.
	got, err = ps.ReadBars(ctx, "AAPL", "us",
		time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 1 || got[0].Close != 186 {
		t.Errorf("ReadBars(2024-01-03..) = %+v, want the 186 bar only", got)
	}
}

func TestParquetStoreMergeBars(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	if err := ps.WriteBars(ctx, []domain.Bar{dayBar("MSFT", 2024, 3, 1, 403)}); err != nil {
		t.Fatalf("WriteBars (first): %v", err)
	}
	// Same symbol and year: merged, and the repeated day replaced.
	second := []domain.Bar{dayBar("MSFT", 2024, 3, 4, 408), dayBar("MSFT", 2024, 3, 1, 404)}
	if err := ps.WriteBars(ctx, second); err != nil {
		t.Fatalf("WriteBars (second): %v", err)
	}

	got, err := ps.ReadBars(ctx, "MSFT", "us",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadBars returned %d bars after merge, want 2", len(got))
	}
	if got[0].Close != 404 {
		t.Errorf("merged bar Close = %v, want 404", got[0].Close)
	}
}

func TestParquetStoreMissingSymbol(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	got, err := ps.ReadBars(context.Background(), "NOPE", "us",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC))
	if err != nil || len(got) != 0 {
		t.Errorf("ReadBars(NOPE) = %v, %v; want no bars and no error", got, err)
	}
	symbols, err := ps.ListSymbols(context.Background(), "cn")
	if err != nil || len(symbols) != 0 {
		t.Errorf("ListSymbols(cn) = %v, %v; want empty", symbols, err)
	}
}

func TestParquetStoreListSymbols(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	bars := []domain.Bar{dayBar("googl", 2024, 1, 2, 140.5), dayBar("AAPL", 2024, 1, 2, 185.5)}
	if err := ps.WriteBars(ctx, bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	symbols, err := ps.ListSymbols(ctx, "us")
	if err != nil {
		t.Fatalf("ListSymbols: %v", err)
	}
	if len(symbols) != 2 || symbols[0] != "AAPL" || symbols[1] != "GOOGL" {
		t.Errorf("ListSymbols = %v, want [AAPL GOOGL]", symbols)
	}
}

func TestParquetStoreTrades(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	at := time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC)

	recs := []domain.TradeRecord{
		{
			Time: at, Ref: 1, Symbol: "AAPL", Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket,
			Size: decimal.NewFromInt(10), Price: decimal.RequireFromString("100.25"),
			Commission: decimal.RequireFromString("0.1"), PnL: decimal.Zero,
			PositionSize: decimal.NewFromInt(10), PositionPrice: decimal.RequireFromString("100.25"),
			Cash: decimal.RequireFromString("8997.4"), Status: domain.OrderStatusCompleted,
		},
		{
			Time: at.Add(24 * time.Hour), Ref: 2, Symbol: "AAPL", Side: domain.OrderSideSell, Type: domain.OrderTypeLimit,
			Size: decimal.NewFromInt(-10), Price: decimal.RequireFromString("101"),
			Commission: decimal.RequireFromString("0.1"), PnL: decimal.RequireFromString("7.5"),
			PositionSize: decimal.Zero, PositionPrice: decimal.Zero,
			Cash: decimal.RequireFromString("10007.3"), Status: domain.OrderStatusCompleted,
		},
	}

	path, err := ps.WriteTrades("run-1", recs)
	if err != nil {
		t.Fatalf("WriteTrades: %v", err)
	}
	if path != ps.tradesPath("run-1") {
		t.Errorf("WriteTrades path = %s, want %s", path, ps.tradesPath("run-1"))
	}

	got, err := ps.ReadTrades("run-1")
	if err != nil {
		t.Fatalf("ReadTrades: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadTrades returned %d records, want 2", len(got))
	}
	if !got[0].Time.Equal(at) || got[0].Ref != 1 || got[0].Side != domain.OrderSideBuy {
		t.Errorf("first record = %+v", got[0])
	}
	if !got[1].Size.Equal(decimal.NewFromInt(-10)) || !got[1].PnL.Equal(decimal.RequireFromString("7.5")) {
		t.Errorf("second record size/pnl = %s/%s, want -10/7.5", got[1].Size, got[1].PnL)
	}
	if !got[1].Cash.Equal(decimal.RequireFromString("10007.3")) {
		t.Errorf("second record cash = %s, want 10007.3", got[1].Cash)
	}
}
