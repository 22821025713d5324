// Package feed loads the price bars a backtest session replays, either from
// the local bar store or from the Alpaca market-data API.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"simbroker/internal/domain"
	"simbroker/internal/store"
)

// ErrNoBars is returned when a load finds no bars for any requested symbol.
var ErrNoBars = errors.New("no bars")

// Feed yields the bars of several symbols over a date range, sorted by
// timestamp and then symbol.
type Feed interface {
	Load(ctx context.Context, symbols []string, start, end time.Time) ([]domain.Bar, error)
}

// Compile-time interface check.
var _ Feed = (*StoreFeed)(nil)

// StoreFeed reads bars from a BarStore, one goroutine per symbol.
type StoreFeed struct {
	store   store.BarStore
	market  string
	workers int
	log     *slog.Logger
}

// NewStoreFeed creates a StoreFeed over s for market. workers bounds the
// number of concurrent symbol reads; values below one mean 8.
func NewStoreFeed(s store.BarStore, market string, workers int) *StoreFeed {
	if workers < 1 {
		workers = 8
	}
	if market == "" {
		market = string(domain.MarketUS)
	}
	return &StoreFeed{
		store:   s,
		market:  market,
		workers: workers,
		log:     slog.Default().With("feed", "store"),
	}
}

// Load reads every symbol in parallel. A symbol with no stored bars is
// skipped with a warning; any read error aborts the load.
func (f *StoreFeed) Load(ctx context.Context, symbols []string, start, end time.Time) ([]domain.Bar, error) {
	results := make([][]domain.Bar, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers)
	for i, sym := range symbols {
		g.Go(func() error {
			bars, err := f.store.ReadBars(gctx, strings.ToUpper(sym), f.market, start, end)
			if err != nil {
				return fmt.Errorf("reading %s bars: %w", sym, err)
			}
			results[i] = bars
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []domain.Bar
	for i, bars := range results {
		if len(bars) == 0 {
			f.log.Warn("no bars in range", "symbol", symbols[i], "start", start.Format(time.DateOnly), "end", end.Format(time.DateOnly))
			continue
		}
		out = append(out, bars...)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s %s..%s: %w", strings.Join(symbols, ","), start.Format(time.DateOnly), end.Format(time.DateOnly), ErrNoBars)
	}
	SortBars(out)
	f.log.Info("bars loaded", "symbols", len(symbols), "bars", len(out))
	return out, nil
}

// SortBars orders bars by timestamp and then symbol, in place.
func SortBars(bars []domain.Bar) {
	sort.SliceStable(bars, func(i, j int) bool {
		if !bars[i].Timestamp.Equal(bars[j].Timestamp) {
			return bars[i].Timestamp.Before(bars[j].Timestamp)
		}
		return bars[i].Symbol < bars[j].Symbol
	})
}
