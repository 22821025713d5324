package feed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"simbroker/internal/domain"
	"simbroker/internal/store"
	"simbroker/internal/util"
)

// Compile-time interface check.
var _ Feed = (*AlpacaFeed)(nil)

// barsClient is the subset of the Alpaca market-data client used here.
type barsClient interface {
	GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error)
}

// AlpacaOptions configures an AlpacaFeed.
type AlpacaOptions struct {
	APIKey    string
	APISecret string
	DataURL   string
	Feed      string // "sip" or "iex"; empty means "sip"

	BatchSize       int // symbols per request; default 1000
	RateLimitPerMin int // default 200
	MaxAttempts     int // per batch; default 3

	// Cache, when set, receives every fetched batch.
	Cache store.BarStore
}

// AlpacaFeed downloads daily bars from the Alpaca market-data API.
type AlpacaFeed struct {
	client  barsClient
	opts    AlpacaOptions
	limiter *util.RateLimiter
	log     *slog.Logger
}

// NewAlpacaFeed creates an AlpacaFeed with the given credentials.
func NewAlpacaFeed(opts AlpacaOptions) *AlpacaFeed {
	co := marketdata.ClientOpts{
		APIKey:    opts.APIKey,
		APISecret: opts.APISecret,
	}
	if opts.DataURL != "" {
		co.BaseURL = opts.DataURL
	}
	return newAlpacaFeed(marketdata.NewClient(co), opts)
}

func newAlpacaFeed(c barsClient, opts AlpacaOptions) *AlpacaFeed {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}
	if opts.RateLimitPerMin <= 0 {
		opts.RateLimitPerMin = 200
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Feed == "" {
		opts.Feed = "sip"
	}
	return &AlpacaFeed{
		client:  c,
		opts:    opts,
		limiter: util.NewRateLimiter(opts.RateLimitPerMin, 1),
		log:     slog.Default().With("feed", "alpaca"),
	}
}

// Load fetches the bars of symbols in batches, retrying failed requests
// with backoff.
func (f *AlpacaFeed) Load(ctx context.Context, symbols []string, start, end time.Time) ([]domain.Bar, error) {
	var out []domain.Bar
	for i := 0; i < len(symbols); i += f.opts.BatchSize {
		batch := symbols[i:min(i+f.opts.BatchSize, len(symbols))]
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		bars, err := util.Retry(ctx, f.opts.MaxAttempts, time.Second, func() ([]domain.Bar, error) {
			return f.fetchMultiBars(ctx, batch, start, end)
		})
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", i/f.opts.BatchSize+1, err)
		}
		if f.opts.Cache != nil && len(bars) > 0 {
			if err := f.opts.Cache.WriteBars(ctx, bars); err != nil {
				return nil, fmt.Errorf("caching bars: %w", err)
			}
		}
		f.log.Info("batch done", "symbols", len(batch), "bars", len(bars))
		out = append(out, bars...)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s %s..%s: %w", strings.Join(symbols, ","), start.Format(time.DateOnly), end.Format(time.DateOnly), ErrNoBars)
	}
	SortBars(out)
	return out, nil
}

func (f *AlpacaFeed) fetchMultiBars(ctx context.Context, symbols []string, start, end time.Time) ([]domain.Bar, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	multiBars, err := f.client.GetMultiBars(symbols, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     start,
		End:       end,
		Feed:      marketdata.Feed(f.opts.Feed),
	})
	if err != nil {
		return nil, fmt.Errorf("GetMultiBars: %w", err)
	}

	var bars []domain.Bar
	for symbol, alpacaBars := range multiBars {
		for _, ab := range alpacaBars {
			bars = append(bars, domain.Bar{
				Symbol:     strings.ToUpper(symbol),
				Timestamp:  ab.Timestamp,
				Open:       ab.Open,
				High:       ab.High,
				Low:        ab.Low,
				Close:      ab.Close,
				Volume:     int64(ab.Volume),
				TradeCount: int64(ab.TradeCount),
				VWAP:       ab.VWAP,
			})
		}
	}
	return bars, nil
}
