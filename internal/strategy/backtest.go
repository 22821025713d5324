package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/shopspring/decimal"

	"simbroker/internal/broker"
	"simbroker/internal/domain"
	"simbroker/internal/engine"
	"simbroker/internal/exchange"
	"simbroker/internal/feed"
	"simbroker/internal/store"
)

// ErrUnknownStrategy is returned by Run for a name missing from the registry.
var ErrUnknownStrategy = errors.New("unknown strategy")

// BacktestResult holds the summary metrics produced by a backtest run.
type BacktestResult struct {
	TotalReturn  float64
	SharpeRatio  float64
	MaxDrawdown  float64
	TotalTrades  int // fills
	WinRate      float64
	ProfitFactor float64

	StartingCash decimal.Decimal
	FinalCash    decimal.Decimal
	FinalValue   decimal.Decimal
	Positions    map[string]domain.Position
	Equity       []engine.EquityPoint
	Trades       []domain.TradeRecord
	Orders       int
}

// BacktestOptions wires the broker collaborators of a run. The zero value
// runs without commission, with whole fills and with direct acceptance.
type BacktestOptions struct {
	Broker     broker.Config
	Commission broker.CommissionScheme
	Filler     broker.Filler

	// MaxPositionPct limits a single position to this share of account
	// value. Only used with Broker.CheckSubmit.
	MaxPositionPct float64

	Calendar exchange.SessionCalendar

	// JournalPath appends every fill to a CSV file. Journal, when set, also
	// receives every fill.
	JournalPath string
	Journal     broker.Journal

	// Orders receives a snapshot of every order notification.
	Orders store.OrderStore

	Logger *slog.Logger
}

// Backtester replays historical bar data through a strategy and computes
// performance metrics.
type Backtester struct {
	feed     feed.Feed
	registry *Registry
	opts     BacktestOptions
	log      *slog.Logger
}

// NewBacktester creates a Backtester that loads bars from f and looks up
// strategies in the provided registry.
func NewBacktester(f feed.Feed, registry *Registry, opts BacktestOptions) *Backtester {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Backtester{
		feed:     f,
		registry: registry,
		opts:     opts,
		log:      log.With("component", "backtest"),
	}
}

// Run executes a backtest for the named strategy over the specified symbols
// and date range, starting with initialCapital.
func (bt *Backtester) Run(
	ctx context.Context,
	name string,
	symbols []string,
	start, end time.Time,
	initialCapital float64,
) (*BacktestResult, error) {
	strat, ok := bt.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownStrategy)
	}
	bars, err := bt.feed.Load(ctx, symbols, start, end)
	if err != nil {
		return nil, fmt.Errorf("loading bars: %w", err)
	}
	return bt.RunBars(ctx, strat, bars, decimal.NewFromFloat(initialCapital))
}

// RunBars runs strat over already loaded bars.
func (bt *Backtester) RunBars(ctx context.Context, strat Strategy, bars []domain.Bar, capital decimal.Decimal) (*BacktestResult, error) {
	if err := strat.Init(ctx); err != nil {
		return nil, fmt.Errorf("init %s: %w", strat.Name(), err)
	}

	rec := &recordingJournal{next: bt.opts.Journal}
	if bt.opts.JournalPath != "" {
		csv, err := broker.OpenCSVJournal(bt.opts.JournalPath)
		if err != nil {
			return nil, err
		}
		rec.extra = csv
	}

	cfg := bt.opts.Broker
	cfg.StartingCash = capital

	ex := exchange.NewLocal(bt.opts.Calendar, cfg.EOSBar, bt.log)
	var checker broker.SubmitChecker
	if cfg.CheckSubmit {
		checker = engine.NewRiskManager(bt.opts.MaxPositionPct, bt.opts.Commission)
	}
	b := broker.NewSimulatorBroker(cfg, broker.Options{
		Placer:     ex,
		Commission: bt.opts.Commission,
		Filler:     bt.opts.Filler,
		Checker:    checker,
		Journal:    rec,
		Logger:     bt.log,
	})

	fills := newFillTracker()
	hooks := engine.Hooks{
		OnBar: func(ctx context.Context, bar domain.Bar) error {
			return strat.OnBar(ctx, bar, b)
		},
		OnOrder: func(ctx context.Context, o *domain.Order) error {
			fills.observe(o)
			if bt.opts.Orders != nil {
				if err := bt.opts.Orders.SaveOrder(ctx, o); err != nil {
					return err
				}
			}
			return strat.OnOrder(ctx, o)
		},
	}
	eng := engine.NewEngine(b, ex, hooks, bt.log)

	bt.log.Info("backtest starting", "strategy", strat.Name(), "bars", len(bars), "cash", capital.String())
	if err := eng.Run(ctx, bars); err != nil {
		return nil, err
	}

	res := &BacktestResult{
		StartingCash: capital,
		FinalCash:    b.Cash(),
		FinalValue:   b.Value(),
		Positions:    b.Positions(),
		Equity:       eng.Equity(),
		Trades:       rec.records,
		Orders:       fills.orders(),
	}
	res.computeMetrics(fills.bits)

	bt.log.Info("backtest finished",
		"strategy", strat.Name(),
		"return", fmt.Sprintf("%.4f", res.TotalReturn),
		"trades", res.TotalTrades,
		"value", res.FinalValue.String(),
	)
	return res, nil
}

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

// tradingDays annualises per-step returns of daily bars.
const tradingDays = 252

func (r *BacktestResult) computeMetrics(bits []domain.ExecutionBit) {
	if !r.StartingCash.IsZero() {
		r.TotalReturn = r.FinalValue.Sub(r.StartingCash).Div(r.StartingCash).InexactFloat64()
	}

	values := make([]float64, 0, len(r.Equity)+1)
	values = append(values, r.StartingCash.InexactFloat64())
	for _, p := range r.Equity {
		values = append(values, p.Value.InexactFloat64())
	}
	r.SharpeRatio = sharpe(values)
	r.MaxDrawdown = maxDrawdown(values)

	r.TotalTrades = len(bits)
	var wins, closes int
	grossWin, grossLoss := decimal.Zero, decimal.Zero
	for _, bit := range bits {
		if bit.Closed.IsZero() {
			continue
		}
		closes++
		net := bit.PnL.Sub(bit.ClosedComm)
		if net.IsPositive() {
			wins++
			grossWin = grossWin.Add(net)
		} else {
			grossLoss = grossLoss.Add(net.Neg())
		}
	}
	if closes > 0 {
		r.WinRate = float64(wins) / float64(closes)
	}
	switch {
	case grossLoss.IsPositive():
		r.ProfitFactor = grossWin.Div(grossLoss).InexactFloat64()
	case grossWin.IsPositive():
		r.ProfitFactor = math.Inf(1)
	}
}

// sharpe is the annualised mean over sample standard deviation of step
// returns.
func sharpe(values []float64) float64 {
	if len(values) < 3 {
		return 0
	}
	rets := make(stats.Float64Data, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] == 0 {
			continue
		}
		rets = append(rets, values[i]/values[i-1]-1)
	}
	if len(rets) < 2 {
		return 0
	}
	mean, err := stats.Mean(rets)
	if err != nil {
		return 0
	}
	sd, err := stats.StandardDeviationSample(rets)
	if err != nil || sd == 0 {
		return 0
	}
	return mean / sd * math.Sqrt(tradingDays)
}

// maxDrawdown is the largest peak-to-trough fall as a fraction of the peak.
func maxDrawdown(values []float64) float64 {
	var peak, dd float64
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			dd = math.Max(dd, (peak-v)/peak)
		}
	}
	return dd
}

// ---------------------------------------------------------------------------
// Collectors
// ---------------------------------------------------------------------------

// fillTracker picks the new execution bits out of order snapshots.
type fillTracker struct {
	seen map[uint64]int
	bits []domain.ExecutionBit
}

func newFillTracker() *fillTracker {
	return &fillTracker{seen: make(map[uint64]int)}
}

func (f *fillTracker) observe(o *domain.Order) {
	n := f.seen[o.Ref]
	if len(o.Executed.Bits) > n {
		f.bits = append(f.bits, o.Executed.Bits[n:]...)
	}
	f.seen[o.Ref] = max(n, len(o.Executed.Bits))
}

func (f *fillTracker) orders() int { return len(f.seen) }

// recordingJournal keeps every trade record in memory and forwards it.
type recordingJournal struct {
	records []domain.TradeRecord
	next    broker.Journal
	extra   broker.Journal
}

func (j *recordingJournal) Record(rec domain.TradeRecord) error {
	j.records = append(j.records, rec)
	var errs []error
	for _, sink := range []broker.Journal{j.next, j.extra} {
		if sink != nil {
			errs = append(errs, sink.Record(rec))
		}
	}
	return errors.Join(errs...)
}

func (j *recordingJournal) Close() error {
	if j.extra == nil {
		return nil
	}
	return j.extra.Close()
}
