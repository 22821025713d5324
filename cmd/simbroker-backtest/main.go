package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"

	"simbroker/internal/config"
	"simbroker/internal/domain"
	"simbroker/internal/feed"
	"simbroker/internal/store"
	"simbroker/internal/strategy"
	"simbroker/internal/strategy/builtins"
	"simbroker/internal/util"
)

func main() {
	strategyName := flag.String("strategy", "", "strategy to run (overrides backtest.strategy)")
	symbolsFlag := flag.String("symbols", "", "comma separated symbols (overrides backtest.symbols)")
	startFlag := flag.String("start", "", "start date YYYY-MM-DD (overrides backtest.start_date)")
	endFlag := flag.String("end", "", "end date YYYY-MM-DD (overrides backtest.end_date)")
	cashFlag := flag.Float64("cash", 0, "starting cash (overrides broker.starting_cash)")
	session := flag.String("session", defaultSession(), "session id for stored orders and exports")
	flag.Parse()

	if err := config.LoadEnvFiles(".env"); err != nil {
		log.Fatalf("failed to load .env: %v", err)
	}
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *strategyName != "" {
		cfg.Backtest.Strategy = *strategyName
	}
	if *symbolsFlag != "" {
		cfg.Backtest.Symbols = strings.Split(strings.ToUpper(*symbolsFlag), ",")
	}
	if *startFlag != "" {
		cfg.Backtest.StartDate = *startFlag
	}
	if *endFlag != "" {
		cfg.Backtest.EndDate = *endFlag
	}
	if *cashFlag > 0 {
		cfg.Broker.StartingCash = *cashFlag
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format, nil)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, *session, logger); err != nil {
		log.Fatalf("backtest failed: %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config, session string, logger *slog.Logger) error {
	start, end, err := cfg.BacktestRange()
	if err != nil {
		return err
	}
	if len(cfg.Backtest.Symbols) == 0 {
		return fmt.Errorf("no symbols configured")
	}
	commission, err := cfg.CommissionScheme()
	if err != nil {
		return err
	}
	filler, err := cfg.Filler()
	if err != nil {
		return err
	}

	pstore := store.NewParquetStore(cfg.Storage.DataDir)
	opts := strategy.BacktestOptions{
		Broker:         cfg.BrokerSettings(),
		Commission:     commission,
		Filler:         filler,
		MaxPositionPct: cfg.Risk.MaxPositionPct,
		Calendar:       util.NewTradingCalendar(domain.Market(cfg.Backtest.Market)),
		Logger:         logger,
	}

	switch strings.ToLower(cfg.Broker.Journal.Kind) {
	case "", "none":
	case "csv":
		opts.JournalPath = cfg.Broker.Journal.Path
	case "sqlite":
		db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath, session)
		if err != nil {
			return fmt.Errorf("opening sqlite store: %w", err)
		}
		defer db.Close()
		opts.Journal = db
		opts.Orders = db
	default:
		return fmt.Errorf("unknown journal kind %q", cfg.Broker.Journal.Kind)
	}

	size := decimal.NewFromFloat(cfg.Backtest.Size)
	if !size.IsPositive() {
		size = decimal.NewFromInt(100)
	}
	short, long := cfg.Backtest.Short, cfg.Backtest.Long
	if short <= 0 {
		short = 10
	}
	if long <= short {
		long = short * 3
	}
	registry := strategy.NewRegistry()
	registry.Register(builtins.NewSMACross(short, long, size))
	registry.Register(builtins.NewBuyAndHold(size))

	bt := strategy.NewBacktester(feed.NewStoreFeed(pstore, cfg.Backtest.Market, 0), registry, opts)
	res, err := bt.Run(ctx, cfg.Backtest.Strategy, cfg.Backtest.Symbols, start, end, cfg.Broker.StartingCash)
	if err != nil {
		return err
	}

	if len(res.Trades) > 0 {
		path, err := pstore.WriteTrades(session, res.Trades)
		if err != nil {
			return err
		}
		slog.Info("trades exported", "path", path, "trades", len(res.Trades))
	}

	printResult(cfg.Backtest.Strategy, res)
	return nil
}

// defaultSession returns a UTC timestamp with a short random suffix.
func defaultSession() string {
	return time.Now().UTC().Format("20060102-150405") + "-" + uuid.NewString()[:8]
}

func printResult(name string, res *strategy.BacktestResult) {
	summary := tablewriter.NewWriter(os.Stdout)
	summary.SetHeader([]string{"Metric", "Value"})
	summary.SetAlignment(tablewriter.ALIGN_LEFT)
	summary.AppendBulk([][]string{
		{"strategy", name},
		{"starting cash", res.StartingCash.StringFixed(2)},
		{"final cash", res.FinalCash.StringFixed(2)},
		{"final value", res.FinalValue.StringFixed(2)},
		{"total return", fmt.Sprintf("%.2f%%", res.TotalReturn*100)},
		{"sharpe", fmt.Sprintf("%.2f", res.SharpeRatio)},
		{"max drawdown", fmt.Sprintf("%.2f%%", res.MaxDrawdown*100)},
		{"orders / fills", fmt.Sprintf("%d / %d", res.Orders, res.TotalTrades)},
		{"win rate", fmt.Sprintf("%.1f%%", res.WinRate*100)},
		{"profit factor", fmt.Sprintf("%.2f", res.ProfitFactor)},
	})
	summary.Render()

	symbols := make([]string, 0, len(res.Positions))
	for sym, p := range res.Positions {
		if !p.IsFlat() {
			symbols = append(symbols, sym)
		}
	}
	if len(symbols) == 0 {
		return
	}
	sort.Strings(symbols)

	positions := tablewriter.NewWriter(os.Stdout)
	positions.SetHeader([]string{"Symbol", "Size", "Price"})
	for _, sym := range symbols {
		p := res.Positions[sym]
		positions.Append([]string{sym, p.Size.String(), p.Price.StringFixed(4)})
	}
	positions.Render()
}
