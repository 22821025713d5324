package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"simbroker/internal/config"
	"simbroker/internal/feed"
	"simbroker/internal/store"
	"simbroker/internal/util"
)

func main() {
	symbolsFlag := flag.String("symbols", "", "comma separated symbols (default backtest.symbols)")
	startFlag := flag.String("start", "", "start date YYYY-MM-DD (default backtest.start_date)")
	endFlag := flag.String("end", "", "end date YYYY-MM-DD (default yesterday)")
	flag.Parse()

	if err := config.LoadEnvFiles(".env"); err != nil {
		log.Fatalf("failed to load .env: %v", err)
	}
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Dual logger: stdout + /tmp log file.
	logFileName := fmt.Sprintf("/tmp/simbroker-bars-%s.log", time.Now().Format(time.DateOnly))
	logFile, err := os.Create(logFileName)
	if err != nil {
		log.Fatalf("failed to create log file: %v", err)
	}
	defer logFile.Close()

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format, io.MultiWriter(os.Stdout, logFile))
	util.SetDefault(logger)

	symbols := cfg.Backtest.Symbols
	if *symbolsFlag != "" {
		symbols = strings.Split(strings.ToUpper(*symbolsFlag), ",")
	}
	if len(symbols) == 0 {
		log.Fatalf("no symbols given")
	}
	startStr := cfg.Backtest.StartDate
	if *startFlag != "" {
		startStr = *startFlag
	}
	start, err := time.Parse(time.DateOnly, startStr)
	if err != nil {
		log.Fatalf("invalid start date %q: %v", startStr, err)
	}
	end := time.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -1)
	if *endFlag != "" {
		if end, err = time.Parse(time.DateOnly, *endFlag); err != nil {
			log.Fatalf("invalid end date %q: %v", *endFlag, err)
		}
	}

	pstore := store.NewParquetStore(cfg.Storage.DataDir)
	f := feed.NewAlpacaFeed(feed.AlpacaOptions{
		APIKey:          cfg.Alpaca.APIKey,
		APISecret:       cfg.Alpaca.APISecret,
		DataURL:         cfg.Alpaca.DataURL,
		Feed:            cfg.Alpaca.Feed,
		BatchSize:       cfg.Alpaca.BatchSize,
		RateLimitPerMin: cfg.Alpaca.RateLimitPerMin,
		Cache:           pstore,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("downloading bars", "symbols", len(symbols), "start", start.Format(time.DateOnly), "end", end.Format(time.DateOnly), "logFile", logFileName)
	bars, err := f.Load(ctx, symbols, start, end)
	if err != nil {
		log.Fatalf("download failed: %v", err)
	}
	slog.Info("bars stored", "bars", len(bars), "dataDir", cfg.Storage.DataDir)
}
