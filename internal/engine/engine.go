// Package engine drives a backtest session step by step: it advances the
// broker, feeds bars to the exchange, calls the strategy hooks and drains
// the order notifications.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"simbroker/internal/broker"
	"simbroker/internal/domain"
)

// BarSink receives the bars of each step. The local exchange implements it.
type BarSink interface {
	OnBar(bar domain.Bar) error
}

// Hooks are the per-step callbacks into the strategy. Either may be nil.
type Hooks struct {
	// OnBar is called for every bar after the exchange has processed it.
	OnBar func(ctx context.Context, bar domain.Bar) error
	// OnOrder receives every order notification in queue order.
	OnOrder func(ctx context.Context, order *domain.Order) error
}

// EquityPoint is the account value at the end of a step.
type EquityPoint struct {
	Time  time.Time
	Cash  decimal.Decimal
	Value decimal.Decimal
}

// Engine orchestrates the simulated session.
type Engine struct {
	broker broker.Broker
	sink   BarSink
	hooks  Hooks
	log    *slog.Logger

	equity        []EquityPoint
	notifications int
}

// NewEngine creates an Engine wired with the given dependencies.
func NewEngine(b broker.Broker, sink BarSink, hooks Hooks, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		broker: b,
		sink:   sink,
		hooks:  hooks,
		log:    log.With("component", "engine"),
	}
}

// Run starts the broker, replays bars grouped by timestamp, and stops the
// broker again.
func (e *Engine) Run(ctx context.Context, bars []domain.Bar) (err error) {
	if err := e.broker.Start(); err != nil {
		return fmt.Errorf("starting broker: %w", err)
	}
	defer func() {
		if serr := e.broker.Stop(); serr != nil && err == nil {
			err = fmt.Errorf("stopping broker: %w", serr)
		}
	}()

	steps := GroupByTime(bars)
	e.log.Info("session starting", "steps", len(steps), "bars", len(bars))
	for _, step := range steps {
		if err := e.Step(ctx, step[0].Timestamp, step); err != nil {
			return err
		}
	}
	e.log.Info("session finished",
		"steps", len(steps),
		"notifications", e.notifications,
		"cash", e.broker.Cash().String(),
		"value", e.broker.Value().String(),
	)
	return nil
}

// Step runs one simulated step at time at over bars.
func (e *Engine) Step(ctx context.Context, at time.Time, bars []domain.Bar) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.broker.AdvanceStep(at)

	for _, bar := range bars {
		if e.sink == nil {
			break
		}
		if err := e.sink.OnBar(bar); err != nil {
			return fmt.Errorf("exchange: %w", err)
		}
	}
	if err := e.drain(ctx); err != nil {
		return err
	}

	if e.hooks.OnBar != nil {
		for _, bar := range bars {
			if err := e.hooks.OnBar(ctx, bar); err != nil {
				return fmt.Errorf("strategy on %s: %w", bar.Symbol, err)
			}
		}
	}
	if err := e.drain(ctx); err != nil {
		return err
	}

	e.equity = append(e.equity, EquityPoint{
		Time:  at,
		Cash:  e.broker.Cash(),
		Value: e.broker.Value(),
	})
	return nil
}

// drain delivers every pending notification. Boundary markers only delimit
// steps and are not forwarded.
func (e *Engine) drain(ctx context.Context) error {
	for {
		n, ok := e.broker.GetNotification()
		if !ok {
			return nil
		}
		if n.Boundary {
			continue
		}
		e.notifications++
		if e.hooks.OnOrder == nil {
			continue
		}
		if err := e.hooks.OnOrder(ctx, n.Order); err != nil {
			return fmt.Errorf("strategy on order %d: %w", n.Order.Ref, err)
		}
	}
}

// Equity returns the end-of-step account values recorded so far.
func (e *Engine) Equity() []EquityPoint { return e.equity }

// Notifications returns how many order notifications were delivered.
func (e *Engine) Notifications() int { return e.notifications }

// GroupByTime sorts bars by time (then symbol) and splits them into one
// slice per distinct timestamp.
func GroupByTime(bars []domain.Bar) [][]domain.Bar {
	if len(bars) == 0 {
		return nil
	}
	sorted := make([]domain.Bar, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		}
		return sorted[i].Symbol < sorted[j].Symbol
	})

	var steps [][]domain.Bar
	start := 0
	for i := 1; i <= len(sorted); i++ {
		if i == len(sorted) || !sorted[i].Timestamp.Equal(sorted[start].Timestamp) {
			steps = append(steps, sorted[start:i])
			start = i
		}
	}
	return steps
}
