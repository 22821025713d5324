// Package builtins provides built-in strategy implementations that ship with
// simbroker.
package builtins

import (
	"context"

	"github.com/shopspring/decimal"

	"simbroker/internal/broker"
	"simbroker/internal/domain"
	"simbroker/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*SMACross)(nil)

// SMACross implements a simple moving average crossover strategy. It buys
// when the short-period SMA crosses above the long-period SMA and closes the
// position when it crosses below.
type SMACross struct {
	shortPeriod int
	longPeriod  int
	size        decimal.Decimal

	symbols map[string]*smaState
	pending map[uint64]string // live order ref -> symbol
}

type smaState struct {
	closes    []float64
	prevAbove bool
	primed    bool
	pending   bool
}

// NewSMACross creates a new SMACross strategy with the specified short and
// long moving average periods, trading size shares per entry.
func NewSMACross(short, long int, size decimal.Decimal) *SMACross {
	return &SMACross{
		shortPeriod: short,
		longPeriod:  long,
		size:        size,
	}
}

// Name returns "sma-cross".
func (s *SMACross) Name() string {
	return "sma-cross"
}

// Init clears the price history.
func (s *SMACross) Init(_ context.Context) error {
	s.symbols = make(map[string]*smaState)
	s.pending = make(map[uint64]string)
	return nil
}

// OnBar appends the close to the symbol's history and trades on a crossover.
// No new order is sent while an earlier one for the symbol is still live.
func (s *SMACross) OnBar(_ context.Context, bar domain.Bar, t strategy.Trader) error {
	st, ok := s.symbols[bar.Symbol]
	if !ok {
		st = &smaState{closes: make([]float64, 0, s.longPeriod)}
		s.symbols[bar.Symbol] = st
	}
	st.closes = append(st.closes, bar.Close)
	if len(st.closes) > s.longPeriod {
		st.closes = st.closes[1:]
	}
	if len(st.closes) < s.longPeriod {
		return nil
	}

	above := sma(st.closes, s.shortPeriod) > sma(st.closes, s.longPeriod)
	crossed := st.primed && above != st.prevAbove
	st.prevAbove = above
	st.primed = true
	if !crossed || st.pending {
		return nil
	}

	pos := t.Position(bar.Symbol)
	var (
		o   *domain.Order
		err error
	)
	switch {
	case above && !pos.Size.IsPositive():
		o, err = t.Buy(broker.OrderRequest{Symbol: bar.Symbol, Size: s.size.Sub(pos.Size)})
	case !above && pos.Size.IsPositive():
		o, err = t.Sell(broker.OrderRequest{Symbol: bar.Symbol, Size: pos.Size})
	default:
		return nil
	}
	if err != nil {
		return err
	}
	if o.Alive() {
		st.pending = true
		s.pending[o.Ref] = bar.Symbol
	}
	return nil
}

// OnOrder releases the symbol once its order is done.
func (s *SMACross) OnOrder(_ context.Context, o *domain.Order) error {
	sym, ok := s.pending[o.Ref]
	if !ok || o.Alive() {
		return nil
	}
	delete(s.pending, o.Ref)
	if st, ok := s.symbols[sym]; ok {
		st.pending = false
	}
	return nil
}

// sma averages the last n values.
func sma(values []float64, n int) float64 {
	if n > len(values) {
		n = len(values)
	}
	if n == 0 {
		return 0
	}
	var sum float64
	for _, v := range values[len(values)-n:] {
		sum += v
	}
	return sum / float64(n)
}
