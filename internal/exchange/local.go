// Package exchange provides the local order-placement collaborator used in
// backtests. It keeps the working orders and matches them against incoming
// bars, reporting progress to the broker through broker.Callbacks.
package exchange

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"simbroker/internal/broker"
	"simbroker/internal/domain"
)

// Compile-time interface checks.
var _ broker.Placer = (*Local)(nil)
var _ broker.PriceSource = (*Local)(nil)

// SessionCalendar yields the session close for a point in time.
type SessionCalendar interface {
	SessionEnd(t time.Time) time.Time
}

// working is an order resting at the exchange.
type working struct {
	order      *domain.Order
	sessionEnd time.Time // close orders only

	triggered bool // stop-limit leg armed

	// Close price of the last bar seen before the session end.
	annotated    bool
	annotatedBar domain.Bar
}

// Local matches orders against bars in process.
type Local struct {
	cb     broker.Callbacks
	cal    SessionCalendar
	eosBar bool
	log    *slog.Logger

	working []*working
	last    map[string]domain.Bar
}

// NewLocal creates a Local exchange. eosBar makes a bar stamped exactly at
// the session end count as the closing bar for close orders.
func NewLocal(cal SessionCalendar, eosBar bool, log *slog.Logger) *Local {
	if log == nil {
		log = slog.Default()
	}
	return &Local{
		cal:    cal,
		eosBar: eosBar,
		log:    log.With("component", "exchange"),
		last:   make(map[string]domain.Bar),
	}
}

// Start binds the exchange to the broker callbacks.
func (l *Local) Start(cb broker.Callbacks) error {
	if cb == nil {
		return fmt.Errorf("exchange: nil callbacks")
	}
	l.cb = cb
	return nil
}

// Stop drops all working orders.
func (l *Local) Stop() error {
	l.working = nil
	l.cb = nil
	return nil
}

// PlaceOrder rests the order and runs the broker's submission policy on it.
func (l *Local) PlaceOrder(o *domain.Order) error {
	if l.cb == nil {
		return fmt.Errorf("exchange: not started")
	}
	w := &working{order: o}
	if o.Type == domain.OrderTypeClose && l.cal != nil {
		w.sessionEnd = l.cal.SessionEnd(o.CreatedAt)
	}
	if _, err := l.cb.Submit(o.Ref); err != nil {
		return err
	}
	l.working = append(l.working, w)
	return nil
}

// CancelOrder removes a working order and confirms the cancel.
func (l *Local) CancelOrder(ref uint64) error {
	if l.cb == nil {
		return fmt.Errorf("exchange: not started")
	}
	l.remove(ref)
	return l.cb.OnCancel(ref)
}

// LastPrice returns the close of the latest bar seen for symbol.
func (l *Local) LastPrice(symbol string) (decimal.Decimal, bool) {
	bar, ok := l.last[symbol]
	if !ok {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(bar.Close), true
}

// Working returns the number of resting orders.
func (l *Local) Working() int { return len(l.working) }

// OnBar expires and executes the working orders of bar.Symbol.
func (l *Local) OnBar(bar domain.Bar) error {
	if l.cb == nil {
		return fmt.Errorf("exchange: not started")
	}
	defer func() { l.last[bar.Symbol] = bar }()

	keep := l.working[:0]
	var firstErr error
	for _, w := range l.working {
		if firstErr != nil || w.order.Symbol != bar.Symbol {
			keep = append(keep, w)
			continue
		}
		alive, err := l.process(w, bar)
		if err != nil {
			firstErr = fmt.Errorf("order %d on %s bar %s: %w", w.order.Ref, bar.Symbol, bar.Timestamp.Format(time.RFC3339), err)
		}
		if alive {
			keep = append(keep, w)
		}
	}
	for i := len(keep); i < len(l.working); i++ {
		l.working[i] = nil
	}
	l.working = keep
	return firstErr
}

// process handles one working order against one bar and reports whether it
// stays at the exchange.
func (l *Local) process(w *working, bar domain.Bar) (bool, error) {
	o, err := l.cb.Order(w.order.Ref)
	if err != nil {
		return false, err
	}
	if o.Status.IsTerminal() {
		return false, nil
	}

	if !o.ValidUntil.IsZero() && bar.Timestamp.After(o.ValidUntil) {
		l.log.Debug("order expired", "ref", o.Ref, "valid_until", o.ValidUntil)
		return false, l.cb.OnExpire(o.Ref)
	}
	if !o.Status.CanFill() || !bar.Timestamp.After(o.CreatedAt) {
		return true, nil
	}

	price, ago, execBar, ok := l.match(w, o, bar)
	if !ok {
		return true, nil
	}
	size, err := l.cb.ExecutableSize(o.Ref, price, ago, execBar)
	if err != nil {
		return true, err
	}
	if !size.IsPositive() {
		return true, nil
	}
	if err := l.cb.OnFill(o.Ref, size, price, bar.Timestamp); err != nil {
		return true, err
	}
	return size.LessThan(o.Remaining()), nil
}

// match decides whether o executes on bar and at which price. ago is -1 when
// the execution uses the previous bar.
func (l *Local) match(w *working, o *domain.Order, bar domain.Bar) (decimal.Decimal, int, domain.Bar, bool) {
	open := decimal.NewFromFloat(bar.Open)
	high := decimal.NewFromFloat(bar.High)
	low := decimal.NewFromFloat(bar.Low)
	buy := o.IsBuy()

	switch o.Type {
	case domain.OrderTypeMarket:
		return open, 0, bar, true

	case domain.OrderTypeClose:
		return l.matchClose(w, o, bar)

	case domain.OrderTypeLimit:
		p, ok := limitPrice(buy, open, high, low, *o.Price)
		return p, 0, bar, ok

	case domain.OrderTypeStop:
		p, ok := stopPrice(buy, open, high, low, *o.Price)
		return p, 0, bar, ok

	case domain.OrderTypeStopLimit:
		ref := open
		if !w.triggered {
			p, ok := stopPrice(buy, open, high, low, *o.Price)
			if !ok {
				return decimal.Zero, 0, bar, false
			}
			w.triggered = true
			ref = p // the limit leg starts where the stop fired
		}
		p, ok := limitPrice(buy, ref, high, low, *o.PriceLimit)
		return p, 0, bar, ok
	}
	return decimal.Zero, 0, bar, false
}

// matchClose executes close orders at the session close. Without an end of
// session bar the close is only known once a later bar shows up, so the
// execution then uses the previous bar's close.
func (l *Local) matchClose(w *working, o *domain.Order, bar domain.Bar) (decimal.Decimal, int, domain.Bar, bool) {
	closePrice := decimal.NewFromFloat(bar.Close)
	if w.sessionEnd.IsZero() || o.Executed.Size.IsPositive() {
		return closePrice, 0, bar, true
	}

	dt := bar.Timestamp
	switch {
	case dt.Before(w.sessionEnd):
	case dt.Equal(w.sessionEnd) && l.eosBar:
		return closePrice, 0, bar, true
	case dt.After(w.sessionEnd):
		if w.annotated {
			return decimal.NewFromFloat(w.annotatedBar.Close), -1, w.annotatedBar, true
		}
		return closePrice, 0, bar, true
	}
	w.annotated = true
	w.annotatedBar = bar
	return decimal.Zero, 0, bar, false
}

func (l *Local) remove(ref uint64) {
	for i, w := range l.working {
		if w.order.Ref == ref {
			l.working = append(l.working[:i], l.working[i+1:]...)
			return
		}
	}
}

// limitPrice returns the execution price of a limit order on a bar: the open
// when it already satisfies the limit, otherwise the limit itself when the
// bar's range reaches it.
func limitPrice(buy bool, open, high, low, limit decimal.Decimal) (decimal.Decimal, bool) {
	if buy {
		if open.LessThanOrEqual(limit) {
			return open, true
		}
		if low.LessThanOrEqual(limit) {
			return limit, true
		}
		return decimal.Zero, false
	}
	if open.GreaterThanOrEqual(limit) {
		return open, true
	}
	if high.GreaterThanOrEqual(limit) {
		return limit, true
	}
	return decimal.Zero, false
}

// stopPrice returns the execution price of a stop order: the open when the
// bar gaps through the trigger, otherwise the trigger when the range hits it.
func stopPrice(buy bool, open, high, low, stop decimal.Decimal) (decimal.Decimal, bool) {
	if buy {
		if open.GreaterThanOrEqual(stop) {
			return open, true
		}
		if high.GreaterThanOrEqual(stop) {
			return stop, true
		}
		return decimal.Zero, false
	}
	if open.LessThanOrEqual(stop) {
		return open, true
	}
	if low.LessThanOrEqual(stop) {
		return stop, true
	}
	return decimal.Zero, false
}
