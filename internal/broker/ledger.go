package broker

import (
	"sort"

	"simbroker/internal/domain"
)

// ledger tracks one position per symbol. Positions are created on first
// reference and kept for the whole session.
type ledger struct {
	positions map[string]domain.Position
}

func newLedger() *ledger {
	return &ledger{positions: make(map[string]domain.Position)}
}

func (l *ledger) get(symbol string) domain.Position {
	p, ok := l.positions[symbol]
	if !ok {
		p = domain.Position{Symbol: symbol}
		l.positions[symbol] = p
	}
	return p
}

// lookup returns the position in symbol without creating it.
func (l *ledger) lookup(symbol string) (domain.Position, bool) {
	p, ok := l.positions[symbol]
	return p, ok
}

func (l *ledger) set(p domain.Position) {
	l.positions[p.Symbol] = p
}

func (l *ledger) snapshot() map[string]domain.Position {
	out := make(map[string]domain.Position, len(l.positions))
	for k, v := range l.positions {
		out[k] = v
	}
	return out
}

// symbols returns the tracked symbols in sorted order.
func (l *ledger) symbols() []string {
	out := make([]string, 0, len(l.positions))
	for s := range l.positions {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
