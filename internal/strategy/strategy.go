// Package strategy defines the Strategy interface for trading strategies,
// a Registry for managing multiple strategy implementations, and the
// Backtester that replays bars through a strategy against the simulated
// broker.
package strategy

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"simbroker/internal/broker"
	"simbroker/internal/domain"
)

// Trader is the order-entry and account view a strategy trades through.
// broker.Broker satisfies it.
type Trader interface {
	Buy(req broker.OrderRequest) (*domain.Order, error)
	Sell(req broker.OrderRequest) (*domain.Order, error)
	Cancel(ref uint64) (bool, error)
	Position(symbol string) domain.Position
	Cash() decimal.Decimal
	Value(symbols ...string) decimal.Decimal
}

// Compile-time interface check.
var _ Trader = (broker.Broker)(nil)

// Strategy is the interface that all trading strategies must implement.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// Init resets the strategy before a session starts.
	Init(ctx context.Context) error

	// OnBar is called once per bar, after the exchange has matched the
	// working orders against it.
	OnBar(ctx context.Context, bar domain.Bar, t Trader) error

	// OnOrder receives a snapshot of every order status change.
	OnOrder(ctx context.Context, order *domain.Order) error
}

// Registry holds a named collection of strategies for lookup and enumeration.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
	}
}

// Register adds a strategy to the registry, keyed by its Name().
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Name()] = s
}

// Get retrieves a strategy by name. The second return value indicates whether
// the strategy was found.
func (r *Registry) Get(name string) (Strategy, bool) {
	s, ok := r.strategies[name]
	return s, ok
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
