package builtins

import (
	"context"

	"github.com/shopspring/decimal"

	"simbroker/internal/broker"
	"simbroker/internal/domain"
	"simbroker/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*BuyAndHold)(nil)

// BuyAndHold buys a fixed size of every symbol on its first bar and keeps it.
type BuyAndHold struct {
	size   decimal.Decimal
	bought map[string]bool
}

// NewBuyAndHold creates a BuyAndHold strategy buying size shares per symbol.
func NewBuyAndHold(size decimal.Decimal) *BuyAndHold {
	return &BuyAndHold{size: size}
}

// Name returns "buy-hold".
func (s *BuyAndHold) Name() string { return "buy-hold" }

// Init forgets earlier purchases.
func (s *BuyAndHold) Init(_ context.Context) error {
	s.bought = make(map[string]bool)
	return nil
}

// OnBar sends the entry order on the first bar of each symbol.
func (s *BuyAndHold) OnBar(_ context.Context, bar domain.Bar, t strategy.Trader) error {
	if s.bought[bar.Symbol] {
		return nil
	}
	s.bought[bar.Symbol] = true
	_, err := t.Buy(broker.OrderRequest{Symbol: bar.Symbol, Size: s.size})
	return err
}

// OnOrder ignores notifications.
func (s *BuyAndHold) OnOrder(context.Context, *domain.Order) error { return nil }
