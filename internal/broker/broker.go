// Package broker implements a simulated brokerage account for backtesting:
// order registry and lifecycle, fill accounting, positions, cash and the
// order notification queue.
package broker

import (
	"time"

	"github.com/shopspring/decimal"

	"simbroker/internal/domain"
)

// Broker is the account surface the backtest engine and strategies use.
type Broker interface {
	// Name returns the broker identifier.
	Name() string

	// Start opens the trade journal and starts the order placer.
	Start() error
	// Stop stops the placer and closes the journal.
	Stop() error

	// Buy creates and places a buy order.
	Buy(req OrderRequest) (*domain.Order, error)
	// Sell creates and places a sell order.
	Sell(req OrderRequest) (*domain.Order, error)
	// Cancel requests cancellation. It reports true, with no other effect,
	// when the order is already terminal.
	Cancel(ref uint64) (bool, error)
	// OrderStatus returns the current status of a registered order.
	OrderStatus(ref uint64) (domain.OrderStatus, error)

	// GetNotification pops the oldest pending notification.
	GetNotification() (domain.Notification, bool)
	// AdvanceStep marks the start of a new simulated step at the given time.
	AdvanceStep(at time.Time)

	Cash() decimal.Decimal
	SetCash(amount decimal.Decimal)
	Position(symbol string) domain.Position
	Value(symbols ...string) decimal.Decimal
}

// Callbacks is what an order placer calls back into while it works orders.
type Callbacks interface {
	// Submit runs the submission policy: with check-before-submit the order
	// is parked until the next step decides on it, otherwise it is accepted
	// right away.
	Submit(ref uint64) (uint64, error)

	OnSubmit(ref uint64) error
	OnAccept(ref uint64) error
	OnReject(ref uint64, reason string) error
	OnCancel(ref uint64) error
	OnExpire(ref uint64) error
	OnFill(ref uint64, size, price decimal.Decimal, at time.Time) error

	// Order returns a snapshot of a registered order.
	Order(ref uint64) (*domain.Order, error)
	// ExecutableSize applies the partial-fill policy to a candidate fill.
	ExecutableSize(ref uint64, price decimal.Decimal, ago int, bar domain.Bar) (decimal.Decimal, error)
}

// Placer is the order-placement collaborator. It is handed the broker on
// Start and reports order progress through Callbacks.
type Placer interface {
	Start(cb Callbacks) error
	Stop() error
	PlaceOrder(order *domain.Order) error
	CancelOrder(ref uint64) error
}

// PriceSource supplies mark-to-market prices.
type PriceSource interface {
	LastPrice(symbol string) (decimal.Decimal, bool)
}

// Account is the view of the account handed to a SubmitChecker.
type Account struct {
	Cash      decimal.Decimal
	Value     decimal.Decimal
	Positions map[string]domain.Position
	Prices    PriceSource
}

// SubmitChecker decides whether a submitted order may be accepted. It
// returns the cash the order commits, which is deducted from Account.Cash
// for the orders checked after it in the same step.
type SubmitChecker interface {
	CheckOrder(order *domain.Order, acct Account) (decimal.Decimal, error)
}

// OrderRequest carries the caller-supplied fields of a new order.
type OrderRequest struct {
	Symbol     string
	Size       decimal.Decimal
	Type       domain.OrderType // empty means market
	Price      *decimal.Decimal
	PriceLimit *decimal.Decimal
	ValidUntil time.Time
	TradeID    int
	Info       map[string]string
}
