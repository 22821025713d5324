package domain

import (
	"maps"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Sign returns +1 for buys and -1 for sells.
func (s OrderSide) Sign() decimal.Decimal {
	if s == OrderSideSell {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// Valid reports whether s is a known side.
func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// OrderType is the execution type of an order.
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeClose     OrderType = "close"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

// Valid reports whether t is a known order type.
func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeMarket, OrderTypeClose, OrderTypeLimit, OrderTypeStop, OrderTypeStopLimit:
		return true
	}
	return false
}

// NeedsPrice reports whether orders of this type carry a limit or stop price.
func (t OrderType) NeedsPrice() bool {
	return t == OrderTypeLimit || t == OrderTypeStop || t == OrderTypeStopLimit
}

// OrderStatus is a state of the order lifecycle.
type OrderStatus string

const (
	OrderStatusCreated   OrderStatus = "created"
	OrderStatusSubmitted OrderStatus = "submitted"
	OrderStatusAccepted  OrderStatus = "accepted"
	OrderStatusPartial   OrderStatus = "partial"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
	OrderStatusExpired   OrderStatus = "expired"
)

// transitions lists the statuses reachable from each non-terminal status.
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusCreated: {
		OrderStatusSubmitted, OrderStatusAccepted, OrderStatusRejected,
		OrderStatusCancelled, OrderStatusExpired,
	},
	OrderStatusSubmitted: {
		OrderStatusAccepted, OrderStatusRejected, OrderStatusCancelled, OrderStatusExpired,
	},
	OrderStatusAccepted: {
		OrderStatusPartial, OrderStatusCompleted, OrderStatusRejected,
		OrderStatusCancelled, OrderStatusExpired,
	},
	OrderStatusPartial: {
		OrderStatusPartial, OrderStatusCompleted, OrderStatusRejected,
		OrderStatusCancelled, OrderStatusExpired,
	},
}

// IsTerminal reports whether no further transition is possible.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// CanFill reports whether executions may be recorded in this status.
func (s OrderStatus) CanFill() bool {
	return s == OrderStatusAccepted || s == OrderStatusPartial
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	return slices.Contains(transitions[s], next)
}

// ExecutionBit is a single fill applied to an order.
type ExecutionBit struct {
	Time        time.Time
	Size        decimal.Decimal // signed
	Price       decimal.Decimal
	Closed      decimal.Decimal
	ClosedValue decimal.Decimal
	ClosedComm  decimal.Decimal
	Opened      decimal.Decimal
	OpenedValue decimal.Decimal
	OpenedComm  decimal.Decimal
	PnL         decimal.Decimal

	// Position after the fill.
	PositionSize  decimal.Decimal
	PositionPrice decimal.Decimal
}

// Commission returns the total commission charged for the bit.
func (b ExecutionBit) Commission() decimal.Decimal {
	return b.ClosedComm.Add(b.OpenedComm)
}

// Execution accumulates the fills of an order. Size is unsigned.
type Execution struct {
	Size       decimal.Decimal
	Price      decimal.Decimal // volume weighted average
	Value      decimal.Decimal
	Commission decimal.Decimal
	PnL        decimal.Decimal
	Bits       []ExecutionBit
}

// Order is a buy or sell request and its execution state.
type Order struct {
	Ref        uint64
	Symbol     string
	Side       OrderSide
	Type       OrderType
	Size       decimal.Decimal
	Price      *decimal.Decimal // limit price, or trigger for stop and stop-limit
	PriceLimit *decimal.Decimal // limit leg of stop-limit
	ValidUntil time.Time        // zero means good until cancelled
	TradeID    int
	Info       map[string]string

	Status       OrderStatus
	RejectReason string
	Executed     Execution

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Remaining is the unexecuted part of the order.
func (o *Order) Remaining() decimal.Decimal {
	return o.Size.Sub(o.Executed.Size)
}

// SignedSize returns Size with the side's sign.
func (o *Order) SignedSize() decimal.Decimal {
	return o.Size.Mul(o.Side.Sign())
}

// IsBuy reports whether the order buys.
func (o *Order) IsBuy() bool { return o.Side == OrderSideBuy }

// Alive reports whether the order can still execute or be cancelled.
func (o *Order) Alive() bool { return !o.Status.IsTerminal() }

// SetStatus moves the order to next when the lifecycle allows it.
func (o *Order) SetStatus(next OrderStatus, at time.Time) bool {
	if !o.Status.CanTransitionTo(next) {
		return false
	}
	o.Status = next
	o.UpdatedAt = at
	return true
}

// Execute records a fill bit. size in bit is signed; the caller has already
// checked it against Remaining. The status moves to partial or completed.
func (o *Order) Execute(bit ExecutionBit) {
	abs := bit.Size.Abs()
	value := abs.Mul(bit.Price)

	ex := &o.Executed
	newSize := ex.Size.Add(abs)
	ex.Price = ex.Price.Mul(ex.Size).Add(value).Div(newSize)
	ex.Size = newSize
	ex.Value = ex.Value.Add(value)
	ex.Commission = ex.Commission.Add(bit.Commission())
	ex.PnL = ex.PnL.Add(bit.PnL)
	ex.Bits = append(ex.Bits, bit)

	next := OrderStatusPartial
	if o.Remaining().IsZero() {
		next = OrderStatusCompleted
	}
	o.Status = next
	o.UpdatedAt = bit.Time
}

// Clone returns a deep copy that shares no mutable state with o.
func (o *Order) Clone() *Order {
	c := *o
	if o.Price != nil {
		p := *o.Price
		c.Price = &p
	}
	if o.PriceLimit != nil {
		p := *o.PriceLimit
		c.PriceLimit = &p
	}
	c.Info = maps.Clone(o.Info)
	c.Executed.Bits = slices.Clone(o.Executed.Bits)
	return &c
}

// Notification is an order snapshot taken at a status change, or a boundary
// marker that closes one simulated step.
type Notification struct {
	Order    *Order
	Boundary bool
	Step     int
}
