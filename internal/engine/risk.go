package engine

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"simbroker/internal/broker"
	"simbroker/internal/domain"
)

// Compile-time interface check.
var _ broker.SubmitChecker = (*RiskManager)(nil)

var (
	// ErrPositionLimit is returned when an order would push a position past
	// the configured share of account value.
	ErrPositionLimit = errors.New("position limit exceeded")
	// ErrNoReferencePrice is returned when an order cannot be priced.
	ErrNoReferencePrice = errors.New("no reference price")
)

// RiskManager is the check-before-accept hook. It enforces cash sufficiency
// and an optional per-position size limit.
type RiskManager struct {
	maxPositionPct decimal.Decimal
	commission     broker.CommissionScheme
}

// NewRiskManager creates a RiskManager.
//
//   - maxPositionPct: maximum fraction of account value allowed in a single
//     position (e.g. 0.10 for 10%); zero disables the check.
//   - commission: scheme used to estimate the order's commission; nil means
//     no commission.
func NewRiskManager(maxPositionPct float64, commission broker.CommissionScheme) *RiskManager {
	if commission == nil {
		commission = broker.NoCommission{}
	}
	return &RiskManager{
		maxPositionPct: decimal.NewFromFloat(maxPositionPct),
		commission:     commission,
	}
}

// CheckOrder prices the remaining size of the order and returns the cash it
// commits: value plus commission for buys, commission only for sells.
func (rm *RiskManager) CheckOrder(order *domain.Order, acct broker.Account) (decimal.Decimal, error) {
	price, ok := referencePrice(order, acct)
	if !ok {
		return decimal.Zero, fmt.Errorf("%s order %d: %w", order.Symbol, order.Ref, ErrNoReferencePrice)
	}

	size := order.Remaining()
	value := size.Mul(price)
	comm, err := rm.commission.Commission(order.Symbol, size, price)
	if err != nil {
		return decimal.Zero, err
	}

	required := comm
	if order.IsBuy() {
		required = value.Add(comm)
	}
	if required.GreaterThan(acct.Cash) {
		return decimal.Zero, fmt.Errorf("need %s, have %s: %w", required.StringFixed(2), acct.Cash.StringFixed(2), broker.ErrInsufficientCash)
	}

	if rm.maxPositionPct.IsPositive() {
		pos := acct.Positions[order.Symbol]
		next := pos.Size.Add(size.Mul(order.Side.Sign()))
		limit := acct.Value.Mul(rm.maxPositionPct)
		if next.Abs().GreaterThan(pos.Size.Abs()) && next.Abs().Mul(price).GreaterThan(limit) {
			return decimal.Zero, fmt.Errorf("%s notional %s over %s: %w",
				order.Symbol, next.Abs().Mul(price).StringFixed(2), limit.StringFixed(2), ErrPositionLimit)
		}
	}
	return required, nil
}

// referencePrice picks the order's own price when it has one, otherwise the
// latest market price.
func referencePrice(order *domain.Order, acct broker.Account) (decimal.Decimal, bool) {
	switch order.Type {
	case domain.OrderTypeStopLimit:
		if order.PriceLimit != nil {
			return *order.PriceLimit, true
		}
	case domain.OrderTypeLimit, domain.OrderTypeStop:
		if order.Price != nil {
			return *order.Price, true
		}
	}
	if acct.Prices == nil {
		return decimal.Zero, false
	}
	return acct.Prices.LastPrice(order.Symbol)
}
