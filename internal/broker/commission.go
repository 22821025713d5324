package broker

import "github.com/shopspring/decimal"

// CommissionScheme computes the commission for executing size units of
// symbol at price. size is unsigned.
type CommissionScheme interface {
	Commission(symbol string, size, price decimal.Decimal) (decimal.Decimal, error)
}

// Compile-time interface checks.
var _ CommissionScheme = NoCommission{}
var _ CommissionScheme = PercentCommission{}
var _ CommissionScheme = PerShareCommission{}

// NoCommission charges nothing.
type NoCommission struct{}

// Commission returns zero.
func (NoCommission) Commission(string, decimal.Decimal, decimal.Decimal) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

// PercentCommission charges Rate (0.001 = 0.1%) of the traded value.
type PercentCommission struct {
	Rate decimal.Decimal
}

// Commission returns size*price*Rate.
func (c PercentCommission) Commission(_ string, size, price decimal.Decimal) (decimal.Decimal, error) {
	return size.Mul(price).Mul(c.Rate), nil
}

// PerShareCommission charges a fixed amount per unit with an optional
// minimum per execution.
type PerShareCommission struct {
	PerShare decimal.Decimal
	Minimum  decimal.Decimal
}

// Commission returns max(size*PerShare, Minimum).
func (c PerShareCommission) Commission(_ string, size, _ decimal.Decimal) (decimal.Decimal, error) {
	return decimal.Max(size.Mul(c.PerShare), c.Minimum), nil
}
