package broker

import "github.com/shopspring/decimal"

// Accountant holds starting and current cash. Current cash moves only
// through SetCash and fills.
type Accountant struct {
	starting decimal.Decimal
	cash     decimal.Decimal
}

// NewAccountant creates an Accountant holding cash.
func NewAccountant(cash decimal.Decimal) *Accountant {
	return &Accountant{starting: cash, cash: cash}
}

// SetCash resets both starting and current cash. Calling it after fills
// have been applied discards the accounting history.
func (a *Accountant) SetCash(cash decimal.Decimal) {
	a.starting = cash
	a.cash = cash
}

// Cash returns the current cash.
func (a *Accountant) Cash() decimal.Decimal { return a.cash }

// StartingCash returns the cash the session started with.
func (a *Accountant) StartingCash() decimal.Decimal { return a.starting }

// ApplyFill books a fill of signed size at price: buys pay, sells receive,
// and the commission is always paid.
func (a *Accountant) ApplyFill(size, price, commission decimal.Decimal) {
	a.cash = a.cash.Sub(size.Mul(price)).Sub(commission)
}
