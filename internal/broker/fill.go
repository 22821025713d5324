package broker

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"simbroker/internal/domain"
)

// OnFill executes size units (unsigned) of order ref at price. The position,
// cash and order are only touched once every collaborator call succeeded,
// so a failing commission scheme leaves the account as it was. A fill on a
// terminal order is refused and still notified once. An error wrapping
// ErrJournal means the fill was applied but could not be journaled.
func (b *SimulatorBroker) OnFill(ref uint64, size, price decimal.Decimal, at time.Time) error {
	o, err := b.orders.get(ref)
	if err != nil {
		return err
	}
	if !o.Status.CanFill() {
		b.notify(o)
		return fmt.Errorf("order %d fill in status %s: %w", ref, o.Status, ErrInvalidTransition)
	}
	if !size.IsPositive() || size.GreaterThan(o.Remaining()) {
		return fmt.Errorf("order %d fill size %s with %s remaining: %w", ref, size, o.Remaining(), ErrInvalidFill)
	}
	if !price.IsPositive() {
		return fmt.Errorf("order %d fill price %s: %w", ref, price, ErrInvalidFill)
	}

	bit, next, err := b.computeFill(o, size.Mul(o.Side.Sign()), price, at)
	if err != nil {
		return err
	}

	b.positions.set(next)
	b.account.ApplyFill(bit.Size, bit.Price, bit.Commission())
	o.Execute(bit)
	if at.After(b.now) {
		b.now = at
	}

	b.log.Debug("order filled",
		"ref", ref,
		"symbol", o.Symbol,
		"size", bit.Size.String(),
		"price", price.String(),
		"status", o.Status,
		"cash", b.account.Cash().String(),
	)
	b.notify(o)

	if err := b.journal.Record(tradeRecord(o, bit, b.account.Cash())); err != nil {
		b.log.Error("journal write failed", "ref", ref, "error", err)
		return fmt.Errorf("order %d filled: %w: %w", ref, ErrJournal, err)
	}
	return nil
}

// computeFill nets a signed fill against the current position and prices
// the closed and opened parts separately.
func (b *SimulatorBroker) computeFill(o *domain.Order, signed, price decimal.Decimal, at time.Time) (domain.ExecutionBit, domain.Position, error) {
	pos := b.positions.get(o.Symbol)
	next, opened, closed := pos.Update(signed, price)

	bit := domain.ExecutionBit{
		Time:          at,
		Size:          signed,
		Price:         price,
		Closed:        closed,
		Opened:        opened,
		PositionSize:  next.Size,
		PositionPrice: next.Price,
	}

	if !closed.IsZero() {
		comm, err := b.commission(o.Symbol, closed.Abs(), price)
		if err != nil {
			return bit, pos, err
		}
		bit.ClosedValue = closed.Abs().Mul(pos.Price)
		bit.ClosedComm = comm
		bit.PnL = closed.Neg().Mul(price.Sub(pos.Price))
	}
	if !opened.IsZero() {
		comm, err := b.commission(o.Symbol, opened.Abs(), price)
		if err != nil {
			return bit, pos, err
		}
		bit.OpenedValue = opened.Abs().Mul(price)
		bit.OpenedComm = comm
	}
	return bit, next, nil
}

func (b *SimulatorBroker) commission(symbol string, size, price decimal.Decimal) (decimal.Decimal, error) {
	comm, err := b.opts.Commission.Commission(symbol, size, price)
	if err != nil {
		return decimal.Zero, err
	}
	if comm.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s commission %s: %w", symbol, comm, ErrNegativeCommission)
	}
	return comm, nil
}

func tradeRecord(o *domain.Order, bit domain.ExecutionBit, cash decimal.Decimal) domain.TradeRecord {
	return domain.TradeRecord{
		Time:          bit.Time,
		Ref:           o.Ref,
		Symbol:        o.Symbol,
		Side:          o.Side,
		Type:          o.Type,
		Size:          bit.Size,
		Price:         bit.Price,
		Commission:    bit.Commission(),
		PnL:           bit.PnL,
		PositionSize:  bit.PositionSize,
		PositionPrice: bit.PositionPrice,
		Cash:          cash,
		Status:        o.Status,
	}
}
