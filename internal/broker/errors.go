package broker

import "errors"

var (
	// ErrUnknownOrder is returned for a ref that was never registered.
	ErrUnknownOrder = errors.New("unknown order")
	// ErrInvalidTransition is returned when the lifecycle forbids the change,
	// most often because the order is already terminal.
	ErrInvalidTransition = errors.New("invalid order transition")
	// ErrInvalidOrderSpec is returned by Buy and Sell for malformed requests.
	ErrInvalidOrderSpec = errors.New("invalid order spec")
	// ErrInsufficientCash is returned by submit checkers when the account
	// cannot pay for an order.
	ErrInsufficientCash = errors.New("insufficient cash")
	// ErrInvalidFill is returned for a fill that is non-positive or larger
	// than the remaining size.
	ErrInvalidFill = errors.New("invalid fill")
	// ErrNegativeCommission is returned when a commission scheme yields a
	// negative charge.
	ErrNegativeCommission = errors.New("negative commission")
	// ErrJournal is returned by OnFill when the fill was applied but the
	// journal write failed.
	ErrJournal = errors.New("journal write failed")
	// ErrNotStarted is returned when orders are placed before Start.
	ErrNotStarted = errors.New("broker not started")
)
