package broker

import (
	"github.com/shopspring/decimal"

	"simbroker/internal/domain"
)

// FillContext describes a candidate execution for a Filler.
type FillContext struct {
	Order *domain.Order
	Price decimal.Decimal
	// Ago is 0 for executions on the current bar and -1 when a close order
	// executes against the previous bar.
	Ago int
	// Bar is the bar at offset Ago.
	Bar domain.Bar
}

// Filler decides how much of an order's remaining size executes on a bar.
// The broker clamps the result to [0, remaining].
type Filler interface {
	FillSize(fc FillContext) decimal.Decimal
}

// Compile-time interface checks.
var _ Filler = FixedSize{}
var _ Filler = BarVolumePercent{}

// FixedSize executes at most Size units per bar.
type FixedSize struct {
	Size decimal.Decimal
}

// FillSize returns min(Size, remaining).
func (f FixedSize) FillSize(fc FillContext) decimal.Decimal {
	return decimal.Min(f.Size, fc.Order.Remaining())
}

// BarVolumePercent executes at most Percent percent of the bar volume.
type BarVolumePercent struct {
	Percent decimal.Decimal
}

// FillSize returns the volume share, rounded down to whole units.
func (f BarVolumePercent) FillSize(fc FillContext) decimal.Decimal {
	maxSize := decimal.NewFromInt(fc.Bar.Volume).Mul(f.Percent).Div(decimal.NewFromInt(100)).Floor()
	return decimal.Min(maxSize, fc.Order.Remaining())
}

// clampFill bounds a filler answer to [0, remaining].
func clampFill(size, remaining decimal.Decimal) decimal.Decimal {
	if size.IsNegative() {
		return decimal.Zero
	}
	return decimal.Min(size, remaining)
}
