package market

import (
	"github.com/shopspring/decimal"
)

// minElapsedMinutes is the smallest window over which a rate is meaningful;
// near-simultaneous reports would otherwise blow up the division.
const minElapsedMinutes = 0.1

// Speed computes the signed price change per minute between the first and
// last observation of a time-ascending window. The second return value is
// false when the rate is undefined: fewer than two observations, or the
// window spans less than 0.1 minutes. Undefined is not zero; callers must
// not treat it as a stable rate.
func Speed(observations []Observation, field PriceField) (decimal.Decimal, bool) {
	if len(observations) < 2 {
		return decimal.Decimal{}, false
	}

	first := observations[0]
	last := observations[len(observations)-1]

	elapsed := last.ObservedAt.Sub(first.ObservedAt).Minutes()
	if elapsed < minElapsedMinutes {
		return decimal.Decimal{}, false
	}

	delta := last.Price(field).Sub(first.Price(field))
	speed := delta.Div(decimal.NewFromFloat(elapsed))
	return speed.Round(4), true
}

// TrendOf labels the window by comparing only the first and last value,
// deliberately a two-point secant rather than a regression.
func TrendOf(observations []Observation, field PriceField) Trend {
	if len(observations) < 2 {
		return TrendStable
	}

	first := observations[0].Price(field)
	last := observations[len(observations)-1].Price(field)

	switch {
	case last.GreaterThan(first):
		return TrendUp
	case last.LessThan(first):
		return TrendDown
	default:
		return TrendStable
	}
}
