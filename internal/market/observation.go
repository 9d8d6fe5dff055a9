package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceField selects which side of an observation a calculation reads.
type PriceField string

const (
	FieldBuy  PriceField = "buy"
	FieldSell PriceField = "sell"
)

// Observation is a single timestamped market report entry for one resource.
// Observations are immutable once stored.
type Observation struct {
	Resource   Resource
	Buy        decimal.Decimal
	Sell       decimal.Decimal
	Quantity   int64
	ObservedAt time.Time
}

// Price returns the selected side of the observation.
func (o Observation) Price(field PriceField) decimal.Decimal {
	if field == FieldSell {
		return o.Sell
	}
	return o.Buy
}
