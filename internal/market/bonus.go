package market

import "github.com/shopspring/decimal"

var (
	anchorBonus     = decimal.NewFromFloat(0.02)
	tradeLevelBonus = decimal.NewFromFloat(0.02)
	one             = decimal.NewFromInt(1)
)

// PlayerBonus captures the in-game trade perks that shift the prices a
// particular player actually sees: the Anchor artifact and the
// "basics of trading" skill level.
type PlayerBonus struct {
	HasAnchor  bool
	TradeLevel int
}

// Fraction returns the total price advantage: 2% for the Anchor plus 2%
// per trade level.
func (b PlayerBonus) Fraction() decimal.Decimal {
	bonus := decimal.Zero
	if b.HasAnchor {
		bonus = bonus.Add(anchorBonus)
	}
	return bonus.Add(tradeLevelBonus.Mul(decimal.NewFromInt(int64(b.TradeLevel))))
}

// AdjustBuy converts a base buy price into the player's personal price.
// Perks make buying cheaper.
func (b PlayerBonus) AdjustBuy(buy decimal.Decimal) decimal.Decimal {
	return buy.Div(one.Add(b.Fraction()))
}

// AdjustSell converts a base sell price into the player's personal price.
// Perks make selling pay more.
func (b PlayerBonus) AdjustSell(sell decimal.Decimal) decimal.Decimal {
	return sell.Mul(one.Add(b.Fraction()))
}

// AdjustSpeed scales a base buy-side rate to the player's adjusted prices.
func (b PlayerBonus) AdjustSpeed(speed decimal.Decimal) decimal.Decimal {
	return speed.Div(one.Add(b.Fraction()))
}
