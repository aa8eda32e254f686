package engine

import "github.com/shopspring/decimal"

// CalcProfit returns the net USDT profit of buying qty at buyPrice and
// selling it at sellPrice, with proportional fees charged on each
// leg's notional.
func CalcProfit(buyPrice, sellPrice, qty, buyFee, sellFee decimal.Decimal) decimal.Decimal {
	gross := qty.Mul(sellPrice.Sub(buyPrice))
	buyCost := qty.Mul(buyPrice).Mul(buyFee)
	sellCost := qty.Mul(sellPrice).Mul(sellFee)
	return gross.Sub(buyCost).Sub(sellCost)
}
