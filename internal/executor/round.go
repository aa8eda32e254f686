package executor

import (
	"strings"

	"github.com/shopspring/decimal"
)

var (
	hundred   = decimal.NewFromInt(100)
	one       = decimal.NewFromInt(1)
	centiUnit = decimal.RequireFromString("0.01")
)

// FloorQty floors a quantity to exchange-friendly precision: whole
// units for sizes >= 100, two decimals >= 1, four decimals >= 0.01,
// six decimals below that. Flooring never rounds up, so a capped
// order can't exceed the cap.
func FloorQty(q decimal.Decimal) decimal.Decimal {
	switch {
	case q.GreaterThanOrEqual(hundred):
		return q.RoundFloor(0)
	case q.GreaterThanOrEqual(one):
		return q.RoundFloor(2)
	case q.GreaterThanOrEqual(centiUnit):
		return q.RoundFloor(4)
	default:
		return q.RoundFloor(6)
	}
}

var quoteSuffixes = []string{"USDT", "USDC", "BUSD", "USD", "BTC", "ETH"}

// BaseCoin strips a known quote suffix from a pair symbol, so
// AMIUSDT yields AMI. Unknown suffixes return the symbol unchanged.
func BaseCoin(symbol string) string {
	for _, suffix := range quoteSuffixes {
		if strings.HasSuffix(symbol, suffix) && len(symbol) > len(suffix) {
			return symbol[:len(symbol)-len(suffix)]
		}
	}
	return symbol
}
