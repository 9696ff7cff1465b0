package billing

import "github.com/shopspring/decimal"

// ApplyPercentOff returns amount reduced by percent, rounded half away from zero.
func ApplyPercentOff(amount int64, percent int) int64 {
	if percent <= 0 {
		return amount
	}
	if percent >= 100 {
		return 0
	}
	factor := decimal.NewFromInt(int64(100 - percent)).Div(decimal.NewFromInt(100))
	return decimal.NewFromInt(amount).Mul(factor).Round(0).IntPart()
}
