package llm

import "github.com/shopspring/decimal"

// Per-token completion rates: 0.0015 per 1000 prompt tokens and 0.002 per
// 1000 completion tokens, kept as exact decimals so billing never drifts.
var (
	InputTokenRate  = decimal.New(15, -7)
	OutputTokenRate = decimal.New(2, -6)
)

func InputCost(promptTokens int) decimal.Decimal {
	return InputTokenRate.Mul(decimal.NewFromInt(int64(promptTokens)))
}

func OutputCost(completionTokens int) decimal.Decimal {
	return OutputTokenRate.Mul(decimal.NewFromInt(int64(completionTokens)))
}

// CostForTokens is the combined charge for a hypothetical or actual
// completion round trip.
func CostForTokens(promptTokens, completionTokens int) decimal.Decimal {
	return InputCost(promptTokens).Add(OutputCost(completionTokens))
}
