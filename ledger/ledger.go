// Package ledger compares the value of the product a brand gives against the
// value of the content a creator delivers in return.
package ledger

import "github.com/shopspring/decimal"

var (
	hundred   = decimal.NewFromInt(100)
	tolerance = decimal.RequireFromString("0.10")
)

// Balance is the informational comparison of both sides of a barter.
// It never gates a transition.
type Balance struct {
	ProductValue      decimal.Decimal
	ContentValue      decimal.Decimal
	Difference        decimal.Decimal
	DifferencePercent decimal.Decimal
	IsBalanced        bool
}

// Compute derives the balance between productValue and contentValue.
// A deal is balanced when the absolute difference stays strictly below 10% of
// the product value. DifferencePercent is zero when productValue is zero.
func Compute(productValue, contentValue decimal.Decimal) Balance {
	diff := contentValue.Sub(productValue)

	percent := decimal.Zero
	if !productValue.IsZero() {
		percent = diff.Div(productValue).Mul(hundred).Round(2)
	}

	return Balance{
		ProductValue:      productValue,
		ContentValue:      contentValue,
		Difference:        diff,
		DifferencePercent: percent,
		IsBalanced:        diff.Abs().LessThan(productValue.Mul(tolerance)),
	}
}
