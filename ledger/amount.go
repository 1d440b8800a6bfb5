package ledger

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Amounts are stored as NUMERIC(14,2).
const AmountScale = 2

// MaxAmount is the largest value a deal or offer may carry.
var MaxAmount = decimal.RequireFromString("999999999999.99")

var (
	ErrAmountNotPositive = errors.New("ledger: amount must be positive")
	ErrAmountPrecision   = errors.New("ledger: amount has more than 2 decimal places")
	ErrAmountRange       = errors.New("ledger: amount exceeds 999999999999.99")
)

// CheckAmount rejects values the store could not hold exactly.
func CheckAmount(v decimal.Decimal) error {
	switch {
	case !v.IsPositive():
		return ErrAmountNotPositive
	case !v.Equal(v.Truncate(AmountScale)):
		return ErrAmountPrecision
	case v.GreaterThan(MaxAmount):
		return ErrAmountRange
	}
	return nil
}
