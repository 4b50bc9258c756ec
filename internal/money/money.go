// Package money handles monetary amounts in minor units of the platform
// currency. Amounts are int64 throughout; fractional arithmetic (the platform
// fee) goes through shopspring/decimal and rounds down in the organizer's
// disfavor so the platform never over-credits.
package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = errors.New("invalid amount")

// NetOfFee returns the organizer's share of a sale: amount × (1 − feeRate),
// truncated to a whole minor unit.
func NetOfFee(amount int64, feeRate decimal.Decimal) int64 {
	gross := decimal.NewFromInt(amount)
	net := gross.Sub(gross.Mul(feeRate))
	return net.IntPart()
}

// Fee returns the platform's share of a sale: amount − NetOfFee(amount).
func Fee(amount int64, feeRate decimal.Decimal) int64 {
	return amount - NetOfFee(amount, feeRate)
}

// ValidatePositive rejects zero and negative amounts.
func ValidatePositive(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	return nil
}

// Format renders a minor-unit amount as a decimal string with two places,
// e.g. 23750 -> "237.50". Used in OTP messages and ledger descriptions.
func Format(amount int64) string {
	return decimal.NewFromInt(amount).Div(decimal.NewFromInt(100)).StringFixed(2)
}
