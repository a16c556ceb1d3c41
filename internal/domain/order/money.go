package order

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var maxVND = decimal.NewFromInt(math.MaxInt64)

// WholeVND converts an amount to the provider's integer VND. Fractional or
// negative amounts are rejected rather than rounded.
func WholeVND(amount decimal.Decimal) (int64, error) {
	if amount.IsNegative() {
		return 0, fmt.Errorf("negative amount %s", amount)
	}
	if !amount.Equal(amount.Truncate(0)) {
		return 0, fmt.Errorf("amount %s is not a whole number of VND", amount)
	}
	if amount.GreaterThan(maxVND) {
		return 0, fmt.Errorf("amount %s out of range", amount)
	}
	return amount.IntPart(), nil
}
