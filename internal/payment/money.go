package payment

import (
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// MinorUnitScale returns the number of decimal places the currency's minor unit uses.
func MinorUnitScale(code string) (int32, error) {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return 0, fmt.Errorf("payment: currency %q: %w", code, err)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale), nil
}

// ToMinor converts a major-unit amount into gateway minor units, rounding half away from zero.
func ToMinor(amount decimal.Decimal, code string) (int64, error) {
	scale, err := MinorUnitScale(code)
	if err != nil {
		return 0, err
	}
	return amount.Shift(scale).Round(0).IntPart(), nil
}

// FromMinor converts gateway minor units back to major units.
func FromMinor(minor int64, code string) (decimal.Decimal, error) {
	scale, err := MinorUnitScale(code)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.New(minor, -scale), nil
}
