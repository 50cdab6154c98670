package model

import "github.com/shopspring/decimal"

// moneyPlaces is the number of fractional digits kept for currency values.
const moneyPlaces = 2

// ToCents converts a currency amount to integer cents, rounding half away
// from zero at the second decimal place.
func ToCents(d decimal.Decimal) int64 {
	return d.Round(moneyPlaces).Shift(moneyPlaces).IntPart()
}

// FromCents converts integer cents back to a currency amount.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -moneyPlaces)
}
