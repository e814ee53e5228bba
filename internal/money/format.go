// Package money formats minor-unit amounts for display.
package money

import (
	"github.com/shopspring/decimal"
)

// minorUnits lists currencies whose minor unit is not 1/100.
var minorUnits = map[string]int32{
	"BIF": 0, "CLP": 0, "DJF": 0, "GNF": 0, "ISK": 0, "JPY": 0, "KMF": 0,
	"KRW": 0, "PYG": 0, "RWF": 0, "UGX": 0, "VND": 0, "VUV": 0, "XAF": 0,
	"XOF": 0, "XPF": 0,
	"BHD": 3, "IQD": 3, "JOD": 3, "KWD": 3, "LYD": 3, "OMR": 3, "TND": 3,
}

// Exponent returns the number of decimal places of the currency's minor unit.
func Exponent(currency string) int32 {
	if exp, ok := minorUnits[currency]; ok {
		return exp
	}
	return 2
}

// Display renders amount (in minor units) as a human-readable major-unit
// figure, e.g. 2500 USD -> "25.00 USD". The amount itself is not modified.
func Display(amount int64, currency string) string {
	exp := Exponent(currency)
	return decimal.New(amount, -exp).StringFixed(exp) + " " + currency
}
