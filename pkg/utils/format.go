// Package utils provides shared utility functions.
package utils

import (
	"fmt"
	"math"
)

// FormatUSD formats a dollar amount. Sub-cent token prices keep enough
// significant digits to stay readable.
func FormatUSD(amount float64) string {
	abs := math.Abs(amount)
	switch {
	case abs == 0:
		return "$0.00"
	case abs < 0.01:
		return fmt.Sprintf("$%.8f", amount)
	default:
		return fmt.Sprintf("$%.2f", amount)
	}
}

// FormatPercent formats a percentage with an explicit sign on gains.
func FormatPercent(value float64) string {
	sign := ""
	if value > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f%%", sign, value)
}

// FormatPnL formats a profit or loss amount with an explicit sign.
func FormatPnL(pnl float64) string {
	formatted := FormatUSD(pnl)
	if pnl > 0 {
		return "+" + formatted
	}
	return formatted
}

// FormatQuantity formats a token quantity in compact form.
func FormatQuantity(qty float64) string {
	abs := math.Abs(qty)
	switch {
	case abs >= 1e9:
		return fmt.Sprintf("%.2fB", qty/1e9)
	case abs >= 1e6:
		return fmt.Sprintf("%.2fM", qty/1e6)
	case abs >= 1e3:
		return fmt.Sprintf("%.2fK", qty/1e3)
	default:
		return fmt.Sprintf("%.2f", qty)
	}
}

// FormatPrice formats a token price with adaptive precision.
func FormatPrice(price float64) string {
	abs := math.Abs(price)
	switch {
	case abs >= 1:
		return fmt.Sprintf("%.4f", price)
	case abs >= 0.0001:
		return fmt.Sprintf("%.6f", price)
	default:
		return fmt.Sprintf("%.10f", price)
	}
}
