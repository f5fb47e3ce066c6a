package service

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// formatMoney renders an amount as "$1234.50".
func formatMoney(v float64) string {
	return "$" + decimal.NewFromFloat(v).StringFixed(2)
}

// roundCents rounds half away from zero to two decimal places.
func roundCents(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// displayCategory title-cases a category label; the empty (overall) category
// renders as "Overall".
func displayCategory(category string) string {
	category = strings.TrimSpace(category)
	if category == "" {
		return "Overall"
	}
	// Casers are stateful, so one is made per call.
	return cases.Title(language.English).String(strings.ReplaceAll(category, "_", " "))
}
