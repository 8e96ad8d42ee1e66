package watch

import (
	"github.com/shopspring/decimal"

	"github.com/vikasavnish/stockwatch/internal/market"
)

// NoPrice is shown in place of a price that has not been fetched
const NoPrice = "—"

// FormatPrice renders a quote's price as dollars with two decimals
func FormatPrice(q *market.QuoteSnapshot) string {
	if q == nil {
		return NoPrice
	}
	return "$" + decimal.NewFromFloat(q.CurrentPrice).StringFixed(2)
}

// FormatChange renders the percent change with two decimals, or nothing
// when no quote is held
func FormatChange(q *market.QuoteSnapshot) string {
	if q == nil {
		return ""
	}
	return decimal.NewFromFloat(q.PercentChange).StringFixed(2) + "%"
}
