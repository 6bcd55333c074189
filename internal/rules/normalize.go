package rules

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// quantize rounds a money amount to cents.
func quantize(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"02-01-2006",
	"02.01.2006",
	"2/1/2006",
	"2006/01/02",
}

// NormalizeDate converts common invoice date spellings (day first)
// to ISO. Empty result means the value could not be parsed.
func NormalizeDate(value string) string {
	text := strings.TrimSpace(value)
	if text == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}

// NormalizeCurrency defaults empty values to EUR.
func NormalizeCurrency(value string) string {
	clean := strings.ToUpper(strings.TrimSpace(value))
	if clean == "" {
		return "EUR"
	}
	return clean
}
