package site

import (
	"errors"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

var (
	errNoAmount        = errors.New("no numeric amount")
	errNegativePrice   = errors.New("negative price")
	errPriceScale      = errors.New("more than two fractional digits")
	errPriceRange      = errors.New("price out of range")
	errUnknownCurrency = errors.New("unknown currency")
)

// maxPrice is the exclusive upper bound of a NUMERIC(10,2) column.
var maxPrice = decimal.New(1, 8)

var currencySymbols = map[string]string{
	"zł":  "PLN",
	"zl":  "PLN",
	"€":   "EUR",
	"$":   "USD",
	"£":   "GBP",
	"kč":  "CZK",
	"lei": "RON",
}

// ParsePrice splits a display price such as "1 234,50 zł" into an amount and
// an ISO currency code. thousandsSep is the site's grouping character; a
// comma is always read as the decimal mark.
func ParsePrice(text, thousandsSep string) (decimal.Decimal, string, error) {
	text = strings.Map(normalizeSpace, strings.TrimSpace(text))

	var num, cur strings.Builder
	for _, r := range text {
		switch {
		case unicode.IsDigit(r), r == ',', r == '.', r == '-', r == ' ':
			num.WriteRune(r)
		default:
			cur.WriteRune(r)
		}
	}

	amount := strings.ReplaceAll(num.String(), " ", "")
	if thousandsSep != "" && thousandsSep != " " {
		amount = strings.ReplaceAll(amount, thousandsSep, "")
	}
	amount = strings.ReplaceAll(amount, ",", ".")
	amount = strings.Trim(amount, ".")
	if amount == "" || amount == "-" {
		return decimal.Decimal{}, "", errNoAmount
	}

	price, err := decimal.NewFromString(amount)
	if err != nil {
		return decimal.Decimal{}, "", errNoAmount
	}
	if price.IsNegative() {
		return decimal.Decimal{}, "", errNegativePrice
	}
	if !price.Equal(price.Truncate(2)) {
		return decimal.Decimal{}, "", errPriceScale
	}
	if price.GreaterThanOrEqual(maxPrice) {
		return decimal.Decimal{}, "", errPriceRange
	}

	currency, err := normalizeCurrency(cur.String())
	if err != nil {
		return decimal.Decimal{}, "", err
	}
	return price, currency, nil
}

func normalizeCurrency(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if code, ok := currencySymbols[strings.ToLower(raw)]; ok {
		return code, nil
	}
	if len(raw) == 3 && isASCIIAlpha(raw) {
		return strings.ToUpper(raw), nil
	}
	return "", errUnknownCurrency
}

func isASCIIAlpha(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII || !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

func normalizeSpace(r rune) rune {
	if unicode.IsSpace(r) {
		return ' '
	}
	return r
}
