package adapter

// Numeric ISO 4217 codes accepted by the gateways.
const (
	CurrencyUSD = 840
	CurrencyCAD = 124
	CurrencyGBP = 826
	CurrencyEUR = 978
)

var currencySymbols = map[int]string{
	CurrencyUSD: "USD",
	CurrencyCAD: "CAD",
	CurrencyGBP: "GBP",
	CurrencyEUR: "EUR",
}

// CurrencySymbol maps a numeric ISO 4217 code to its 3-letter symbol.
func CurrencySymbol(code int) (string, bool) {
	sym, ok := currencySymbols[code]
	return sym, ok
}
