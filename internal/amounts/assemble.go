package amounts

import "fmt"

var typeLabels = map[AmountType]string{
	TotalBill:       "Total",
	Paid:            "Paid",
	Due:             "Due",
	Discount:        "Discount",
	ConsultationFee: "Consultation",
	Medicine:        "Medicine",
	Test:            "Tests",
	Procedure:       "Procedure",
	Other:           "Amount",
}

var currencySymbols = map[string]string{
	"INR": "Rs",
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
}

// Assemble maps classified amounts to labelled records with a synthesized source string
func Assemble(amounts []ClassifiedAmount, currency string) *Final {
	if currency == "" {
		currency = DefaultCurrency
	}

	final := make([]FinalAmount, 0, len(amounts))
	for _, a := range amounts {
		final = append(final, FinalAmount{
			Type:   a.Type,
			Value:  a.Value,
			Source: fmt.Sprintf("text: '%s: %s %s'", label(a.Type), CurrencySymbol(currency), formatValue(a.Value)),
		})
	}

	return &Final{
		Currency: currency,
		Amounts:  final,
		Status:   StatusOK,
	}
}

func label(t AmountType) string {
	if l, ok := typeLabels[t]; ok {
		return l
	}
	return "Amount"
}

// CurrencySymbol returns the display symbol for an ISO code, or the code itself when unknown
func CurrencySymbol(currency string) string {
	if s, ok := currencySymbols[currency]; ok {
		return s
	}
	return currency
}
