package amounts

import (
	"encoding/json"
	"fmt"
	"strings"
)

const extractPrompt = `You are an OCR post-processing expert. Extract ONLY monetary amounts from this bill text, filtering out dates, quantities, page numbers, and other non-monetary numbers.

BILL TEXT:
"""
%s
"""

Tasks:
1. Extract ONLY monetary amounts (prices, totals, subtotals, taxes)
2. Filter out: dates, years, quantities, page numbers, line numbers
3. Detect the currency as an ISO 4217 code
4. Return amounts in the order they appear, exactly as written

Return ONLY valid JSON in this exact format:
{
  "raw_tokens": ["330", "300", "30", "250", "25"],
  "currency_hint": "USD",
  "confidence": 0.85
}

Important:
- Skip years like 2018, 2020, etc.
- Skip quantities like "1" in "QTY: 1"
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

const normalizePrompt = `You are a medical billing validation expert. Analyze these amounts from a healthcare document.

RAW TOKENS: %s
NORMALIZED AMOUNTS: %s

Validation checks:
1. Decimal accuracy - medical bills often end in .00 or .50
2. Typical ranges:
   - Consultation: 300-3000
   - Tests: 150-2500
   - Medicines: 50-1000
   - Procedures: 1000-50000
3. Correct obvious OCR digit errors (12000 vs 1200)
4. Restore missing decimal points (2500 -> 25.00 when context suggests it)

Return ONLY valid JSON in this exact format:
{
  "normalized_amounts": [1200, 1000, 200],
  "normalization_confidence": 0.85,
  "validation_notes": "brief note"
}

If the amounts look valid, return them unchanged.
Do not include any text before or after the JSON.`

const classifyPrompt = `You are a medical billing expert. Classify each amount on this bill by its type.

BILL TEXT:
"""
%s
"""

RAW TOKENS: %s
AMOUNTS TO CLASSIFY: %s

CATEGORIES:
%s

Rules:
1. Match amounts with their nearest labels in the text
2. The largest amount is often the total_bill, but verify with context
3. Use "other" only when no clear context exists
4. Return one entry per amount with a confidence between 0 and 1

Return ONLY valid JSON in this exact format:
{
  "amounts": [
    {"type": "total_bill", "value": 1200, "confidence": 0.95},
    {"type": "paid", "value": 1000, "confidence": 0.9}
  ],
  "confidence": 0.9
}

Do not include any text before or after the JSON.`

const validatePrompt = `You are a QA expert. Validate this amount-detection pipeline output.

Original text: %q
Extracted tokens: %s
Normalized amounts: %s
Classification: %s

Return ONLY valid JSON in this exact format:
{
  "valid": true,
  "confidence": 0.85,
  "issues": [],
  "recommendation": "accept"
}

Use "needs_clarification" as the recommendation when the classification cannot be trusted.`

// taxonomy describes each AmountType for the classification prompt
var taxonomy = []struct {
	amountType  AmountType
	description string
}{
	{TotalBill, `main total amount ("Total", "Bill", "Final Amount")`},
	{Paid, `amount already paid ("Paid", "Payment", "Received", "Advance")`},
	{Due, `remaining balance ("Due", "Balance", "Payable", "Outstanding")`},
	{Discount, `discount amount ("Discount", "Concession", "Off")`},
	{ConsultationFee, "doctor consultation charges"},
	{Medicine, "medicine and pharmacy costs"},
	{Test, "laboratory tests, scans, diagnostics"},
	{Procedure, "medical procedures, surgeries, treatments"},
	{Other, "any other charge"},
}

func taxonomyText() string {
	var b strings.Builder
	for _, t := range taxonomy {
		fmt.Fprintf(&b, "- %q: %s\n", t.amountType, t.description)
	}
	return b.String()
}

// mustJSON renders prompt arguments; every argument is a plain slice or struct
func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}
