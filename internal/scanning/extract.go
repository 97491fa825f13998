package scanning

import (
	"regexp"
	"strings"
)

// MaxMerchantLength caps the merchant guess, in characters.
const MaxMerchantLength = 50

var amountPattern = regexp.MustCompile(`\$?\s*(\d+\.?\d*)`)

// Fields holds the best-effort guesses pulled out of recognized text.
// Empty strings mean nothing was found and the user fills the field in.
type Fields struct {
	Merchant string `json:"merchant"`
	Amount   string `json:"amount"`
}

// ExtractFields guesses a merchant and an amount from OCR text.
// The merchant is the first line with visible content; the amount is the
// first number, optionally preceded by a dollar sign.
func ExtractFields(text string) Fields {
	return Fields{
		Merchant: extractMerchant(text),
		Amount:   extractAmount(text),
	}
}

func extractMerchant(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if r := []rune(line); len(r) > MaxMerchantLength {
			line = strings.TrimSpace(string(r[:MaxMerchantLength]))
		}
		return line
	}
	return ""
}

func extractAmount(text string) string {
	m := amountPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}
