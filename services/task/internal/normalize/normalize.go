// Package normalize holds the stateless text and money helpers shared by
// the store and the orchestrator.
package normalize

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Name trims s, collapses whitespace runs to single spaces and upper-cases
// the first letter of every word. The rest of each word is left as typed.
func Name(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		if r == utf8.RuneError {
			continue
		}
		if up := unicode.ToUpper(r); up != r {
			words[i] = string(up) + w[size:]
		}
	}
	return strings.Join(words, " ")
}

// Money rounds to cents, half away from zero.
func Money(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

// BaseAmount is round(unitPrice * quantity, 2); negative inputs count as zero.
func BaseAmount(unitPrice decimal.Decimal, quantity int) decimal.Decimal {
	if unitPrice.IsNegative() {
		unitPrice = decimal.Zero
	}
	if quantity < 0 {
		quantity = 0
	}
	return Money(unitPrice.Mul(decimal.NewFromInt(int64(quantity))))
}

// ValidIdentifier reports whether s (after trimming) is one ASCII letter followed by four digits, e.g. S9009.
func ValidIdentifier(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) != 5 {
		return false
	}
	c := s[0]
	if !(c >= 'a' && c <= 'z') && !(c >= 'A' && c <= 'Z') {
		return false
	}
	for i := 1; i < 5; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
