package patient

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/nyaruka/phonenumbers"
)

// NormalizeEmail lower-cases and trims an address for matching.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone returns the E.164 digits of a phone number parsed against
// the default region, or the raw digits when the number cannot be parsed.
func NormalizePhone(phone, defaultRegion string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return ""
	}
	if num, err := phonenumbers.Parse(phone, defaultRegion); err == nil && phonenumbers.IsValidNumber(num) {
		return strings.TrimPrefix(phonenumbers.Format(num, phonenumbers.E164), "+")
	}
	return digitsOnly(phone)
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SearchTokens lower-cases and whitespace-splits the given values, keeping
// distinct tokens of at least two characters in first-seen order.
func SearchTokens(values ...string) []string {
	seen := make(map[string]struct{})
	tokens := make([]string, 0, len(values))
	for _, v := range values {
		for _, tok := range strings.Fields(strings.ToLower(v)) {
			if utf8.RuneCountInString(tok) < 2 {
				continue
			}
			if _, dup := seen[tok]; dup {
				continue
			}
			seen[tok] = struct{}{}
			tokens = append(tokens, tok)
		}
	}
	return tokens
}
