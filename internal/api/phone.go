package api

import "strings"

// defaultCountryCode is prepended to bare 10-digit national numbers.
const defaultCountryCode = "1"

// NormalizePhone coerces transport phone formats into E.164:
// a 10-digit number gets the default country code, longer digit strings get
// a plus prefix, and already-prefixed numbers pass through. Returns "" when
// nothing resembling a number remains.
func NormalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	prefixed := strings.HasPrefix(raw, "+")
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if d == "" {
		return ""
	}

	if prefixed {
		return "+" + d
	}
	if len(d) == 10 {
		return "+" + defaultCountryCode + d
	}
	if len(d) > 10 {
		return "+" + d
	}
	return ""
}
