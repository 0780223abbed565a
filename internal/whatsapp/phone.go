package whatsapp

import (
	"regexp"
	"strings"
)

// phonePattern is the canonical E.164-ish shape accepted by the send path.
var phonePattern = regexp.MustCompile(`^\+\d{8,15}$`)

// NormalizePhone converts a phone number to canonical international format.
//
// Rules, in order:
//   - strip everything but digits (a leading + is remembered)
//   - numbers already carrying + keep their country code
//   - 12-13 digit numbers starting with 55 are Brazilian numbers that lost
//     their plus sign
//   - 10-11 digit numbers are local Brazilian numbers (DDD + subscriber) and
//     gain the +55 country code
//
// Returns "" when the input cannot produce a plausible number.
func NormalizePhone(raw string) string {
	trimmed := strings.TrimSpace(raw)
	hadPlus := strings.HasPrefix(trimmed, "+")

	var digits strings.Builder
	for _, r := range trimmed {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if d == "" {
		return ""
	}

	// Drop a single leading trunk zero (common in pasted local numbers).
	if !hadPlus && len(d) > 1 && d[0] == '0' {
		d = d[1:]
	}

	switch {
	case hadPlus:
		return "+" + d
	case (len(d) == 12 || len(d) == 13) && strings.HasPrefix(d, "55"):
		return "+" + d
	case len(d) == 10 || len(d) == 11:
		return "+55" + d
	default:
		return "+" + d
	}
}

// ValidPhone reports whether a normalized number matches the canonical
// +<8..15 digits> shape.
func ValidPhone(normalized string) bool {
	return phonePattern.MatchString(normalized)
}
