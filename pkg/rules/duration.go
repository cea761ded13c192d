package rules

import (
	"strconv"
	"strings"
)

// ParseDuration converts a duration string to whole seconds. Suffix
// detection is by substring containment: "d" multiplies by 86400, "h" by
// 3600, "m" by 60, anything else is taken as seconds.
//
// Parsing is deliberately lenient and must stay that way: non-digit
// characters are ignored when reading the magnitude, a string with no
// digits yields a magnitude of 1, and only the empty string yields 0.
// Callers depend on these exact semantics.
func ParseDuration(s string) uint {
	if s == "" {
		return 0
	}
	s = strings.ToLower(strings.TrimSpace(s))

	var digits strings.Builder
	for _, ch := range s {
		if ch >= '0' && ch <= '9' {
			digits.WriteRune(ch)
		}
	}

	num := 1
	if digits.Len() > 0 {
		num, _ = strconv.Atoi(digits.String())
	}

	switch {
	case strings.Contains(s, "d"):
		return uint(num) * 86400
	case strings.Contains(s, "h"):
		return uint(num) * 3600
	case strings.Contains(s, "m"):
		return uint(num) * 60
	default:
		return uint(num)
	}
}
