// Package strings normalizes repeated query values.
package strings

import "strings"

// UniqueLower trims and lowercases each value, then drops blanks and
// repeats, keeping first-seen order. UUID filters arrive in either case, so
// "ABC" and " abc" count as one value.
func UniqueLower(values []string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]bool, len(values))
	out := values[:0:0]
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
