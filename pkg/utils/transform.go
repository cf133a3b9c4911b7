package utils

import (
	"strings"
)

// Dedup drops repeated entries, keeping the first occurrence. Trailing slashes are trimmed so that
// base URLs compare equal.
func Dedup(in []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, e := range in {
		e = strings.TrimRight(e, "/")
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	return out
}

// Without returns in minus every occurrence of drop, preserving order.
func Without(in []string, drop string) []string {
	out := make([]string, 0, len(in))
	for _, e := range in {
		if e != drop {
			out = append(out, e)
		}
	}
	return out
}
