// Package strings holds small helpers for comma separated settings.
package strings

import (
	"strings"
)

// SplitList splits raw on commas, trims each item and drops empties and
// repeats. First occurrence order is kept.
func SplitList(raw string) []string {
	return Dedupe(strings.Split(raw, ","))
}

// Dedupe trims each value and drops empties and repeats.
func Dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
