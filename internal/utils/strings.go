package utils

import "strings"

// ParseCSV splits a comma-separated string into trimmed, non-empty
// values. Empty or whitespace-only input yields nil.
func ParseCSV(s string) []string {
	fields := strings.Split(s, ",")
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ParseSymbolList parses a comma-separated ticker list, trimming and
// uppercasing each entry. Duplicates are dropped, first occurrence wins.
func ParseSymbolList(s string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, sym := range ParseCSV(s) {
		sym = strings.ToUpper(sym)
		if _, ok := seen[sym]; ok {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	return out
}
