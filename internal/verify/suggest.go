package verify

import "strings"

// NearestMatches ranks candidates against a missing name. Priority order:
// case-insensitive exact match, substring containment in either direction,
// then a shared three-character prefix. Within a tier the candidates keep
// their incoming order.
func NearestMatches(name string, candidates []string) []string {
	lower := strings.ToLower(name)
	var exact, contains, prefix []string
	for _, c := range candidates {
		cl := strings.ToLower(c)
		switch {
		case cl == lower:
			exact = append(exact, c)
		case strings.Contains(cl, lower) || strings.Contains(lower, cl):
			contains = append(contains, c)
		case len(cl) >= 3 && len(lower) >= 3 && cl[:3] == lower[:3]:
			prefix = append(prefix, c)
		}
	}
	out := append(exact, contains...)
	return append(out, prefix...)
}

// BestMatch returns the single top-ranked candidate, or "" when nothing
// plausible exists. A unique result is what makes a deterministic
// identifier substitution safe.
func BestMatch(name string, candidates []string) string {
	m := NearestMatches(name, candidates)
	if len(m) == 0 {
		return ""
	}
	return m[0]
}
