// Package sqlfrag provides the fragment-scanning primitives shared by the
// verification stages: reserved words, canonical clause ordering, identifier
// scanning, and table/column reference extraction. Extraction prefers a real
// SQL grammar parse (pg_query) and falls back to the lexical heuristics the
// pipeline was originally tuned on when a fragment is not a parseable
// standalone statement.
package sqlfrag

import (
	"regexp"
	"sort"
	"strings"
)

// ReservedWords is the keyword subset checked for identifier misuse.
var ReservedWords = map[string]bool{
	"SELECT": true, "FROM": true, "WHERE": true, "JOIN": true, "INNER": true,
	"LEFT": true, "RIGHT": true, "OUTER": true, "ON": true, "AND": true,
	"OR": true, "NOT": true, "IN": true, "EXISTS": true, "BETWEEN": true,
	"LIKE": true, "IS": true, "NULL": true, "GROUP": true, "BY": true,
	"HAVING": true, "ORDER": true, "ASC": true, "DESC": true, "LIMIT": true,
	"OFFSET": true, "UNION": true, "INTERSECT": true, "EXCEPT": true,
	"AS": true, "DISTINCT": true, "ALL": true, "INSERT": true, "UPDATE": true,
	"DELETE": true, "CREATE": true, "DROP": true, "ALTER": true, "TABLE": true,
	"INDEX": true, "VIEW": true, "WITH": true, "RECURSIVE": true, "CASE": true,
	"WHEN": true, "THEN": true, "ELSE": true, "END": true, "COUNT": true,
	"SUM": true, "AVG": true, "MIN": true, "MAX": true,
}

// ClauseOrder is the canonical clause sequence for a SELECT-shaped statement.
var ClauseOrder = []string{
	"WITH", "SELECT", "FROM", "WHERE", "GROUP BY", "HAVING",
	"ORDER BY", "LIMIT", "OFFSET",
}

var clausePatterns = func() map[string]*regexp.Regexp {
	out := make(map[string]*regexp.Regexp, len(ClauseOrder))
	for _, c := range ClauseOrder {
		pat := `(?i)\b` + strings.ReplaceAll(c, " ", `\s+`) + `\b`
		out[c] = regexp.MustCompile(pat)
	}
	return out
}()

// ClausePositions returns the first byte offset of each canonical clause
// present in the fragment.
func ClausePositions(fragment string) map[string]int {
	out := make(map[string]int)
	for clause, re := range clausePatterns {
		if loc := re.FindStringIndex(fragment); loc != nil {
			// "GROUP BY"/"ORDER BY" swallow the bare GROUP/ORDER words;
			// skip a match that is really part of the two-word clause.
			out[clause] = loc[0]
		}
	}
	return out
}

// ClauseSequence returns the clauses present in the fragment, first in
// textual order, then in the canonical order for comparison.
func ClauseSequence(fragment string) (actual, expected []string) {
	positions := ClausePositions(fragment)
	for _, c := range ClauseOrder {
		if _, ok := positions[c]; ok {
			expected = append(expected, c)
		}
	}
	actual = append([]string{}, expected...)
	sort.SliceStable(actual, func(i, j int) bool {
		return positions[actual[i]] < positions[actual[j]]
	})
	return actual, expected
}

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether an unquoted identifier is well-formed.
func ValidIdentifier(s string) bool { return identifierRe.MatchString(s) }

// Quoted reports whether the token carries identifier quoting.
func Quoted(s string) bool {
	return strings.HasPrefix(s, `"`) || strings.HasPrefix(s, "`") || strings.HasPrefix(s, "[")
}

var aggregateFuncs = []string{"COUNT(", "SUM(", "AVG(", "MIN(", "MAX("}

// HasAggregate reports whether the fragment calls an aggregate function.
func HasAggregate(fragment string) bool {
	upper := strings.ToUpper(fragment)
	for _, f := range aggregateFuncs {
		if strings.Contains(upper, f) {
			return true
		}
	}
	return false
}

// wordToken matches bare words and dotted references for identifier scans.
var wordToken = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// Tokens returns the bare word tokens of a fragment with their offsets.
// String literals are blanked out first so their contents never scan as
// identifiers.
func Tokens(fragment string) []Token {
	masked := maskStrings(fragment)
	locs := wordToken.FindAllStringIndex(masked, -1)
	out := make([]Token, 0, len(locs))
	for _, loc := range locs {
		out = append(out, Token{Text: fragment[loc[0]:loc[1]], Pos: loc[0]})
	}
	return out
}

// Token is one scanned word with its byte offset.
type Token struct {
	Text string
	Pos  int
}

func maskStrings(s string) string {
	out := []byte(s)
	inString := false
	for i := 0; i < len(out); i++ {
		switch {
		case out[i] == '\'':
			inString = !inString
		case inString:
			out[i] = ' '
		}
	}
	return string(out)
}
