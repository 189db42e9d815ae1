package verify

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"sqlweave/internal/diag"
	"sqlweave/internal/sqlfrag"
)

// SyntaxVerifier is the first and cheapest stage: parenthesis balance,
// required clauses for the fragment's apparent shape, canonical clause
// ordering, identifier validity, and a handful of style warnings. On
// success it emits a reformatted canonical fragment for the later stages.
type SyntaxVerifier struct {
	// MaxFragmentLen is the length above which a style warning fires.
	MaxFragmentLen int

	log *zap.Logger
}

// NewSyntaxVerifier returns a syntax verifier with reference thresholds.
func NewSyntaxVerifier(log *zap.Logger) *SyntaxVerifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &SyntaxVerifier{MaxFragmentLen: 1000, log: log}
}

func (v *SyntaxVerifier) Stage() diag.Stage { return diag.StageSyntax }

// Verify runs every syntax check. The fragment is never mutated; the
// canonical form is returned on the result.
func (v *SyntaxVerifier) Verify(_ context.Context, fragment string, _ Context) Result {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return result(diag.StageSyntax, []diag.Issue{{
			Stage:    diag.StageSyntax,
			Kind:     diag.KindIncompleteStatement,
			Severity: diag.SeverityError,
			Message:  "empty fragment",
			Position: -1,
		}})
	}

	var issues []diag.Issue
	issues = append(issues, checkParentheses(fragment)...)
	issues = append(issues, checkCompleteness(fragment)...)
	issues = append(issues, checkClauseOrder(fragment)...)
	issues = append(issues, checkIdentifiers(fragment)...)
	issues = append(issues, v.styleWarnings(fragment)...)

	res := result(diag.StageSyntax, issues)
	if res.Valid {
		res.Formatted = Reformat(fragment)
	}
	v.log.Debug("syntax stage",
		zap.Bool("valid", res.Valid),
		zap.Int("issues", len(issues)))
	return res
}

// checkParentheses scans left to right with a stack; every unmatched
// parenthesis yields an error positioned at the offending character.
func checkParentheses(fragment string) []diag.Issue {
	var issues []diag.Issue
	var stack []int
	inString := false
	for i := 0; i < len(fragment); i++ {
		switch fragment[i] {
		case '\'':
			inString = !inString
		case '(':
			if !inString {
				stack = append(stack, i)
			}
		case ')':
			if inString {
				continue
			}
			if len(stack) == 0 {
				issues = append(issues, diag.Issue{
					Stage:      diag.StageSyntax,
					Kind:       diag.KindUnbalancedParentheses,
					Severity:   diag.SeverityError,
					Message:    "unmatched closing parenthesis",
					Position:   i,
					Suggestion: "remove the extra ')' or add a matching '('",
				})
			} else {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if len(stack) > 0 {
		issues = append(issues, diag.Issue{
			Stage:      diag.StageSyntax,
			Kind:       diag.KindUnbalancedParentheses,
			Severity:   diag.SeverityError,
			Message:    fmt.Sprintf("%d unclosed parenthesis(es)", len(stack)),
			Position:   stack[0],
			Suggestion: "add a closing ')' for each unmatched '('",
			Fix: &diag.FixAction{
				Type:  diag.FixAppendClosingParens,
				Count: len(stack),
			},
		})
	}
	return issues
}

var scalarSelectShapes = []string{"SELECT 1", "SELECT COUNT", "SELECT NOW", "SELECT CURRENT"}

// checkCompleteness enforces required clauses for the fragment's apparent
// statement shape: SELECT needs a source, JOIN needs ON or USING.
func checkCompleteness(fragment string) []diag.Issue {
	var issues []diag.Issue
	upper := strings.ToUpper(fragment)

	if strings.Contains(upper, "SELECT") && !strings.Contains(upper, "FROM") {
		scalar := false
		for _, shape := range scalarSelectShapes {
			if strings.HasPrefix(upper, shape) {
				scalar = true
				break
			}
		}
		if !scalar {
			issues = append(issues, diag.Issue{
				Stage:      diag.StageSyntax,
				Kind:       diag.KindMissingClause,
				Severity:   diag.SeverityError,
				Message:    "SELECT-shaped fragment has no FROM clause",
				Position:   -1,
				Suggestion: "add a FROM clause naming the source table",
			})
		}
	}

	if strings.Contains(upper, "JOIN") &&
		!strings.Contains(upper, "CROSS JOIN") && !strings.Contains(upper, "NATURAL JOIN") {
		if !containsWord(upper, "ON") && !containsWord(upper, "USING") {
			issues = append(issues, diag.Issue{
				Stage:      diag.StageSyntax,
				Kind:       diag.KindMissingClause,
				Severity:   diag.SeverityError,
				Message:    "JOIN without an ON or USING condition",
				Position:   -1,
				Suggestion: "add an ON condition describing the join relationship",
			})
		}
	}

	trailers := []string{"WHERE", "AND", "OR", "ON", "=", "<", ">", ","}
	for _, tr := range trailers {
		if strings.HasSuffix(strings.TrimSpace(upper), " "+tr) || strings.TrimSpace(upper) == tr {
			issues = append(issues, diag.Issue{
				Stage:    diag.StageSyntax,
				Kind:     diag.KindIncompleteStatement,
				Severity: diag.SeverityError,
				Message:  fmt.Sprintf("fragment ends in dangling %q", tr),
				Position: len(fragment) - 1,
			})
			break
		}
	}
	return issues
}

func checkClauseOrder(fragment string) []diag.Issue {
	actual, expected := sqlfrag.ClauseSequence(fragment)
	if len(actual) == 0 || equalStrings(actual, expected) {
		return nil
	}
	return []diag.Issue{{
		Stage:    diag.StageSyntax,
		Kind:     diag.KindInvalidKeywordOrder,
		Severity: diag.SeverityError,
		Message: fmt.Sprintf("clauses out of order: got %s, expected %s",
			strings.Join(actual, " -> "), strings.Join(expected, " -> ")),
		Position:   -1,
		Suggestion: "reorder clauses to " + strings.Join(expected, " -> "),
	}}
}

// checkIdentifiers inspects tokens in identifier positions (directly after
// FROM, JOIN or AS): reserved words there are misuse errors, and malformed
// names are invalid-identifier errors.
func checkIdentifiers(fragment string) []diag.Issue {
	var issues []diag.Issue
	toks := sqlfrag.Tokens(fragment)
	for i := 1; i < len(toks); i++ {
		prev := strings.ToUpper(toks[i-1].Text)
		if prev != "FROM" && prev != "JOIN" && prev != "AS" {
			continue
		}
		name := toks[i].Text
		if sqlfrag.Quoted(name) {
			continue
		}
		if sqlfrag.ReservedWords[strings.ToUpper(name)] {
			issues = append(issues, diag.Issue{
				Stage:      diag.StageSyntax,
				Kind:       diag.KindReservedWordMisuse,
				Severity:   diag.SeverityError,
				Message:    fmt.Sprintf("reserved word %q used as identifier", name),
				Element:    name,
				Position:   toks[i].Pos,
				Suggestion: fmt.Sprintf("quote it as %q or rename it", name),
			})
			continue
		}
		if !sqlfrag.ValidIdentifier(name) {
			issues = append(issues, diag.Issue{
				Stage:      diag.StageSyntax,
				Kind:       diag.KindInvalidIdentifier,
				Severity:   diag.SeverityError,
				Message:    fmt.Sprintf("invalid identifier %q", name),
				Element:    name,
				Position:   toks[i].Pos,
				Suggestion: "identifiers start with a letter or underscore and contain only letters, digits and underscores",
			})
		}
	}
	return issues
}

func (v *SyntaxVerifier) styleWarnings(fragment string) []diag.Issue {
	var issues []diag.Issue
	upper := strings.ToUpper(fragment)

	if strings.Contains(upper, "SELECT *") {
		issues = append(issues, diag.Issue{
			Stage:      diag.StageSyntax,
			Kind:       diag.KindStyle,
			Severity:   diag.SeverityWarning,
			Message:    "unqualified wildcard projection",
			Position:   strings.Index(upper, "SELECT *"),
			Suggestion: "list the needed columns explicitly",
		})
	}
	if strings.Contains(upper, "JOIN") && strings.Count(fragment, ".") < 2 {
		issues = append(issues, diag.Issue{
			Stage:      diag.StageSyntax,
			Kind:       diag.KindStyle,
			Severity:   diag.SeverityWarning,
			Message:    "join without table aliases",
			Position:   -1,
			Suggestion: "qualify join columns with table aliases",
		})
	}
	if len(fragment) > v.MaxFragmentLen {
		issues = append(issues, diag.Issue{
			Stage:      diag.StageSyntax,
			Kind:       diag.KindStyle,
			Severity:   diag.SeverityWarning,
			Message:    fmt.Sprintf("fragment is very long (%d chars)", len(fragment)),
			Position:   -1,
			Suggestion: "consider splitting into CTEs or subqueries",
		})
	}
	if strings.Contains(upper, "WHERE AND") || strings.Contains(upper, "WHERE OR") {
		issues = append(issues, diag.Issue{
			Stage:      diag.StageSyntax,
			Kind:       diag.KindStyle,
			Severity:   diag.SeverityWarning,
			Message:    "WHERE clause starts with AND/OR",
			Position:   -1,
			Suggestion: "drop the leading AND/OR",
		})
	}
	return issues
}

// Reformat produces the canonical form consumed by the later stages:
// collapsed whitespace and uppercased keywords, with string literals left
// untouched.
func Reformat(fragment string) string {
	var b strings.Builder
	inString := false
	lastSpace := false
	word := func(w string) string {
		if sqlfrag.ReservedWords[strings.ToUpper(w)] {
			return strings.ToUpper(w)
		}
		return w
	}
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			b.WriteString(word(cur.String()))
			cur.Reset()
		}
	}
	for i := 0; i < len(fragment); i++ {
		c := fragment[i]
		if c == '\'' {
			flush()
			inString = !inString
			b.WriteByte(c)
			lastSpace = false
			continue
		}
		if inString {
			b.WriteByte(c)
			continue
		}
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			flush()
			if !lastSpace && b.Len() > 0 {
				b.WriteByte(' ')
				lastSpace = true
			}
			continue
		}
		lastSpace = false
		if isWordByte(c) {
			cur.WriteByte(c)
			continue
		}
		flush()
		b.WriteByte(c)
	}
	flush()
	return strings.TrimSpace(b.String())
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func containsWord(upper, word string) bool {
	idx := 0
	for {
		i := strings.Index(upper[idx:], word)
		if i < 0 {
			return false
		}
		i += idx
		before := i == 0 || !isWordByte(upper[i-1])
		after := i+len(word) >= len(upper) || !isWordByte(upper[i+len(word)])
		if before && after {
			return true
		}
		idx = i + len(word)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
