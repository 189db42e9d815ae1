package verify

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"sqlweave/internal/diag"
	"sqlweave/internal/schema"
	"sqlweave/internal/sqlfrag"
)

// SchemaVerifier checks that every referenced table and column exists in
// the target schema, that joins target known tables, that aggregates are
// grouped correctly, and that comparison types line up. It also runs the
// advisory logic checks against the node's description.
type SchemaVerifier struct {
	log *zap.Logger
}

func NewSchemaVerifier(log *zap.Logger) *SchemaVerifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &SchemaVerifier{log: log}
}

func (v *SchemaVerifier) Stage() diag.Stage { return diag.StageSchema }

func (v *SchemaVerifier) Verify(_ context.Context, fragment string, vctx Context) Result {
	if vctx.Schema == nil || len(vctx.Schema.Tables()) == 0 {
		return result(diag.StageSchema, nil)
	}

	refs := sqlfrag.Extract(fragment)
	var issues []diag.Issue
	var confirmedTables, confirmedColumns []string

	for _, t := range refs.Tables {
		if vctx.Schema.HasTable(t) {
			confirmedTables = append(confirmedTables, t)
			continue
		}
		issues = append(issues, missingTable(t, vctx.Schema))
	}

	scope := confirmedTables
	if len(scope) == 0 && vctx.Node != nil {
		for _, t := range vctx.Node.Tables {
			if vctx.Schema.HasTable(t) {
				scope = append(scope, t)
			}
		}
	}

	for _, c := range refs.Columns {
		name := c
		if i := strings.LastIndex(c, "."); i >= 0 {
			name = c[i+1:]
		}
		if columnInScope(name, scope, vctx.Schema) {
			confirmedColumns = append(confirmedColumns, c)
			continue
		}
		issues = append(issues, missingColumn(name, scope, vctx.Schema))
	}

	issues = append(issues, checkJoins(fragment, vctx.Schema)...)
	issues = append(issues, checkGrouping(fragment)...)
	issues = append(issues, checkComparisonTypes(fragment, scope, vctx.Schema)...)
	issues = append(issues, LogicChecks(fragment, vctx.Node)...)

	res := result(diag.StageSchema, issues)
	res.ConfirmedTables = confirmedTables
	res.ConfirmedColumns = confirmedColumns
	v.log.Debug("schema stage",
		zap.Bool("valid", res.Valid),
		zap.Int("issues", len(issues)),
		zap.Strings("tables", confirmedTables))
	return res
}

func missingTable(name string, s *schema.Schema) diag.Issue {
	iss := diag.Issue{
		Stage:    diag.StageSchema,
		Kind:     diag.KindTableNotFound,
		Severity: diag.SeverityError,
		Message:  fmt.Sprintf("table %q does not exist", name),
		Element:  name,
		Position: -1,
	}
	if best := BestMatch(name, s.Tables()); best != "" {
		iss.Suggestion = fmt.Sprintf("did you mean %q?", best)
		if len(NearestMatches(name, s.Tables())) == 1 {
			iss.Fix = &diag.FixAction{
				Type:        diag.FixReplaceIdentifier,
				Target:      name,
				Replacement: best,
			}
		}
	}
	return iss
}

func missingColumn(name string, scope []string, s *schema.Schema) diag.Issue {
	iss := diag.Issue{
		Stage:    diag.StageSchema,
		Kind:     diag.KindColumnNotFound,
		Severity: diag.SeverityError,
		Message:  fmt.Sprintf("column %q does not exist in referenced tables", name),
		Element:  name,
		Position: -1,
	}
	byLower := s.ColumnsOf(scope)
	candidates := make([]string, 0, len(byLower))
	for _, orig := range byLower {
		candidates = append(candidates, orig)
	}
	sort.Strings(candidates)
	if best := BestMatch(name, candidates); best != "" {
		iss.Suggestion = fmt.Sprintf("did you mean %q?", best)
		if len(NearestMatches(name, candidates)) == 1 {
			iss.Fix = &diag.FixAction{
				Type:        diag.FixReplaceIdentifier,
				Target:      name,
				Replacement: best,
			}
		}
	}
	return iss
}

// columnInScope reports whether the column exists in any in-scope table.
// An empty scope searches the whole schema so that bare clause fragments
// still get useful column validation.
func columnInScope(name string, scope []string, s *schema.Schema) bool {
	_, ok := s.Column(scope, name)
	return ok
}

var joinTargetRe = regexp.MustCompile(`(?i)\bJOIN\s+(\w+)`)

func checkJoins(fragment string, s *schema.Schema) []diag.Issue {
	var issues []diag.Issue
	for _, m := range joinTargetRe.FindAllStringSubmatch(fragment, -1) {
		if !s.HasTable(m[1]) {
			iss := diag.Issue{
				Stage:    diag.StageSchema,
				Kind:     diag.KindInvalidJoin,
				Severity: diag.SeverityError,
				Message:  fmt.Sprintf("join targets unknown table %q", m[1]),
				Element:  m[1],
				Position: -1,
			}
			if best := BestMatch(m[1], s.Tables()); best != "" {
				iss.Suggestion = fmt.Sprintf("did you mean %q?", best)
			}
			issues = append(issues, iss)
		}
	}
	return issues
}

var selectListRe = regexp.MustCompile(`(?is)\bSELECT\s+(.*?)\s+FROM\b`)

// checkGrouping flags aggregate functions mixed with plain columns when no
// GROUP BY is present.
func checkGrouping(fragment string) []diag.Issue {
	upper := strings.ToUpper(fragment)
	if !sqlfrag.HasAggregate(fragment) || strings.Contains(upper, "GROUP BY") {
		return nil
	}
	m := selectListRe.FindStringSubmatch(fragment)
	if m == nil {
		return nil
	}
	for _, item := range strings.Split(m[1], ",") {
		item = strings.TrimSpace(item)
		if item == "" || item == "*" || sqlfrag.HasAggregate(item) {
			continue
		}
		return []diag.Issue{{
			Stage:      diag.StageSchema,
			Kind:       diag.KindMissingGroupBy,
			Severity:   diag.SeverityError,
			Message:    fmt.Sprintf("non-aggregated column %q selected alongside an aggregate without GROUP BY", item),
			Element:    item,
			Position:   -1,
			Suggestion: "add a GROUP BY clause covering the non-aggregated columns",
		}}
	}
	return nil
}

var quotedCompareRe = regexp.MustCompile(`([\w\.]+)\s*(?:=|<>|!=|<=|>=|<|>)\s*'([^']*)'`)

// checkComparisonTypes warns when a numeric-typed column is compared to a
// quoted literal.
func checkComparisonTypes(fragment string, scope []string, s *schema.Schema) []diag.Issue {
	var issues []diag.Issue
	for _, m := range quotedCompareRe.FindAllStringSubmatch(fragment, -1) {
		name := m[1]
		if i := strings.LastIndex(name, "."); i >= 0 {
			name = name[i+1:]
		}
		col, ok := s.Column(scope, name)
		if ok && col.LikelyNumeric() {
			issues = append(issues, diag.Issue{
				Stage:      diag.StageSchema,
				Kind:       diag.KindTypeMismatch,
				Severity:   diag.SeverityWarning,
				Message:    fmt.Sprintf("numeric column %q compared to quoted literal '%s'", name, m[2]),
				Element:    name,
				Position:   -1,
				Suggestion: "drop the quotes around the numeric literal",
			})
		}
	}
	return issues
}
