package verify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"sqlweave/internal/diag"
)

// ExecutionVerifier runs the fragment against the sample database. Clause
// fragments that are not complete statements get wrapped in a probe
// SELECT built from the node's tables.
type ExecutionVerifier struct {
	// Timeout bounds a single probe execution.
	Timeout time.Duration
	// MaxRows is the ceiling above which an excessive-rows warning fires.
	MaxRows int
	// SlowThreshold is the latency above which a performance warning fires.
	SlowThreshold time.Duration

	db  *SampleDB
	log *zap.Logger
}

func NewExecutionVerifier(db *SampleDB, log *zap.Logger) *ExecutionVerifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &ExecutionVerifier{
		Timeout:       10 * time.Second,
		MaxRows:       10000,
		SlowThreshold: time.Second,
		db:            db,
		log:           log,
	}
}

func (v *ExecutionVerifier) Stage() diag.Stage { return diag.StageExecution }

func (v *ExecutionVerifier) Verify(ctx context.Context, fragment string, vctx Context) Result {
	probe, ok := v.buildProbe(fragment, vctx)
	if !ok {
		// No runnable probe exists for this fragment shape. Pass with a note
		// rather than fabricating a statement that could fail for unrelated
		// reasons.
		return result(diag.StageExecution, []diag.Issue{{
			Stage:    diag.StageExecution,
			Kind:     diag.KindStyle,
			Severity: diag.SeverityInfo,
			Message:  "fragment has no executable probe form; execution check skipped",
			Position: -1,
		}})
	}

	runCtx, cancel := context.WithTimeout(ctx, v.Timeout)
	defer cancel()

	start := time.Now()
	rowCount, err := v.db.Query(runCtx, probe, v.MaxRows)
	elapsed := time.Since(start)

	var issues []diag.Issue
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			issues = append(issues, diag.Issue{
				Stage:      diag.StageExecution,
				Kind:       diag.KindTimeout,
				Severity:   diag.SeverityError,
				Message:    fmt.Sprintf("probe exceeded the %s execution budget", v.Timeout),
				Position:   -1,
				Suggestion: "simplify the fragment or add selective conditions",
			})
		} else {
			issues = append(issues, runtimeIssue(err))
		}
	} else {
		if rowCount == 0 {
			issues = append(issues, diag.Issue{
				Stage:      diag.StageExecution,
				Kind:       diag.KindEmptyResult,
				Severity:   diag.SeverityWarning,
				Message:    "probe returned zero rows against the sample data",
				Position:   -1,
				Suggestion: "an empty result may be correct, but check filters against the sample data",
			})
		}
		if rowCount > v.MaxRows {
			issues = append(issues, diag.Issue{
				Stage:      diag.StageExecution,
				Kind:       diag.KindExcessiveRows,
				Severity:   diag.SeverityWarning,
				Message:    fmt.Sprintf("probe returned over %d rows", v.MaxRows),
				Position:   -1,
				Suggestion: "add a LIMIT or tighter filter conditions",
			})
		}
		if elapsed > v.SlowThreshold {
			issues = append(issues, diag.Issue{
				Stage:      diag.StageExecution,
				Kind:       diag.KindPerformanceWarning,
				Severity:   diag.SeverityWarning,
				Message:    fmt.Sprintf("probe took %s against the sample data", elapsed.Round(time.Millisecond)),
				Position:   -1,
			})
		}
	}

	res := result(diag.StageExecution, issues)
	res.RowCount = rowCount
	res.Elapsed = elapsed
	v.log.Debug("execution stage",
		zap.Bool("valid", res.Valid),
		zap.Int("rows", rowCount),
		zap.Duration("elapsed", elapsed))
	return res
}

// buildProbe turns a clause fragment into a runnable SELECT. Complete
// SELECT statements run as-is; WHERE/GROUP/ORDER/LIMIT fragments are
// attached to a wildcard scan of the node's tables. HAVING and bare
// aggregate fragments have no standalone probe form.
func (v *ExecutionVerifier) buildProbe(fragment string, vctx Context) (string, bool) {
	fragment = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(fragment), ";"))
	upper := strings.ToUpper(fragment)

	if strings.HasPrefix(upper, "SELECT") || strings.HasPrefix(upper, "WITH") {
		return fragment, true
	}

	var tables []string
	if vctx.Node != nil {
		tables = vctx.Node.Tables
	}
	if len(tables) == 0 && vctx.Schema != nil {
		tables = vctx.Schema.Tables()
	}
	if len(tables) == 0 {
		return "", false
	}
	from := tables[0]

	switch {
	case strings.HasPrefix(upper, "WHERE"),
		strings.HasPrefix(upper, "GROUP BY"),
		strings.HasPrefix(upper, "ORDER BY"),
		strings.HasPrefix(upper, "LIMIT"):
		return fmt.Sprintf("SELECT * FROM %s %s", from, fragment), true
	case strings.HasPrefix(upper, "JOIN"), strings.HasPrefix(upper, "INNER JOIN"),
		strings.HasPrefix(upper, "LEFT JOIN"), strings.HasPrefix(upper, "RIGHT JOIN"):
		return fmt.Sprintf("SELECT * FROM %s %s", from, fragment), true
	case strings.HasPrefix(upper, "FROM"):
		return "SELECT * " + fragment, true
	case strings.HasPrefix(upper, "HAVING"):
		return "", false
	}
	// Bare condition with no leading keyword: treat it as a WHERE predicate.
	if strings.ContainsAny(fragment, "=<>") ||
		strings.Contains(upper, " LIKE ") || strings.Contains(upper, " IN ") {
		return fmt.Sprintf("SELECT * FROM %s WHERE %s", from, fragment), true
	}
	return "", false
}

// runtimeIssue maps a sqlite error message onto the issue taxonomy with a
// targeted remediation hint.
func runtimeIssue(err error) diag.Issue {
	msg := err.Error()
	lower := strings.ToLower(msg)
	iss := diag.Issue{
		Stage:    diag.StageExecution,
		Kind:     diag.KindRuntimeError,
		Severity: diag.SeverityError,
		Message:  "execution failed: " + msg,
		Position: -1,
	}
	switch {
	case strings.Contains(lower, "no such table"):
		iss.Suggestion = "the referenced table does not exist in the sample database"
	case strings.Contains(lower, "no such column"):
		iss.Suggestion = "the referenced column does not exist; check spelling and table qualifiers"
	case strings.Contains(lower, "ambiguous column"):
		iss.Suggestion = "qualify the column with its table name or alias"
	case strings.Contains(lower, "syntax error"):
		iss.Suggestion = "the statement is not valid sqlite syntax; check keywords and punctuation"
	case strings.Contains(lower, "datatype mismatch"):
		iss.Suggestion = "a value's type does not match the column; check literal quoting"
	}
	return iss
}
