// Package diag defines the shared diagnostic vocabulary used by every
// verification stage and by the repair loop. Issues are immutable value
// records; they never own other entities.
package diag

// Stage identifies which verification stage produced an issue.
type Stage string

const (
	StageSyntax    Stage = "/syntax"
	StageSchema    Stage = "/schema"
	StageExecution Stage = "/execution"
)

// Severity ranks how strongly an issue blocks progression.
// Warnings and Info never block; Errors and Criticals do.
type Severity string

const (
	SeverityCritical Severity = "/critical"
	SeverityError    Severity = "/error"
	SeverityWarning  Severity = "/warning"
	SeverityInfo     Severity = "/info"
)

// Blocking reports whether the severity prevents a stage from passing.
func (s Severity) Blocking() bool {
	return s == SeverityCritical || s == SeverityError
}

// Kind classifies an issue within the error taxonomy.
type Kind string

const (
	// Syntax stage kinds.
	KindIncompleteStatement   Kind = "incomplete_statement"
	KindUnbalancedParentheses Kind = "unbalanced_parentheses"
	KindInvalidKeywordOrder   Kind = "invalid_keyword_order"
	KindMissingClause         Kind = "missing_clause"
	KindInvalidIdentifier     Kind = "invalid_identifier"
	KindReservedWordMisuse    Kind = "reserved_word_misuse"
	KindStyle                 Kind = "style"

	// Schema stage kinds.
	KindTableNotFound   Kind = "table_not_found"
	KindColumnNotFound  Kind = "column_not_found"
	KindInvalidJoin     Kind = "invalid_join"
	KindMissingGroupBy  Kind = "missing_group_by"
	KindTypeMismatch    Kind = "type_mismatch"
	KindLogicMismatch   Kind = "logic_mismatch"

	// Execution stage kinds.
	KindRuntimeError       Kind = "runtime_error"
	KindTimeout            Kind = "timeout"
	KindEmptyResult        Kind = "empty_result"
	KindExcessiveRows      Kind = "excessive_rows"
	KindPerformanceWarning Kind = "performance_warning"

	// Loop-level kinds.
	KindGenerationFailure Kind = "generation_failure"
	KindStageFailure      Kind = "stage_failure"
)

// FixActionType enumerates the machine-actionable deterministic repairs.
type FixActionType string

const (
	FixAppendClosingParens FixActionType = "/append_closing_parens"
	FixReplaceIdentifier   FixActionType = "/replace_identifier"
)

// FixAction is an optional machine-actionable repair attached to an issue.
// Only narrow, unambiguous repairs are ever encoded this way; everything
// else goes back through the generation capability as feedback.
type FixAction struct {
	Type        FixActionType `json:"type"`
	Target      string        `json:"target,omitempty"`      // element to replace
	Replacement string        `json:"replacement,omitempty"` // replacement text
	Count       int           `json:"count,omitempty"`       // e.g. parens to append
}

// Issue is a single diagnostic emitted by a verification stage.
type Issue struct {
	Stage      Stage      `json:"stage"`
	Kind       Kind       `json:"kind"`
	Severity   Severity   `json:"severity"`
	Message    string     `json:"message"`
	Element    string     `json:"element,omitempty"`    // offending table/column/fragment piece
	Position   int        `json:"position"`             // byte offset in the fragment, -1 if unknown
	Suggestion string     `json:"suggestion,omitempty"` // human-readable fix hint
	Fix        *FixAction `json:"fix,omitempty"`        // machine-actionable repair, if any
	Attempt    int        `json:"attempt,omitempty"`    // repair-loop attempt that produced it
}

// Blocking reports whether this issue prevents its stage from passing.
func (i Issue) Blocking() bool { return i.Severity.Blocking() }

// Errors filters a slice down to blocking issues.
func Errors(issues []Issue) []Issue {
	var out []Issue
	for _, is := range issues {
		if is.Blocking() {
			out = append(out, is)
		}
	}
	return out
}

// Warnings filters a slice down to non-blocking issues.
func Warnings(issues []Issue) []Issue {
	var out []Issue
	for _, is := range issues {
		if !is.Blocking() {
			out = append(out, is)
		}
	}
	return out
}
