package verify

import (
	"strings"

	"sqlweave/internal/diag"
	"sqlweave/internal/plan"
	"sqlweave/internal/sqlfrag"
)

// LogicChecks compares the node's natural-language description against the
// operators actually present in the fragment. These are advisory only;
// the heuristics are too coarse to block a fragment.
func LogicChecks(fragment string, node *plan.Node) []diag.Issue {
	if node == nil || node.Description == "" {
		return nil
	}
	desc := strings.ToLower(node.Description)
	var issues []diag.Issue

	type cue struct {
		words   []string
		wantOp  string
		message string
	}
	cues := []cue{
		{[]string{"after", "greater than", "more than", "above", "over "}, ">",
			"description implies a greater-than comparison but the fragment has none"},
		{[]string{"before", "less than", "fewer than", "below", "under "}, "<",
			"description implies a less-than comparison but the fragment has none"},
	}
	for _, c := range cues {
		for _, w := range c.words {
			if !strings.Contains(desc, w) {
				continue
			}
			if !strings.Contains(fragment, c.wantOp) {
				issues = append(issues, diag.Issue{
					Stage:      diag.StageSchema,
					Kind:       diag.KindLogicMismatch,
					Severity:   diag.SeverityWarning,
					Message:    c.message,
					Position:   -1,
					Suggestion: "check the comparison operator against the intent",
				})
			}
			break
		}
	}

	if strings.Contains(desc, "count") && !sqlfrag.HasAggregate(fragment) &&
		(node.Kind == plan.OpAggregate || node.Kind == plan.OpGroup) {
		issues = append(issues, diag.Issue{
			Stage:      diag.StageSchema,
			Kind:       diag.KindLogicMismatch,
			Severity:   diag.SeverityWarning,
			Message:    "description mentions counting but the fragment has no aggregate function",
			Position:   -1,
			Suggestion: "use COUNT(...) if the intent is to count rows",
		})
	}
	return issues
}
