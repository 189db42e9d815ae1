package generate

import (
	"fmt"
	"strings"

	"sqlweave/internal/diag"
	"sqlweave/internal/plan"
)

// fragmentPrompt builds the per-node generation prompt. Dependency
// fragments and prior-attempt feedback are folded in so a retry has the
// full picture of what already exists and what went wrong.
func fragmentPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("You write one SQL clause fragment for a single step of a larger query.\n")
	b.WriteString("Respond with the raw SQL fragment only, no prose, no markdown fences.\n\n")

	if req.Schema != nil {
		b.WriteString("Database schema:\n")
		b.WriteString(req.Schema.PromptText())
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Overall question: %s\n", req.Question)
	fmt.Fprintf(&b, "Step operation: %s\n", strings.TrimPrefix(string(req.Node.Kind), "/"))
	fmt.Fprintf(&b, "Step intent: %s\n", req.Node.Description)
	if len(req.Node.Tables) > 0 {
		fmt.Fprintf(&b, "Tables in scope: %s\n", strings.Join(req.Node.Tables, ", "))
	}
	if len(req.Node.Columns) > 0 {
		fmt.Fprintf(&b, "Columns in scope: %s\n", strings.Join(req.Node.Columns, ", "))
	}
	if len(req.DependencyFragments) > 0 {
		b.WriteString("\nAlready-verified fragments this step builds on:\n")
		for _, f := range req.DependencyFragments {
			fmt.Fprintf(&b, "  %s\n", f)
		}
	}
	if len(req.Feedback) > 0 {
		fmt.Fprintf(&b, "\nYour previous attempt (%d) was rejected. Problems found:\n", req.Attempt-1)
		for _, iss := range req.Feedback {
			fmt.Fprintf(&b, "  - [%s] %s", iss.Kind, iss.Message)
			if iss.Suggestion != "" {
				fmt.Fprintf(&b, " (%s)", iss.Suggestion)
			}
			b.WriteString("\n")
		}
		b.WriteString("Produce a corrected fragment that resolves every problem above.\n")
	}
	return b.String()
}

// decomposePrompt asks for a structured decomposition of the question into
// operations and dependencies, returned as strict JSON.
func decomposePrompt(question, schemaText string) string {
	kinds := make([]string, 0, len(plan.Kinds()))
	for _, k := range plan.Kinds() {
		kinds = append(kinds, strings.TrimPrefix(string(k), "/"))
	}
	var b strings.Builder
	b.WriteString("Decompose the question into a dependency graph of SQL operations.\n")
	b.WriteString("Respond with strict JSON only, matching this shape:\n")
	b.WriteString(`{"nodes":[{"id":"filter_1","kind":"filter","description":"...","tables":["t"],"columns":["c"],"conditions":["c > 1"]}],"edges":[["filter_1","projection_1"]]}` + "\n")
	fmt.Fprintf(&b, "Allowed kinds: %s\n", strings.Join(kinds, ", "))
	b.WriteString("Edges are [parent, child] pairs; a child depends on its parent.\n\n")
	if schemaText != "" {
		b.WriteString("Database schema:\n")
		b.WriteString(schemaText)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Question: %s\n", question)
	return b.String()
}

// composePrompt asks for the final statement given the verified fragments
// in slot order.
func composePrompt(question string, fragments map[plan.OpKind][]string) string {
	var b strings.Builder
	b.WriteString("Assemble these verified SQL fragments into one complete statement.\n")
	b.WriteString("Use every fragment's logic; respond with the raw SQL only.\n\n")
	fmt.Fprintf(&b, "Question: %s\n\nFragments:\n", question)
	for _, k := range plan.Kinds() {
		for _, f := range fragments[k] {
			fmt.Fprintf(&b, "  [%s] %s\n", strings.TrimPrefix(string(k), "/"), f)
		}
	}
	return b.String()
}

// issueSummary renders feedback issues compactly for logs.
func issueSummary(issues []diag.Issue) string {
	parts := make([]string, 0, len(issues))
	for _, iss := range issues {
		parts = append(parts, string(iss.Kind))
	}
	return strings.Join(parts, ",")
}
