// Package generate turns plan nodes into SQL clause fragments. The primary
// path is an LLM call; a rule-based template generator serves as the
// offline fallback and as the deterministic generator for tests.
package generate

import (
	"context"

	"sqlweave/internal/diag"
	"sqlweave/internal/plan"
	"sqlweave/internal/schema"
)

// Request carries everything a generator needs for one fragment attempt.
type Request struct {
	Question string
	Node     *plan.Node
	Schema   *schema.Schema

	// Verified fragments of the node's dependencies, in dependency order.
	DependencyFragments []string

	// Issues from the previous attempt, empty on the first. Generators fold
	// these into the prompt so the retry addresses the reported problems.
	Feedback []diag.Issue
	Attempt  int
}

// Generator produces a SQL fragment for a single plan node.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Func adapts a function to the Generator interface.
type Func func(ctx context.Context, req Request) (string, error)

func (f Func) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Composer assembles verified fragments into one final statement.
type Composer interface {
	Compose(ctx context.Context, question string, fragments map[plan.OpKind][]string) (string, error)
}
