// Package verify implements the three verification stages a candidate
// fragment passes through: syntax, schema alignment, and execution against
// a provisioned sample dataset. Each stage consumes a fragment plus context
// and produces a typed verdict; none of them mutates its input.
package verify

import (
	"context"
	"time"

	"sqlweave/internal/diag"
	"sqlweave/internal/plan"
	"sqlweave/internal/schema"
)

// Context carries what a stage may need beyond the fragment itself. Node is
// optional; a nil node verifies a bare fragment with no intent context.
type Context struct {
	Node   *plan.Node
	Schema *schema.Schema

	// DependencyFragments are the already-verified fragments of the
	// node's dependencies, in dependency order.
	DependencyFragments []string
}

// Result is one stage's verdict. Valid means no blocking issue was found;
// warnings never turn Valid off.
type Result struct {
	Stage  diag.Stage
	Valid  bool
	Issues []diag.Issue

	// Syntax payload: the canonical reformatted fragment, set on success
	// and consumed by the later stages.
	Formatted string

	// Schema payload: references confirmed to exist.
	ConfirmedTables  []string
	ConfirmedColumns []string

	// Execution payload.
	RowCount int
	Elapsed  time.Duration
}

// Errors returns the blocking issues of the verdict.
func (r Result) Errors() []diag.Issue { return diag.Errors(r.Issues) }

// Warnings returns the non-blocking issues of the verdict.
func (r Result) Warnings() []diag.Issue { return diag.Warnings(r.Issues) }

// Verifier is one stage of the pipeline.
type Verifier interface {
	Stage() diag.Stage
	Verify(ctx context.Context, fragment string, vctx Context) Result
}

func result(stage diag.Stage, issues []diag.Issue) Result {
	return Result{
		Stage:  stage,
		Valid:  len(diag.Errors(issues)) == 0,
		Issues: issues,
	}
}
