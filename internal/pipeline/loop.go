// Package pipeline wires decomposition, per-node fragment generation, the
// three verification stages and final composition into one run. The core
// is a bounded verify-repair loop: each failed attempt feeds its issues
// back into the next generation, and deterministic fixes short-circuit the
// model when a repair is mechanical.
package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"sqlweave/internal/diag"
	"sqlweave/internal/generate"
	"sqlweave/internal/plan"
	"sqlweave/internal/schema"
	"sqlweave/internal/verify"
)

// DefaultMaxAttempts bounds the verify-repair loop per node.
const DefaultMaxAttempts = 3

// Loop runs one node through generate-verify-repair until the fragment
// verifies or attempts run out.
type Loop struct {
	Generator   generate.Generator
	Verifiers   []verify.Verifier // in stage order, fail-fast between stages
	MaxAttempts int
	Log         *zap.Logger
}

func NewLoop(gen generate.Generator, verifiers []verify.Verifier, log *zap.Logger) *Loop {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loop{
		Generator:   gen,
		Verifiers:   verifiers,
		MaxAttempts: DefaultMaxAttempts,
		Log:         log,
	}
}

// NodeOutcome is the result of running one node through the loop.
type NodeOutcome struct {
	Fragment string
	Status   plan.RunStatus
	Attempts int
	// Issues across all attempts, each stamped with its attempt number.
	Issues []diag.Issue
	// Per-stage pass/fail counts across all attempts.
	Stages map[diag.Stage]plan.StageTally
}

// Run drives the loop for a single node. A node that already carries a
// fragment is verified as-is first; generation only happens when there is
// nothing to verify or the previous attempt failed without a mechanical
// repair.
func (l *Loop) Run(ctx context.Context, question string, node *plan.Node, sc *schema.Schema, deps []string) (NodeOutcome, error) {
	out := NodeOutcome{
		Status: plan.RunExhausted,
		Stages: make(map[diag.Stage]plan.StageTally),
	}

	fragment := strings.TrimSpace(node.Fragment)
	var feedback []diag.Issue

	for attempt := 1; attempt <= l.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			out.Status = plan.RunAborted
			return out, err
		}
		out.Attempts = attempt

		if fragment == "" {
			var err error
			fragment, err = l.Generator.Generate(ctx, generate.Request{
				Question:            question,
				Node:                node,
				Schema:              sc,
				DependencyFragments: deps,
				Feedback:            feedback,
				Attempt:             attempt,
			})
			if err != nil {
				iss := diag.Issue{
					Stage:    diag.StageSyntax,
					Kind:     diag.KindGenerationFailure,
					Severity: diag.SeverityError,
					Message:  "fragment generation failed: " + err.Error(),
					Position: -1,
					Attempt:  attempt,
				}
				out.Issues = append(out.Issues, iss)
				feedback = []diag.Issue{iss}
				continue
			}
		}

		current, issues, verified := l.verifyOnce(ctx, fragment, node, sc, deps, attempt, &out)
		out.Issues = append(out.Issues, issues...)

		if verified {
			out.Fragment = current
			out.Status = plan.RunVerified
			l.Log.Debug("node verified",
				zap.String("node", node.ID),
				zap.Int("attempt", attempt))
			return out, nil
		}

		blocking := diag.Errors(issues)
		feedback = blocking
		if repaired, ok := applyFixes(current, blocking); ok {
			// Mechanical repair: reuse it as the next attempt's fragment
			// instead of asking the generator again.
			fragment = repaired
		} else {
			fragment = ""
		}
	}

	l.Log.Debug("node exhausted",
		zap.String("node", node.ID),
		zap.Int("attempts", out.Attempts))
	return out, nil
}

// verifyOnce runs the stages in order against one fragment, stopping at
// the first stage that reports a blocking issue. The syntax stage's
// canonical form feeds the later stages and is returned as the fragment of
// record, so the verified text is exactly what the last stage saw.
func (l *Loop) verifyOnce(ctx context.Context, fragment string, node *plan.Node, sc *schema.Schema, deps []string, attempt int, out *NodeOutcome) (string, []diag.Issue, bool) {
	vctx := verify.Context{Node: node, Schema: sc, DependencyFragments: deps}
	current := fragment
	var all []diag.Issue

	for _, v := range l.Verifiers {
		res := l.runStage(ctx, v, current, vctx)
		for i := range res.Issues {
			res.Issues[i].Attempt = attempt
		}
		all = append(all, res.Issues...)

		tally := out.Stages[v.Stage()]
		if res.Valid {
			tally.Passed++
		} else {
			tally.Failed++
		}
		out.Stages[v.Stage()] = tally

		if !res.Valid {
			return current, all, false
		}
		if res.Formatted != "" {
			current = res.Formatted
		}
	}
	return current, all, true
}

// runStage isolates a stage call so that a panicking verifier degrades
// into a failed stage instead of tearing down the run.
func (l *Loop) runStage(ctx context.Context, v verify.Verifier, fragment string, vctx verify.Context) (res verify.Result) {
	defer func() {
		if r := recover(); r != nil {
			l.Log.Error("verification stage panicked",
				zap.String("stage", string(v.Stage())),
				zap.Any("panic", r))
			res = verify.Result{
				Stage: v.Stage(),
				Issues: []diag.Issue{{
					Stage:    v.Stage(),
					Kind:     diag.KindStageFailure,
					Severity: diag.SeverityError,
					Message:  fmt.Sprintf("stage failed internally: %v", r),
					Position: -1,
				}},
			}
		}
	}()
	return v.Verify(ctx, fragment, vctx)
}

// applyFixes applies every deterministic fix attached to the blocking
// issues. It reports false when any blocking issue carries no fix, since a
// partial repair would just burn an attempt on a fragment known to fail.
func applyFixes(fragment string, blocking []diag.Issue) (string, bool) {
	if len(blocking) == 0 {
		return fragment, false
	}
	repaired := fragment
	for _, iss := range blocking {
		if iss.Fix == nil {
			return "", false
		}
		switch iss.Fix.Type {
		case diag.FixAppendClosingParens:
			repaired += strings.Repeat(")", iss.Fix.Count)
		case diag.FixReplaceIdentifier:
			repaired = replaceIdentifier(repaired, iss.Fix.Target, iss.Fix.Replacement)
		default:
			return "", false
		}
	}
	return repaired, repaired != fragment
}

// replaceIdentifier swaps whole-word occurrences only, so that a table
// named "order" never clobbers "ORDER BY".
func replaceIdentifier(s, target, replacement string) string {
	if target == "" || replacement == "" {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); {
		j := strings.Index(s[i:], target)
		if j < 0 {
			b.WriteString(s[i:])
			break
		}
		j += i
		end := j + len(target)
		before := j == 0 || !isWordByte(s[j-1])
		after := end >= len(s) || !isWordByte(s[end])
		if before && after {
			b.WriteString(s[i:j])
			b.WriteString(replacement)
		} else {
			b.WriteString(s[i:end])
		}
		i = end
	}
	return b.String()
}

func isWordByte(c byte) bool {
	return c == '_' || c == '.' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
