package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sqlweave/internal/diag"
	"sqlweave/internal/generate"
	"sqlweave/internal/plan"
	"sqlweave/internal/schema"
	"sqlweave/internal/verify"
)

func testSchema() *schema.Schema {
	return schema.New(
		schema.Table{Name: "employees", Columns: []schema.Column{
			{Name: "id", Type: "INTEGER"},
			{Name: "name", Type: "TEXT"},
			{Name: "salary", Type: "REAL"},
			{Name: "department_id", Type: "INTEGER"},
		}},
		schema.Table{Name: "departments", Columns: []schema.Column{
			{Name: "id", Type: "INTEGER"},
			{Name: "name", Type: "TEXT"},
		}},
	)
}

func staticVerifiers() []verify.Verifier {
	return []verify.Verifier{
		verify.NewSyntaxVerifier(zap.NewNop()),
		verify.NewSchemaVerifier(zap.NewNop()),
	}
}

func TestLoopVerifiesOnFirstAttempt(t *testing.T) {
	gen := generate.Func(func(context.Context, generate.Request) (string, error) {
		return "SELECT name FROM employees", nil
	})
	loop := NewLoop(gen, staticVerifiers(), nil)

	node := &plan.Node{ID: "projection_1", Kind: plan.OpProjection, Tables: []string{"employees"}}
	out, err := loop.Run(context.Background(), "q", node, testSchema(), nil)
	require.NoError(t, err)
	assert.Equal(t, plan.RunVerified, out.Status)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, "SELECT name FROM employees", out.Fragment)
	assert.Empty(t, diag.Errors(out.Issues))
}

func TestLoopAdoptsCanonicalFragment(t *testing.T) {
	gen := generate.Func(func(context.Context, generate.Request) (string, error) {
		return "select   name\nfrom employees", nil
	})
	loop := NewLoop(gen, staticVerifiers(), nil)

	node := &plan.Node{ID: "projection_1", Kind: plan.OpProjection, Tables: []string{"employees"}}
	out, err := loop.Run(context.Background(), "q", node, testSchema(), nil)
	require.NoError(t, err)
	assert.Equal(t, plan.RunVerified, out.Status)
	assert.Equal(t, "SELECT name FROM employees", out.Fragment,
		"the verified fragment is the reformatted text the later stages saw")
}

func TestLoopPreVerifiedFragmentSkipsGeneration(t *testing.T) {
	calls := 0
	gen := generate.Func(func(context.Context, generate.Request) (string, error) {
		calls++
		return "", errors.New("should not be called")
	})
	loop := NewLoop(gen, staticVerifiers(), nil)

	node := &plan.Node{
		ID:       "projection_1",
		Kind:     plan.OpProjection,
		Tables:   []string{"employees"},
		Fragment: "SELECT name FROM employees",
	}
	out, err := loop.Run(context.Background(), "q", node, testSchema(), nil)
	require.NoError(t, err)
	assert.Equal(t, plan.RunVerified, out.Status)
	assert.Equal(t, 1, out.Attempts)
	assert.Zero(t, calls, "an existing fragment verifies without regeneration")
	assert.Empty(t, diag.Errors(out.Issues))
}

func TestLoopExhaustsAfterMaxAttempts(t *testing.T) {
	calls := 0
	gen := generate.Func(func(_ context.Context, req generate.Request) (string, error) {
		calls++
		if req.Attempt > 1 {
			// Retries must carry the previous attempt's blocking issues.
			assert.NotEmpty(t, req.Feedback)
		}
		return "SELECT name, salary", nil // no FROM, no mechanical fix
	})
	loop := NewLoop(gen, staticVerifiers(), nil)

	node := &plan.Node{ID: "projection_1", Kind: plan.OpProjection, Tables: []string{"employees"}}
	out, err := loop.Run(context.Background(), "q", node, testSchema(), nil)
	require.NoError(t, err)
	assert.Equal(t, plan.RunExhausted, out.Status)
	assert.Equal(t, DefaultMaxAttempts, out.Attempts)
	assert.Equal(t, DefaultMaxAttempts, calls)

	// Every issue is stamped with the attempt that produced it.
	attempts := map[int]bool{}
	for _, iss := range out.Issues {
		attempts[iss.Attempt] = true
	}
	assert.Equal(t, map[int]bool{1: true, 2: true, 3: true}, attempts)
}

func TestLoopAppliesParenthesisFix(t *testing.T) {
	calls := 0
	gen := generate.Func(func(context.Context, generate.Request) (string, error) {
		calls++
		return "SELECT name FROM employees WHERE (salary > 50000", nil
	})
	loop := NewLoop(gen, staticVerifiers(), nil)

	node := &plan.Node{ID: "projection_1", Kind: plan.OpProjection, Tables: []string{"employees"}}
	out, err := loop.Run(context.Background(), "q", node, testSchema(), nil)
	require.NoError(t, err)
	assert.Equal(t, plan.RunVerified, out.Status)
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, 1, calls, "mechanical repair replaces the second model call")
	assert.True(t, strings.HasSuffix(out.Fragment, ")"))
}

func TestLoopAppliesIdentifierFix(t *testing.T) {
	calls := 0
	gen := generate.Func(func(context.Context, generate.Request) (string, error) {
		calls++
		return "SELECT name FROM employee", nil
	})
	loop := NewLoop(gen, staticVerifiers(), nil)

	node := &plan.Node{ID: "projection_1", Kind: plan.OpProjection, Tables: []string{"employees"}}
	out, err := loop.Run(context.Background(), "q", node, testSchema(), nil)
	require.NoError(t, err)
	assert.Equal(t, plan.RunVerified, out.Status)
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "SELECT name FROM employees", out.Fragment)
}

func TestLoopGenerationFailureCountsAsAttempt(t *testing.T) {
	gen := generate.Func(func(context.Context, generate.Request) (string, error) {
		return "", errors.New("model unavailable")
	})
	loop := NewLoop(gen, staticVerifiers(), nil)

	node := &plan.Node{ID: "projection_1", Kind: plan.OpProjection}
	out, err := loop.Run(context.Background(), "q", node, testSchema(), nil)
	require.NoError(t, err)
	assert.Equal(t, plan.RunExhausted, out.Status)
	assert.Equal(t, DefaultMaxAttempts, out.Attempts)
	for _, iss := range out.Issues {
		assert.Equal(t, diag.KindGenerationFailure, iss.Kind)
	}
}

func TestLoopRecoversPanickingStage(t *testing.T) {
	gen := generate.Func(func(context.Context, generate.Request) (string, error) {
		return "SELECT name FROM employees", nil
	})
	loop := NewLoop(gen, []verify.Verifier{panicVerifier{}}, nil)
	loop.MaxAttempts = 1

	node := &plan.Node{ID: "projection_1", Kind: plan.OpProjection}
	out, err := loop.Run(context.Background(), "q", node, testSchema(), nil)
	require.NoError(t, err)
	assert.Equal(t, plan.RunExhausted, out.Status)
	require.NotEmpty(t, out.Issues)
	assert.Equal(t, diag.KindStageFailure, out.Issues[0].Kind)
}

type panicVerifier struct{}

func (panicVerifier) Stage() diag.Stage { return diag.StageExecution }
func (panicVerifier) Verify(context.Context, string, verify.Context) verify.Result {
	panic("boom")
}

func TestReplaceIdentifierWholeWordOnly(t *testing.T) {
	got := replaceIdentifier("SELECT order_id FROM order ORDER BY order_id", "order", "orders")
	assert.Equal(t, "SELECT order_id FROM orders ORDER BY order_id", got)
}

func TestLoopCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	gen := generate.Func(func(context.Context, generate.Request) (string, error) {
		return "SELECT name FROM employees", nil
	})
	loop := NewLoop(gen, staticVerifiers(), nil)

	node := &plan.Node{ID: "projection_1", Kind: plan.OpProjection}
	out, err := loop.Run(ctx, "q", node, testSchema(), nil)
	require.Error(t, err)
	assert.Equal(t, plan.RunAborted, out.Status)
}
