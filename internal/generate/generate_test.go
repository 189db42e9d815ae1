package generate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"sqlweave/internal/plan"
	"sqlweave/internal/schema"
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

func TestTemplateGenerator(t *testing.T) {
	tests := []struct {
		name string
		node *plan.Node
		want string
	}{
		{
			name: "filter",
			node: &plan.Node{
				Kind:       plan.OpFilter,
				Conditions: []string{"salary > 50000", "department_id = 2"},
			},
			want: "WHERE salary > 50000 AND department_id = 2",
		},
		{
			name: "projection",
			node: &plan.Node{
				Kind:    plan.OpProjection,
				Tables:  []string{"employees"},
				Columns: []string{"name", "salary"},
			},
			want: "SELECT name, salary FROM employees",
		},
		{
			name: "projection defaults to wildcard",
			node: &plan.Node{
				Kind:   plan.OpProjection,
				Tables: []string{"employees"},
			},
			want: "SELECT * FROM employees",
		},
		{
			name: "aggregate count",
			node: &plan.Node{
				Kind:        plan.OpAggregate,
				Description: "how many employees",
				Tables:      []string{"employees"},
			},
			want: "SELECT COUNT(*) FROM employees",
		},
		{
			name: "aggregate average",
			node: &plan.Node{
				Kind:        plan.OpAggregate,
				Description: "average salary",
				Tables:      []string{"employees"},
				Columns:     []string{"salary"},
			},
			want: "SELECT AVG(salary) FROM employees",
		},
		{
			name: "sort descending",
			node: &plan.Node{
				Kind:        plan.OpSort,
				Description: "highest paid first",
				Columns:     []string{"salary"},
			},
			want: "ORDER BY salary DESC",
		},
		{
			name: "limit from description",
			node: &plan.Node{
				Kind:        plan.OpLimit,
				Description: "top 5 results",
			},
			want: "LIMIT 5",
		},
		{
			name: "having",
			node: &plan.Node{
				Kind:       plan.OpPostAggregateFilter,
				Conditions: []string{"COUNT(*) > 3"},
			},
			want: "HAVING COUNT(*) > 3",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TemplateGenerator{}.Generate(context.Background(), Request{Node: tt.node})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromTemplateConfidence(t *testing.T) {
	// Fully specified filter: nothing guessed.
	_, conf, err := FromTemplate(&plan.Node{
		Kind:       plan.OpFilter,
		Conditions: []string{"salary > 50000"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, conf)

	// Wildcard projection had to be assumed.
	_, conf, err = FromTemplate(&plan.Node{
		Kind:   plan.OpProjection,
		Tables: []string{"employees"},
	})
	require.NoError(t, err)
	assert.Less(t, conf, 1.0)
}

func TestTemplateFirst(t *testing.T) {
	llmCalls := 0
	llm := Func(func(context.Context, Request) (string, error) {
		llmCalls++
		return "FROM MODEL", nil
	})
	gen := TemplateFirst{LLM: llm}

	confident := &plan.Node{Kind: plan.OpFilter, Conditions: []string{"salary > 50000"}}
	got, err := gen.Generate(context.Background(), Request{Node: confident, Attempt: 1})
	require.NoError(t, err)
	assert.Equal(t, "WHERE salary > 50000", got)
	assert.Zero(t, llmCalls)

	// A low-confidence selection goes to the model.
	vague := &plan.Node{Kind: plan.OpJoin, Tables: []string{"departments"}, Conditions: []string{"a = b"}}
	_, err = gen.Generate(context.Background(), Request{Node: vague, Attempt: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, llmCalls)

	// Retries always go to the model.
	_, err = gen.Generate(context.Background(), Request{Node: confident, Attempt: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, llmCalls)
}

func TestTemplateGeneratorMissingValues(t *testing.T) {
	// A filter node with no conditions cannot instantiate its template.
	_, err := TemplateGenerator{}.Generate(context.Background(), Request{
		Node: &plan.Node{Kind: plan.OpFilter},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conditions")
}

func TestGraphFromJSON(t *testing.T) {
	raw := `{
		"nodes": [
			{"id": "filter_1", "kind": "filter", "description": "salary filter",
			 "tables": ["employees"], "conditions": ["salary > 50000"]},
			{"id": "projection_1", "kind": "projection", "description": "names",
			 "tables": ["employees"], "columns": ["name"]}
		],
		"edges": [["filter_1", "projection_1"]]
	}`
	graph, err := graphFromJSON("q", raw)
	require.NoError(t, err)
	assert.Equal(t, 2, graph.Len())

	deps, err := graph.Dependencies("projection_1")
	require.NoError(t, err)
	assert.Equal(t, []string{"filter_1"}, deps)
	assert.Equal(t, plan.OpFilter, graph.Node("filter_1").Kind)
}

func TestGraphFromJSONRejectsBadInput(t *testing.T) {
	_, err := graphFromJSON("q", "not json")
	require.Error(t, err)

	_, err = graphFromJSON("q", `{"nodes": []}`)
	require.Error(t, err)

	_, err = graphFromJSON("q", `{"nodes":[{"id":"a","kind":"teleport"}]}`)
	require.Error(t, err)

	_, err = graphFromJSON("q", `{"nodes":[{"id":"a","kind":"filter"}],"edges":[["a"]]}`)
	require.Error(t, err)

	// A cyclic decomposition is rejected by the graph itself.
	_, err = graphFromJSON("q", `{
		"nodes":[{"id":"a","kind":"filter"},{"id":"b","kind":"projection"}],
		"edges":[["a","b"],["b","a"]]
	}`)
	require.Error(t, err)
}

func TestDecomposeTransportFailureNotRetriedTwice(t *testing.T) {
	calls := 0
	g := &Gemini{model: "m", maxRetries: 2, log: zap.NewNop()}
	g.call = func(context.Context, string, *genai.GenerateContentConfig) (string, error) {
		calls++
		return "", errors.New("backend down")
	}
	_, err := g.Decompose(context.Background(), "q", testSchema())
	require.Error(t, err)
	assert.Equal(t, g.maxRetries+1, calls, "the text call owns the transport retry budget")
}

func TestDecomposeRetriesMalformedResponses(t *testing.T) {
	calls := 0
	g := &Gemini{model: "m", maxRetries: 2, log: zap.NewNop()}
	g.call = func(context.Context, string, *genai.GenerateContentConfig) (string, error) {
		calls++
		return "not json at all", nil
	}
	_, err := g.Decompose(context.Background(), "q", testSchema())
	require.Error(t, err)
	assert.Equal(t, g.maxRetries+1, calls)
}

func TestHeuristicDecomposer(t *testing.T) {
	graph, err := HeuristicDecomposer{}.Decompose(context.Background(),
		"How many employees earn more than 50000 per department?", testSchema())
	require.NoError(t, err)

	kinds := map[plan.OpKind]bool{}
	for _, id := range graph.NodeIDs() {
		kinds[graph.Node(id).Kind] = true
	}
	assert.True(t, kinds[plan.OpFilter])
	assert.True(t, kinds[plan.OpGroup])
	assert.True(t, kinds[plan.OpAggregate])
	assert.True(t, kinds[plan.OpProjection])

	order, err := graph.TopologicalOrder()
	require.NoError(t, err)
	assert.Len(t, order, graph.Len())

	// Every node got the guessed table.
	for _, id := range graph.NodeIDs() {
		assert.Equal(t, []string{"employees"}, graph.Node(id).Tables)
	}
}

func TestHeuristicDecomposerSimpleQuestion(t *testing.T) {
	graph, err := HeuristicDecomposer{}.Decompose(context.Background(),
		"List the name of every department", testSchema())
	require.NoError(t, err)
	require.Equal(t, 1, graph.Len())

	id := graph.NodeIDs()[0]
	node := graph.Node(id)
	assert.Equal(t, plan.OpProjection, node.Kind)
	assert.Equal(t, []string{"departments"}, node.Tables)
	assert.Contains(t, node.Columns, "name")
}

func TestFallbackDecomposer(t *testing.T) {
	failing := decomposeFunc(func(context.Context, string, *schema.Schema) (*plan.Graph, error) {
		return nil, assert.AnError
	})
	d := FallbackDecomposer{Primary: failing, Fallback: HeuristicDecomposer{}}
	graph, err := d.Decompose(context.Background(), "List employees", testSchema())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, graph.Len(), 1)
}

type decomposeFunc func(context.Context, string, *schema.Schema) (*plan.Graph, error)

func (f decomposeFunc) Decompose(ctx context.Context, q string, sc *schema.Schema) (*plan.Graph, error) {
	return f(ctx, q, sc)
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, "SELECT 1", stripFences("```sql\nSELECT 1\n```"))
	assert.Equal(t, "SELECT 1", stripFences("SELECT 1;"))
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, "SELECT 1", stripFences("  SELECT 1  "))
}
