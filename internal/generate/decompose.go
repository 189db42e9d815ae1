package generate

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"sqlweave/internal/plan"
	"sqlweave/internal/schema"
)

// Decomposer turns a natural-language question into a plan graph.
type Decomposer interface {
	Decompose(ctx context.Context, question string, sc *schema.Schema) (*plan.Graph, error)
}

// FallbackDecomposer tries the primary decomposer and falls back on any
// error. The heuristic decomposer never fails, so the chain always
// produces a graph.
type FallbackDecomposer struct {
	Primary  Decomposer
	Fallback Decomposer
	Log      *zap.Logger
}

func (d FallbackDecomposer) Decompose(ctx context.Context, question string, sc *schema.Schema) (*plan.Graph, error) {
	if d.Primary != nil {
		graph, err := d.Primary.Decompose(ctx, question, sc)
		if err == nil {
			return graph, nil
		}
		if d.Log != nil {
			d.Log.Warn("primary decomposition failed, using heuristic fallback", zap.Error(err))
		}
	}
	return d.Fallback.Decompose(ctx, question, sc)
}

// HeuristicDecomposer builds a plan from keyword cues alone. It exists so
// the pipeline keeps working when no model is configured or the model's
// structured output cannot be parsed.
type HeuristicDecomposer struct{}

func (HeuristicDecomposer) Decompose(_ context.Context, question string, sc *schema.Schema) (*plan.Graph, error) {
	lower := strings.ToLower(question)
	table := guessTable(lower, sc)

	graph := plan.New(question)
	var chain []string

	add := func(kind plan.OpKind, desc string, columns []string) string {
		id := fmt.Sprintf("%s_%d", strings.TrimPrefix(string(kind), "/"), graph.Len()+1)
		node := &plan.Node{
			ID:          id,
			Kind:        kind,
			Description: desc,
			Columns:     columns,
		}
		if table != "" {
			node.Tables = []string{table}
		}
		// AddNode only fails on duplicate IDs, which the counter rules out.
		_ = graph.AddNode(node)
		chain = append(chain, id)
		return id
	}

	if containsAny(lower, "after", "before", "more than", "less than", "over ", "under ",
		"at least", "at most", "greater", "fewer", "between", "named", "called", "with ") {
		add(plan.OpFilter, "filter rows matching: "+question, nil)
	}
	grouped := containsAny(lower, "per ", "each ", "by department", "by category", "for every")
	if grouped {
		add(plan.OpGroup, "group rows as asked by: "+question, nil)
	}
	if containsAny(lower, "count", "how many", "number of", "average", "total", "sum",
		"maximum", "minimum", "highest", "lowest") {
		add(plan.OpAggregate, "aggregate for: "+question, nil)
		if grouped {
			// Aggregation reads the grouped rows.
			_ = graph.AddEdge(chain[len(chain)-2], chain[len(chain)-1])
		}
	}
	proj := add(plan.OpProjection, "project the requested columns for: "+question, guessColumns(lower, table, sc))
	for _, id := range chain[:len(chain)-1] {
		if deps, err := graph.Dependents(id); err == nil && len(deps) == 0 {
			_ = graph.AddEdge(id, proj)
		}
	}

	if containsAny(lower, "sorted", "ordered", "order by", "top ", "highest", "lowest", "most recent") {
		id := add(plan.OpSort, "sort results for: "+question, nil)
		_ = graph.AddEdge(proj, id)
		proj = id
	}
	if containsAny(lower, "top ", "first ", "limit") {
		id := add(plan.OpLimit, "limit results for: "+question, nil)
		_ = graph.AddEdge(proj, id)
	}
	return graph, nil
}

// guessTable picks the schema table whose name (or singular form) appears
// in the question, defaulting to the first table.
func guessTable(lower string, sc *schema.Schema) string {
	if sc == nil {
		return ""
	}
	tables := sc.Tables()
	if len(tables) == 0 {
		return ""
	}
	for _, t := range tables {
		tl := strings.ToLower(t)
		if strings.Contains(lower, tl) || strings.Contains(lower, strings.TrimSuffix(tl, "s")) {
			return t
		}
	}
	return tables[0]
}

// guessColumns keeps the question's words that name real columns of the
// guessed table.
func guessColumns(lower, table string, sc *schema.Schema) []string {
	if sc == nil || table == "" {
		return nil
	}
	var out []string
	for _, c := range sc.Columns(table) {
		if strings.Contains(lower, strings.ToLower(c)) {
			out = append(out, c)
		}
	}
	return out
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
