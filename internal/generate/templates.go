package generate

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"sqlweave/internal/plan"
)

// Template is one fragment shape with named placeholders. Placeholders use
// {name} syntax and are filled by simple substitution.
type Template struct {
	Name    string
	Kind    plan.OpKind
	Pattern string
}

var placeholderRe = regexp.MustCompile(`\{(\w+)\}`)

// Instantiate fills the template's placeholders from the given values. A
// placeholder with no value is an error so that half-filled fragments never
// reach the verifier.
func (t Template) Instantiate(values map[string]string) (string, error) {
	var missing []string
	out := placeholderRe.ReplaceAllStringFunc(t.Pattern, func(m string) string {
		key := m[1 : len(m)-1]
		v, ok := values[key]
		if !ok || v == "" {
			missing = append(missing, key)
			return m
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("template %s: missing values for %s", t.Name, strings.Join(missing, ", "))
	}
	return out, nil
}

// Catalog is the built-in template set, one or more shapes per operation
// kind. Selection is rule based on the node's populated fields.
var Catalog = []Template{
	{Name: "projection_basic", Kind: plan.OpProjection, Pattern: "SELECT {columns} FROM {table}"},
	{Name: "filter_basic", Kind: plan.OpFilter, Pattern: "WHERE {conditions}"},
	{Name: "join_basic", Kind: plan.OpJoin, Pattern: "JOIN {table} ON {condition}"},
	{Name: "group_basic", Kind: plan.OpGroup, Pattern: "GROUP BY {columns}"},
	{Name: "aggregate_count", Kind: plan.OpAggregate, Pattern: "SELECT COUNT(*) FROM {table}"},
	{Name: "aggregate_func", Kind: plan.OpAggregate, Pattern: "SELECT {func}({column}) FROM {table}"},
	{Name: "sort_basic", Kind: plan.OpSort, Pattern: "ORDER BY {columns} {direction}"},
	{Name: "limit_basic", Kind: plan.OpLimit, Pattern: "LIMIT {count}"},
	{Name: "having_basic", Kind: plan.OpPostAggregateFilter, Pattern: "HAVING {conditions}"},
	{Name: "subquery_in", Kind: plan.OpSubquery, Pattern: "{column} IN (SELECT {inner_column} FROM {table})"},
}

// TemplateGenerator is the rule-based fallback generator. It never calls
// out; every fragment comes from the catalog filled with the node's own
// tables, columns and conditions.
type TemplateGenerator struct{}

func (TemplateGenerator) Generate(_ context.Context, req Request) (string, error) {
	frag, _, err := FromTemplate(req.Node)
	return frag, err
}

// TemplateFirst prefers a confidently selected template over a model round
// trip. Retries always go to the model, since a template that failed once
// will fail identically again.
type TemplateFirst struct {
	LLM Generator
	// MinConfidence gates the template path; zero means 0.9.
	MinConfidence float64
}

func (t TemplateFirst) Generate(ctx context.Context, req Request) (string, error) {
	min := t.MinConfidence
	if min == 0 {
		min = 0.9
	}
	if req.Attempt <= 1 && len(req.Feedback) == 0 {
		if frag, conf, err := FromTemplate(req.Node); err == nil && conf >= min {
			return frag, nil
		}
	}
	return t.LLM.Generate(ctx, req)
}

// FromTemplate instantiates the best catalog template for a node and
// reports how confident the selection is. Confidence is 1 when every
// placeholder came from the node's own fields and drops when a value had
// to be guessed from the description.
func FromTemplate(n *plan.Node) (string, float64, error) {
	if n == nil {
		return "", 0, fmt.Errorf("template generator: nil node")
	}
	values := map[string]string{}
	if len(n.Tables) > 0 {
		values["table"] = n.Tables[0]
	}
	if len(n.Columns) > 0 {
		values["columns"] = strings.Join(n.Columns, ", ")
		values["column"] = n.Columns[0]
		values["inner_column"] = n.Columns[len(n.Columns)-1]
	}
	if len(n.Conditions) > 0 {
		values["conditions"] = strings.Join(n.Conditions, " AND ")
		values["condition"] = n.Conditions[0]
	}

	tpl, conf, err := selectTemplate(n, values)
	if err != nil {
		return "", 0, err
	}
	frag, err := tpl.Instantiate(values)
	if err != nil {
		return "", 0, fmt.Errorf("template generator: %w", err)
	}
	return frag, conf, nil
}

// selectTemplate picks the catalog entry matching the node's kind and
// populated fields, enriching values with choices read off the description.
func selectTemplate(n *plan.Node, values map[string]string) (Template, float64, error) {
	desc := strings.ToLower(n.Description)
	conf := 1.0

	want := ""
	switch n.Kind {
	case plan.OpProjection:
		if values["columns"] == "" {
			values["columns"] = "*"
			conf = 0.8
		}
		want = "projection_basic"
	case plan.OpFilter:
		want = "filter_basic"
	case plan.OpJoin:
		// The join condition is rarely spelled out on the node.
		conf = 0.7
		want = "join_basic"
	case plan.OpGroup:
		want = "group_basic"
	case plan.OpAggregate:
		if f := aggregateFunc(desc); f != "" && values["column"] != "" {
			values["func"] = f
			want = "aggregate_func"
		} else {
			want = "aggregate_count"
		}
		conf = 0.9
	case plan.OpSort:
		values["direction"] = "ASC"
		if strings.Contains(desc, "desc") || strings.Contains(desc, "highest") ||
			strings.Contains(desc, "largest") || strings.Contains(desc, "most recent") {
			values["direction"] = "DESC"
		}
		conf = 0.9
		want = "sort_basic"
	case plan.OpLimit:
		if values["count"] == "" {
			values["count"] = limitCount(desc)
			conf = 0.9
		}
		want = "limit_basic"
	case plan.OpPostAggregateFilter:
		want = "having_basic"
	case plan.OpSubquery:
		conf = 0.6
		want = "subquery_in"
	default:
		return Template{}, 0, fmt.Errorf("no template for operation %s", n.Kind)
	}

	for _, t := range Catalog {
		if t.Name == want {
			return t, conf, nil
		}
	}
	return Template{}, 0, fmt.Errorf("template %s not in catalog", want)
}

func aggregateFunc(desc string) string {
	switch {
	case strings.Contains(desc, "average"), strings.Contains(desc, "avg"), strings.Contains(desc, "mean"):
		return "AVG"
	case strings.Contains(desc, "total"), strings.Contains(desc, "sum"):
		return "SUM"
	case strings.Contains(desc, "maximum"), strings.Contains(desc, "highest"), strings.Contains(desc, "max"):
		return "MAX"
	case strings.Contains(desc, "minimum"), strings.Contains(desc, "lowest"), strings.Contains(desc, "min"):
		return "MIN"
	}
	return ""
}

var numberRe = regexp.MustCompile(`\b(\d+)\b`)

func limitCount(desc string) string {
	if m := numberRe.FindStringSubmatch(desc); m != nil {
		return m[1]
	}
	return "10"
}
