// Package plan provides the dependency graph of semantic operations that a
// natural-language query decomposes into. A graph is built once per query,
// walked in dependency order by the orchestrator, and discarded at the end
// of the run; only node verification state mutates after construction.
package plan

import "fmt"

// OpKind is the closed set of semantic operations a node can perform. It
// drives which verifier shape checks apply and which slot the node's
// fragment occupies when the final query is composed.
type OpKind string

const (
	OpFilter              OpKind = "/filter"
	OpJoin                OpKind = "/join"
	OpGroup               OpKind = "/group"
	OpAggregate           OpKind = "/aggregate"
	OpProjection          OpKind = "/projection"
	OpSort                OpKind = "/sort"
	OpLimit               OpKind = "/limit"
	OpSubquery            OpKind = "/subquery"
	OpUnion               OpKind = "/union"
	OpPostAggregateFilter OpKind = "/post_aggregate_filter"
)

// Kinds lists every operation kind, in composition slot order.
func Kinds() []OpKind {
	return []OpKind{
		OpProjection, OpJoin, OpFilter, OpGroup, OpAggregate,
		OpPostAggregateFilter, OpSort, OpLimit, OpSubquery, OpUnion,
	}
}

// ParseOpKind converts a decomposition token into an OpKind. It accepts both
// the canonical atom form ("/filter") and bare names ("filter", "FILTER").
func ParseOpKind(s string) (OpKind, error) {
	norm := normalizeAtom(s)
	for _, k := range Kinds() {
		if string(k) == norm {
			return k, nil
		}
	}
	// Aliases produced by older decompositions.
	switch norm {
	case "/select":
		return OpProjection, nil
	case "/order":
		return OpSort, nil
	case "/having":
		return OpPostAggregateFilter, nil
	}
	return "", fmt.Errorf("unknown operation kind %q", s)
}

// State tracks a node through the verify-repair pipeline.
type State string

const (
	StateUnverified State = "/unverified"
	StateVerified   State = "/verified"
	StateFailed     State = "/failed"
)

// Node is one semantic step of the decomposed query. Nodes are owned by the
// graph that created them and mutated only through graph methods during a
// single pipeline run.
type Node struct {
	ID          string   `json:"id"`
	Kind        OpKind   `json:"kind"`
	Description string   `json:"description"` // natural-language intent
	Tables      []string `json:"tables,omitempty"`
	Columns     []string `json:"columns,omitempty"`
	Conditions  []string `json:"conditions,omitempty"`

	// Pipeline state.
	Fragment  string `json:"fragment,omitempty"` // current best fragment, empty until generated
	State     State  `json:"state"`
	LastError string `json:"last_error,omitempty"`
}

func normalizeAtom(s string) string {
	out := make([]byte, 0, len(s)+1)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out = append(out, c)
	}
	if len(out) == 0 || out[0] != '/' {
		out = append([]byte{'/'}, out...)
	}
	return string(out)
}
