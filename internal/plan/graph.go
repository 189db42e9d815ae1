package plan

import (
	"errors"
	"fmt"
	"sort"
)

// Typed graph errors. Callers distinguish them with errors.Is.
var (
	ErrDuplicateID        = errors.New("node id already registered")
	ErrUnknownNode        = errors.New("unknown node")
	ErrCycleRejected      = errors.New("edge would create a cycle")
	ErrCycleDetected      = errors.New("graph contains a cycle")
	ErrCircularDependency = errors.New("circular dependency among remaining nodes")
)

// Graph is the DAG of semantic operations for one query. The dependency
// relation points parent -> child: a parent must be verified before any of
// its children is generated. The relation is acyclic at all times; edge
// insertions that would break that are rejected without mutating the graph.
type Graph struct {
	QueryID string

	nodes map[string]*Node
	succ  map[string]map[string]bool // parent -> children
	pred  map[string]map[string]bool // child -> parents
	order []string                   // insertion order, for deterministic walks
}

// New creates an empty graph for one query.
func New(queryID string) *Graph {
	return &Graph{
		QueryID: queryID,
		nodes:   make(map[string]*Node),
		succ:    make(map[string]map[string]bool),
		pred:    make(map[string]map[string]bool),
	}
}

// AddNode registers a node. The graph takes ownership of the node.
func (g *Graph) AddNode(n *Node) error {
	if n == nil || n.ID == "" {
		return fmt.Errorf("node must have an id")
	}
	if _, exists := g.nodes[n.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, n.ID)
	}
	if n.State == "" {
		n.State = StateUnverified
	}
	g.nodes[n.ID] = n
	g.succ[n.ID] = make(map[string]bool)
	g.pred[n.ID] = make(map[string]bool)
	g.order = append(g.order, n.ID)
	return nil
}

// AddEdge inserts a dependency edge parent -> child. The insertion is
// validated for acyclicity before it commits; a rejected edge leaves the
// graph untouched.
func (g *Graph) AddEdge(parentID, childID string) error {
	if _, ok := g.nodes[parentID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, parentID)
	}
	if _, ok := g.nodes[childID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, childID)
	}
	if parentID == childID {
		return fmt.Errorf("%w: %s -> %s", ErrCycleRejected, parentID, childID)
	}
	if g.succ[parentID][childID] {
		return nil // already present
	}
	// The edge closes a cycle exactly when the parent is reachable from
	// the child through existing edges.
	if g.reachable(childID, parentID) {
		return fmt.Errorf("%w: %s -> %s", ErrCycleRejected, parentID, childID)
	}
	g.succ[parentID][childID] = true
	g.pred[childID][parentID] = true
	return nil
}

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id string) *Node { return g.nodes[id] }

// Len returns the node count.
func (g *Graph) Len() int { return len(g.nodes) }

// NodeIDs returns all node ids in insertion order.
func (g *Graph) NodeIDs() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Dependencies returns the direct predecessors of a node, sorted.
func (g *Graph) Dependencies(id string) ([]string, error) {
	if _, ok := g.nodes[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	return sortedKeys(g.pred[id]), nil
}

// Dependents returns the direct successors of a node, sorted.
func (g *Graph) Dependents(id string) ([]string, error) {
	if _, ok := g.nodes[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	return sortedKeys(g.succ[id]), nil
}

// TopologicalOrder returns a total order consistent with every edge.
// The result is deterministic: ties break on node insertion order.
// Unreachable given the AddEdge guard, a cycle yields ErrCycleDetected.
func (g *Graph) TopologicalOrder() ([]string, error) {
	indeg := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		indeg[id] = len(g.pred[id])
	}
	var queue []string
	for _, id := range g.order {
		if indeg[id] == 0 {
			queue = append(queue, id)
		}
	}
	out := make([]string, 0, len(g.nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		out = append(out, id)
		for _, child := range sortedKeys(g.succ[id]) {
			indeg[child]--
			if indeg[child] == 0 {
				queue = append(queue, child)
			}
		}
	}
	if len(out) != len(g.nodes) {
		return nil, ErrCycleDetected
	}
	return out, nil
}

// ExecutionLayers partitions the nodes into layers such that every node's
// dependencies sit in strictly earlier layers. Nodes within one layer are
// mutually independent and may be processed in parallel. A layer peel that
// makes no progress while nodes remain reports ErrCircularDependency.
func (g *Graph) ExecutionLayers() ([][]string, error) {
	remaining := make(map[string]bool, len(g.nodes))
	for id := range g.nodes {
		remaining[id] = true
	}
	var layers [][]string
	for len(remaining) > 0 {
		var ready []string
		for _, id := range g.order {
			if !remaining[id] {
				continue
			}
			blocked := false
			for dep := range g.pred[id] {
				if remaining[dep] {
					blocked = true
					break
				}
			}
			if !blocked {
				ready = append(ready, id)
			}
		}
		if len(ready) == 0 {
			return nil, ErrCircularDependency
		}
		for _, id := range ready {
			delete(remaining, id)
		}
		layers = append(layers, ready)
	}
	return layers, nil
}

// SetState updates a node's verification state, fragment and error detail.
func (g *Graph) SetState(id string, state State, fragment, errDetail string) error {
	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	n.State = state
	if fragment != "" {
		n.Fragment = fragment
	}
	if errDetail != "" {
		n.LastError = errDetail
	}
	return nil
}

// VerifiedFragments returns fragments of all verified nodes, keyed by id.
func (g *Graph) VerifiedFragments() map[string]string {
	out := make(map[string]string)
	for id, n := range g.nodes {
		if n.State == StateVerified && n.Fragment != "" {
			out[id] = n.Fragment
		}
	}
	return out
}

// reachable reports whether `to` can be reached from `from` via succ edges.
func (g *Graph) reachable(from, to string) bool {
	if from == to {
		return true
	}
	seen := map[string]bool{from: true}
	stack := []string{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for next := range g.succ[cur] {
			if next == to {
				return true
			}
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
