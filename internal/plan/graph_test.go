package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGraph(t *testing.T, ids ...string) *Graph {
	t.Helper()
	g := New("test_query")
	for _, id := range ids {
		require.NoError(t, g.AddNode(&Node{ID: id, Kind: OpFilter, Description: id}))
	}
	return g
}

func TestAddNodeDuplicateID(t *testing.T) {
	g := newTestGraph(t, "a")
	err := g.AddNode(&Node{ID: "a", Kind: OpJoin})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateID)
	assert.Equal(t, 1, g.Len())
}

func TestAddEdgeUnknownNode(t *testing.T) {
	g := newTestGraph(t, "a")
	assert.ErrorIs(t, g.AddEdge("a", "missing"), ErrUnknownNode)
	assert.ErrorIs(t, g.AddEdge("missing", "a"), ErrUnknownNode)
}

func TestAddEdgeRejectsCycleWithoutMutation(t *testing.T) {
	g := newTestGraph(t, "a", "b", "c")
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("b", "c"))

	err := g.AddEdge("c", "a")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCycleRejected)

	// The rejected edge must not have touched the relation.
	deps, err := g.Dependencies("a")
	require.NoError(t, err)
	assert.Empty(t, deps)
	dependents, err := g.Dependents("c")
	require.NoError(t, err)
	assert.Empty(t, dependents)

	// And the graph is still topologically sortable.
	order, err := g.TopologicalOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestAddEdgeRejectsSelfLoop(t *testing.T) {
	g := newTestGraph(t, "a")
	assert.ErrorIs(t, g.AddEdge("a", "a"), ErrCycleRejected)
}

func TestTopologicalOrderRespectsEdges(t *testing.T) {
	g := newTestGraph(t, "filter", "group", "project", "sort")
	require.NoError(t, g.AddEdge("filter", "group"))
	require.NoError(t, g.AddEdge("group", "project"))
	require.NoError(t, g.AddEdge("filter", "sort"))

	order, err := g.TopologicalOrder()
	require.NoError(t, err)
	require.Len(t, order, 4)

	pos := make(map[string]int)
	for i, id := range order {
		pos[id] = i
	}
	assert.Less(t, pos["filter"], pos["group"])
	assert.Less(t, pos["group"], pos["project"])
	assert.Less(t, pos["filter"], pos["sort"])
}

func TestExecutionLayersMatchTopologicalOrder(t *testing.T) {
	g := newTestGraph(t, "a", "b", "c", "d", "e")
	require.NoError(t, g.AddEdge("a", "c"))
	require.NoError(t, g.AddEdge("b", "c"))
	require.NoError(t, g.AddEdge("c", "d"))
	require.NoError(t, g.AddEdge("b", "e"))

	layers, err := g.ExecutionLayers()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "e"}, {"d"}}, layers)

	// Concatenated layers must form a valid topological order: every
	// node's dependencies appear in strictly earlier layers.
	layerOf := make(map[string]int)
	for i, layer := range layers {
		for _, id := range layer {
			layerOf[id] = i
		}
	}
	for _, id := range g.NodeIDs() {
		deps, err := g.Dependencies(id)
		require.NoError(t, err)
		for _, dep := range deps {
			assert.Less(t, layerOf[dep], layerOf[id],
				"dependency %s of %s must be in an earlier layer", dep, id)
		}
	}
}

func TestExecutionLayersSingleLayerWhenIndependent(t *testing.T) {
	g := newTestGraph(t, "x", "y", "z")
	layers, err := g.ExecutionLayers()
	require.NoError(t, err)
	require.Len(t, layers, 1)
	assert.ElementsMatch(t, []string{"x", "y", "z"}, layers[0])
}

func TestDependenciesAndDependents(t *testing.T) {
	g := newTestGraph(t, "a", "b", "c")
	require.NoError(t, g.AddEdge("a", "c"))
	require.NoError(t, g.AddEdge("b", "c"))

	deps, err := g.Dependencies("c")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, deps)

	dependents, err := g.Dependents("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, dependents)

	_, err = g.Dependencies("nope")
	assert.ErrorIs(t, err, ErrUnknownNode)
}

func TestSetStateAndVerifiedFragments(t *testing.T) {
	g := newTestGraph(t, "a", "b")
	require.NoError(t, g.SetState("a", StateVerified, "WHERE salary > 50000", ""))
	require.NoError(t, g.SetState("b", StateFailed, "", "exhausted attempts"))

	frags := g.VerifiedFragments()
	assert.Equal(t, map[string]string{"a": "WHERE salary > 50000"}, frags)
	assert.Equal(t, StateFailed, g.Node("b").State)
	assert.Equal(t, "exhausted attempts", g.Node("b").LastError)

	assert.ErrorIs(t, g.SetState("nope", StateVerified, "", ""), ErrUnknownNode)
}

func TestParseOpKind(t *testing.T) {
	cases := map[string]OpKind{
		"filter":                OpFilter,
		"/filter":               OpFilter,
		"FILTER":                OpFilter,
		"select":                OpProjection,
		"order":                 OpSort,
		"having":                OpPostAggregateFilter,
		"post_aggregate_filter": OpPostAggregateFilter,
	}
	for in, want := range cases {
		got, err := ParseOpKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseOpKind("teleport")
	assert.Error(t, err)
}
