package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopologicalOrderRespectsEdges(t *testing.T) {
	def := &Definition{
		Name: "linear",
		Nodes: []Node{{ID: "c"}, {ID: "a"}, {ID: "b"}},
		Edges: []Edge{{Source: "a", Target: "b"}, {Source: "b", Target: "c"}},
	}
	order, err := topologicalOrder(def)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestTopologicalOrderIsDeterministicAcrossTies(t *testing.T) {
	def := &Definition{
		Name: "fan-out",
		Nodes: []Node{{ID: "root"}, {ID: "x"}, {ID: "y"}, {ID: "z"}},
		Edges: []Edge{
			{Source: "root", Target: "x"},
			{Source: "root", Target: "y"},
			{Source: "root", Target: "z"},
		},
	}
	first, err := topologicalOrder(def)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := topologicalOrder(def)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, []string{"root", "x", "y", "z"}, first)
}

func TestCyclicWorkflowRejectedBeforeExecution(t *testing.T) {
	def := &Definition{
		Name: "cycle",
		Nodes: []Node{{ID: "a"}, {ID: "b"}},
		Edges: []Edge{{Source: "a", Target: "b"}, {Source: "b", Target: "a"}},
	}
	_, err := topologicalOrder(def)
	assert.Error(t, err)
}

func TestValidateStructureRejectsDuplicateAndEmptyIDs(t *testing.T) {
	dup := &Definition{Name: "dup", Nodes: []Node{{ID: "a"}, {ID: "a"}}}
	assert.Error(t, validateStructure(dup))

	empty := &Definition{Name: "empty-id", Nodes: []Node{{ID: ""}}}
	assert.Error(t, validateStructure(empty))

	noName := &Definition{Nodes: []Node{{ID: "a"}}}
	assert.Error(t, validateStructure(noName))
}

func TestShouldSkipPropagatesThroughDAG(t *testing.T) {
	predecessors := map[string][]string{
		"b": {"a"},
		"c": {"b"},
		"d": {"a", "b"},
	}
	skipped := map[string]bool{"a": true}
	assert.True(t, shouldSkip("b", predecessors, skipped))

	skipped["b"] = true
	assert.True(t, shouldSkip("c", predecessors, skipped))
	assert.True(t, shouldSkip("d", predecessors, skipped))

	assert.False(t, shouldSkip("a", predecessors, skipped))
}

func TestSubordinateNodeIDsCollectsTryCatchTargets(t *testing.T) {
	def := &Definition{
		Name: "try",
		Nodes: []Node{
			{ID: "t", Type: NodeTryCatch, TryNode: "attempt", CatchNode: "recover", FinallyNode: "cleanup"},
			{ID: "attempt"}, {ID: "recover"}, {ID: "cleanup"}, {ID: "unrelated"},
		},
	}
	sub := subordinateNodeIDs(def)
	assert.True(t, sub["attempt"])
	assert.True(t, sub["recover"])
	assert.True(t, sub["cleanup"])
	assert.False(t, sub["unrelated"])
}
