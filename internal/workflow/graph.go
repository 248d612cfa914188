package workflow

import (
	"fmt"
	"sort"
)

// topologicalOrder computes a deterministic topological ordering of the
// node DAG using Kahn's algorithm. Ties are broken by input order (the
// index a node appears at in def.Nodes), so two runs of the same
// definition always produce the same order — callers rely on log
// stability, per the spec's "tie-breaking is unspecified but must be
// deterministic" requirement.
func topologicalOrder(def *Definition) ([]string, error) {
	indexOf := make(map[string]int, len(def.Nodes))
	for i, n := range def.Nodes {
		if _, dup := indexOf[n.ID]; dup {
			return nil, fmt.Errorf("duplicate node id %q", n.ID)
		}
		indexOf[n.ID] = i
	}

	inDegree := make(map[string]int, len(def.Nodes))
	children := make(map[string][]string, len(def.Nodes))
	for _, n := range def.Nodes {
		inDegree[n.ID] = 0
	}
	for _, e := range def.Edges {
		if _, ok := indexOf[e.Source]; !ok {
			return nil, fmt.Errorf("edge references unknown source node %q", e.Source)
		}
		if _, ok := indexOf[e.Target]; !ok {
			return nil, fmt.Errorf("edge references unknown target node %q", e.Target)
		}
		children[e.Source] = append(children[e.Source], e.Target)
		inDegree[e.Target]++
	}

	var ready []string
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sortByInputOrder(ready, indexOf)

	var order []string
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		var newlyReady []string
		for _, child := range children[next] {
			inDegree[child]--
			if inDegree[child] == 0 {
				newlyReady = append(newlyReady, child)
			}
		}
		sortByInputOrder(newlyReady, indexOf)
		ready = mergeByInputOrder(ready, newlyReady, indexOf)
	}

	if len(order) != len(def.Nodes) {
		return nil, fmt.Errorf("workflow %q contains a cycle", def.Name)
	}
	return order, nil
}

func sortByInputOrder(ids []string, indexOf map[string]int) {
	sort.Slice(ids, func(i, j int) bool { return indexOf[ids[i]] < indexOf[ids[j]] })
}

// mergeByInputOrder merges two already-sorted-by-input-order slices,
// keeping the overall ready queue in deterministic order as nodes
// become unblocked across iterations.
func mergeByInputOrder(a, b []string, indexOf map[string]int) []string {
	if len(b) == 0 {
		return a
	}
	merged := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if indexOf[a[i]] <= indexOf[b[j]] {
			merged = append(merged, a[i])
			i++
		} else {
			merged = append(merged, b[j])
			j++
		}
	}
	merged = append(merged, a[i:]...)
	merged = append(merged, b[j:]...)
	return merged
}

// validateStructure checks the DAG invariants the spec requires before any
// node runs: edges reference existing node ids, and a topological order
// exists (implicitly rejecting cycles).
func validateStructure(def *Definition) error {
	if def.Name == "" {
		return fmt.Errorf("workflow is missing a name")
	}
	seen := make(map[string]bool, len(def.Nodes))
	for _, n := range def.Nodes {
		if n.ID == "" {
			return fmt.Errorf("workflow %q has a node with an empty id", def.Name)
		}
		if seen[n.ID] {
			return fmt.Errorf("workflow %q has duplicate node id %q", def.Name, n.ID)
		}
		seen[n.ID] = true
	}
	_, err := topologicalOrder(def)
	return err
}
