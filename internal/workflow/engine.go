package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"skein/internal/apierrors"
	"skein/internal/registry"
	"skein/internal/session"
	"skein/pkg/logging"
)

const engineSubsystem = "Engine"

// Engine is the topological scheduler that dispatches typed nodes to
// their handlers. It holds no per-run state itself; every Execute call
// builds its own ExecutionContext and skip-tracking, so concurrent
// executions of the same or different workflows never interfere.
type Engine struct {
	loader    *Loader
	sessions  *session.Manager
	registry  *registry.Registry
	store     *Store

	runningMu sync.Mutex
	running   map[string]*ExecutionContext
}

// NewEngine wires the engine to its collaborators: the loader that reads
// workflow documents, the session manager that reaches tool servers, the
// registry that resolves server names to endpoints, and the store that
// persists execution results and progress events.
func NewEngine(loader *Loader, sessions *session.Manager, reg *registry.Registry, store *Store) *Engine {
	return &Engine{
		loader:   loader,
		sessions: sessions,
		registry: reg,
		store:    store,
		running:  make(map[string]*ExecutionContext),
	}
}

// Cancel sets the cancellation flag for a running execution. The engine
// observes it cooperatively between nodes and between for_each spawns;
// an in-flight tool call always finishes.
func (e *Engine) Cancel(executionID string) bool {
	e.runningMu.Lock()
	ec, ok := e.running[executionID]
	e.runningMu.Unlock()
	if !ok {
		return false
	}
	ec.Cancel()
	return true
}

// Execute runs a workflow definition to completion (or failure, or
// cancellation) and returns its persisted ExecutionResult.
func (e *Engine) Execute(ctx context.Context, def *Definition, params map[string]interface{}, trigger, parentExecutionID string) (*ExecutionResult, error) {
	id := uuid.NewString()
	ec := newExecutionContext(id, def.Name, params)
	ec.Trigger = trigger
	ec.ParentID = parentExecutionID

	e.runningMu.Lock()
	e.running[id] = ec
	e.runningMu.Unlock()
	defer func() {
		e.runningMu.Lock()
		delete(e.running, id)
		e.runningMu.Unlock()
	}()

	order, err := topologicalOrder(def)
	if err != nil {
		return nil, fmt.Errorf("workflow %q rejected before execution: %w", def.Name, err)
	}

	predecessors := buildPredecessorMap(def)
	subordinate := subordinateNodeIDs(def)
	skipped := make(map[string]bool)

	status := StatusCompleted
	for _, nodeID := range order {
		if subordinate[nodeID] {
			continue
		}
		if ec.isCancelled() {
			status = StatusCancelled
			break
		}
		if skipped[nodeID] || shouldSkip(nodeID, predecessors, skipped) {
			skipped[nodeID] = true
			ec.SetState(nodeID, NodeSkipped)
			e.emitProgress(ec, nodeID, NodeSkipped)
			continue
		}

		node, _ := def.NodeByID(nodeID)
		ec.SetState(nodeID, NodeRunning)
		e.emitProgress(ec, nodeID, NodeRunning)

		result, err := e.runNode(ctx, ec, def, node, skipped)
		if err != nil {
			ec.SetState(nodeID, NodeError)
			ec.AppendError(ExecutedError{NodeID: nodeID, Type: fmt.Sprintf("%T", err), Message: apierrors.Sanitize(err)})
			ec.Log(fmt.Sprintf("node %s failed: %v", nodeID, err))
			e.emitProgress(ec, nodeID, NodeError)
			status = StatusFailed
			break
		}

		ec.SetResult(nodeID, result)
		ec.SetState(nodeID, NodeCompleted)
		e.emitProgress(ec, nodeID, NodeCompleted)
	}

	result := &ExecutionResult{
		ID:                id,
		WorkflowName:      def.Name,
		Status:            status,
		Results:           ec.resultsCopy(),
		Errors:            ec.errorsCopy(),
		Logs:              ec.logsCopy(),
		NodeStates:        ec.snapshotNodeStates(),
		StartedAt:         ec.StartedAt.UTC().Format(time.RFC3339Nano),
		CompletedAt:       time.Now().UTC().Format(time.RFC3339Nano),
		Trigger:           trigger,
		ParentExecutionID: parentExecutionID,
	}

	if e.store != nil {
		if err := e.store.SaveResult(result); err != nil {
			logging.Warn(engineSubsystem, "failed to persist execution %s: %v", id, err)
		}
	}
	return result, nil
}

func (e *Engine) emitProgress(ec *ExecutionContext, nodeID string, state NodeState) {
	ev := ProgressEvent{Type: "node_state_change", NodeID: nodeID, Status: state, NodeStates: ec.snapshotNodeStates()}
	if e.store != nil {
		if err := e.store.AppendProgress(ec.ID, ev); err != nil {
			logging.Warn(engineSubsystem, "failed to append progress for %s: %v", ec.ID, err)
		}
	}
}

// buildPredecessorMap inverts def.Edges into target -> []source.
func buildPredecessorMap(def *Definition) map[string][]string {
	m := make(map[string][]string)
	for _, e := range def.Edges {
		m[e.Target] = append(m[e.Target], e.Source)
	}
	return m
}

// subordinateNodeIDs returns every node id referenced as a try_catch's
// try_node/catch_node/finally_node: these run only when the owning
// try_catch node invokes them, never as independent entries in the main
// topological dispatch loop.
func subordinateNodeIDs(def *Definition) map[string]bool {
	out := make(map[string]bool)
	for _, n := range def.Nodes {
		if n.Type != NodeTryCatch {
			continue
		}
		if n.TryNode != "" {
			out[n.TryNode] = true
		}
		if n.CatchNode != "" {
			out[n.CatchNode] = true
		}
		if n.FinallyNode != "" {
			out[n.FinallyNode] = true
		}
	}
	return out
}

// shouldSkip reports whether a node should be skipped because every one
// of its predecessors was itself skipped (propagating an `if` branch
// choice forward through the DAG). A node with no predecessors is never
// skipped by this rule.
func shouldSkip(nodeID string, predecessors map[string][]string, skipped map[string]bool) bool {
	preds, ok := predecessors[nodeID]
	if !ok || len(preds) == 0 {
		return false
	}
	for _, p := range preds {
		if !skipped[p] {
			return false
		}
	}
	return true
}
