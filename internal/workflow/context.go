package workflow

import (
	"sync"
	"time"
)

// ExecutionContext is the mutable workspace owned exclusively by one
// execution. It is never shared between concurrent executions; a
// sub_workflow or for_each child gets its own fresh ExecutionContext that
// holds only the child's params; the parent's results and variables are
// not copied into it.
type ExecutionContext struct {
	ID           string
	WorkflowName string
	Params       map[string]interface{}
	StartedAt    time.Time
	Trigger      string
	ParentID     string

	mu         sync.Mutex
	results    map[string]interface{}
	variables  map[string]interface{}
	nodeStates map[string]NodeState
	logs       []string
	errors     []ExecutedError
	cancelled  bool
}

// newExecutionContext builds a fresh context for a top-level or nested run.
func newExecutionContext(id, workflowName string, params map[string]interface{}) *ExecutionContext {
	return &ExecutionContext{
		ID:           id,
		WorkflowName: workflowName,
		Params:       params,
		StartedAt:    time.Now(),
		results:      make(map[string]interface{}),
		variables:    make(map[string]interface{}),
		nodeStates:   make(map[string]NodeState),
	}
}

// SetResult stores a node's output. Safe for concurrent for_each children.
func (c *ExecutionContext) SetResult(nodeID string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[nodeID] = value
}

// SetVariable writes into the shared variable map.
func (c *ExecutionContext) SetVariable(name string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variables[name] = value
}

// SetState records a node's lifecycle transition.
func (c *ExecutionContext) SetState(nodeID string, state NodeState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodeStates[nodeID] = state
}

// AppendError records a node failure.
func (c *ExecutionContext) AppendError(e ExecutedError) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, e)
}

// Log appends one log line.
func (c *ExecutionContext) Log(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = append(c.logs, line)
}

// Cancel marks this execution as cancelled; the engine observes it between
// nodes and between for_each spawns.
func (c *ExecutionContext) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = true
}

func (c *ExecutionContext) isCancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

// snapshotNodeStates returns a copy of the node-state map for a progress event.
func (c *ExecutionContext) snapshotNodeStates() map[string]NodeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]NodeState, len(c.nodeStates))
	for k, v := range c.nodeStates {
		out[k] = v
	}
	return out
}

// mergedVars returns a single map combining results and variables for
// expression evaluation (if conditions), plus a "params" key so params.X
// resolves the same way a variable name does.
func (c *ExecutionContext) mergedVars() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	merged := make(map[string]interface{}, len(c.results)+len(c.variables)+1)
	for k, v := range c.results {
		merged[k] = v
	}
	for k, v := range c.variables {
		merged[k] = v
	}
	merged["params"] = c.Params
	return merged
}

func (c *ExecutionContext) resultsCopy() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]interface{}, len(c.results))
	for k, v := range c.results {
		out[k] = v
	}
	return out
}

func (c *ExecutionContext) variablesCopy() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]interface{}, len(c.variables))
	for k, v := range c.variables {
		out[k] = v
	}
	return out
}

func (c *ExecutionContext) errorsCopy() []ExecutedError {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ExecutedError, len(c.errors))
	copy(out, c.errors)
	return out
}

func (c *ExecutionContext) logsCopy() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.logs))
	copy(out, c.logs)
	return out
}

// shallowChild returns a new context that starts from a copy of this
// context's results and variables. Mutations on the child never reach the
// parent. No handler calls it: for_each items and sub_workflow invocations
// run through Execute, which builds a fresh context from params alone.
func (c *ExecutionContext) shallowChild(id, workflowName string, params map[string]interface{}) *ExecutionContext {
	child := newExecutionContext(id, workflowName, params)
	c.mu.Lock()
	for k, v := range c.results {
		child.results[k] = v
	}
	for k, v := range c.variables {
		child.variables[k] = v
	}
	c.mu.Unlock()
	return child
}
