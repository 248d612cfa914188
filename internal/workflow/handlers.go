package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"skein/internal/apierrors"
	"skein/internal/expr"
	"skein/internal/mtemplate"
)

// runNode resolves templates in the node's parameters and dispatches to
// the type-specific handler. Every handler returns either the node's
// result value or an error that the caller wraps into a NodeError.
func (e *Engine) runNode(ctx context.Context, ec *ExecutionContext, def *Definition, node Node, skipped map[string]bool) (interface{}, error) {
	switch node.Type {
	case NodeMCPCall:
		return e.handleMCPCall(ctx, ec, node)
	case NodeIf:
		return e.handleIf(ec, node, skipped)
	case NodeForEach:
		return e.handleForEach(ctx, ec, node)
	case NodeTryCatch:
		return e.handleTryCatch(ctx, ec, def, node)
	case NodeSubWorkflow:
		return e.handleSubWorkflow(ctx, ec, node)
	case NodeSet:
		return e.handleSet(ec, node)
	case NodeSleep:
		return e.handleSleep(ctx, node)
	}
	return nil, fmt.Errorf("unrecognised node type %q", node.Type)
}

func (e *Engine) tmplCtx(ec *ExecutionContext) mtemplate.Context {
	vars := ec.variablesCopy()
	vars["params"] = ec.Params
	return mtemplate.Context{Results: ec.resultsCopy(), Variables: vars}
}

// resolveItems accepts either a "${...}" reference to a native list
// produced earlier in the workflow, or a literal JSON array written
// directly in the document (e.g. "[1, 2, 3]").
func (e *Engine) resolveItems(ec *ExecutionContext, itemsExpr string) ([]interface{}, error) {
	resolved, err := mtemplate.ResolveValue(itemsExpr, e.tmplCtx(ec))
	if err != nil {
		return nil, err
	}
	if items, ok := resolved.([]interface{}); ok {
		return items, nil
	}
	var literal []interface{}
	if err := json.Unmarshal([]byte(itemsExpr), &literal); err == nil {
		return literal, nil
	}
	return nil, fmt.Errorf("for_each requires an array, got %T", resolved)
}

func (e *Engine) handleMCPCall(ctx context.Context, ec *ExecutionContext, node Node) (interface{}, error) {
	resolved, err := mtemplate.ResolveArguments(node.Params, e.tmplCtx(ec))
	if err != nil {
		return nil, &apierrors.NodeError{NodeID: node.ID, Cause: err}
	}

	info, err := e.registry.Get(node.MCPServer)
	if err != nil {
		return nil, &apierrors.NodeError{NodeID: node.ID, Cause: err}
	}

	result, err := e.sessions.CallTool(ctx, info.Endpoint, node.Tool, resolved)
	if err != nil {
		return nil, &apierrors.NodeError{NodeID: node.ID, Cause: err}
	}

	text := ""
	for _, c := range result.Content {
		if c.Type == "text" {
			text += c.Text
		}
	}
	var parsed interface{}
	if err := json.Unmarshal([]byte(text), &parsed); err == nil {
		return parsed, nil
	}
	return text, nil
}

// handleIf evaluates the condition and marks the untaken branch (and,
// transitively, anything only reachable through it) for skipping by the
// main dispatch loop.
func (e *Engine) handleIf(ec *ExecutionContext, node Node, skipped map[string]bool) (interface{}, error) {
	cond, err := expr.EvalBool(node.Condition, expr.Vars(ec.mergedVars()))
	if err != nil {
		return nil, &apierrors.NodeError{NodeID: node.ID, Cause: err}
	}
	chosen, losing := node.TrueBranch, node.FalseBranch
	if !cond {
		chosen, losing = node.FalseBranch, node.TrueBranch
	}
	if losing != "" {
		skipped[losing] = true
	}
	return map[string]interface{}{"branch": chosen}, nil
}

func (e *Engine) handleForEach(ctx context.Context, ec *ExecutionContext, node Node) (interface{}, error) {
	items, err := e.resolveItems(ec, node.Items)
	if err != nil {
		return nil, &apierrors.NodeError{NodeID: node.ID, Cause: err}
	}

	maxParallel := node.MaxParallel
	if maxParallel <= 0 {
		maxParallel = 1
	}
	sem := semaphore.NewWeighted(int64(maxParallel))

	results := make([]interface{}, len(items))
	errs := make([]error, len(items))
	done := make(chan struct{}, len(items))

	launched := 0
	for i, item := range items {
		if ec.isCancelled() {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			errs[i] = err
			launched++
			done <- struct{}{}
			continue
		}
		launched++
		go func(i int, item interface{}) {
			defer sem.Release(1)
			defer func() { done <- struct{}{} }()

			itemVar, indexVar := node.ItemVar, node.IndexVar
			if itemVar == "" {
				itemVar = "item"
			}
			if indexVar == "" {
				indexVar = "index"
			}
			childParams := map[string]interface{}{itemVar: item, indexVar: float64(i)}
			res, err := e.executeSubWorkflowByName(ctx, ec, node.SubWorkflow, childParams)
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = res
		}(i, item)
	}
	for i := 0; i < launched; i++ {
		<-done
	}

	if node.StopOnError {
		for i, err := range errs {
			if err != nil {
				return nil, &apierrors.NodeError{NodeID: node.ID, Cause: fmt.Errorf("item %d: %w", i, err)}
			}
		}
	} else {
		for i, err := range errs {
			if err != nil {
				results[i] = map[string]interface{}{"error": apierrors.Sanitize(err)}
			}
		}
	}

	if node.CollectResults {
		return results, nil
	}
	return nil, nil
}

func (e *Engine) handleTryCatch(ctx context.Context, ec *ExecutionContext, def *Definition, node Node) (interface{}, error) {
	tryNode, ok := def.NodeByID(node.TryNode)
	if !ok {
		return nil, &apierrors.NodeError{NodeID: node.ID, Cause: fmt.Errorf("try_node %q not found", node.TryNode)}
	}

	tryResult, tryErr := e.execSubordinate(ctx, ec, def, tryNode)

	var outcome interface{}
	var outcomeErr error

	if tryErr != nil {
		if node.ErrorVar != "" {
			ec.SetVariable(node.ErrorVar, map[string]interface{}{
				"message": apierrors.Sanitize(tryErr),
				"type":    fmt.Sprintf("%T", tryErr),
				"node_id": node.TryNode,
			})
		}
		if node.CatchNode != "" {
			catchNode, ok := def.NodeByID(node.CatchNode)
			if !ok {
				return nil, &apierrors.NodeError{NodeID: node.ID, Cause: fmt.Errorf("catch_node %q not found", node.CatchNode)}
			}
			outcome, outcomeErr = e.execSubordinate(ctx, ec, def, catchNode)
		}
		// the original try_node exception is swallowed once caught
	} else {
		outcome = tryResult
	}

	if node.FinallyNode != "" {
		finallyNode, ok := def.NodeByID(node.FinallyNode)
		if !ok {
			return nil, &apierrors.NodeError{NodeID: node.ID, Cause: fmt.Errorf("finally_node %q not found", node.FinallyNode)}
		}
		finallyResult, finallyErr := e.execSubordinate(ctx, ec, def, finallyNode)
		if finallyErr != nil {
			// a failing finally dominates a swallowed try/catch exception
			return nil, &apierrors.NodeError{NodeID: node.ID, Cause: finallyErr}
		}
		_ = finallyResult
	}

	return outcome, outcomeErr
}

// execSubordinate runs a node referenced by id from a try_catch (never
// scheduled by the main topological loop) and still records its state
// and result for observability.
func (e *Engine) execSubordinate(ctx context.Context, ec *ExecutionContext, def *Definition, node Node) (interface{}, error) {
	ec.SetState(node.ID, NodeRunning)
	e.emitProgress(ec, node.ID, NodeRunning)
	result, err := e.runNode(ctx, ec, def, node, map[string]bool{})
	if err != nil {
		ec.SetState(node.ID, NodeError)
		e.emitProgress(ec, node.ID, NodeError)
		return nil, err
	}
	ec.SetResult(node.ID, result)
	ec.SetState(node.ID, NodeCompleted)
	e.emitProgress(ec, node.ID, NodeCompleted)
	return result, nil
}

func (e *Engine) handleSubWorkflow(ctx context.Context, ec *ExecutionContext, node Node) (interface{}, error) {
	resolved, err := mtemplate.ResolveArguments(node.WorkflowParams, e.tmplCtx(ec))
	if err != nil {
		return nil, &apierrors.NodeError{NodeID: node.ID, Cause: err}
	}
	return e.executeSubWorkflowByName(ctx, ec, node.Workflow, resolved)
}

// executeSubWorkflowByName loads and runs a workflow by name with a fresh
// ExecutionContext holding a copy of params; the parent's results and
// variables are not visible to the child. Shared by the sub_workflow node
// handler and for_each.
func (e *Engine) executeSubWorkflowByName(ctx context.Context, parent *ExecutionContext, name string, params map[string]interface{}) (interface{}, error) {
	subDef, err := e.loader.Load(name)
	if err != nil {
		return nil, err
	}
	merged := make(map[string]interface{}, len(params))
	for k, v := range params {
		merged[k] = v
	}
	result, err := e.Execute(ctx, subDef, merged, "sub_workflow", parent.ID)
	if err != nil {
		return nil, err
	}
	if result.Status != StatusCompleted {
		return result.Results, fmt.Errorf("sub-workflow %q ended with status %s", name, result.Status)
	}
	return result.Results, nil
}

func (e *Engine) handleSet(ec *ExecutionContext, node Node) (interface{}, error) {
	resolved, err := mtemplate.ResolveArguments(node.Variables, e.tmplCtx(ec))
	if err != nil {
		return nil, &apierrors.NodeError{NodeID: node.ID, Cause: err}
	}
	for k, v := range resolved {
		ec.SetVariable(k, v)
	}
	return resolved, nil
}

func (e *Engine) handleSleep(ctx context.Context, node Node) (interface{}, error) {
	d := time.Duration(node.Duration * float64(time.Second))
	select {
	case <-time.After(d):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
