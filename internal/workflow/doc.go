// Package workflow implements the workflow execution engine: a typed-node
// DAG interpreter that loads a workflow document, computes a deterministic
// topological execution order, dispatches each node to its type handler,
// and accumulates results and variables in a per-run ExecutionContext.
//
// Node handlers never talk to tool servers directly; mcp_call delegates to
// a session.Manager reached through the Tool Descriptor Registry, and
// if conditions delegate to the expr package. This keeps the engine
// itself a pure scheduler: the only side effects it owns directly are
// progress events and execution persistence, both written to the Store.
package workflow
