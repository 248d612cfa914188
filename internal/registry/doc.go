// Package registry implements the Tool Descriptor Registry: a process-wide
// mapping from tool-server name to its endpoint and metadata. It is
// populated by the Container Manager at startup and on every successful
// install or start, and consulted by the workflow engine's mcp_call
// handler to turn a server name into a URL the session manager can dial.
package registry
