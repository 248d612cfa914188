// Package session implements the tool-server session manager: a
// persistent, resumable client for the JSON-RPC-over-HTTP+SSE protocol
// spoken by tool servers. It owns the per-endpoint handshake, request
// serialisation, and hand-rolled Server-Sent-Events reassembly — the
// wire-level detail is deliberately not delegated to a generic MCP
// client transport, since session affinity (MCP-Session-Id), 404-driven
// session expiry, and Last-Event-ID resumption are exactly the behaviour
// this package exists to get right.
package session
