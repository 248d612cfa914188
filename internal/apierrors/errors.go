// Package apierrors defines the error taxonomy shared by the session
// manager, workflow engine, and registry service. Every error type carries
// enough structure for callers to branch on it with errors.As, while
// Sanitize produces the string that is safe to hand back to an interactive
// client (no paths, no tokens, no stack traces).
package apierrors

import (
	"errors"
	"fmt"
	"regexp"
)

// UnsafeExpressionError is returned by the expression evaluator when an
// expression uses a construct outside the whitelisted grammar.
type UnsafeExpressionError struct {
	Expression string
	Construct  string
	Reason     string
}

func (e *UnsafeExpressionError) Error() string {
	return fmt.Sprintf("unsafe expression %q: %s (%s)", e.Expression, e.Reason, e.Construct)
}

// SessionInitialisationError wraps a failed or timed-out MCP handshake.
type SessionInitialisationError struct {
	Endpoint string
	Cause    error
}

func (e *SessionInitialisationError) Error() string {
	return fmt.Sprintf("initialise session for %s: %v", e.Endpoint, e.Cause)
}

func (e *SessionInitialisationError) Unwrap() error { return e.Cause }

// SessionExpiredError indicates a Ready session received a 404 and must be
// rebuilt. Not an error in the strict sense; the caller retries
// transparently once.
type SessionExpiredError struct {
	Endpoint string
}

func (e *SessionExpiredError) Error() string {
	return fmt.Sprintf("session expired for %s", e.Endpoint)
}

// ProtocolError covers malformed SSE framing or JSON-RPC replies.
type ProtocolError struct {
	Endpoint string
	Cause    error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error talking to %s: %v", e.Endpoint, e.Cause)
}

func (e *ProtocolError) Unwrap() error { return e.Cause }

// ToolServerError is raised when a tool call resolves with isError:true.
type ToolServerError struct {
	Tool    string
	Message string
}

func (e *ToolServerError) Error() string {
	return fmt.Sprintf("tool %s returned an error: %s", e.Tool, e.Message)
}

// NodeError wraps any exception raised inside a node handler.
type NodeError struct {
	NodeID string
	Cause  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s failed: %v", e.NodeID, e.Cause)
}

func (e *NodeError) Unwrap() error { return e.Cause }

// CircularDependencyError is raised by the dependency resolver.
type CircularDependencyError struct {
	Chain []string
}

func (e *CircularDependencyError) Error() string {
	msg := "circular dependency detected"
	if len(e.Chain) > 0 {
		msg += ": "
		for i, c := range e.Chain {
			if i > 0 {
				msg += " -> "
			}
			msg += c
		}
	}
	return msg
}

// DependencyNotFoundError is raised when a required dependency cannot be
// located in installed records or the package index.
type DependencyNotFoundError struct {
	Name    string
	Version string
}

func (e *DependencyNotFoundError) Error() string {
	return fmt.Sprintf("required dependency not found: %s@%s", e.Name, e.Version)
}

// RegistryUnavailableError is raised by the Failover Manager when every
// registry in rotation failed for an operation.
type RegistryUnavailableError struct {
	Operation string
	Attempted []string
	LastErr   error
}

func (e *RegistryUnavailableError) Error() string {
	return fmt.Sprintf("all registries failed for %s (attempted: %v): %v", e.Operation, e.Attempted, e.LastErr)
}

func (e *RegistryUnavailableError) Unwrap() error { return e.LastErr }

// CircuitBreakerOpenError is an internal short-circuit signal; it is caught
// by the Failover Manager and never surfaced to a caller as-is.
type CircuitBreakerOpenError struct {
	Registry string
}

func (e *CircuitBreakerOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for registry %s", e.Registry)
}

// SignatureVerificationError is raised when GPG verification of a package
// manifest fails.
type SignatureVerificationError struct {
	Package string
	Cause   error
}

func (e *SignatureVerificationError) Error() string {
	return fmt.Sprintf("signature verification failed for %s: %v", e.Package, e.Cause)
}

func (e *SignatureVerificationError) Unwrap() error { return e.Cause }

// ContainerRuntimeError wraps a failed container-runtime invocation.
type ContainerRuntimeError struct {
	Operation string
	Container string
	Cause     error
}

func (e *ContainerRuntimeError) Error() string {
	return fmt.Sprintf("container runtime %s failed for %s: %v", e.Operation, e.Container, e.Cause)
}

func (e *ContainerRuntimeError) Unwrap() error { return e.Cause }

// CancelledError marks a user-cancelled execution. It is not propagated as
// a node error; the engine records it as the terminal execution status.
type CancelledError struct {
	ExecutionID string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("execution %s cancelled", e.ExecutionID)
}

var pathPattern = regexp.MustCompile(`(?:/[\w.\-]+)+`)
var tokenPattern = regexp.MustCompile(`(?i)(token|secret|password|key)=\S+`)

// Sanitize strips filesystem paths and obvious secret material from an
// error message before it is handed back to an interactive client. The
// untouched error is always written to the execution log separately.
func Sanitize(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	msg = pathPattern.ReplaceAllString(msg, "<path>")
	msg = tokenPattern.ReplaceAllString(msg, "$1=<redacted>")
	return msg
}

// IsNotRetryable reports whether the error taxonomy forbids automatic retry
// at the engine/registry-service layer (session and registry layers retry
// locally before these ever surface).
func IsNotRetryable(err error) bool {
	var toolErr *ToolServerError
	var unsafeErr *UnsafeExpressionError
	return errors.As(err, &toolErr) || errors.As(err, &unsafeErr)
}
