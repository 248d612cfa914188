package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"skein/internal/apierrors"
	"skein/pkg/logging"
)

const subsystem = "SessionManager"

// Manager owns the wire protocol to every tool server this process talks
// to, keyed by endpoint URL. It exposes exactly the three operations the
// workflow engine needs: ListTools, CallTool, Close.
type Manager struct {
	http       *http.Client
	clientInfo ClientInfo
	timeouts   Timeouts

	mu        sync.RWMutex
	endpoints map[string]*endpointState

	nextID atomic.Int64
}

// NewManager constructs a Manager with a long-lived, pooled HTTP client.
// The pool is shared across every endpoint; per-endpoint behaviour is
// entirely a function of the endpointState map.
func NewManager(clientInfo ClientInfo, timeouts Timeouts) *Manager {
	return &Manager{
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		clientInfo: clientInfo,
		timeouts:   timeouts,
		endpoints:  make(map[string]*endpointState),
	}
}

// Close releases pooled HTTP connections and drops every cached session.
func (m *Manager) Close() error {
	m.http.CloseIdleConnections()
	m.mu.Lock()
	m.endpoints = make(map[string]*endpointState)
	m.mu.Unlock()
	return nil
}

func (m *Manager) stateFor(endpoint string) *endpointState {
	m.mu.RLock()
	es, ok := m.endpoints[endpoint]
	m.mu.RUnlock()
	if ok {
		return es
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if es, ok := m.endpoints[endpoint]; ok {
		return es
	}
	es = &endpointState{}
	m.endpoints[endpoint] = es
	return es
}

// ensureInitialised performs the initialize handshake if needed, holding
// es.mu across it so a burst of concurrent first-use callers on the same
// endpoint issues exactly one handshake; the others wait and then find the
// session ready. It never takes requestMu, which CallTool already holds.
func (m *Manager) ensureInitialised(ctx context.Context, endpoint string, es *endpointState) (*mcpSession, error) {
	es.mu.Lock()
	defer es.mu.Unlock()
	if es.state == stateReady && es.session != nil {
		return es.session, nil
	}
	es.state = stateInitialising

	sess, err := m.doInitialize(ctx, endpoint)
	if err != nil {
		es.state = stateUninitialised
		return nil, &apierrors.SessionInitialisationError{Endpoint: endpoint, Cause: err}
	}
	es.session = sess
	es.state = stateReady
	return sess, nil
}

func (m *Manager) doInitialize(ctx context.Context, endpoint string) (*mcpSession, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeouts.Init)
	defer cancel()

	params := initializeParams{
		ProtocolVersion: negotiatedProtocolVersion,
		ClientInfo: map[string]string{
			"name":    m.clientInfo.Name,
			"version": m.clientInfo.Version,
		},
		Capabilities: map[string]interface{}{},
	}

	resp, header, err := m.sendRequest(ctx, endpoint, "initialize", params, nil)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("initialize error %d: %s", resp.Error.Code, resp.Error.Message)
	}

	var result initializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, &apierrors.ProtocolError{Endpoint: endpoint, Cause: err}
	}

	sess := &mcpSession{
		endpoint:           endpoint,
		protocolVersion:    result.ProtocolVersion,
		sessionID:          header.Get("MCP-Session-Id"),
		serverCapabilities: result.Capabilities,
		initializedAt:      time.Now(),
	}

	// notifications/initialized: fire-and-forget, non-202 is a warning only
	if err := m.sendNotification(ctx, endpoint, sess, "notifications/initialized", nil); err != nil {
		logging.Warn(subsystem, "initialized notification failed for %s: %v", endpoint, err)
	}

	return sess, nil
}

// ListTools returns the tool-server's current tool descriptors.
func (m *Manager) ListTools(ctx context.Context, endpoint string) ([]ToolDescriptor, error) {
	es := m.stateFor(endpoint)
	sess, err := m.ensureInitialised(ctx, endpoint, es)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeouts.List)
	defer cancel()

	resp, _, err := m.sendRequest(ctx, endpoint, "tools/list", nil, sess)
	if isNotFound(err) {
		m.invalidate(es)
		sess, err = m.ensureInitialised(ctx, endpoint, es)
		if err != nil {
			return nil, err
		}
		resp, _, err = m.sendRequest(ctx, endpoint, "tools/list", nil, sess)
	}
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, &apierrors.ToolServerError{Tool: "", Message: resp.Error.Message}
	}

	var result listToolsResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, &apierrors.ProtocolError{Endpoint: endpoint, Cause: err}
	}
	return result.Tools, nil
}

// CallTool invokes a named tool with the retry policy described by the
// session manager contract: up to three attempts, server-supplied or
// exponential backoff between them, Last-Event-ID resumption, immediate
// (uncounted) retry on mid-operation 404, and a best-effort cancellation
// notification on final-attempt timeout.
func (m *Manager) CallTool(ctx context.Context, endpoint, name string, arguments map[string]interface{}) (*CallResult, error) {
	es := m.stateFor(endpoint)

	es.requestMu.Lock()
	defer es.requestMu.Unlock()

	const maxAttempts = 3
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 1 * time.Second

	var lastErr error
	expiredRetried := false
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		sess, err := m.ensureInitialised(ctx, endpoint, es)
		if err != nil {
			return nil, err
		}

		reqID := m.nextID.Add(1)
		callCtx, cancel := context.WithTimeout(ctx, m.timeouts.Call)
		resp, _, err := m.sendRequestWithID(callCtx, endpoint, reqID, "tools/call", map[string]interface{}{
			"name":      name,
			"arguments": arguments,
		}, sess)
		timedOut := callCtx.Err() == context.DeadlineExceeded
		cancel()

		if isNotFound(err) && !expiredRetried {
			expiredRetried = true
			m.invalidate(es)
			logging.Warn(subsystem, "session expired for %s, retrying immediately", endpoint)
			attempt-- // not counted against the retry budget
			continue
		}

		if err == nil && resp.Error == nil {
			var result CallResult
			if uerr := json.Unmarshal(resp.Result, &result); uerr != nil {
				return nil, &apierrors.ProtocolError{Endpoint: endpoint, Cause: uerr}
			}
			if result.IsError {
				return nil, &apierrors.ToolServerError{Tool: name, Message: extractText(result)}
			}
			return &result, nil
		}

		if err == nil && resp.Error != nil {
			return nil, &apierrors.ToolServerError{Tool: name, Message: resp.Error.Message}
		}

		lastErr = err
		if timedOut && attempt == maxAttempts {
			m.bestEffortCancel(endpoint, sess, reqID)
			return nil, lastErr
		}
		if attempt == maxAttempts {
			break
		}

		delay := bo.NextBackOff()
		if sess != nil && sess.retryDelay > 0 {
			delay = sess.retryDelay
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("tool call %q to %s failed after %d attempts: %w", name, endpoint, maxAttempts, lastErr)
}

func (m *Manager) bestEffortCancel(endpoint string, sess *mcpSession, requestID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = m.sendNotification(ctx, endpoint, sess, "notifications/cancelled", map[string]interface{}{
		"requestId": requestID,
	})
}

func (m *Manager) invalidate(es *endpointState) {
	es.mu.Lock()
	es.session = nil
	es.state = stateUninitialised
	es.mu.Unlock()
}

func extractText(r CallResult) string {
	var b strings.Builder
	for _, c := range r.Content {
		if c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

func isNotFound(err error) bool {
	var he *httpStatusError
	return err != nil && asHTTPStatusError(err, &he) && he.status == http.StatusNotFound
}

type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("tool server returned HTTP %d: %s", e.status, e.body)
}

func asHTTPStatusError(err error, target **httpStatusError) bool {
	if he, ok := err.(*httpStatusError); ok {
		*target = he
		return true
	}
	return false
}

// sendRequest issues a JSON-RPC request over HTTP, accepting either a
// plain JSON reply or an SSE stream, and returns the response headers so
// callers can read MCP-Session-Id on the initialize path.
func (m *Manager) sendRequest(ctx context.Context, endpoint, method string, params interface{}, sess *mcpSession) (*jsonrpcResponse, http.Header, error) {
	return m.sendRequestWithID(ctx, endpoint, m.nextID.Add(1), method, params, sess)
}

func (m *Manager) sendRequestWithID(ctx context.Context, endpoint string, id int64, method string, params interface{}, sess *mcpSession) (*jsonrpcResponse, http.Header, error) {
	body, err := json.Marshal(jsonrpcRequest{JSONRPC: jsonRPCVersion, ID: id, Method: method, Params: params})
	if err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if sess != nil {
		if sess.protocolVersion != "" {
			req.Header.Set("MCP-Protocol-Version", sess.protocolVersion)
		}
		if sess.sessionID != "" {
			req.Header.Set("MCP-Session-Id", sess.sessionID)
		}
		if sess.lastEventID != "" {
			req.Header.Set("Last-Event-ID", sess.lastEventID)
		}
	}

	resp, err := m.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, resp.Header, &httpStatusError{status: resp.StatusCode, body: string(respBody)}
	}
	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, resp.Header, &httpStatusError{status: resp.StatusCode, body: string(respBody)}
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/event-stream") {
		rpcResp, err := m.readStreamedResponse(resp.Body, sess)
		if err != nil {
			return nil, resp.Header, &apierrors.ProtocolError{Endpoint: endpoint, Cause: err}
		}
		return rpcResp, resp.Header, nil
	}

	var rpcResp jsonrpcResponse
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.Header, err
	}
	if len(data) == 0 {
		// e.g. a 202-only response to a notification; synthesise an empty reply
		return &jsonrpcResponse{JSONRPC: jsonRPCVersion}, resp.Header, nil
	}
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return nil, resp.Header, &apierrors.ProtocolError{Endpoint: endpoint, Cause: err}
	}
	return &rpcResp, resp.Header, nil
}

// readStreamedResponse reads the SSE body to completion, dispatching every
// event. Notifications are logged and skipped; the last event carrying a
// JSON-RPC result or error is kept as the return value once the stream
// ends (the tool server is expected to close the stream after its final
// event for a single in-flight request).
func (m *Manager) readStreamedResponse(body io.Reader, sess *mcpSession) (*jsonrpcResponse, error) {
	var reply *jsonrpcResponse
	err := readSSE(body, func(ev sseEvent) error {
		if ev.hasRetry && sess != nil {
			sess.retryDelay = ev.retry
		}
		if ev.data == "" {
			return nil
		}
		var rpc jsonrpcResponse
		if err := json.Unmarshal([]byte(ev.data), &rpc); err != nil {
			return nil // malformed event, not fatal to the whole stream
		}
		if rpc.isReply() {
			if ev.id != "" && sess != nil {
				sess.lastEventID = ev.id
			}
			reply = &rpc
			return nil
		}
		if rpc.isNotification() {
			logging.Debug(subsystem, "server notification: %s", rpc.Method)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if reply == nil {
		return nil, fmt.Errorf("event stream ended without a JSON-RPC reply")
	}
	return reply, nil
}

func (m *Manager) sendNotification(ctx context.Context, endpoint string, sess *mcpSession, method string, params interface{}) error {
	body, err := json.Marshal(jsonrpcRequest{JSONRPC: jsonRPCVersion, Method: method, Params: params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if sess != nil {
		if sess.protocolVersion != "" {
			req.Header.Set("MCP-Protocol-Version", sess.protocolVersion)
		}
		if sess.sessionID != "" {
			req.Header.Set("MCP-Session-Id", sess.sessionID)
		}
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode >= 300 {
		return fmt.Errorf("notification %q returned HTTP %d", method, resp.StatusCode)
	}
	return nil
}
