package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skein/internal/registry"
	"skein/internal/session"
)

// rpcIn mirrors the session package's test helper for decoding inbound
// JSON-RPC requests against a fake tool server.
type rpcIn struct {
	Method string                 `json:"method"`
	ID     int64                  `json:"id"`
	Params map[string]interface{} `json:"params"`
}

// newMockToolServer answers initialize/tools/call with a handler that can
// inspect the call's tool name and arguments and produce a text payload.
func newMockToolServer(t *testing.T, handle func(tool string, args map[string]interface{}) string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in rpcIn
		_ = json.NewDecoder(r.Body).Decode(&in)
		w.Header().Set("Content-Type", "application/json")
		switch in.Method {
		case "initialize":
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":{"protocolVersion":"2025-03-26","capabilities":{}}}`, in.ID)
		case "notifications/initialized":
			w.WriteHeader(http.StatusAccepted)
		case "tools/call":
			tool, _ := in.Params["name"].(string)
			args, _ := in.Params["arguments"].(map[string]interface{})
			text := handle(tool, args)
			payload, _ := json.Marshal(map[string]interface{}{
				"content": []map[string]interface{}{{"type": "text", "text": text}},
			})
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":%s}`, in.ID, payload)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestEngine(t *testing.T, toolServerURL string) (*Engine, string) {
	t.Helper()
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "workflows", "templates"), 0o755))

	loader := NewLoader(base)
	sessions := session.NewManager(session.ClientInfo{Name: "skein-test", Version: "0.0.0"}, session.DefaultTimeouts())
	t.Cleanup(func() { _ = sessions.Close() })
	reg := registry.New()
	if toolServerURL != "" {
		reg.Register(registry.ToolServerInfo{Name: "mock", Endpoint: toolServerURL})
	}
	store := NewStore(base)
	t.Cleanup(func() { _ = store.Close() })

	return NewEngine(loader, sessions, reg, store), base
}

func writeWorkflow(t *testing.T, base string, def map[string]interface{}) {
	t.Helper()
	name, _ := def["name"].(string)
	data, err := json.Marshal(def)
	require.NoError(t, err)
	path := filepath.Join(base, "workflows", "templates", Slug(name)+".json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

// TestLinearTwoToolCallWorkflow covers scenario S1: a two-node mcp_call
// chain where the second node's arguments reference the first's result.
func TestLinearTwoToolCallWorkflow(t *testing.T) {
	srv := newMockToolServer(t, func(tool string, args map[string]interface{}) string {
		switch tool {
		case "fetch":
			return `{"value": 21}`
		case "double":
			v, _ := args["value"].(float64)
			return fmt.Sprintf(`{"doubled": %v}`, v*2)
		}
		return `{}`
	})

	engine, base := newTestEngine(t, srv.URL)
	writeWorkflow(t, base, map[string]interface{}{
		"name": "linear-chain",
		"nodes": []map[string]interface{}{
			{"id": "n1", "type": "mcp_call", "mcp_server": "mock", "tool": "fetch", "params": map[string]interface{}{}},
			{"id": "n2", "type": "mcp_call", "mcp_server": "mock", "tool": "double",
				"params": map[string]interface{}{"value": "${n1.value}"}},
		},
		"edges": []map[string]interface{}{{"source": "n1", "target": "n2"}},
	})

	def, err := engine.loader.Load("linear-chain")
	require.NoError(t, err)

	result, err := engine.Execute(context.Background(), def, nil, "manual", "")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)

	n2, ok := result.Results["n2"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(42), n2["doubled"])
}

// TestConditionalBranchSkip covers scenario S2: an if node whose losing
// branch, and everything only reachable through it, is marked skipped.
func TestConditionalBranchSkip(t *testing.T) {
	srv := newMockToolServer(t, func(tool string, args map[string]interface{}) string {
		return fmt.Sprintf(`{"ran": %q}`, tool)
	})

	engine, base := newTestEngine(t, srv.URL)
	writeWorkflow(t, base, map[string]interface{}{
		"name": "branch",
		"nodes": []map[string]interface{}{
			{"id": "decide", "type": "if", "condition": "1 == 1", "true_branch": "on_true", "false_branch": "on_false"},
			{"id": "on_true", "type": "mcp_call", "mcp_server": "mock", "tool": "true-path", "params": map[string]interface{}{}},
			{"id": "on_false", "type": "mcp_call", "mcp_server": "mock", "tool": "false-path", "params": map[string]interface{}{}},
			{"id": "downstream_of_false", "type": "mcp_call", "mcp_server": "mock", "tool": "after-false", "params": map[string]interface{}{}},
		},
		"edges": []map[string]interface{}{
			{"source": "decide", "target": "on_true"},
			{"source": "decide", "target": "on_false"},
			{"source": "on_false", "target": "downstream_of_false"},
		},
	})

	def, err := engine.loader.Load("branch")
	require.NoError(t, err)

	result, err := engine.Execute(context.Background(), def, nil, "manual", "")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)

	assert.Equal(t, NodeCompleted, result.NodeStates["on_true"])
	assert.Equal(t, NodeSkipped, result.NodeStates["on_false"])
	assert.Equal(t, NodeSkipped, result.NodeStates["downstream_of_false"])
	_, ranFalse := result.Results["on_false"]
	assert.False(t, ranFalse)
}

// TestTryCatchRecovery covers scenario S3: the try node fails, the catch
// node runs and its result becomes the try_catch node's result, and the
// finally node always runs.
func TestTryCatchRecovery(t *testing.T) {
	srv := newMockToolServer(t, func(tool string, args map[string]interface{}) string {
		if tool == "risky" {
			return `{"isError": true}`
		}
		return fmt.Sprintf(`{"ran": %q}`, tool)
	})
	// risky's handler above returns a plain payload, not a protocol-level
	// error; use a server that actually flags isError at the RPC layer.
	srv2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in rpcIn
		_ = json.NewDecoder(r.Body).Decode(&in)
		w.Header().Set("Content-Type", "application/json")
		switch in.Method {
		case "initialize":
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":{"protocolVersion":"2025-03-26","capabilities":{}}}`, in.ID)
		case "notifications/initialized":
			w.WriteHeader(http.StatusAccepted)
		case "tools/call":
			tool, _ := in.Params["name"].(string)
			if tool == "risky" {
				fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":{"isError":true,"content":[{"type":"text","text":"boom"}]}}`, in.ID)
				return
			}
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":{"content":[{"type":"text","text":"{\"ran\":%q}"}]}}`, in.ID, tool)
		}
	}))
	t.Cleanup(srv2.Close)
	_ = srv

	engine, base := newTestEngine(t, srv2.URL)
	writeWorkflow(t, base, map[string]interface{}{
		"name": "recovers",
		"nodes": []map[string]interface{}{
			{"id": "guard", "type": "try_catch", "try_node": "attempt", "catch_node": "recover", "finally_node": "cleanup", "error_var": "err"},
			{"id": "attempt", "type": "mcp_call", "mcp_server": "mock", "tool": "risky", "params": map[string]interface{}{}},
			{"id": "recover", "type": "mcp_call", "mcp_server": "mock", "tool": "recovered", "params": map[string]interface{}{}},
			{"id": "cleanup", "type": "mcp_call", "mcp_server": "mock", "tool": "cleanup", "params": map[string]interface{}{}},
		},
		"edges": []map[string]interface{}{},
	})

	def, err := engine.loader.Load("recovers")
	require.NoError(t, err)

	result, err := engine.Execute(context.Background(), def, nil, "manual", "")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, NodeCompleted, result.NodeStates["cleanup"])
	assert.Equal(t, NodeError, result.NodeStates["attempt"])
	assert.Equal(t, NodeCompleted, result.NodeStates["recover"])
}

// TestForEachBoundedParallelism covers scenario S4: a for_each node never
// runs more than max_parallel sub-workflow invocations concurrently and,
// with collect_results, preserves input order in its result slice.
func TestForEachBoundedParallelism(t *testing.T) {
	var active, peak int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in rpcIn
		_ = json.NewDecoder(r.Body).Decode(&in)
		w.Header().Set("Content-Type", "application/json")
		switch in.Method {
		case "initialize":
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":{"protocolVersion":"2025-03-26","capabilities":{}}}`, in.ID)
		case "notifications/initialized":
			w.WriteHeader(http.StatusAccepted)
		case "tools/call":
			n := atomic.AddInt32(&active, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(15 * time.Millisecond)
			atomic.AddInt32(&active, -1)

			args, _ := in.Params["arguments"].(map[string]interface{})
			idx, _ := args["index"].(float64)
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":{"content":[{"type":"text","text":"{\"index\":%v}"}]}}`, in.ID, idx)
		}
	}))
	t.Cleanup(srv.Close)

	engine, base := newTestEngine(t, srv.URL)
	writeWorkflow(t, base, map[string]interface{}{
		"name": "item-worker",
		"nodes": []map[string]interface{}{
			{"id": "work", "type": "mcp_call", "mcp_server": "mock", "tool": "process",
				"params": map[string]interface{}{"index": "${params.index}"}},
		},
		"edges": []map[string]interface{}{},
	})
	writeWorkflow(t, base, map[string]interface{}{
		"name": "fan-out",
		"nodes": []map[string]interface{}{
			{"id": "loop", "type": "for_each", "items": "[0, 1, 2, 3, 4, 5]",
				"item_var": "item", "index_var": "index", "sub_workflow": "item-worker",
				"max_parallel": 2, "collect_results": true},
		},
		"edges": []map[string]interface{}{},
	})

	def, err := engine.loader.Load("fan-out")
	require.NoError(t, err)

	result, err := engine.Execute(context.Background(), def, nil, "manual", "")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, result.Status)

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))

	results, ok := result.Results["loop"].([]interface{})
	require.True(t, ok)
	require.Len(t, results, 6)
	for i, r := range results {
		m, ok := r.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, float64(i), m["work"].(map[string]interface{})["index"])
	}
}
