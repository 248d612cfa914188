package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcIn struct {
	Method string                 `json:"method"`
	ID     int64                  `json:"id"`
	Params map[string]interface{} `json:"params"`
}

func newTestManager() *Manager {
	return NewManager(ClientInfo{Name: "skein-test", Version: "0.0.0"}, Timeouts{
		Init: 2 * time.Second, List: 2 * time.Second, Call: 2 * time.Second,
	})
}

func TestListToolsAndCallTool(t *testing.T) {
	var initCount int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in rpcIn
		_ = json.NewDecoder(r.Body).Decode(&in)
		w.Header().Set("Content-Type", "application/json")
		switch in.Method {
		case "initialize":
			atomic.AddInt32(&initCount, 1)
			w.Header().Set("MCP-Session-Id", "sess-1")
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":{"protocolVersion":"2025-03-26","capabilities":{}}}`, in.ID)
		case "notifications/initialized":
			w.WriteHeader(http.StatusAccepted)
		case "tools/list":
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":{"tools":[{"name":"compute"}]}}`, in.ID)
		case "tools/call":
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":{"content":[{"type":"text","text":"{\"result\":4}"}]}}`, in.ID)
		}
	}))
	defer srv.Close()

	m := newTestManager()
	defer m.Close()

	tools, err := m.ListTools(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "compute", tools[0].Name)

	result, err := m.CallTool(context.Background(), srv.URL, "compute", map[string]interface{}{"x": 2})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, `{"result":4}`, result.Content[0].Text)

	assert.Equal(t, int32(1), atomic.LoadInt32(&initCount))
}

func TestInitializeOnceUnderConcurrentFirstUse(t *testing.T) {
	var initCount int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in rpcIn
		_ = json.NewDecoder(r.Body).Decode(&in)
		w.Header().Set("Content-Type", "application/json")
		switch in.Method {
		case "initialize":
			atomic.AddInt32(&initCount, 1)
			time.Sleep(20 * time.Millisecond)
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":{"protocolVersion":"2025-03-26","capabilities":{}}}`, in.ID)
		case "notifications/initialized":
			w.WriteHeader(http.StatusAccepted)
		case "tools/list":
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":{"tools":[]}}`, in.ID)
		}
	}))
	defer srv.Close()

	m := newTestManager()
	defer m.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.ListTools(context.Background(), srv.URL)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&initCount))
}

func TestSessionExpiryRetriesTransparently(t *testing.T) {
	var calls int32
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
			n := atomic.AddInt32(&calls, 1)
			if n == 1 {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":{"content":[]}}`, in.ID)
		}
	}))
	defer srv.Close()

	m := newTestManager()
	defer m.Close()

	result, err := m.CallTool(context.Background(), srv.URL, "anything", nil)
	require.NoError(t, err)
	assert.NotNil(t, result)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestCallToolSurfacesToolError(t *testing.T) {
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
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":{"isError":true,"content":[{"type":"text","text":"kaboom"}]}}`, in.ID)
		}
	}))
	defer srv.Close()

	m := newTestManager()
	defer m.Close()

	_, err := m.CallTool(context.Background(), srv.URL, "boom", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}
