package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	method, path, auth string
	body               map[string]any
}

func fakeAPI(t *testing.T) (*httptest.Server, func() []recorded) {
	t.Helper()
	var (
		mu   sync.Mutex
		seen []recorded
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{method: r.Method, path: r.URL.RequestURI(), auth: r.Header.Get("Authorization")}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&rec.body)
		}
		mu.Lock()
		seen = append(seen, rec)
		mu.Unlock()

		if r.URL.Path == "/observations/batch" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"bad ids"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []recorded {
		mu.Lock()
		defer mu.Unlock()
		return append([]recorded(nil), seen...)
	}
}

// connect wires a client session to a fresh server over in-memory
// transports.
func connect(t *testing.T, apiURL string) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	s := NewServer(apiURL, "k", "test", slog.New(slog.NewTextHandler(io.Discard, nil)))

	serverT, clientT := mcp.NewInMemoryTransports()
	ss, err := s.Connect(ctx, serverT)
	require.NoError(t, err)
	t.Cleanup(func() { ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { cs.Close() })
	return cs
}

func callTool(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	return res
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestListTools(t *testing.T) {
	api, _ := fakeAPI(t)
	cs := connect(t, api.URL)

	res, err := cs.ListTools(context.Background(), &mcp.ListToolsParams{})
	require.NoError(t, err)
	names := make([]string, 0, len(res.Tools))
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
		assert.NotNil(t, tool.InputSchema, tool.Name)
	}
	assert.ElementsMatch(t, []string{"memory_search", "memory_get", "memory_recent", "memory_status"}, names)
}

func TestToolCalls(t *testing.T) {
	api, seen := fakeAPI(t)
	cs := connect(t, api.URL)

	search := callTool(t, cs, "memory_search", map[string]any{"query": "sqlite", "project": "demo", "limit": 5})
	assert.False(t, search.IsError)
	assert.JSONEq(t, `{"ok":true}`, text(t, search))

	recent := callTool(t, cs, "memory_recent", map[string]any{"project": "demo"})
	assert.False(t, recent.IsError)

	get := callTool(t, cs, "memory_get", map[string]any{"kind": "observation", "ids": []int64{1, 2}})
	assert.True(t, get.IsError, "HTTP 400 surfaces as a tool error")
	assert.Contains(t, text(t, get), "bad ids")

	badKind := callTool(t, cs, "memory_get", map[string]any{"kind": "widget", "ids": []int64{1}})
	assert.True(t, badKind.IsError)

	status := callTool(t, cs, "memory_status", map[string]any{})
	assert.False(t, status.IsError)

	_, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: "nope", Arguments: map[string]any{}})
	assert.Error(t, err)

	calls := seen()
	require.Len(t, calls, 4)
	assert.Equal(t, "/search", calls[0].path)
	assert.Equal(t, "Bearer k", calls[0].auth)
	assert.Equal(t, "sqlite", calls[0].body["query"])
	assert.EqualValues(t, 5, calls[0].body["limit"])

	assert.Equal(t, http.MethodGet, calls[1].method)
	assert.Equal(t, "/observations?limit=10&project=demo", calls[1].path)
	assert.Equal(t, "/observations/batch", calls[2].path)
	assert.Equal(t, "/status", calls[3].path)
}

func TestUnreachableServer(t *testing.T) {
	cs := connect(t, "http://127.0.0.1:1")
	res := callTool(t, cs, "memory_status", map[string]any{})
	assert.True(t, res.IsError)
}
