package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iammorganparry/cmem/internal/app"
	"github.com/iammorganparry/cmem/internal/config"
	"github.com/iammorganparry/cmem/internal/logging"
	"github.com/iammorganparry/cmem/internal/models"
)

func setupServer(t *testing.T, apiKey string) *httptest.Server {
	t.Helper()

	t.Setenv("CMEM_DB_PATH", filepath.Join(t.TempDir(), "cmem.db"))
	t.Setenv("AGENT_PROVIDER", "rules")
	t.Setenv("EMBEDDING_PROVIDER", "none")
	t.Setenv("QDRANT_ENABLED", "false")
	t.Setenv("QUEUE_DRAIN_MODE", "sync")
	t.Setenv("CMEM_API_KEY", apiKey)

	cfg, err := config.LoadFile("")
	require.NoError(t, err)

	a, err := app.New(cfg, logging.Nop())
	require.NoError(t, err)

	srv := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		srv.Close()
		a.Close()
	})
	return srv
}

func doJSON(t *testing.T, srv *httptest.Server, method, path string, body any, out any) int {
	t.Helper()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, srv.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	srv := setupServer(t, "")

	var health models.HealthResponse
	status := doJSON(t, srv, http.MethodGet, "/health", nil, &health)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "disabled", health.Embedder.Status)
	assert.Equal(t, "disabled", health.Vector.Status)
}

func TestSessionInitIsIdempotent(t *testing.T) {
	srv := setupServer(t, "")
	init := models.InitRequest{SessionID: "s1", Project: "demo", Prompt: "fix the build"}

	var first, second models.InitResult
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodPost, "/sessions/init", init, &first))
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodPost, "/sessions/init", init, &second))

	assert.Equal(t, first.SessionDBID, second.SessionDBID)
	assert.Equal(t, 1, first.PromptNumber)
	assert.Equal(t, 1, second.PromptNumber)

	var prompts models.ListResponse[models.Prompt]
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodGet, "/prompts?project=demo", nil, &prompts))
	require.Len(t, prompts.Items, 1)
	assert.Equal(t, "fix the build", prompts.Items[0].Text)

	var private models.InitResult
	doJSON(t, srv, http.MethodPost, "/sessions/init",
		models.InitRequest{SessionID: "s1", Prompt: "<private>secret</private>"}, &private)
	assert.True(t, private.Skipped)
}

func TestObservationLifecycle(t *testing.T) {
	srv := setupServer(t, "")
	doJSON(t, srv, http.MethodPost, "/sessions/init",
		models.InitRequest{SessionID: "s1", Project: "demo", Prompt: "refactor main"}, nil)

	obs := models.ObservationRequest{
		SessionID:    "s1",
		ToolName:     "Edit",
		ToolInput:    map[string]any{"file_path": "/repo/main.go"},
		ToolResponse: "updated",
	}

	var first, second models.EnqueueResponse
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodPost, "/sessions/observations", obs, &first))
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodPost, "/sessions/observations", obs, &second))
	assert.Equal(t, models.StatusQueued, first.Status)
	assert.Equal(t, models.StatusDeduped, second.Status)

	var list models.ListResponse[models.Observation]
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodGet, "/observations?project=demo&type=change", nil, &list))
	require.Len(t, list.Items, 1)
	assert.Equal(t, models.ObservationChange, list.Items[0].Type)
	assert.Contains(t, list.Items[0].FilesModified, "/repo/main.go")
	assert.Equal(t, 1, list.Pagination.Total)

	var stats models.QueueStats
	doJSON(t, srv, http.MethodGet, "/queue/stats", nil, &stats)
	assert.Equal(t, models.QueueStats{}, stats)

	var search models.SearchResponse
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodPost, "/search",
		models.SearchRequest{Query: "main.go", Project: "demo"}, &search))
	assert.Equal(t, models.SearchModeLexical, search.Mode)
	require.Len(t, search.Observations, 1)

	var traces struct {
		Traces []models.SearchTrace `json:"traces"`
	}
	doJSON(t, srv, http.MethodGet, "/search/traces", nil, &traces)
	require.Len(t, traces.Traces, 1)
	assert.Equal(t, "main.go", traces.Traces[0].Query)

	var got models.Observation
	path := "/observations/" + itoa(list.Items[0].ID)
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodGet, path, nil, &got))
	assert.Equal(t, list.Items[0].Title, got.Title)
}

func TestSummarizeAndComplete(t *testing.T) {
	srv := setupServer(t, "")
	doJSON(t, srv, http.MethodPost, "/sessions/init",
		models.InitRequest{SessionID: "s2", Project: "demo", Prompt: "add tests"}, nil)

	var enq models.EnqueueResponse
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodPost, "/sessions/summarize",
		models.SummarizeRequest{SessionID: "s2", LastUserMessage: "add tests", LastAssistantMessage: "Added table tests."}, &enq))
	assert.Equal(t, models.StatusQueued, enq.Status)

	var sums models.ListResponse[models.Summary]
	doJSON(t, srv, http.MethodGet, "/summaries?project=demo", nil, &sums)
	require.Len(t, sums.Items, 1)
	assert.Equal(t, "Added table tests.", sums.Items[0].Completed)

	var done, again models.CompleteResult
	doJSON(t, srv, http.MethodPost, "/sessions/complete", models.CompleteRequest{SessionID: "s2"}, &done)
	doJSON(t, srv, http.MethodPost, "/sessions/complete", models.CompleteRequest{SessionID: "s2"}, &again)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.Equal(t, models.StatusSkipped, again.Status)

	var sess models.Session
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodGet, "/sessions/s2", nil, &sess))
	assert.Equal(t, models.SessionCompleted, sess.Status)
}

func TestErrorMapping(t *testing.T) {
	srv := setupServer(t, "")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"missing session id", http.MethodPost, "/sessions/observations", models.ObservationRequest{ToolName: "Read"}, http.StatusBadRequest},
		{"bad id", http.MethodGet, "/observations/abc", nil, http.StatusBadRequest},
		{"missing observation", http.MethodGet, "/observations/999", nil, http.StatusNotFound},
		{"missing session", http.MethodGet, "/sessions/nope", nil, http.StatusNotFound},
		{"bad type filter", http.MethodGet, "/observations?type=nonsense", nil, http.StatusBadRequest},
		{"bad search type", http.MethodPost, "/search", map[string]any{"query": "x", "types": []string{"bogus"}}, http.StatusBadRequest},
		{"drain without session", http.MethodPost, "/queue/drain", map[string]any{}, http.StatusBadRequest},
		{"negative ttl", http.MethodPut, "/retention/policies/demo", map[string]any{"ttlDays": -1}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]any
			status := doJSON(t, srv, tt.method, tt.path, tt.body, &body)
			assert.Equal(t, tt.want, status)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestRetentionEndpoints(t *testing.T) {
	srv := setupServer(t, "")
	doJSON(t, srv, http.MethodPost, "/sessions/init",
		models.InitRequest{SessionID: "s3", Project: "keep", Prompt: "hello"}, nil)

	var policy models.RetentionPolicy
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodPut, "/retention/policies/keep",
		map[string]any{"pinned": true}, &policy))
	assert.True(t, policy.Pinned)

	var report models.CleanupReport
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodPost, "/retention/cleanup",
		models.CleanupRequest{DryRun: true}, &report))
	assert.True(t, report.DryRun)
	require.NotEmpty(t, report.Projects)
	assert.Equal(t, models.DecisionPinned, report.Projects[0].Decision)

	var policies struct {
		Policies []models.RetentionPolicy `json:"policies"`
	}
	doJSON(t, srv, http.MethodGet, "/retention/policies", nil, &policies)
	require.Len(t, policies.Policies, 1)
	assert.Equal(t, "keep", policies.Policies[0].Project)
}

func TestBearerAuth(t *testing.T) {
	srv := setupServer(t, "secret")

	assert.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodGet, "/health", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, doJSON(t, srv, http.MethodGet, "/status", nil, nil))

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/status", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var status models.StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "sync", status.DrainMode)
	assert.Equal(t, "rules", status.AgentProvider)
}

func itoa(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}

func TestRecordReadsApplyDateWindow(t *testing.T) {
	srv := setupServer(t, "")
	doJSON(t, srv, http.MethodPost, "/sessions/init",
		models.InitRequest{SessionID: "s1", Project: "demo", Prompt: "read config"}, nil)
	doJSON(t, srv, http.MethodPost, "/sessions/observations", models.ObservationRequest{
		SessionID:    "s1",
		ToolName:     "Read",
		ToolInput:    map[string]any{"file_path": "/repo/config.yaml"},
		ToolResponse: "port: 8741",
	}, nil)

	var list models.ListResponse[models.Observation]
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodGet, "/observations?project=demo", nil, &list))
	require.Len(t, list.Items, 1)
	obs := list.Items[0]

	batch := func(req models.BatchGetRequest) (int, []models.Observation) {
		var out struct {
			Items []models.Observation `json:"items"`
		}
		status := doJSON(t, srv, http.MethodPost, "/observations/batch", req, &out)
		return status, out.Items
	}

	status, items := batch(models.BatchGetRequest{IDs: []int64{obs.ID}, From: obs.CreatedAt, To: obs.CreatedAt})
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, items, 1)

	_, items = batch(models.BatchGetRequest{IDs: []int64{obs.ID}, From: obs.CreatedAt + 1})
	assert.Empty(t, items)

	_, items = batch(models.BatchGetRequest{IDs: []int64{obs.ID}, To: obs.CreatedAt - 1})
	assert.Empty(t, items)

	status, _ = batch(models.BatchGetRequest{IDs: []int64{obs.ID}, From: obs.CreatedAt + 1, To: obs.CreatedAt})
	assert.Equal(t, http.StatusBadRequest, status)

	path := fmt.Sprintf("/observations/%d", obs.ID)
	assert.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodGet, fmt.Sprintf("%s?to=%d", path, obs.CreatedAt), nil, nil))
	assert.Equal(t, http.StatusNotFound, doJSON(t, srv, http.MethodGet, fmt.Sprintf("%s?from=%d", path, obs.CreatedAt+1), nil, nil))
	assert.Equal(t, http.StatusNotFound, doJSON(t, srv, http.MethodGet, path+"?project=other", nil, nil))
}
