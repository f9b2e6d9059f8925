// Package mcp serves the memory tools over MCP by delegating to a running
// cmem HTTP server.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	defaultSearchLimit = 20
	defaultRecentLimit = 10
)

// Server exposes the memory tools and forwards each call to the HTTP API.
type Server struct {
	serverURL string
	apiKey    string
	client    *http.Client
	logger    *slog.Logger
	mcpServer *mcp.Server
}

func NewServer(serverURL, apiKey, version string, logger *slog.Logger) *Server {
	s := &Server{
		serverURL: strings.TrimRight(serverURL, "/"),
		apiKey:    apiKey,
		client:    &http.Client{Timeout: 30 * time.Second},
		logger:    logger,
	}

	s.mcpServer = mcp.NewServer(&mcp.Implementation{Name: "cmem", Version: version}, nil)
	mcp.AddTool(s.mcpServer, searchTool, s.handleSearch)
	mcp.AddTool(s.mcpServer, getTool, s.handleGet)
	mcp.AddTool(s.mcpServer, recentTool, s.handleRecent)
	mcp.AddTool(s.mcpServer, statusTool, s.handleStatus)
	return s
}

// Run serves one session over t until the peer disconnects or ctx ends.
func (s *Server) Run(ctx context.Context, t mcp.Transport) error {
	return s.mcpServer.Run(ctx, t)
}

// RunStdio serves over stdin and stdout.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.Run(ctx, &mcp.StdioTransport{})
}

// Connect starts a session over t without blocking.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcpServer.Connect(ctx, t, nil)
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, any, error) {
	if in.Limit <= 0 {
		in.Limit = defaultSearchLimit
	}
	body := map[string]any{
		"query":   strings.TrimSpace(in.Query),
		"project": strings.TrimSpace(in.Project),
		"limit":   in.Limit,
	}
	if len(in.Types) > 0 {
		body["types"] = in.Types
	}
	if in.From > 0 {
		body["from"] = in.From
	}
	if in.To > 0 {
		body["to"] = in.To
	}
	return s.call(ctx, searchToolName, http.MethodPost, "/search", body), nil, nil
}

func (s *Server) handleGet(ctx context.Context, _ *mcp.CallToolRequest, in GetInput) (*mcp.CallToolResult, any, error) {
	path, ok := batchPaths[strings.TrimSpace(in.Kind)]
	if !ok {
		return errorResult("kind must be observation, summary or prompt"), nil, nil
	}
	if len(in.IDs) == 0 {
		return errorResult("ids must be a non-empty array"), nil, nil
	}
	return s.call(ctx, getToolName, http.MethodPost, path, map[string]any{"ids": in.IDs}), nil, nil
}

func (s *Server) handleRecent(ctx context.Context, _ *mcp.CallToolRequest, in RecentInput) (*mcp.CallToolResult, any, error) {
	project := strings.TrimSpace(in.Project)
	if project == "" {
		return errorResult("project is required"), nil, nil
	}
	if in.Limit <= 0 {
		in.Limit = defaultRecentLimit
	}
	q := url.Values{}
	q.Set("project", project)
	q.Set("limit", strconv.Itoa(in.Limit))
	return s.call(ctx, recentToolName, http.MethodGet, "/observations?"+q.Encode(), nil), nil, nil
}

func (s *Server) handleStatus(ctx context.Context, _ *mcp.CallToolRequest, _ StatusInput) (*mcp.CallToolResult, any, error) {
	return s.call(ctx, statusToolName, http.MethodGet, "/status", nil), nil, nil
}

// call forwards a tool invocation to the HTTP API. The response body
// becomes the tool text; a status of 400 or above marks it as an error.
func (s *Server) call(ctx context.Context, tool, method, path string, body any) *mcp.CallToolResult {
	text, status, err := s.do(ctx, method, path, body)
	if err != nil {
		s.logger.Debug("tool call failed", "tool", tool, "error", err)
		return errorResult(err.Error())
	}
	if status >= http.StatusBadRequest {
		s.logger.Debug("tool call rejected", "tool", tool, "status", status)
		return &mcp.CallToolResult{IsError: true, Content: []mcp.Content{&mcp.TextContent{Text: text}}}
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

func (s *Server) do(ctx context.Context, method, path string, body any) (string, int, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return "", 0, fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.serverURL+path, rdr)
	if err != nil {
		return "", 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("call cmem server: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return string(respBody), resp.StatusCode, nil
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{IsError: true, Content: []mcp.Content{&mcp.TextContent{Text: msg}}}
}
