package mcp

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	searchToolName = "memory_search"
	getToolName    = "memory_get"
	recentToolName = "memory_recent"
	statusToolName = "memory_status"
)

var (
	searchTool = &mcp.Tool{
		Name: searchToolName,
		Description: "Search past observations, session summaries and prompts. " +
			"Combines keyword matches with semantic neighbours when embeddings are configured. " +
			"An empty query lists the newest records matching the filters.",
	}
	getTool = &mcp.Tool{
		Name: getToolName,
		Description: "Fetch full records by id. Use after memory_search to read the details " +
			"of specific results.",
	}
	recentTool = &mcp.Tool{
		Name:        recentToolName,
		Description: "List the most recent observations of a project, newest first.",
	}
	statusTool = &mcp.Tool{
		Name:        statusToolName,
		Description: "Report queue depth, record counts and which search backends are active.",
	}
)

// SearchInput is the argument of memory_search.
type SearchInput struct {
	Query   string   `json:"query,omitempty" jsonschema:"free text to search for"`
	Project string   `json:"project,omitempty" jsonschema:"restrict to one project"`
	Types   []string `json:"types,omitempty" jsonschema:"observation types to include: discovery, change, execution, decision or bugfix"`
	From    int64    `json:"from,omitempty" jsonschema:"earliest creation time in unix milliseconds"`
	To      int64    `json:"to,omitempty" jsonschema:"latest creation time in unix milliseconds"`
	Limit   int      `json:"limit,omitempty" jsonschema:"maximum results per kind (default 20)"`
}

// GetInput is the argument of memory_get.
type GetInput struct {
	Kind string  `json:"kind" jsonschema:"record kind: observation, summary or prompt"`
	IDs  []int64 `json:"ids" jsonschema:"record ids"`
}

// RecentInput is the argument of memory_recent.
type RecentInput struct {
	Project string `json:"project" jsonschema:"project name"`
	Limit   int    `json:"limit,omitempty" jsonschema:"maximum results (default 10)"`
}

// StatusInput is the empty argument of memory_status.
type StatusInput struct{}

var batchPaths = map[string]string{
	"observation": "/observations/batch",
	"summary":     "/summaries/batch",
	"prompt":      "/prompts/batch",
}
