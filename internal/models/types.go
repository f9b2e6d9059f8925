package models

// SearchMode reports which sources contributed to a search.
type SearchMode string

const (
	SearchModeHybrid  SearchMode = "hybrid"
	SearchModeLexical SearchMode = "lexical-only"
)

// InitRequest is the payload for POST /sessions/init.
type InitRequest struct {
	SessionID string `json:"sessionId"`
	Project   string `json:"project"`
	Prompt    string `json:"prompt"`
}

// ObservationRequest is the payload for POST /sessions/observations.
type ObservationRequest struct {
	SessionID    string `json:"sessionId"`
	ToolName     string `json:"toolName"`
	ToolInput    any    `json:"toolInput"`
	ToolResponse any    `json:"toolResponse"`
	Cwd          string `json:"cwd,omitempty"`
}

// SummarizeRequest is the payload for POST /sessions/summarize.
type SummarizeRequest struct {
	SessionID            string `json:"sessionId"`
	LastUserMessage      string `json:"lastUserMessage,omitempty"`
	LastAssistantMessage string `json:"lastAssistantMessage"`
}

// CompleteRequest is the payload for POST /sessions/complete.
type CompleteRequest struct {
	SessionID string `json:"sessionId"`
}

// EnqueueResponse is returned from the ingestion endpoints.
type EnqueueResponse struct {
	Status string `json:"status"`
	ItemID int64  `json:"itemId,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Enqueue response statuses.
const (
	StatusQueued    = "queued"
	StatusDeduped   = "deduped"
	StatusSkipped   = "skipped"
	StatusCompleted = "completed"
)

// ListFilter holds the read filters shared by list, batch and search.
// From and To are unix milliseconds; zero means unbounded.
type ListFilter struct {
	Project string            `json:"project,omitempty"`
	Types   []ObservationType `json:"types,omitempty"`
	From    int64             `json:"from,omitempty"`
	To      int64             `json:"to,omitempty"`
	Page    int               `json:"page,omitempty"`
	Limit   int               `json:"limit,omitempty"`
}

// Pagination holds pagination metadata.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// NewPagination computes page metadata for a total row count.
func NewPagination(page, limit, total int) Pagination {
	totalPages := 0
	if limit > 0 {
		totalPages = (total + limit - 1) / limit
	}
	return Pagination{Page: page, Limit: limit, Total: total, TotalPages: totalPages}
}

// ListResponse is returned from the list endpoints.
type ListResponse[T any] struct {
	Items      []T        `json:"items"`
	Pagination Pagination `json:"pagination"`
}

// BatchGetRequest is the payload for POST /{kind}/batch.
type BatchGetRequest struct {
	IDs     []int64           `json:"ids"`
	Project string            `json:"project,omitempty"`
	Types   []ObservationType `json:"types,omitempty"`
	From    int64             `json:"from,omitempty"`
	To      int64             `json:"to,omitempty"`
}

// Filter returns the record filters carried by the request.
func (r BatchGetRequest) Filter() ListFilter {
	return ListFilter{Project: r.Project, Types: r.Types, From: r.From, To: r.To}
}

// SearchRequest is the payload for POST /search.
type SearchRequest struct {
	Query   string            `json:"query"`
	Project string            `json:"project,omitempty"`
	Types   []ObservationType `json:"types,omitempty"`
	From    int64             `json:"from,omitempty"`
	To      int64             `json:"to,omitempty"`
	Limit   int               `json:"limit,omitempty"`
}

// Filter returns the hydration filter for the request.
func (r *SearchRequest) Filter() ListFilter {
	return ListFilter{Project: r.Project, Types: r.Types, From: r.From, To: r.To}
}

// SearchResponse is returned from POST /search.
type SearchResponse struct {
	Observations []*Observation `json:"observations"`
	Summaries    []*Summary     `json:"summaries"`
	Prompts      []*Prompt      `json:"prompts"`
	Mode         SearchMode     `json:"mode"`
	Meta         SearchMeta     `json:"meta"`
}

type SearchMeta struct {
	LexicalHits  int `json:"lexicalHits"`
	LocalHits    int `json:"localVectorHits"`
	ExternalHits int `json:"externalVectorHits"`
	SearchTimeMs int `json:"searchTimeMs"`
}

// SearchTrace records one executed query.
type SearchTrace struct {
	Query        string     `json:"query"`
	Project      string     `json:"project,omitempty"`
	Mode         SearchMode `json:"mode"`
	LexicalHits  int        `json:"lexicalHits"`
	LocalHits    int        `json:"localVectorHits"`
	ExternalHits int        `json:"externalVectorHits"`
	Results      int        `json:"results"`
	LatencyMs    int64      `json:"latencyMs"`
	At           int64      `json:"at"`
}

// HealthResponse is returned from GET /health.
type HealthResponse struct {
	Status   string       `json:"status"`
	DB       ServiceCheck `json:"db"`
	Embedder ServiceCheck `json:"embedder"`
	Vector   ServiceCheck `json:"vector"`
}

type ServiceCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// StatusResponse is returned from GET /status.
type StatusResponse struct {
	Queue           QueueStats `json:"queue"`
	ActiveSessions  int        `json:"activeSessions"`
	Observations    int        `json:"observations"`
	Summaries       int        `json:"summaries"`
	Prompts         int        `json:"prompts"`
	LocalEmbeddings int        `json:"localEmbeddings"`
	DrainMode       string     `json:"drainMode"`
	AgentProvider   string     `json:"agentProvider"`
	EmbedderEnabled bool       `json:"embedderEnabled"`
	ExternalVector  bool       `json:"externalVector"`
}

// Event is a processor lifecycle event broadcast over SSE.
type Event struct {
	ID                string       `json:"id"`
	Type              string       `json:"type"`
	ExternalSessionID string       `json:"sessionId,omitempty"`
	ItemID            int64        `json:"itemId,omitempty"`
	Kind              QueueKind    `json:"kind,omitempty"`
	FailureClass      FailureClass `json:"failureClass,omitempty"`
	Message           string       `json:"message,omitempty"`
	At                int64        `json:"at"`
}

// Event types.
const (
	EventQueued            = "queued"
	EventProcessingStarted = "processing_started"
	EventProcessed         = "processed"
	EventFailed            = "failed"
	EventSessionCompleted  = "session_completed"
	EventRetentionRan      = "retention_ran"
)
