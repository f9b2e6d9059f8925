package models

import "encoding/json"

// QueueKind is the kind of work a queue item carries.
type QueueKind string

const (
	KindObservation QueueKind = "observation"
	KindSummarize   QueueKind = "summarize"
)

// QueueStatus is the processing state of a queue item. Confirmed items are
// deleted, so there is no "done" status.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueFailed     QueueStatus = "failed"
)

// DefaultRetryCap is the number of failed attempts after which an item is
// terminally failed.
const DefaultRetryCap = 3

// QueueItem is a durable unit of work.
type QueueItem struct {
	ID                int64           `json:"id"`
	SessionID         int64           `json:"sessionId"`
	ExternalSessionID string          `json:"externalSessionId"`
	Kind              QueueKind       `json:"kind"`
	DedupeKey         string          `json:"dedupeKey,omitempty"`
	Payload           json.RawMessage `json:"payload"`
	Status            QueueStatus     `json:"status"`
	RetryCount        int             `json:"retryCount"`
	CreatedAt         int64           `json:"createdAt"`
	ClaimedAt         *int64          `json:"claimedAt,omitempty"`
	FailedAt          *int64          `json:"failedAt,omitempty"`
	LastError         string          `json:"lastError,omitempty"`
	FailureClass      FailureClass    `json:"failureClass,omitempty"`
}

// ObservationPayload is the raw tool event queued for the Agent.
type ObservationPayload struct {
	ToolName     string `json:"toolName"`
	ToolInput    string `json:"toolInput"`
	ToolResponse string `json:"toolResponse"`
	Cwd          string `json:"cwd,omitempty"`
	PromptNumber int    `json:"promptNumber"`
}

// SummaryPayload is the closing message queued for the Agent.
type SummaryPayload struct {
	LastUserMessage      string `json:"lastUserMessage,omitempty"`
	LastAssistantMessage string `json:"lastAssistantMessage"`
	PromptNumber         int    `json:"promptNumber"`
}

// EnqueueResult reports the outcome of an enqueue.
type EnqueueResult struct {
	ItemID  int64 `json:"itemId"`
	Deduped bool  `json:"deduped"`
}

// QueueStats counts items by status.
type QueueStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Failed     int `json:"failed"`
}

// FailureClass tags a processing failure for observability.
type FailureClass string

const (
	FailureTimeout    FailureClass = "timeout"
	FailureRateLimit  FailureClass = "rate_limit"
	FailureSchema     FailureClass = "schema"
	FailureJSONParse  FailureClass = "json_parse"
	FailureNetwork    FailureClass = "network"
	FailureAuth       FailureClass = "auth"
	FailureProcessing FailureClass = "processing"
	FailureUnknown    FailureClass = "unknown"
)

// DrainResult summarizes one drain of a session's queue.
type DrainResult struct {
	ExternalSessionID string `json:"externalSessionId"`
	Processed         int    `json:"processed"`
	Failed            int    `json:"failed"`
	Skipped           bool   `json:"skipped,omitempty"`
}

// RecoverResult summarizes a recovery pass.
type RecoverResult struct {
	Reset    int           `json:"reset"`
	Sessions int           `json:"sessions"`
	Drains   []DrainResult `json:"drains,omitempty"`
}
