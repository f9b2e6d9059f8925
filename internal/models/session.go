package models

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// UnknownProject is assigned to sessions created by a processing call
// before any init carried a project name.
const UnknownProject = "unknown"

// MemorySessionPrefix prefixes the internal memory-session id ("cmem-<id>").
const MemorySessionPrefix = "cmem-"

// Session maps an external (host tool) session id to internal state.
type Session struct {
	ID                int64         `json:"id"`
	ExternalSessionID string        `json:"externalSessionId"`
	MemorySessionID   *string       `json:"memorySessionId,omitempty"`
	Project           string        `json:"project"`
	InitialPrompt     string        `json:"initialPrompt,omitempty"`
	Status            SessionStatus `json:"status"`
	StartedAt         int64         `json:"startedAt"`
	CompletedAt       *int64        `json:"completedAt,omitempty"`
}

// ProcessingSession is what the queue processor needs to attribute writes.
type ProcessingSession struct {
	SessionDBID     int64  `json:"sessionDbId"`
	MemorySessionID string `json:"memorySessionId"`
	Project         string `json:"project"`
}

// InitResult is returned by session init.
type InitResult struct {
	SessionDBID  int64  `json:"sessionDbId"`
	PromptNumber int    `json:"promptNumber"`
	Skipped      bool   `json:"skipped"`
	Reason       string `json:"reason,omitempty"`
}

// CompleteResult is returned by session completion.
type CompleteResult struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Prompt is one stored user prompt.
type Prompt struct {
	ID                int64  `json:"id"`
	ExternalSessionID string `json:"externalSessionId"`
	Project           string `json:"project"`
	PromptNumber      int    `json:"promptNumber"`
	Text              string `json:"text"`
	CreatedAt         int64  `json:"createdAt"`
	LastAccessedAt    int64  `json:"lastAccessedAt"`
	DeletedAt         *int64 `json:"deletedAt,omitempty"`
}
