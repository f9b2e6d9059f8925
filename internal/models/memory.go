package models

// ObservationType classifies a structured observation.
type ObservationType string

const (
	ObservationDiscovery ObservationType = "discovery"
	ObservationChange    ObservationType = "change"
	ObservationExecution ObservationType = "execution"
	ObservationDecision  ObservationType = "decision"
	ObservationBugfix    ObservationType = "bugfix"
)

var ValidObservationTypes = map[ObservationType]bool{
	ObservationDiscovery: true,
	ObservationChange:    true,
	ObservationExecution: true,
	ObservationDecision:  true,
	ObservationBugfix:    true,
}

func (t ObservationType) IsValid() bool {
	return ValidObservationTypes[t]
}

// EntityKind names a searchable record kind.
type EntityKind string

const (
	EntityObservation EntityKind = "observation"
	EntitySummary     EntityKind = "summary"
	EntityPrompt      EntityKind = "prompt"
)

// ObservationInput is the Agent's structured output for a tool event.
type ObservationInput struct {
	Type          ObservationType `json:"type"`
	Title         string          `json:"title"`
	Subtitle      string          `json:"subtitle,omitempty"`
	Facts         []string        `json:"facts"`
	Narrative     string          `json:"narrative"`
	Concepts      []string        `json:"concepts"`
	FilesRead     []string        `json:"files_read"`
	FilesModified []string        `json:"files_modified"`
}

// Observation is a persisted structured record of one tool event.
type Observation struct {
	ID              int64           `json:"id"`
	MemorySessionID string          `json:"memorySessionId"`
	Project         string          `json:"project"`
	Type            ObservationType `json:"type"`
	Title           string          `json:"title"`
	Subtitle        string          `json:"subtitle,omitempty"`
	Facts           []string        `json:"facts"`
	Narrative       string          `json:"narrative"`
	Concepts        []string        `json:"concepts"`
	FilesRead       []string        `json:"filesRead"`
	FilesModified   []string        `json:"filesModified"`
	PromptNumber    int             `json:"promptNumber"`
	SourceItemID    *int64          `json:"-"`
	CreatedAt       int64           `json:"createdAt"`
	LastAccessedAt  int64           `json:"lastAccessedAt"`
	DeletedAt       *int64          `json:"deletedAt,omitempty"`
}

// SummaryInput is the Agent's structured output for a closing message.
type SummaryInput struct {
	Request      string `json:"request"`
	Investigated string `json:"investigated"`
	Learned      string `json:"learned"`
	Completed    string `json:"completed"`
	NextSteps    string `json:"next_steps"`
	Notes        string `json:"notes,omitempty"`
}

// Summary is a persisted end-of-turn session summary.
type Summary struct {
	ID              int64  `json:"id"`
	MemorySessionID string `json:"memorySessionId"`
	Project         string `json:"project"`
	Request         string `json:"request"`
	Investigated    string `json:"investigated"`
	Learned         string `json:"learned"`
	Completed       string `json:"completed"`
	NextSteps       string `json:"nextSteps"`
	Notes           string `json:"notes,omitempty"`
	PromptNumber    int    `json:"promptNumber"`
	SourceItemID    *int64 `json:"-"`
	CreatedAt       int64  `json:"createdAt"`
	LastAccessedAt  int64  `json:"lastAccessedAt"`
	DeletedAt       *int64 `json:"deletedAt,omitempty"`
}

// EmbeddingCacheEntry stores a cached embedding keyed by content hash.
type EmbeddingCacheEntry struct {
	ContentHash string    `json:"contentHash"`
	Embedding   []float32 `json:"embedding"`
	Dimension   int       `json:"dimension"`
	Model       string    `json:"model"`
	UpdatedAt   int64     `json:"updatedAt"`
}
