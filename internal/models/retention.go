package models

// RetentionPolicy is a per-project override of the global retention rules.
type RetentionPolicy struct {
	Project   string `json:"project"`
	Enabled   bool   `json:"enabled"`
	Pinned    bool   `json:"pinned"`
	TTLDays   *int   `json:"ttlDays,omitempty"`
	UpdatedAt int64  `json:"updatedAt"`
}

// PolicyUpdate is the body of PUT /retention/policies/{project}. Nil fields
// keep their current value.
type PolicyUpdate struct {
	Enabled *bool `json:"enabled,omitempty"`
	Pinned  *bool `json:"pinned,omitempty"`
	TTLDays *int  `json:"ttlDays,omitempty"`
}

// DeleteCounts counts rows touched by a retention delete.
type DeleteCounts struct {
	Observations int `json:"observations"`
	Summaries    int `json:"summaries"`
	Prompts      int `json:"prompts"`
}

func (c DeleteCounts) Total() int {
	return c.Observations + c.Summaries + c.Prompts
}

// Add returns the element-wise sum.
func (c DeleteCounts) Add(o DeleteCounts) DeleteCounts {
	return DeleteCounts{
		Observations: c.Observations + o.Observations,
		Summaries:    c.Summaries + o.Summaries,
		Prompts:      c.Prompts + o.Prompts,
	}
}

// Retention decisions per project.
const (
	DecisionExpired  = "expired"
	DecisionRetained = "retained"
	DecisionPinned   = "pinned"
	DecisionDisabled = "disabled"
)

// ProjectDecision is the sweeper's verdict for one project.
type ProjectDecision struct {
	Project      string       `json:"project"`
	Decision     string       `json:"decision"`
	LastAccessAt int64        `json:"lastAccessAt"`
	TTLDays      int          `json:"ttlDays"`
	SoftDeleted  DeleteCounts `json:"softDeleted"`
}

// CleanupRequest is the body of POST /retention/cleanup.
type CleanupRequest struct {
	DryRun bool `json:"dryRun"`
}

// CleanupReport summarizes one retention pass.
type CleanupReport struct {
	DryRun      bool              `json:"dryRun"`
	RanAt       int64             `json:"ranAt"`
	Projects    []ProjectDecision `json:"projects"`
	SoftDeleted DeleteCounts      `json:"softDeleted"`
	HardDeleted DeleteCounts      `json:"hardDeleted"`
}
