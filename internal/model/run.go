package model

import "time"

// Operation identifies which pipeline entry point produced a run record.
type Operation string

const (
	OperationLoad    Operation = "load"
	OperationRecruit Operation = "recruit"
)

// RunStatus represents the final state of a pipeline operation.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// LoadResult reports the outcome of one bulk-load call.
type LoadResult struct {
	LeadsLoaded  int `json:"leads_loaded"`
	WithEmail    int `json:"with_email"`
	WithoutEmail int `json:"without_email"`
}

// RecruitResult reports the outcome of one recruit call.
type RecruitResult struct {
	EnrichedCount    int              `json:"enriched_count"`
	ReturnedCount    int              `json:"returned_count"`
	RemainingCredits int              `json:"remaining_credits"`
	Leads            []ProviderRecord `json:"leads"`
}

// Run is an operations-log entry recording one load or recruit invocation.
type Run struct {
	ID        string         `json:"id"`
	Operation Operation      `json:"operation"`
	Location  string         `json:"location"`
	Specialty string         `json:"specialty"`
	Status    RunStatus      `json:"status"`
	Result    map[string]any `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
