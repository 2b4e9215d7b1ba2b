package store

import (
	"context"
	"time"

	"github.com/sells-group/provider-scout/internal/model"
)

// LeadFilter specifies criteria for the plain lead search/list operation.
type LeadFilter struct {
	City      string `json:"city,omitempty"`
	State     string `json:"state,omitempty"`
	EMRSystem string `json:"emr_system,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
}

// RunFilter specifies criteria for listing operation-log entries.
type RunFilter struct {
	Operation    model.Operation `json:"operation,omitempty"`
	Status       model.RunStatus `json:"status,omitempty"`
	CreatedAfter time.Time       `json:"created_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

// Stats aggregates pipeline-wide counters for reporting.
type Stats struct {
	TotalProviders int `json:"total_providers"`
	WithEmail      int `json:"with_email"`
	Visited        int `json:"visited"`
	ApolloSearched int `json:"apollo_searched"`
	Enriched       int `json:"enriched"`
	EmailVerified  int `json:"email_verified"`
	Emailed        int `json:"emailed"`
	CreditsUsed    int `json:"credits_used"`
}

// Store defines the persistence interface for the enrichment pipeline.
type Store interface {
	// Providers
	ExistingNPIs(ctx context.Context, npis []string) (map[string]struct{}, error)
	InsertProviders(ctx context.Context, records []model.ProviderRecord) (int64, error)
	SelectCandidates(ctx context.Context, city, state, specialty string, limit int) ([]model.ProviderRecord, error)
	ApplyEnrichment(ctx context.Context, rec *model.ProviderRecord) error
	MarkVisited(ctx context.Context, npis []string) error
	TopLeads(ctx context.Context, city, state, specialty string, limit int) ([]model.ProviderRecord, error)
	SearchLeads(ctx context.Context, filter LeadFilter) ([]model.ProviderRecord, error)

	// Credits
	ReserveCredits(ctx context.Context, requested, cap int) (granted int, remaining int, err error)
	CreditsUsed(ctx context.Context) (int, error)

	// Runs
	CreateRun(ctx context.Context, op model.Operation, location, specialty string) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, status model.RunStatus, result map[string]any, errMsg string) error
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Reporting
	Stats(ctx context.Context) (*Stats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
