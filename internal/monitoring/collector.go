package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/provider-scout/internal/model"
	"github.com/sells-group/provider-scout/internal/store"
)

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	// Run metrics (within lookback window).
	RunTotal    int     `json:"run_total"`
	RunComplete int     `json:"run_complete"`
	RunFailed   int     `json:"run_failed"`
	RunRunning  int     `json:"run_running"`
	RunFailRate float64 `json:"run_fail_rate"`

	// Provider metrics (all time).
	TotalProviders int     `json:"total_providers"`
	WithEmail      int     `json:"with_email"`
	EmailCoverage  float64 `json:"email_coverage"`
	Visited        int     `json:"visited"`
	ApolloSearched int     `json:"apollo_searched"`
	Enriched       int     `json:"enriched"`

	// Credit metrics.
	CreditsUsed       int     `json:"credits_used"`
	CreditCap         int     `json:"credit_cap"`
	CreditUtilization float64 `json:"credit_utilization"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the store.
type Collector struct {
	store     store.Store
	creditCap int
}

// NewCollector creates a new metrics collector. creditCap is the configured
// search spend ceiling, used to compute utilization.
func NewCollector(st store.Store, creditCap int) *Collector {
	return &Collector{store: st, creditCap: creditCap}
}

// Collect gathers a snapshot of pipeline metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CreditCap:     c.creditCap,
		CollectedAt:   time.Now().UTC(),
	}

	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.store.ListRuns(ctx, store.RunFilter{
		CreatedAfter: cutoff,
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunTotal = len(runs)
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunComplete++
		case model.RunStatusFailed:
			snap.RunFailed++
		case model.RunStatusRunning:
			snap.RunRunning++
		}
	}
	if finished := snap.RunComplete + snap.RunFailed; finished > 0 {
		snap.RunFailRate = float64(snap.RunFailed) / float64(finished)
	}

	stats, err := c.store.Stats(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: collect stats")
	}
	snap.TotalProviders = stats.TotalProviders
	snap.WithEmail = stats.WithEmail
	snap.Visited = stats.Visited
	snap.ApolloSearched = stats.ApolloSearched
	snap.Enriched = stats.Enriched
	snap.CreditsUsed = stats.CreditsUsed

	if snap.TotalProviders > 0 {
		snap.EmailCoverage = float64(snap.WithEmail) / float64(snap.TotalProviders)
	}
	if c.creditCap > 0 {
		snap.CreditUtilization = float64(snap.CreditsUsed) / float64(c.creditCap)
	}

	return snap, nil
}
