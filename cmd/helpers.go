package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/provider-scout/internal/enrich"
	"github.com/sells-group/provider-scout/internal/estimate"
	"github.com/sells-group/provider-scout/internal/ingest"
	"github.com/sells-group/provider-scout/internal/recruit"
	"github.com/sells-group/provider-scout/internal/resilience"
	"github.com/sells-group/provider-scout/internal/store"
	"github.com/sells-group/provider-scout/pkg/apollo"
	"github.com/sells-group/provider-scout/pkg/neverbounce"
	"github.com/sells-group/provider-scout/pkg/nppes"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "scout.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initLoader(st store.Store) (*ingest.Loader, error) {
	registry := nppes.NewClient(
		nppes.WithBaseURL(cfg.Registry.BaseURL),
		nppes.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Registry.TimeoutSecs) * time.Second}),
		nppes.WithRetry(resilience.RetryConfig{
			MaxAttempts: cfg.Registry.MaxRetries,
			OnRetry:     resilience.RetryLogger("nppes", "search"),
		}),
	)

	tables := estimate.DefaultTables()
	if cfg.Estimator.TablesPath != "" {
		var err error
		tables, err = estimate.LoadTables(cfg.Estimator.TablesPath)
		if err != nil {
			return nil, eris.Wrap(err, "load estimator tables")
		}
	}

	return ingest.NewLoader(registry, st, estimate.NewEstimator(tables)), nil
}

func initScheduler(st store.Store) *recruit.Scheduler {
	apolloClient := apollo.NewClient(cfg.Apollo.Key,
		apollo.WithBaseURL(cfg.Apollo.BaseURL),
		apollo.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Apollo.TimeoutSecs) * time.Second}),
		apollo.WithRateLimit(cfg.Apollo.RateRPS),
	)
	matcher := enrich.NewMatcher(apolloClient, enrich.DefaultKeywords())

	var verifier neverbounce.Client
	if cfg.NeverBounce.Key != "" {
		verifier = neverbounce.NewClient(cfg.NeverBounce.Key,
			neverbounce.WithBaseURL(cfg.NeverBounce.BaseURL),
			neverbounce.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.NeverBounce.TimeoutSecs) * time.Second}),
			neverbounce.WithBatchSize(cfg.NeverBounce.BatchSize),
		)
	}

	return recruit.NewScheduler(st, matcher, verifier, recruit.Config{
		BatchSize: cfg.Recruit.BatchSize,
		CreditCap: cfg.Apollo.CreditCap,
		Verify:    cfg.Recruit.Verify,
	})
}
