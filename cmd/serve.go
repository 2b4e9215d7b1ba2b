package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/provider-scout/internal/ingest"
	"github.com/sells-group/provider-scout/internal/model"
	"github.com/sells-group/provider-scout/internal/monitoring"
	"github.com/sells-group/provider-scout/internal/recruit"
	"github.com/sells-group/provider-scout/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		loader, err := initLoader(st)
		if err != nil {
			return err
		}
		sched := initScheduler(st)

		// Background alert checker, enabled when a webhook is configured.
		if cfg.Monitoring.WebhookURL != "" {
			collector := monitoring.NewCollector(st, cfg.Apollo.CreditCap)
			alerter := monitoring.NewAlerter(cfg.Monitoring)
			checker := monitoring.NewChecker(collector, alerter, cfg.Monitoring)
			go checker.Run(ctx)
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(ctx, st, loader, sched, cfg.Server.AllowedOrigins),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = srv.Shutdown(context.Background())
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// newRouter builds the API routes. baseCtx outlives individual requests and
// is used for the async load/recruit operations.
func newRouter(baseCtx context.Context, st store.Store, loader *ingest.Loader, sched *recruit.Scheduler, allowedOrigins []string) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/leads/load", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				City      string `json:"city"`
				State     string `json:"state"`
				Specialty string `json:"specialty"`
				Limit     int    `json:"limit"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			if body.City == "" || body.Specialty == "" {
				writeError(w, http.StatusBadRequest, "city and specialty are required")
				return
			}
			if body.Limit <= 0 {
				body.Limit = 200
			}

			run, err := st.CreateRun(req.Context(), model.OperationLoad, body.City, body.Specialty)
			if err != nil {
				zap.L().Error("create load run failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "failed to create run")
				return
			}

			go func() {
				result, err := loader.Load(baseCtx, body.City, body.State, body.Specialty, body.Limit)
				if err != nil {
					zap.L().Error("async load failed",
						zap.String("run_id", run.ID),
						zap.Error(err),
					)
					_ = st.CompleteRun(baseCtx, run.ID, model.RunStatusFailed, nil, err.Error())
					return
				}
				_ = st.CompleteRun(baseCtx, run.ID, model.RunStatusComplete, loadResultMap(result), "")
			}()

			writeJSON(w, http.StatusAccepted, map[string]string{
				"status": "accepted",
				"run_id": run.ID,
			})
		})

		r.Post("/leads/recruit", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				City      string `json:"city"`
				State     string `json:"state"`
				Specialty string `json:"specialty"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			if body.City == "" || body.Specialty == "" {
				writeError(w, http.StatusBadRequest, "city and specialty are required")
				return
			}

			run, err := st.CreateRun(req.Context(), model.OperationRecruit, body.City, body.Specialty)
			if err != nil {
				zap.L().Error("create recruit run failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "failed to create run")
				return
			}

			go func() {
				result, err := sched.Recruit(baseCtx, body.City, body.State, body.Specialty)
				if err != nil {
					zap.L().Error("async recruit failed",
						zap.String("run_id", run.ID),
						zap.Error(err),
					)
					_ = st.CompleteRun(baseCtx, run.ID, model.RunStatusFailed, nil, err.Error())
					return
				}
				_ = st.CompleteRun(baseCtx, run.ID, model.RunStatusComplete, recruitResultMap(result), "")
			}()

			writeJSON(w, http.StatusAccepted, map[string]string{
				"status": "accepted",
				"run_id": run.ID,
			})
		})

		r.Get("/leads", func(w http.ResponseWriter, req *http.Request) {
			q := req.URL.Query()
			leads, err := st.SearchLeads(req.Context(), store.LeadFilter{
				City:      q.Get("city"),
				State:     q.Get("state"),
				EMRSystem: q.Get("emr"),
				Limit:     queryInt(q.Get("limit"), 50),
				Offset:    queryInt(q.Get("offset"), 0),
			})
			if err != nil {
				zap.L().Error("search leads failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "failed to search leads")
				return
			}
			if leads == nil {
				leads = []model.ProviderRecord{}
			}
			writeJSON(w, http.StatusOK, leads)
		})

		r.Get("/runs", func(w http.ResponseWriter, req *http.Request) {
			q := req.URL.Query()
			runs, err := st.ListRuns(req.Context(), store.RunFilter{
				Operation: model.Operation(q.Get("operation")),
				Status:    model.RunStatus(q.Get("status")),
				Limit:     queryInt(q.Get("limit"), 20),
			})
			if err != nil {
				zap.L().Error("list runs failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "failed to list runs")
				return
			}
			if runs == nil {
				runs = []model.Run{}
			}
			writeJSON(w, http.StatusOK, runs)
		})

		r.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
			stats, err := st.Stats(req.Context())
			if err != nil {
				zap.L().Error("collect stats failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "failed to collect stats")
				return
			}
			writeJSON(w, http.StatusOK, stats)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func queryInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
