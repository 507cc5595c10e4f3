package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/fundamentals/internal/gap"
	"github.com/sells-group/fundamentals/internal/model"
	"github.com/sells-group/fundamentals/internal/monitoring"
	"github.com/sells-group/fundamentals/internal/store"
)

// requestTimeout bounds a request that has to reconcile a company first.
const requestTimeout = 2 * time.Minute

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve reconciled records over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		collector := monitoring.NewCollector(env.Store)
		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
			go checker.Run(ctx)
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           buildRouter(env.Service, env.Store, cfg.Reconcile.Config, collector),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// snapshotGetter returns a cached or freshly reconciled snapshot.
type snapshotGetter interface {
	Get(ctx context.Context, symbol string, refresh bool) (*model.Snapshot, error)
}

// snapshotReader reads stored snapshots and their provenance.
type snapshotReader interface {
	GetSnapshot(ctx context.Context, id string) (*model.Snapshot, error)
	GetProvenance(ctx context.Context, snapshotID string) ([]model.FieldProvenance, error)
}

// statsCollector summarizes recent reconciliation health.
type statsCollector interface {
	Collect(ctx context.Context, lookbackHours int) (*monitoring.MetricsSnapshot, error)
}

// buildRouter mounts the read-only API. A nil stats leaves /v1/stats out.
func buildRouter(svc snapshotGetter, st snapshotReader, gaps gap.Config, stats statsCollector) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Get("/companies/{symbol}", func(w http.ResponseWriter, req *http.Request) {
			snap, ok := companySnapshot(w, req, svc)
			if !ok {
				return
			}
			respondJSON(w, http.StatusOK, snap)
		})

		r.Get("/companies/{symbol}/gaps", func(w http.ResponseWriter, req *http.Request) {
			snap, ok := companySnapshot(w, req, svc)
			if !ok {
				return
			}
			respondJSON(w, http.StatusOK, gapResponse{
				Symbol:     snap.Symbol,
				SnapshotID: snap.ID,
				Report:     gap.Analyze(snap.Record, gaps),
			})
		})

		r.Get("/snapshots/{id}", func(w http.ResponseWriter, req *http.Request) {
			snap, err := st.GetSnapshot(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				respondError(w, err)
				return
			}
			respondJSON(w, http.StatusOK, snap)
		})

		r.Get("/snapshots/{id}/provenance", func(w http.ResponseWriter, req *http.Request) {
			id := chi.URLParam(req, "id")
			if _, err := st.GetSnapshot(req.Context(), id); err != nil {
				respondError(w, err)
				return
			}
			rows, err := st.GetProvenance(req.Context(), id)
			if err != nil {
				respondError(w, err)
				return
			}
			if rows == nil {
				rows = []model.FieldProvenance{}
			}
			respondJSON(w, http.StatusOK, rows)
		})

		if stats != nil {
			r.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
				hours := 24
				if v := req.URL.Query().Get("hours"); v != "" {
					n, err := strconv.Atoi(v)
					if err != nil || n < 1 {
						respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid hours"})
						return
					}
					hours = n
				}
				snap, err := stats.Collect(req.Context(), hours)
				if err != nil {
					respondError(w, err)
					return
				}
				respondJSON(w, http.StatusOK, snap)
			})
		}
	})

	return r
}

func companySnapshot(w http.ResponseWriter, req *http.Request, svc snapshotGetter) (*model.Snapshot, bool) {
	symbol := strings.ToUpper(chi.URLParam(req, "symbol"))
	if !validSymbol(symbol) {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid symbol"})
		return nil, false
	}
	refresh, _ := strconv.ParseBool(req.URL.Query().Get("refresh"))

	snap, err := svc.Get(req.Context(), symbol, refresh)
	if err != nil {
		zap.L().Error("serve: reconcile failed", zap.String("symbol", symbol), zap.Error(err))
		respondError(w, err)
		return nil, false
	}
	return snap, true
}

// validSymbol accepts exchange tickers such as BRK.B or RDS-A.
func validSymbol(s string) bool {
	if s == "" || len(s) > 12 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '^':
		default:
			return false
		}
	}
	return true
}

func respondError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
