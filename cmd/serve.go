package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/rulesmith/internal/model"
	"github.com/sells-group/rulesmith/internal/registry"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for processing and review",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(env),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func newRouter(env *appEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/process", handleProcess(env))

	r.Route("/reviews", func(r chi.Router) {
		r.Get("/", handleListReviews(env))
		r.Get("/{id}", handleGetReview(env))
		r.Post("/{id}/approve", handleApprove(env))
	})

	r.Route("/rules", func(r chi.Router) {
		r.Get("/", handleListRules(env))
		r.Get("/{sourceID}", handleGetRule(env))
	})

	return r
}

func handleProcess(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			SourceID string `json:"source_id"`
			URL      string `json:"url"`
			Document string `json:"document"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.SourceID == "" {
			writeError(w, http.StatusBadRequest, "source_id is required")
			return
		}

		document := req.Document
		if document == "" {
			if req.URL == "" {
				writeError(w, http.StatusBadRequest, "url or document is required")
				return
			}
			var err error
			document, err = env.Fetcher.Fetch(r.Context(), req.SourceID, req.URL)
			if err != nil {
				zap.L().Error("fetch failed", zap.String("source", req.SourceID), zap.Error(err))
				writeError(w, http.StatusBadGateway, "document fetch failed")
				return
			}
		}

		result, err := env.Orchestrator.Process(r.Context(), req.SourceID, document)
		if err != nil {
			zap.L().Error("processing failed", zap.String("source", req.SourceID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "processing failed")
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func handleListReviews(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if q := r.URL.Query().Get("limit"); q != "" {
			if n, err := strconv.Atoi(q); err == nil && n > 0 {
				limit = n
			}
		}
		recs, err := env.Ledger.PendingReviews(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "list reviews failed")
			return
		}
		writeJSON(w, http.StatusOK, recs)
	}
}

func handleGetReview(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := env.Ledger.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusNotFound, "review not found")
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

// handleApprove is the operator write path: it takes locators (typically the
// escalated proposal's, possibly hand-edited) and installs them as a manual
// rule for the record's source.
func handleApprove(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := env.Ledger.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusNotFound, "review not found")
			return
		}

		var req struct {
			Locators map[model.Field]string `json:"locators"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if len(req.Locators) == 0 {
			writeError(w, http.StatusBadRequest, "locators are required")
			return
		}

		rule := &model.ExtractionRule{
			SourceID:   rec.SourceID,
			Locators:   req.Locators,
			SourceType: model.SourceTypeManual,
			UpdatedAt:  time.Now().UTC(),
		}
		if err := approveRule(r.Context(), env.Registry, rule); err != nil {
			zap.L().Error("approve failed", zap.String("source", rec.SourceID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "approve failed")
			return
		}

		zap.L().Info("review approved",
			zap.String("decision", rec.ID),
			zap.String("source", rec.SourceID),
		)
		writeJSON(w, http.StatusOK, rule)
	}
}

func approveRule(ctx context.Context, reg *registry.Registry, rule *model.ExtractionRule) error {
	unlock := reg.Lock(rule.SourceID)
	defer unlock()
	if err := reg.Upsert(ctx, rule); err != nil {
		return err
	}
	return reg.ResetCounters(ctx, rule.SourceID)
}

func handleListRules(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rules, err := env.Registry.List(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "list rules failed")
			return
		}
		writeJSON(w, http.StatusOK, rules)
	}
}

func handleGetRule(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rule, found, err := env.Registry.Get(r.Context(), chi.URLParam(r, "sourceID"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "get rule failed")
			return
		}
		if !found {
			writeError(w, http.StatusNotFound, "rule not found")
			return
		}
		writeJSON(w, http.StatusOK, rule)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
