package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fairledger/ledger-cli/internal/model"
	"github.com/fairledger/ledger-cli/internal/review"
	"github.com/fairledger/ledger-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the intake and review webhook server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))

		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Post("/webhook/documents", handleIngest(ctx, env))
		r.Get("/instances/{id}", handleGetInstance(env))
		r.Post("/reviews/{id}/resolution", handleResolution(env))

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleIngest accepts a document reference and runs it through the
// pipeline asynchronously; the caller polls the instance for the outcome.
// Processing runs on the server context so it outlives the request.
func handleIngest(ctx context.Context, env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			PayloadRef string `json:"payload_ref"`
			TypeHint   string `json:"type_hint"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.PayloadRef == "" {
			writeError(w, http.StatusBadRequest, "payload_ref is required")
			return
		}

		doc := model.Document{
			ID:         uuid.NewString(),
			PayloadRef: req.PayloadRef,
			TypeHint:   model.DocType(req.TypeHint),
			ReceivedAt: time.Now().UTC(),
		}

		go func() {
			inst, err := env.Engine.Ingest(ctx, doc)
			if err != nil {
				zap.L().Error("webhook ingest failed",
					zap.String("payload_ref", doc.PayloadRef),
					zap.Error(err),
				)
				return
			}
			zap.L().Info("webhook ingest complete",
				zap.String("instance_id", inst.ID),
				zap.String("state", string(inst.State)),
			)
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":      "accepted",
			"instance_id": doc.ID,
		})
	}
}

func handleGetInstance(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		inst, err := env.Store.GetInstance(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			if eris.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "instance not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "load instance failed")
			return
		}
		writeJSON(w, http.StatusOK, inst)
	}
}

// handleResolution applies a reviewer decision to a pending request.
// Duplicate submissions get 409 with the standing resolution untouched.
func handleResolution(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var res model.Resolution
		if err := json.NewDecoder(r.Body).Decode(&res); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		inst, err := env.Engine.Resolve(r.Context(), chi.URLParam(r, "id"), res)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, map[string]string{
				"instance_id": inst.ID,
				"state":       string(inst.State),
			})
		case eris.Is(err, review.ErrUnknownRequest):
			writeError(w, http.StatusNotFound, "unknown review request")
		case eris.Is(err, review.ErrAlreadyResolved):
			writeError(w, http.StatusConflict, "request already resolved")
		default:
			zap.L().Error("resolution failed",
				zap.String("request_id", chi.URLParam(r, "id")),
				zap.Error(err),
			)
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		}
	}
}
