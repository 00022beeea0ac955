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
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Ghostmonday/formmonkeyplatform/internal/model"
	"github.com/Ghostmonday/formmonkeyplatform/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP prediction and correction API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		// Background learning analysis for deferred-tier corrections.
		go env.Analyzer.Run(ctx)

		r := buildRouter(env)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
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

// buildRouter assembles the HTTP API over an initialized engine.
func buildRouter(env *engineEnv) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		backlog, _ := env.Queue.Len(req.Context())
		breakers := make(map[string]string)
		for name, state := range env.Breakers.States() {
			breakers[name] = state.String()
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"governor":      env.Governor.Stats(),
			"breakers":      breakers,
			"batch_pending": env.Batcher.Pending(),
			"learn_backlog": backlog,
			"backends":      env.Chain.Backends(),
		})
	})

	r.Post("/predict", func(w http.ResponseWriter, req *http.Request) {
		var pr model.PredictionRequest
		if err := json.NewDecoder(req.Body).Decode(&pr); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if pr.Text == "" {
			writeError(w, http.StatusBadRequest, "text is required")
			return
		}

		outcome, err := env.Chain.Predict(req.Context(), pr)
		if err != nil {
			zap.L().Error("prediction failed",
				zap.String("document_id", pr.DocumentID),
				zap.Error(err),
			)
			writeError(w, http.StatusBadGateway, "prediction failed")
			return
		}
		writeJSON(w, http.StatusOK, outcome)
	})

	r.Post("/corrections", func(w http.ResponseWriter, req *http.Request) {
		var c model.Correction
		if err := json.NewDecoder(req.Body).Decode(&c); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if c.FieldID == "" {
			writeError(w, http.StatusBadRequest, "field_id is required")
			return
		}

		result, err := env.Service.Submit(req.Context(), c)
		if err != nil {
			zap.L().Error("correction submit failed",
				zap.String("field_id", c.FieldID),
				zap.Error(err),
			)
			writeError(w, http.StatusInternalServerError, "correction failed")
			return
		}
		writeJSON(w, correctionStatusCode(result), result)
	})

	r.Route("/fields/{fieldID}", func(r chi.Router) {
		r.Get("/history", func(w http.ResponseWriter, req *http.Request) {
			fieldID := chi.URLParam(req, "fieldID")
			limit := 100
			if raw := req.URL.Query().Get("limit"); raw != "" {
				fmt.Sscanf(raw, "%d", &limit)
			}
			versions, err := env.Store.History(req.Context(), fieldID, limit)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "history lookup failed")
				return
			}
			writeJSON(w, http.StatusOK, versions)
		})

		r.Post("/rollback", func(w http.ResponseWriter, req *http.Request) {
			fieldID := chi.URLParam(req, "fieldID")
			var body struct {
				ToVersionID int64  `json:"to_version_id"`
				ActorID     string `json:"actor_id"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}

			v, err := env.Service.Rollback(req.Context(), fieldID, body.ToVersionID, body.ActorID)
			if err != nil {
				if eris.Is(err, store.ErrUnknownField) {
					writeError(w, http.StatusNotFound, "field has no history")
					return
				}
				if eris.Is(err, store.ErrVersionNotFound) {
					writeError(w, http.StatusNotFound, "version not found")
					return
				}
				writeError(w, http.StatusInternalServerError, "rollback failed")
				return
			}
			writeJSON(w, http.StatusOK, v)
		})
	})

	return r
}

// correctionStatusCode maps a correction outcome to an HTTP status:
// rejected validation is 422, an unresolved manual conflict is 409,
// anything accepted is 200.
func correctionStatusCode(result *model.CorrectionResult) int {
	switch {
	case result.Status == model.CorrectionRejected:
		return http.StatusUnprocessableEntity
	case result.Status == model.CorrectionUnresolved:
		return http.StatusConflict
	default:
		return http.StatusOK
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
