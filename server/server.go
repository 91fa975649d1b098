// Package server exposes the engine's admin surface: health, per-source
// status, and prometheus metrics for an external collector.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tgk/sluice/engine"
	"github.com/tgk/sluice/internal/logger"
	"github.com/tgk/sluice/internal/metrics"
)

// Handler builds the admin router.
func Handler(eng *engine.Engine, m *metrics.Metrics) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(middleware.Heartbeat("/health"))

	router.Get("/status", statusHandler(eng))
	router.Method(http.MethodGet, "/metrics",
		promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))

	return router
}

type statusResponse struct {
	State   string                `json:"state"`
	Sources []engine.SourceReport `json:"sources"`
}

func statusHandler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		resp := statusResponse{
			State:   eng.State().String(),
			Sources: eng.Report(),
		}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// Run serves the admin surface until ctx is canceled.
func Run(ctx context.Context, addr string, handler http.Handler) error {
	log := logger.GetLogger("server")
	srv := &http.Server{Addr: addr, Handler: handler}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("admin server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
