// Package hub contains the HTTP server for the hub API.
package hub

import (
	"context"
	"net/http"
	"time"

	"github.com/SomBagchi/bioreactor-website/internal/hub/handlers"
	"github.com/SomBagchi/bioreactor-website/internal/hub/middleware"
)

// Server is the HTTP server for the hub API.
type Server struct {
	httpServer *http.Server
}

// New creates a new hub server.
func New(addr string, orch handlers.Orchestrator, submitRate float64, submitBurst int, metricsHandler http.Handler) *Server {
	h := handlers.New(orch)
	rateLimited := middleware.RateLimit(submitRate, submitBurst)

	mux := http.NewServeMux()

	// Public apis
	mux.Handle("POST /api/experiments", rateLimited(http.HandlerFunc(h.SubmitExperiment)))
	mux.HandleFunc("GET /api/experiments/{id}", h.GetExperiment)
	mux.HandleFunc("POST /api/experiments/{id}/cancel", h.CancelExperiment)
	mux.HandleFunc("DELETE /api/experiments/{id}", h.DeleteExperiment)
	mux.HandleFunc("GET /api/experiments/{id}/results", h.GetResults)
	mux.HandleFunc("GET /api/experiments/{id}/results/bundle", h.DownloadBundle)
	mux.HandleFunc("GET /healthz", h.Healthz)

	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	// Internal endpoints
	// These are called from inside experiment containers; the container
	// network can reach only this endpoint.
	mux.HandleFunc("POST /internal/experiments/{id}/hardware", h.SubmitHardwareCommand)

	return &Server{
		httpServer: &http.Server{
			Addr:        addr,
			Handler:     mux,
			ReadTimeout: 10 * time.Second,
			// No write timeout: hardware command calls legitimately
			// block for the relay submit window.
		},
	}
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
