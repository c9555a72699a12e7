// Package controller serves the scheduler's admin HTTP API.
package controller

import (
	"context"
	"net/http"
	"time"

	"sellerpilot/internal/controller/handlers"
	"sellerpilot/internal/controller/middleware"
)

// Server is the HTTP server for the admin API.
type Server struct {
	httpServer *http.Server
}

// Deps are the services behind the admin routes.
type Deps struct {
	Store      handlers.Store
	Jobs       handlers.Jobs
	Sequences  handlers.Sequences
	AdminToken string
}

// New creates a new admin server.
func New(addr string, deps Deps) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      NewHandler(deps),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// NewHandler builds the route table.
func NewHandler(deps Deps) http.Handler {
	h := handlers.New(deps.Store, deps.Jobs, deps.Sequences)
	authMW := middleware.RequireAdminToken(deps.AdminToken)
	limitMW := middleware.NewRateLimiter().Middleware()
	admin := func(fn http.HandlerFunc) http.Handler {
		return limitMW(authMW(fn))
	}

	mux := http.NewServeMux()

	// Probes
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)

	// Operator endpoints
	mux.Handle("GET /jobs", admin(h.ListJobs))
	mux.Handle("POST /jobs/{name}/run", admin(h.RunJob))
	mux.Handle("POST /backfill", admin(h.EnqueueBackfill))
	mux.Handle("GET /backfill/{id}", admin(h.GetBackfill))
	mux.Handle("POST /sequences", admin(h.StartSequence))
	mux.Handle("GET /sequences/{id}", admin(h.GetSequence))
	mux.Handle("POST /sequences/{id}/cancel", admin(h.CancelSequence))

	return mux
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
