// Package http exposes the orchestration layer as a small JSON API for the
// browser UI.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"finadvisor/internal/advisory"
	"finadvisor/internal/auth"
	"finadvisor/internal/core"
	"finadvisor/internal/dashboard"
	"finadvisor/internal/log"
	"finadvisor/internal/middleware/trace"
	"finadvisor/internal/mutation"
)

// SessionReader reports the current authentication state.
type SessionReader interface {
	IsAuthenticated() bool
}

// Services are the components the facade drives.
type Services struct {
	Auth      *auth.Service
	Sessions  SessionReader
	Advisory  *advisory.Orchestrator
	Dashboard *dashboard.Aggregator
	Budgets   *mutation.Submitter[core.BudgetForm]
	Goals     *mutation.Submitter[core.GoalForm]
}

type Server struct {
	http.Server
	svc    Services
	logger *log.Logger
	tracer *trace.Middleware
}

// NewServer builds the router and wires logout resets between components.
func NewServer(addr string, svc Services, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Discard()
	}
	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			// Advice calls may take up to a minute upstream.
			WriteTimeout:   90 * time.Second,
			IdleTimeout:    60 * time.Second,
			MaxHeaderBytes: 1 << 16,
		},
		svc:    svc,
		logger: logger.WithComponent(log.ComponentHTTP),
		tracer: trace.NewMiddleware(extractClientIP, logger),
	}

	resetViews := func(context.Context) {
		svc.Advisory.Reset()
		svc.Dashboard.Reset()
	}
	svc.Auth.OnLogout(resetViews)
	svc.Dashboard.OnLogout(func(context.Context) { svc.Advisory.Reset() })

	s.Handler = s.routes(logger)
	return s
}

func (s *Server) routes(logger *log.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(s.tracer.Middleware)
	r.Use(log.Middleware(logger))
	r.Use(log.RequestIDMiddleware(trace.FromRequest))
	r.Use(securityHeaders)

	r.Get("/healthz", handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/register", s.handleRegister)
		r.Post("/logout", s.handleLogout)
		r.Get("/session", s.handleSession)
		r.Get("/metrics", s.handleMetrics)

		r.Get("/dashboard", s.handleDashboard)

		r.Route("/advisory", func(r chi.Router) {
			r.Get("/", s.handleAdvisory)
			r.Get("/{kind}", s.handleAdvisoryKind)
			r.Post("/ask", s.handleAsk)
			r.Get("/fallback/{op}", s.handleFallback)
		})

		r.Post("/budgets", s.handleCreateBudget)
		r.Post("/goals", s.handleCreateGoal)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// Metrics returns the request counters collected by the trace middleware.
func (s *Server) Metrics() trace.Metrics {
	return s.tracer.GetMetrics()
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Metrics())
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
