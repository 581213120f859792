// Package httpapi exposes the orchestration facade over HTTP: a thin
// go-chi router wrapping create/get/list/retry/cancel/stats, per
// spec.md §4.I (the routing surface itself is out of scope, so this
// stays a minimal REST shim over the facade rather than a framework).
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	orcerrors "github.com/dotmac/ispsaga/infrastructure/errors"
	"github.com/dotmac/ispsaga/infrastructure/logging"
	"github.com/dotmac/ispsaga/orchestration/facade"
)

// Server wires the facade into a chi router.
type Server struct {
	Facade *facade.Facade
	Log    *logging.Logger
	router chi.Router
}

// NewServer builds a Server with its routes registered.
func NewServer(f *facade.Facade, log *logging.Logger, health http.Handler) *Server {
	s := &Server{Facade: f, Log: log}
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", health.ServeHTTP)

	r.Route("/api/v1/workflows", func(r chi.Router) {
		r.Post("/", s.handleCreateWorkflow)
		r.Get("/", s.handleListWorkflows)
		r.Get("/stats", s.handleStatistics)
		r.Get("/{id}", s.handleGetWorkflow)
		r.Get("/{id}/output/{path}", s.handleGetWorkflowOutputField)
		r.Post("/{id}/retry", s.handleRetryWorkflow)
		r.Post("/{id}/cancel", s.handleCancelWorkflow)
	})

	s.router = r
	return s
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	svcErr := orcerrors.GetServiceError(err)
	if svcErr == nil {
		svcErr = orcerrors.Internal("unexpected error", err)
	}
	if s.Log != nil {
		s.Log.WithField("code", svcErr.Code).WithField("error", svcErr.Error()).Warn("request failed")
	}
	writeJSON(w, svcErr.HTTPStatus, svcErr)
}
