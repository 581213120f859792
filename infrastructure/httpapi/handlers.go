package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dotmac/ispsaga/domain/workflow"
	orcerrors "github.com/dotmac/ispsaga/infrastructure/errors"
	"github.com/dotmac/ispsaga/pkg/storage"
)

// maxListLimit caps the page size a caller can request via ?limit=.
const maxListLimit = 200

type createWorkflowRequest struct {
	Kind          workflow.Kind          `json:"kind"`
	TenantID      string                 `json:"tenant_id"`
	InitiatorID   string                 `json:"initiator_id"`
	InitiatorKind workflow.InitiatorKind `json:"initiator_kind"`
	Input         map[string]any         `json:"input"`
}

func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req createWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, orcerrors.InvalidFormat("body", "json"))
		return
	}
	wf, err := s.Facade.CreateWorkflow(r.Context(), req.Kind, req.TenantID, req.InitiatorID, req.InitiatorKind, req.Input)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wf)
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	wf, err := s.Facade.GetWorkflow(r.Context(), id)
	if err != nil {
		s.writeError(w, orcerrors.NotFound("workflow", id))
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleGetWorkflowOutputField(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	path := chi.URLParam(r, "path")
	value, exists, err := s.Facade.GetWorkflowOutputField(r.Context(), id, path)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": path, "value": value, "exists": exists})
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := workflow.ListFilter{
		TenantID: q.Get("tenant_id"),
		Status:   workflow.Status(q.Get("status")),
		Kind:     workflow.Kind(q.Get("kind")),
	}
	page := storage.DefaultPagination()
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		page.Limit = limit
	}
	if offset, err := strconv.Atoi(q.Get("offset")); err == nil {
		page.Offset = offset
	}
	page = page.Normalize(maxListLimit)
	filter.Limit = page.Limit
	filter.Offset = page.Offset

	workflows, total, err := s.Facade.ListWorkflows(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, storage.NewListResult(workflows, total, page.Limit, page.Offset))
}

func (s *Server) handleRetryWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	wf, err := s.Facade.RetryWorkflow(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleCancelWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	wf, err := s.Facade.CancelWorkflow(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	stats, err := s.Facade.GetWorkflowStatistics(r.Context(), tenantID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
