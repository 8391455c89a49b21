package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/cliniscribe/dxgraph/internal/apptype"
	"github.com/cliniscribe/dxgraph/internal/buildinfo"
	"github.com/cliniscribe/dxgraph/internal/clinic"
	"github.com/cliniscribe/dxgraph/internal/export"
	"github.com/cliniscribe/dxgraph/internal/store"
)

// workspaceHeader selects the workspace a request operates in. Absent or
// empty means the default workspace.
const workspaceHeader = "X-Workspace"

type errorResponse struct {
	Error string `json:"error"`
}

type createCaseRequest struct {
	Title          string `json:"title" validate:"max=300"`
	CurrentSymptom string `json:"currentSymptom" validate:"max=500"`
}

type exclusionRequest struct {
	Name     string `json:"name" validate:"required,max=200"`
	Excluded bool   `json:"excluded"`
}

type priorityRequest struct {
	Name string `json:"name" validate:"max=200"`
}

type exportRequest struct {
	Provider string `json:"provider,omitempty"`
}

func workspace(r *http.Request) string {
	return r.Header.Get(workspaceHeader)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Error: msg})
}

// respondServiceError translates a clinic error into an HTTP status.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrCaseNotFound), errors.Is(err, store.ErrDiagnosisNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrInvalidReasoning):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, clinic.ErrExportDisabled):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, export.ErrTimeout):
		respondError(w, http.StatusGatewayTimeout, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// decodeBody decodes and validates a JSON request body into v.
func (rt *Router) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
		return false
	}
	if err := rt.validate.Struct(v); err != nil {
		respondError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

// validationMessage flattens a validator error into a single line.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("field %s failed %s validation", fe.Field(), fe.Tag())
	}
	return err.Error()
}

func queryInt(r *http.Request, key string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return v
}

func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": buildinfo.Version,
	})
}

func (rt *Router) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := rt.svc.Ping(r.Context(), workspace(r)); err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (rt *Router) handleCreateCase(w http.ResponseWriter, r *http.Request) {
	var req createCaseRequest
	if !rt.decodeBody(w, r, &req) {
		return
	}

	c, err := rt.svc.CreateCase(r.Context(), workspace(r), req.Title, req.CurrentSymptom)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, apptype.SummaryFromCase(*c))
}

func (rt *Router) handleListCases(w http.ResponseWriter, r *http.Request) {
	ws := workspace(r)
	limit := queryInt(r, "limit")
	offset := queryInt(r, "offset")

	var (
		cases []store.Case
		err   error
	)
	if q := r.URL.Query().Get("q"); q != "" {
		cases, err = rt.svc.SearchCases(r.Context(), ws, q, limit)
	} else {
		cases, err = rt.svc.ListCases(r.Context(), ws, limit, offset)
	}
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, apptype.ListCasesResult{Cases: apptype.SummariesFromCases(cases)})
}

func (rt *Router) handleGetCase(w http.ResponseWriter, r *http.Request) {
	rec, err := rt.svc.GetCase(r.Context(), workspace(r), chi.URLParam(r, "caseID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, apptype.DetailFromRecord(rec))
}

func (rt *Router) handleDeleteCase(w http.ResponseWriter, r *http.Request) {
	if err := rt.svc.DeleteCase(r.Context(), workspace(r), chi.URLParam(r, "caseID")); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) handleUpdateReasoning(w http.ResponseWriter, r *http.Request) {
	var payload apptype.ReasoningPayload
	if !rt.decodeBody(w, r, &payload) {
		return
	}

	snap, err := rt.svc.UpdateReasoning(r.Context(), workspace(r), chi.URLParam(r, "caseID"), payload.ToReasoning())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (rt *Router) handleSetExclusion(w http.ResponseWriter, r *http.Request) {
	var req exclusionRequest
	if !rt.decodeBody(w, r, &req) {
		return
	}

	snap, err := rt.svc.SetExcluded(r.Context(), workspace(r), chi.URLParam(r, "caseID"), req.Name, req.Excluded)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (rt *Router) handleSetPriority(w http.ResponseWriter, r *http.Request) {
	var req priorityRequest
	if !rt.decodeBody(w, r, &req) {
		return
	}

	snap, err := rt.svc.SetPrioritized(r.Context(), workspace(r), chi.URLParam(r, "caseID"), req.Name)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (rt *Router) handleGetGraph(w http.ResponseWriter, r *http.Request) {
	snap, err := rt.svc.Graph(r.Context(), workspace(r), chi.URLParam(r, "caseID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (rt *Router) handleGetCompletion(w http.ResponseWriter, r *http.Request) {
	report, err := rt.svc.Completion(r.Context(), workspace(r), chi.URLParam(r, "caseID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (rt *Router) handleExport(w http.ResponseWriter, r *http.Request) {
	// Body is optional: {provider} may pin the expected provider.
	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
		return
	}
	if req.Provider != "" && req.Provider != rt.svc.ExporterName() {
		respondError(w, http.StatusBadRequest,
			fmt.Sprintf("provider %q is not configured", req.Provider))
		return
	}

	receipt, err := rt.svc.ExportReport(r.Context(), workspace(r), chi.URLParam(r, "caseID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, receipt)
}
