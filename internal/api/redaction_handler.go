package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/redaction-api/internal/api/middleware"
	"github.com/phrazzld/redaction-api/internal/api/shared"
	"github.com/phrazzld/redaction-api/internal/domain"
	"github.com/phrazzld/redaction-api/internal/platform/logger"
	"github.com/phrazzld/redaction-api/internal/service"
)

// RedactionHandler handles redaction submission and status requests.
type RedactionHandler struct {
	redactions service.RedactionService
}

// NewRedactionHandler creates a new RedactionHandler.
func NewRedactionHandler(redactions service.RedactionService) *RedactionHandler {
	return &RedactionHandler{redactions: redactions}
}

// Create accepts a redaction request. Results are delivered through the
// callback URLs or the status endpoint, so the response only lists the
// queued documents.
func (h *RedactionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.RedactionRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	results, err := h.redactions.Submit(r.Context(), req)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to submit redaction request")
		return
	}

	if p, ok := middleware.GetPrincipal(r); ok {
		logger.FromContext(r.Context()).Info("redaction request accepted",
			"client_id", p.ClientID,
			"jurisdiction_id", req.JurisdictionID,
			"case_id", req.CaseID,
			"documents", len(results))
	}
	shared.RespondWithJSON(w, r, http.StatusAccepted, results)
}

// Status reports the redaction state of every document of a case.
func (h *RedactionHandler) Status(w http.ResponseWriter, r *http.Request) {
	jurisdictionID := chi.URLParam(r, "jurisdictionId")
	caseID := chi.URLParam(r, "caseId")
	if jurisdictionID == "" || caseID == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Jurisdiction and case are required")
		return
	}

	status, err := h.redactions.Status(r.Context(), jurisdictionID, caseID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get redaction status")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, status)
}

// NotImplemented answers routes that exist in the API surface but have no
// behaviour in this deployment.
func NotImplemented(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithError(w, r, http.StatusNotImplemented, "Not implemented")
}
