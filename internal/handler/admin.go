package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/mir00r/region-failover/internal/domain"
	"github.com/mir00r/region-failover/internal/errors"
	"github.com/mir00r/region-failover/internal/middleware"
	"github.com/mir00r/region-failover/internal/ports"
	"github.com/mir00r/region-failover/pkg/logger"
)

// AdminDeps are what the admin API reads and drives
type AdminDeps struct {
	Status    ports.StatusReader
	Overrides ports.OverrideStore
	Evaluator ports.Evaluator
	Parser    ports.NotificationParser
	Reconcile ports.ReconcileTrigger // optional
	History   ports.ResultHistory    // optional
}

// AdminHandler provides the operator API
type AdminHandler struct {
	deps   AdminDeps
	logger *logger.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(deps AdminDeps, log *logger.Logger) *AdminHandler {
	return &AdminHandler{
		deps:   deps,
		logger: log.WithField("component", "admin_api"),
	}
}

// OverrideRequest is the body of PUT /v1/override
type OverrideRequest struct {
	Override string `json:"override"`
	// Reconcile runs a reconcile cycle right after storing the directive
	Reconcile bool `json:"reconcile,omitempty"`
}

// OverrideResponse reports the stored directive
type OverrideResponse struct {
	Raw      string              `json:"raw"`
	Override domain.Override     `json:"override"`
	Valid    bool                `json:"valid"`
	Cycle    *domain.CycleResult `json:"cycle,omitempty"`
}

// ReconcileResponse reports an on-demand reconcile
type ReconcileResponse struct {
	Shared bool               `json:"shared"`
	Result domain.CycleResult `json:"result"`
}

// StatusHandler handles GET /v1/status
func (h *AdminHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	status, err := h.deps.Status.Status(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// GetOverrideHandler handles GET /v1/override
func (h *AdminHandler) GetOverrideHandler(w http.ResponseWriter, r *http.Request) {
	raw, err := h.deps.Overrides.GetOverride(r.Context())
	if err != nil {
		writeError(w, r, h.logger, errors.WrapError(err, errors.ErrCodeOverrideUnavailable, "admin", "override unreadable"))
		return
	}
	override, parseErr := domain.ParseOverride(raw)
	writeJSON(w, http.StatusOK, OverrideResponse{Raw: raw, Override: override, Valid: parseErr == nil})
}

// SetOverrideHandler handles PUT /v1/override. Only well-formed directives
// are stored.
func (h *AdminHandler) SetOverrideHandler(w http.ResponseWriter, r *http.Request) {
	var req OverrideRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64*1024)).Decode(&req); err != nil {
		writeError(w, r, h.logger, errors.WrapError(err, errors.ErrCodeAmbiguousOverride, "admin", "malformed request body"))
		return
	}

	override, err := domain.ParseOverride(req.Override)
	if err != nil {
		writeError(w, r, h.logger, errors.WrapError(err, errors.ErrCodeAmbiguousOverride, "admin", "invalid override directive"))
		return
	}

	if err := h.deps.Overrides.SetOverride(r.Context(), override); err != nil {
		writeError(w, r, h.logger, errors.WrapError(err, errors.ErrCodeOverrideUnavailable, "admin", "override could not be stored"))
		return
	}

	h.logger.WithField("override", override).WithField("request_id", middleware.RequestID(r.Context())).Info("Override directive set")

	response := OverrideResponse{Raw: string(override), Override: override, Valid: true}
	if req.Reconcile && h.deps.Reconcile != nil {
		// an in-flight cycle may have read the previous directive
		result := h.deps.Reconcile.Refresh(context.WithoutCancel(r.Context()))
		response.Cycle = &result
	}
	writeJSON(w, http.StatusOK, response)
}

// ReconcileHandler handles POST /v1/reconcile
func (h *AdminHandler) ReconcileHandler(w http.ResponseWriter, r *http.Request) {
	if h.deps.Reconcile == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "reconcile is not enabled", Code: string(errors.ErrCodeInternalError)})
		return
	}
	result, shared := h.deps.Reconcile.Trigger(context.WithoutCancel(r.Context()))
	writeJSON(w, resultStatus(result.ErrorCode), ReconcileResponse{Shared: shared, Result: result})
}

// EvaluateHandler handles POST /v1/evaluate: the body is any accepted
// notification shape and the decision is returned without being applied.
func (h *AdminHandler) EvaluateHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 256*1024))
	if err != nil {
		writeError(w, r, h.logger, errors.NewInvalidNotificationError("could not read body", err))
		return
	}
	event, err := h.deps.Parser.Parse(body)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	event.Kind = domain.EventKindManual

	result := h.deps.Evaluator.Evaluate(r.Context(), event)
	writeJSON(w, resultStatus(result.ErrorCode), result)
}

// ResultsHandler handles GET /v1/results
func (h *AdminHandler) ResultsHandler(w http.ResponseWriter, r *http.Request) {
	results := []domain.CycleResult{}
	if h.deps.History != nil {
		results = append(results, h.deps.History.Recent()...)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(results),
		"results": results,
	})
}
