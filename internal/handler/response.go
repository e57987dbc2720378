package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/mir00r/region-failover/internal/errors"
	"github.com/mir00r/region-failover/internal/middleware"
	"github.com/mir00r/region-failover/pkg/logger"
)

// ErrorResponse represents error responses
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      string    `json:"code"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError writes err with the status its error code maps to
func writeError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	status := errors.GetHTTPStatusCode(err)
	response := ErrorResponse{
		Error:     err.Error(),
		Code:      string(errors.GetErrorCode(err)),
		Timestamp: time.Now().UTC(),
		RequestID: middleware.RequestID(r.Context()),
	}

	entry := log.WithFields(map[string]interface{}{
		"code":       response.Code,
		"status":     status,
		"request_id": response.RequestID,
	})
	if status >= 500 {
		entry.WithError(err).Error("API error response")
	} else {
		entry.WithError(err).Warn("API error response")
	}

	writeJSON(w, status, response)
}

// resultStatus maps a cycle result onto an HTTP status
func resultStatus(code string) int {
	if code == "" {
		return http.StatusOK
	}
	return errors.NewError(errors.ErrorCode(code), "handler", "").HTTPStatusCode()
}
