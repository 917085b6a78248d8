package web

// errors.go turns service errors into JSON responses.
//
// Every error response has the same shape: a user-facing message and
// action from core.MapError, a stable code, and whatever structured detail
// the core error carries (field errors, deletion impact, duplicate
// subjects, batch item failures). The technical error is logged with the
// request ID and never sent to the client.

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/immunoload/internal/core"
	"github.com/JonMunkholm/immunoload/internal/logging"
	"github.com/go-chi/chi/v5/middleware"
)

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	Error     string            `json:"error"`
	Message   string            `json:"message"`
	Action    string            `json:"action,omitempty"`
	Code      string            `json:"code"`
	Kind      core.ErrorKind    `json:"kind,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	Fields    []core.FieldError `json:"fields,omitempty"`
	Items     []core.ItemError  `json:"items,omitempty"`
	Impact    *core.Impact      `json:"impact,omitempty"`
	Batch     *core.BatchImpact `json:"batch_impact,omitempty"`
	Existing  *core.Subject     `json:"existing_subject,omitempty"`
	Similar   []core.Subject    `json:"similar_subjects,omitempty"`

	// RequiresConfirmation is set when the request may be retried with force=true.
	RequiresConfirmation bool `json:"requires_confirmation,omitempty"`
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrTooManyRuns):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}

	switch core.KindOf(err) {
	case core.ErrValidation:
		return http.StatusBadRequest
	case core.ErrNotFound:
		return http.StatusNotFound
	case core.ErrConflict, core.ErrIntegrity:
		return http.StatusConflict
	case core.ErrStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes its JSON representation.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := core.MapError(err)
	requestID := middleware.GetReqID(r.Context())

	level := slog.LevelWarn
	if status >= 500 {
		level = slog.LevelError
	}
	logging.FromContext(r.Context()).Log(r.Context(), level, "request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	)

	resp := ErrorResponse{
		Error:     msg.Message,
		Message:   msg.Message,
		Action:    msg.Action,
		Code:      msg.Code,
		RequestID: requestID,
	}

	var ce *core.Error
	if errors.As(err, &ce) {
		resp.Kind = ce.Kind
		// Domain messages are safe to show; wrapped driver errors are not.
		if ce.Kind == core.ErrValidation || ce.Kind == core.ErrNotFound || ce.Kind == core.ErrConflict {
			resp.Error = ce.Message
		}
		resp.Fields = ce.Fields
		resp.Items = ce.Items
		resp.Impact = ce.Impact
		resp.Batch = ce.Batch
		resp.RequiresConfirmation = ce.Impact != nil || ce.Batch != nil
		resp.Existing = ce.Existing
		resp.Similar = ce.Similar
	}

	if errors.Is(err, core.ErrTooManyRuns) {
		w.Header().Set("Retry-After", "30")
	}
	writeJSON(w, status, resp)
}

// badRequest reports a malformed request that never reached the service.
func badRequest(w http.ResponseWriter, r *http.Request, message string) {
	respondError(w, r, core.NewValidationError(message))
}

// writeJSON encodes v with the given status. Encoding errors are logged
// since the header is already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
