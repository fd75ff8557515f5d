package server

import (
	"chat-relay/errors"
	"encoding/json"
	"log/slog"
	"net/http"
)

type errorResponse struct {
	Error   errors.Reason `json:"error"`
	Message string        `json:"message"`
	Cause   string        `json:"cause,omitempty"`
}

// writeJSON marshals v in one piece so the body is exactly json.Marshal(v).
func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"Internal"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// writeError reports a rejection. Dependency causes are only exposed on 5xx.
func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	status := errors.MapToHTTPStatus(err)
	response := errorResponse{
		Error:   errors.ReasonCode(err),
		Message: err.Error(),
	}
	if status >= http.StatusInternalServerError {
		if cause := errors.Cause(err); cause != nil {
			response.Cause = cause.Error()
		}
		log.Error("Request failed", "reason", response.Error, "error", err)
	}
	writeJSON(w, status, response)
}
