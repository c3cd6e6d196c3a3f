// Package web holds the JSON envelope helpers shared by all handlers.
package web

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"grndock/infrastructure/fault"
)

// RespondJSON writes v with the given status.
func RespondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response failed", slog.Any("err", err))
	}
}

// RespondError writes the standard failure envelope, mapping the fault
// kind to a status code.
func RespondError(w http.ResponseWriter, err error) {
	status := fault.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", slog.Any("err", err))
	}
	RespondJSON(w, status, map[string]any{
		"success": false,
		"error":   err.Error(),
		"kind":    fault.KindOf(err).String(),
	})
}
