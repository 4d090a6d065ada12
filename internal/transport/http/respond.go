package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/nadzzz/face2voice/internal/message"
)

// writeError maps err to its status code and writes the JSON error body.
// Unclassified errors are reported as 500.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	kind := message.KindOf(err)
	status := http.StatusInternalServerError
	if kind != "" {
		status = kind.Status()
	}

	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "kind", kind, "error", err)
	} else {
		logger.Info("request rejected", "kind", kind, "error", err)
	}

	writeJSON(w, status, message.ErrorResponse{Detail: err.Error(), Kind: kind})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
