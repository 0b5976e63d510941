package api

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/ledgerchat/ledgerchat/internal/log"
)

// writeJSON encodes v into a buffer before touching the response so an
// encoding failure can still become a clean 500.
func writeJSON(w http.ResponseWriter, logger log.Logger, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		logger.Error("failed to encode response", "error", err)
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, logger log.Logger, status int, msg string) {
	writeJSON(w, logger, status, errorResponse{Error: msg})
}
