package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/ledgerchat/ledgerchat/internal/graph"
	"github.com/ledgerchat/ledgerchat/internal/session"
)

// maxChatBody bounds the chat request body.
const maxChatBody = 64 << 10

type chatRequest struct {
	CompanyID   string `json:"company_id"`
	Query       string `json:"query"`
	ThreadID    string `json:"thread_id,omitempty"`
	DocumentKey string `json:"document_key,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody)).Decode(&req); err != nil {
		writeError(w, s.logger, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CompanyID == "" {
		writeError(w, s.logger, http.StatusBadRequest, "company_id is required")
		return
	}
	if req.Query == "" {
		writeError(w, s.logger, http.StatusBadRequest, "query is required")
		return
	}

	threadID := uuid.Nil
	if req.ThreadID != "" {
		id, err := uuid.Parse(req.ThreadID)
		if err != nil {
			writeError(w, s.logger, http.StatusBadRequest, "invalid thread_id")
			return
		}
		threadID = id
	}

	result, err := s.engine.Run(r.Context(), graph.Request{
		CompanyID:   req.CompanyID,
		Query:       req.Query,
		ThreadID:    threadID,
		DocumentKey: req.DocumentKey,
	})
	if err != nil {
		s.writeThreadError(w, err)
		return
	}

	writeJSON(w, s.logger, http.StatusOK, result)
}

// writeThreadError maps thread resolution failures onto HTTP statuses.
func (s *Server) writeThreadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrCompanyMismatch):
		writeError(w, s.logger, http.StatusForbidden, "thread belongs to another company")
	case errors.Is(err, session.ErrThreadNotFound):
		writeError(w, s.logger, http.StatusNotFound, "thread not found")
	default:
		s.logger.Error("chat turn failed", "error", err)
		writeError(w, s.logger, http.StatusInternalServerError, "internal server error")
	}
}
