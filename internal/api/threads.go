package api

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/ledgerchat/ledgerchat/internal/session"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	companyID := r.URL.Query().Get("company_id")
	if companyID == "" {
		writeError(w, s.logger, http.StatusBadRequest, "company_id is required")
		return
	}
	limit, offset := pagination(r)

	threads, err := s.threads.List(r.Context(), companyID, limit, offset)
	if err != nil {
		s.logger.Error("failed to list threads", "error", err)
		writeError(w, s.logger, http.StatusInternalServerError, "internal server error")
		return
	}
	if threads == nil {
		threads = []*session.Thread{}
	}
	writeJSON(w, s.logger, http.StatusOK, threads)
}

func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	threadID, companyID, ok := s.threadScope(w, r)
	if !ok {
		return
	}

	thread, err := s.authorizedThread(r, threadID, companyID)
	if err != nil {
		s.writeThreadError(w, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, thread)
}

func (s *Server) handleThreadMessages(w http.ResponseWriter, r *http.Request) {
	threadID, companyID, ok := s.threadScope(w, r)
	if !ok {
		return
	}
	if _, err := s.authorizedThread(r, threadID, companyID); err != nil {
		s.writeThreadError(w, err)
		return
	}

	limit, offset := pagination(r)
	messages, err := s.threads.Messages(r.Context(), threadID, limit, offset)
	if err != nil {
		s.logger.Error("failed to load messages", "error", err)
		writeError(w, s.logger, http.StatusInternalServerError, "internal server error")
		return
	}
	if messages == nil {
		messages = []session.Message{}
	}
	writeJSON(w, s.logger, http.StatusOK, messages)
}

func (s *Server) handleDeleteThread(w http.ResponseWriter, r *http.Request) {
	threadID, companyID, ok := s.threadScope(w, r)
	if !ok {
		return
	}
	if _, err := s.authorizedThread(r, threadID, companyID); err != nil {
		s.writeThreadError(w, err)
		return
	}

	if err := s.threads.Delete(r.Context(), threadID); err != nil {
		s.writeThreadError(w, err)
		return
	}
	s.cache.Delete(threadID)
	w.WriteHeader(http.StatusNoContent)
}

// threadScope extracts and validates the thread ID path segment and
// the company_id query parameter.
func (s *Server) threadScope(w http.ResponseWriter, r *http.Request) (uuid.UUID, string, bool) {
	threadID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, s.logger, http.StatusBadRequest, "invalid thread id")
		return uuid.Nil, "", false
	}
	companyID := r.URL.Query().Get("company_id")
	if companyID == "" {
		writeError(w, s.logger, http.StatusBadRequest, "company_id is required")
		return uuid.Nil, "", false
	}
	return threadID, companyID, true
}

// authorizedThread loads the thread and enforces company ownership.
func (s *Server) authorizedThread(r *http.Request, threadID uuid.UUID, companyID string) (*session.Thread, error) {
	thread, err := s.threads.Get(r.Context(), threadID)
	if err != nil {
		return nil, err
	}
	if thread.CompanyID != companyID {
		return nil, session.ErrCompanyMismatch
	}
	return thread, nil
}

func pagination(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= maxPageSize {
			limit = n
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
