package api

import (
	"io"
	"net/http"

	"github.com/google/uuid"
)

// maxUploadSize caps document uploads at 20MB.
const maxUploadSize = 20 << 20

type uploadResponse struct {
	ThreadID uuid.UUID `json:"thread_id"`
	Message  string    `json:"message"`
}

// handleDocumentUpload receives a document, classifies its type and
// asks the user to confirm. Ingestion happens on the confirmation
// turn, not here.
func (s *Server) handleDocumentUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, s.logger, http.StatusBadRequest, "invalid multipart body or file too large")
		return
	}

	companyID := r.FormValue("company_id")
	if companyID == "" {
		writeError(w, s.logger, http.StatusBadRequest, "company_id is required")
		return
	}

	threadID := uuid.Nil
	if raw := r.FormValue("thread_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, s.logger, http.StatusBadRequest, "invalid thread_id")
			return
		}
		threadID = id
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, s.logger, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, s.logger, http.StatusBadRequest, "failed to read file")
		return
	}

	thread, _, err := s.threads.GetOrCreate(r.Context(), threadID, companyID)
	if err != nil {
		s.writeThreadError(w, err)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	message, err := s.classifier.ClassifyUpload(r.Context(), thread.ID, bearerToken(r), header.Filename, contentType, data)
	if err != nil {
		s.logger.Error("classification failed", "error", err, "filename", header.Filename)
		writeError(w, s.logger, http.StatusInternalServerError, "failed to process document")
		return
	}

	writeJSON(w, s.logger, http.StatusOK, uploadResponse{ThreadID: thread.ID, Message: message})
}
