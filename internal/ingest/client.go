// Package ingest posts confirmed document uploads to the ingestion
// service, which chunks, embeds and indexes them.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/ledgerchat/ledgerchat/internal/log"
)

// maxResponseSize bounds the ingestion service's reply.
const maxResponseSize = 1 << 20

// Client talks to the ingestion service.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	logger  log.Logger
}

// New creates an ingestion client. token is sent as a bearer token on
// every request.
func New(baseURL, token string, logger log.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpc:   &http.Client{Timeout: 60 * time.Second},
		logger:  logger.With("component", "ingest"),
	}
}

// Request describes one document to ingest. Token, when set, is sent
// in place of the client's configured service token so the upload runs
// under the original caller's identity.
type Request struct {
	CompanyID   string
	Filename    string
	ContentType string
	DocType     string
	Metadata    map[string]string
	Data        []byte
	Token       string
}

// Upload sends the document and returns the document key assigned by
// the ingestion service.
func (c *Client) Upload(ctx context.Context, req Request) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	part, err := w.CreateFormFile("file", req.Filename)
	if err != nil {
		return "", fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := part.Write(req.Data); err != nil {
		return "", fmt.Errorf("failed to build upload: %w", err)
	}

	fields := map[string]string{
		"company_id":    req.CompanyID,
		"document_type": req.DocType,
	}
	if len(req.Metadata) > 0 {
		encoded, err := json.Marshal(req.Metadata)
		if err != nil {
			return "", fmt.Errorf("failed to encode metadata: %w", err)
		}
		fields["metadata"] = string(encoded)
	}
	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			return "", fmt.Errorf("failed to build upload: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to build upload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/documents", &body)
	if err != nil {
		return "", fmt.Errorf("failed to build upload request: %w", err)
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())
	token := req.Token
	if token == "" {
		token = c.token
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ingestion service returned status %d", resp.StatusCode)
	}

	var payload struct {
		DocumentKey string `json:"document_key"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}
	if payload.DocumentKey == "" {
		return "", fmt.Errorf("ingestion service returned no document key")
	}

	c.logger.Info("document ingested", "document_key", payload.DocumentKey, "doc_type", req.DocType)
	return payload.DocumentKey, nil
}
