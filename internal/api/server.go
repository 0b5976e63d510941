// Package api exposes the chat platform over HTTP: the chat endpoint,
// document uploads, thread management and health probes.
package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/ledgerchat/ledgerchat/internal/graph"
	"github.com/ledgerchat/ledgerchat/internal/log"
	"github.com/ledgerchat/ledgerchat/internal/session"
)

// ChatRunner executes one chat turn; *graph.Engine satisfies it.
type ChatRunner interface {
	Run(ctx context.Context, req graph.Request) (*graph.Result, error)
}

// UploadClassifier starts the upload confirmation flow;
// *classifier.Agent satisfies it. token is the caller's bearer token,
// forwarded to the ingestion service on the confirmation turn.
type UploadClassifier interface {
	ClassifyUpload(ctx context.Context, threadID uuid.UUID, token, filename, contentType string, data []byte) (string, error)
}

// ThreadDirectory is the thread persistence surface; *session.Store
// satisfies it.
type ThreadDirectory interface {
	GetOrCreate(ctx context.Context, threadID uuid.UUID, companyID string) (*session.Thread, bool, error)
	Get(ctx context.Context, threadID uuid.UUID) (*session.Thread, error)
	List(ctx context.Context, companyID string, limit, offset int) ([]*session.Thread, error)
	Delete(ctx context.Context, threadID uuid.UUID) error
	Messages(ctx context.Context, threadID uuid.UUID, limit, offset int) ([]session.Message, error)
}

// Pinger reports database reachability; *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config carries the server's request-handling knobs.
type Config struct {
	CORSOrigins []string
	TrustProxy  bool
	RateBurst   int
}

// Server is the HTTP surface of the platform.
type Server struct {
	engine     ChatRunner
	classifier UploadClassifier
	threads    ThreadDirectory
	cache      *session.Cache
	db         Pinger
	limiter    *rateLimiter

	corsOrigins []string
	trustProxy  bool
	logger      log.Logger
}

// NewServer creates the server.
func NewServer(cfg Config, engine ChatRunner, uploadClassifier UploadClassifier,
	threads ThreadDirectory, cache *session.Cache, db Pinger, logger log.Logger) *Server {
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	return &Server{
		engine:      engine,
		classifier:  uploadClassifier,
		threads:     threads,
		cache:       cache,
		db:          db,
		limiter:     newRateLimiter(burst),
		corsOrigins: cfg.CORSOrigins,
		trustProxy:  cfg.TrustProxy,
		logger:      logger.With("component", "api"),
	}
}

// Handler builds the routed handler with the middleware stack applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.Handle("POST /api/documents", s.requireBearer(http.HandlerFunc(s.handleDocumentUpload)))
	mux.HandleFunc("GET /api/threads", s.handleListThreads)
	mux.HandleFunc("GET /api/threads/{id}", s.handleGetThread)
	mux.HandleFunc("GET /api/threads/{id}/messages", s.handleThreadMessages)
	mux.HandleFunc("DELETE /api/threads/{id}", s.handleDeleteThread)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)

	return chain(mux,
		s.recovery,
		s.requestID,
		s.logging,
		s.cors,
		s.rateLimit,
	)
}

// StartCleanup starts the rate limiter's eviction loop.
func (s *Server) StartCleanup(ctx context.Context) {
	s.limiter.StartCleanup(ctx)
}
