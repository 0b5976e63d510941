// Package knowledge stores document chunks with vector embeddings and
// provides company-scoped similarity search over PostgreSQL + pgvector.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/ledgerchat/ledgerchat/internal/log"
)

// ErrEmptyEmbedding indicates the embedder returned no vector.
var ErrEmptyEmbedding = errors.New("empty embedding returned")

// searchTimeout bounds vector search queries so a slow index scan
// cannot block a chat turn.
const searchTimeout = 10 * time.Second

// Chunk is one embedded slice of an ingested document.
type Chunk struct {
	ID          int64
	DocumentKey string
	CompanyID   string
	ChunkIndex  int
	Content     string
}

// Result is a chunk with its cosine similarity to a query.
type Result struct {
	Chunk
	Similarity float64
}

// Store manages document chunks with vector search.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool     *pgxpool.Pool
	embedder ai.Embedder
	logger   log.Logger
}

// NewStore creates a new Store instance.
func NewStore(pool *pgxpool.Pool, embedder ai.Embedder, logger log.Logger) *Store {
	return &Store{
		pool:     pool,
		embedder: embedder,
		logger:   logger.With("component", "knowledge.store"),
	}
}

// RegisterDocument records an ingested document so chunks can
// reference it.
func (s *Store) RegisterDocument(ctx context.Context, documentKey, companyID, filename, docType string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (document_key, company_id, filename, doc_type)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (document_key) DO UPDATE
		 SET filename = EXCLUDED.filename, doc_type = EXCLUDED.doc_type`,
		documentKey, companyID, filename, docType,
	)
	if err != nil {
		return fmt.Errorf("failed to register document %q: %w", documentKey, err)
	}
	return nil
}

// Index embeds and stores a chunk of a document.
func (s *Store) Index(ctx context.Context, chunk Chunk) error {
	vec, err := s.embed(ctx, chunk.Content)
	if err != nil {
		return fmt.Errorf("failed to embed chunk %d of %q: %w", chunk.ChunkIndex, chunk.DocumentKey, err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO doc_chunks (document_key, company_id, chunk_index, content, embedding)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (document_key, chunk_index) DO UPDATE
		 SET content = EXCLUDED.content, embedding = EXCLUDED.embedding`,
		chunk.DocumentKey, chunk.CompanyID, chunk.ChunkIndex, chunk.Content, vec,
	)
	if err != nil {
		return fmt.Errorf("failed to index chunk %d of %q: %w", chunk.ChunkIndex, chunk.DocumentKey, err)
	}

	s.logger.Debug("indexed chunk",
		"document_key", chunk.DocumentKey,
		"chunk_index", chunk.ChunkIndex,
		"content_length", len(chunk.Content))
	return nil
}

// Search embeds the query and returns the topK most similar chunks
// for a company, ordered by similarity descending.
func (s *Store) Search(ctx context.Context, companyID, query string, topK int) ([]Result, error) {
	queryCtx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	vec, err := s.embed(queryCtx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	// <=> is cosine distance; similarity = 1 - distance
	rows, err := s.pool.Query(queryCtx,
		`SELECT id, document_key, company_id, chunk_index, content,
		        1 - (embedding <=> $1) AS similarity
		 FROM doc_chunks
		 WHERE company_id = $2
		 ORDER BY embedding <=> $1
		 LIMIT $3`,
		vec, companyID, topK,
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("vector search timeout: %w", err)
		}
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	defer rows.Close()

	return scanResults(rows)
}

// DocumentChunks returns all chunks of one document in order, with
// similarity to the query so the context budget can rank them.
func (s *Store) DocumentChunks(ctx context.Context, documentKey, query string) ([]Result, error) {
	queryCtx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	vec, err := s.embed(queryCtx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	rows, err := s.pool.Query(queryCtx,
		`SELECT id, document_key, company_id, chunk_index, content,
		        1 - (embedding <=> $1) AS similarity
		 FROM doc_chunks
		 WHERE document_key = $2
		 ORDER BY chunk_index ASC`,
		vec, documentKey,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks for %q: %w", documentKey, err)
	}
	defer rows.Close()

	return scanResults(rows)
}

func (s *Store) embed(ctx context.Context, content string) (pgvector.Vector, error) {
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{
			{Content: []*ai.Part{ai.NewTextPart(content)}},
		},
	})
	if err != nil {
		return pgvector.Vector{}, err
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return pgvector.Vector{}, ErrEmptyEmbedding
	}
	return pgvector.NewVector(resp.Embeddings[0].Embedding), nil
}

type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanResults(rows pgxRows) ([]Result, error) {
	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.DocumentKey, &r.CompanyID,
			&r.ChunkIndex, &r.Content, &r.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read chunks: %w", err)
	}
	return results, nil
}
