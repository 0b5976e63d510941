package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerchat/ledgerchat/internal/log"
)

// Store manages thread persistence with a PostgreSQL backend.
// Postgres is the durable source of truth for conversation history.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewStore creates a new Store instance.
func NewStore(pool *pgxpool.Pool, logger log.Logger) *Store {
	return &Store{
		pool:   pool,
		logger: logger.With("component", "session.store"),
	}
}

// GetOrCreate returns the thread with the given ID, creating it when
// the ID is uuid.Nil or unknown. The returned bool reports whether a
// new thread was created. An existing thread owned by another company
// is rejected.
func (s *Store) GetOrCreate(ctx context.Context, threadID uuid.UUID, companyID string) (*Thread, bool, error) {
	if threadID != uuid.Nil {
		thread, err := s.Get(ctx, threadID)
		switch {
		case err == nil:
			if thread.CompanyID != companyID {
				return nil, false, fmt.Errorf("thread %s: %w", threadID, ErrCompanyMismatch)
			}
			return thread, false, nil
		case !errors.Is(err, ErrThreadNotFound):
			return nil, false, err
		}
	}

	id := threadID
	if id == uuid.Nil {
		id = uuid.New()
	}

	thread := &Thread{ID: id, CompanyID: companyID}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO threads (id, company_id) VALUES ($1, $2)
		 RETURNING created_at, updated_at`,
		id, companyID,
	).Scan(&thread.CreatedAt, &thread.UpdatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create thread: %w", err)
	}

	s.logger.Debug("created thread", "thread_id", id, "company_id", companyID)
	return thread, true, nil
}

// Get retrieves a thread by ID.
func (s *Store) Get(ctx context.Context, threadID uuid.UUID) (*Thread, error) {
	thread := &Thread{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, company_id, title, created_at, updated_at
		 FROM threads WHERE id = $1`,
		threadID,
	).Scan(&thread.ID, &thread.CompanyID, &thread.Title, &thread.CreatedAt, &thread.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("thread %s: %w", threadID, ErrThreadNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get thread %s: %w", threadID, err)
	}
	return thread, nil
}

// List returns a company's threads ordered by last activity.
func (s *Store) List(ctx context.Context, companyID string, limit, offset int) ([]*Thread, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, company_id, title, created_at, updated_at
		 FROM threads WHERE company_id = $1
		 ORDER BY updated_at DESC LIMIT $2 OFFSET $3`,
		companyID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	defer rows.Close()

	var threads []*Thread
	for rows.Next() {
		thread := &Thread{}
		if err := rows.Scan(&thread.ID, &thread.CompanyID, &thread.Title,
			&thread.CreatedAt, &thread.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan thread: %w", err)
		}
		threads = append(threads, thread)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read threads: %w", err)
	}
	return threads, nil
}

// Delete removes a thread and all its messages (CASCADE).
func (s *Store) Delete(ctx context.Context, threadID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM threads WHERE id = $1`, threadID)
	if err != nil {
		return fmt.Errorf("failed to delete thread %s: %w", threadID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("thread %s: %w", threadID, ErrThreadNotFound)
	}
	s.logger.Debug("deleted thread", "thread_id", threadID)
	return nil
}

// Append adds messages to a thread in order, assigning sequence
// numbers atomically.
//
// The thread row is locked (SELECT ... FOR UPDATE) for the duration of
// the transaction so concurrent appends cannot race on sequence
// numbers.
func (s *Store) Append(ctx context.Context, threadID uuid.UUID, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", err)
		}
	}()

	var lockedID uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM threads WHERE id = $1 FOR UPDATE`, threadID).Scan(&lockedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("thread %s: %w", threadID, ErrThreadNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to lock thread: %w", err)
	}

	var maxSeq int64
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence_num), 0) FROM thread_messages WHERE thread_id = $1`,
		threadID,
	).Scan(&maxSeq)
	if err != nil {
		return fmt.Errorf("failed to get max sequence number: %w", err)
	}

	for i, msg := range messages {
		_, err = tx.Exec(ctx,
			`INSERT INTO thread_messages (id, thread_id, sequence_num, role, content)
			 VALUES ($1, $2, $3, $4, $5)`,
			uuid.New(), threadID, maxSeq+int64(i)+1, msg.Role, msg.Content,
		)
		if err != nil {
			return fmt.Errorf("failed to insert message %d: %w", i, err)
		}
	}

	if _, err = tx.Exec(ctx,
		`UPDATE threads SET updated_at = now() WHERE id = $1`, threadID); err != nil {
		return fmt.Errorf("failed to update thread metadata: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Debug("appended messages", "thread_id", threadID, "count", len(messages))
	return nil
}

// Messages retrieves a thread's messages ordered by sequence number
// ascending, with pagination.
func (s *Store) Messages(ctx context.Context, threadID uuid.UUID, limit, offset int) ([]Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, thread_id, sequence_num, role, content, created_at
		 FROM thread_messages WHERE thread_id = $1
		 ORDER BY sequence_num ASC LIMIT $2 OFFSET $3`,
		threadID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages for thread %s: %w", threadID, err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// History returns the most recent `window` messages of a thread in
// chronological order, for use as LLM conversation context.
func (s *Store) History(ctx context.Context, threadID uuid.UUID, window int) ([]Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, thread_id, sequence_num, role, content, created_at
		 FROM (
		     SELECT id, thread_id, sequence_num, role, content, created_at
		     FROM thread_messages WHERE thread_id = $1
		     ORDER BY sequence_num DESC LIMIT $2
		 ) recent
		 ORDER BY sequence_num ASC`,
		threadID, window,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load history for thread %s: %w", threadID, err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

func scanMessages(rows pgx.Rows) ([]Message, error) {
	var messages []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.ThreadID, &msg.SequenceNum,
			&msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	return messages, nil
}
