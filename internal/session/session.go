// Package session manages conversation threads and per-thread agent
// state.
//
// Threads and their messages are durable in PostgreSQL (see Store);
// transient cross-turn agent state like the last cited resources and a
// pending upload confirmation lives in a TTL-bound in-process cache
// (see Cache).
package session

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrThreadNotFound indicates the requested thread does not exist.
	ErrThreadNotFound = errors.New("thread not found")

	// ErrCompanyMismatch indicates the thread belongs to a different company.
	ErrCompanyMismatch = errors.New("thread belongs to a different company")
)

// Message roles stored in thread_messages.role.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Thread is a conversation scoped to one company.
type Thread struct {
	ID        uuid.UUID `json:"id"`
	CompanyID string    `json:"company_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one turn in a thread. SequenceNum is assigned by the
// store and is strictly increasing within a thread.
type Message struct {
	ID          uuid.UUID `json:"id"`
	ThreadID    uuid.UUID `json:"thread_id"`
	SequenceNum int64     `json:"sequence_num"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
}
