package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerchat/ledgerchat/internal/agent"
)

// UploadStage is the document-upload confirmation state machine.
type UploadStage string

const (
	// StageNew means no upload is in progress.
	StageNew UploadStage = "new"
	// StageAwaitingConfirmation means a document was classified and the
	// user has been asked to confirm the detected type.
	StageAwaitingConfirmation UploadStage = "awaiting_confirmation"
	// StageUploaded means the document was ingested successfully.
	StageUploaded UploadStage = "uploaded"
	// StageUploadFailed means ingestion was attempted and failed.
	StageUploadFailed UploadStage = "upload_failed"
)

// UploadState holds a pending document upload between the
// classification turn and the confirmation turn.
type UploadState struct {
	Stage        UploadStage
	DetectedType string
	Metadata     map[string]string
	Filename     string
	ContentType  string
	FileBytes    []byte
	// AuthToken is the uploader's bearer token, forwarded to the
	// ingestion service on the confirmation turn.
	AuthToken string
}

// ThreadState is the transient cross-turn agent state for one thread.
type ThreadState struct {
	// LastDocumentKey is the most recent document the thread talked
	// about; referential follow-ups reuse it.
	LastDocumentKey string
	// LastResources are the citations from the previous answer.
	LastResources []agent.Resource
	// DocumentUploaded marks that this thread ingested a document, so
	// later turns route document questions to RAG.
	DocumentUploaded bool
	// Upload is the pending classification confirmation, if any.
	Upload *UploadState
}

type cacheEntry struct {
	state     *ThreadState
	expiresAt time.Time
}

// Cache is a TTL-bound, concurrency-safe keyed store for ThreadState.
// Entries expire TTL after their last write and are swept
// periodically. This is deliberately an explicit store with eviction,
// not a process-global map.
type Cache struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*cacheEntry
	ttl     time.Duration
}

// NewCache creates a cache whose entries expire ttl after last write.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[uuid.UUID]*cacheEntry),
		ttl:     ttl,
	}
}

// Get returns the state for a thread, or nil when absent or expired.
func (c *Cache) Get(threadID uuid.UUID) *ThreadState {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[threadID]
	if !ok {
		return nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, threadID)
		return nil
	}
	return entry.state
}

// GetOrInit returns the state for a thread, creating an empty one when
// absent or expired.
func (c *Cache) GetOrInit(threadID uuid.UUID) *ThreadState {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[threadID]
	if ok && time.Now().Before(entry.expiresAt) {
		entry.expiresAt = time.Now().Add(c.ttl)
		return entry.state
	}

	state := &ThreadState{Upload: &UploadState{Stage: StageNew}}
	c.entries[threadID] = &cacheEntry{
		state:     state,
		expiresAt: time.Now().Add(c.ttl),
	}
	return state
}

// Put stores the state for a thread, resetting its TTL.
func (c *Cache) Put(threadID uuid.UUID, state *ThreadState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[threadID] = &cacheEntry{
		state:     state,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// Delete removes a thread's state.
func (c *Cache) Delete(threadID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, threadID)
}

// Len returns the number of live entries, counting expired ones not
// yet swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// StartSweeper evicts expired entries every interval until ctx is
// cancelled.
func (c *Cache) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.sweep()
			}
		}
	}()
}

func (c *Cache) sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, id)
		}
	}
}
