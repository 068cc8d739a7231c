package sessions

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Store is a concurrency-safe registry of sessions. All methods may be
// called from any number of goroutines, for the same or different ids.
type Store interface {
	// Create allocates a fresh session seeded with the store's ambient
	// default bindings.
	Create(ctx context.Context) (*Session, error)

	// Clone produces a new, independent session whose bindings are a deep
	// copy of the source session's bindings at the moment of cloning.
	// Returns ErrSessionNotFound if id is unknown.
	Clone(ctx context.Context, id string) (*Session, error)

	// Close releases the session's resources and removes it from the
	// store. A second Close for the same id returns ErrSessionNotFound.
	Close(ctx context.Context, id string) error

	// Lookup returns the session registered under id, or
	// ErrSessionNotFound.
	Lookup(ctx context.Context, id string) (*Session, error)

	// IDs lists the ids of all live sessions.
	IDs(ctx context.Context) ([]string, error)
}

// Syncer is an optional Store extension: stores that persist bindings
// externally implement it, and the dispatcher calls Sync after each
// handled message while the session's turn is still held.
type Syncer interface {
	Sync(ctx context.Context, sess *Session) error
}

// MemStore is the default, process-local Store.
type MemStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	defaults map[string]any
}

var _ Store = (*MemStore)(nil)

// StoreOption configures a MemStore.
type StoreOption func(*MemStore)

// WithDefaultBindings sets the ambient bindings snapshotted into every
// session at Create.
func WithDefaultBindings(b map[string]any) StoreOption {
	return func(m *MemStore) { m.defaults = deepCopyBindings(b) }
}

// NewMemStore builds an empty in-memory store.
func NewMemStore(opts ...StoreOption) *MemStore {
	m := &MemStore{sessions: make(map[string]*Session)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemStore) Create(ctx context.Context) (*Session, error) {
	s := NewSession(uuid.NewString(), m.defaults)
	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	return s, nil
}

func (m *MemStore) Clone(ctx context.Context, id string) (*Session, error) {
	src, err := m.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	s := NewSession(uuid.NewString(), src.Bindings())
	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	return s, nil
}

func (m *MemStore) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("close session %s: %w", id, ErrSessionNotFound)
	}
	s.ReleaseResources()
	return nil
}

func (m *MemStore) Lookup(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("lookup session %s: %w", id, ErrSessionNotFound)
	}
	return s, nil
}

func (m *MemStore) IDs(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids, nil
}
