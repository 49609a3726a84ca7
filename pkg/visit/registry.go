package visit

import (
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	vberrors "github.com/odvcencio/visitbridge/pkg/errors"
	"github.com/odvcencio/visitbridge/pkg/renderer"
)

var (
	// ErrSessionExists is returned when creating a session with an id that
	// is already registered.
	ErrSessionExists = errors.New("session already exists")

	// ErrRegistryClosed is returned when creating a session on a closed registry.
	ErrRegistryClosed = errors.New("session registry closed")
)

// Registry tracks the live sessions of a host process.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	defaults []Option
	closed   bool
}

// NewRegistry creates a registry. defaults apply to every session it
// creates, before the per-call options.
func NewRegistry(defaults ...Option) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		defaults: defaults,
	}
}

// Create makes a session for surface and registers it. Sessions created
// without WithID get a random id. A duplicate id is rejected before any
// session is built, so the live session sees no events from the attempt.
func (r *Registry) Create(surface renderer.Surface, opts ...Option) (*Session, error) {
	all := make([]Option, 0, len(r.defaults)+len(opts)+1)
	all = append(all, WithID(uuid.NewString()))
	all = append(all, r.defaults...)
	all = append(all, opts...)
	id := resolveID(all)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	if _, exists := r.sessions[id]; exists {
		return nil, ErrSessionExists
	}

	s, err := New(surface, all...)
	if err != nil {
		return nil, err
	}
	r.sessions[s.ID()] = s
	return s, nil
}

// resolveID returns the id opts would give a session.
func resolveID(opts []Option) string {
	var scratch Session
	for _, opt := range opts {
		opt(&scratch)
	}
	return scratch.id
}

// Get returns the session registered under id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, vberrors.New(vberrors.ErrCodeSessionNotFound, "session not found").WithContext("session_id", id)
	}
	return s, nil
}

// IDs returns the registered session ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Remove unregisters the session and closes it on its owner context.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return vberrors.New(vberrors.ErrCodeSessionNotFound, "session not found").WithContext("session_id", id)
	}
	return s.exec.Post(s.Close)
}

// Close closes every session and rejects further Create calls.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.closed = true
	r.mu.Unlock()

	for _, s := range sessions {
		_ = s.exec.Post(s.Close)
	}
}

var (
	defaultMu       sync.Mutex
	defaultRegistry *Registry
)

// Default returns the process-wide registry, creating it on first use.
func Default() *Registry {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRegistry == nil {
		defaultRegistry = NewRegistry()
	}
	return defaultRegistry
}

// ResetDefault closes and forgets the process-wide registry.
func ResetDefault() {
	defaultMu.Lock()
	reg := defaultRegistry
	defaultRegistry = nil
	defaultMu.Unlock()
	if reg != nil {
		reg.Close()
	}
}
