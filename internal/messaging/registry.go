package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNoDialer is returned when no transport has been configured.
var ErrNoDialer = errors.New("messaging transport not configured")

// Session is a live messaging connection on behalf of one API key. The
// concrete transport (a browser-automation client, a gateway, ...) lives
// behind this interface.
type Session interface {
	Send(ctx context.Context, to, body string) error
	Close() error
}

// Dialer establishes a new Session for an API key.
type Dialer interface {
	Dial(ctx context.Context, keyID int64) (Session, error)
}

// Registry owns at most one live session per API key id, with an explicit
// lifecycle: sessions are dialed on first use and evicted on disconnect or
// revocation. All access goes through the registry; there is no ambient
// shared map.
type Registry struct {
	mu       sync.Mutex
	dialer   Dialer
	sessions map[int64]Session
}

// NewRegistry creates a Registry. dialer may be nil, in which case Get
// returns ErrNoDialer until a transport is configured.
func NewRegistry(dialer Dialer) *Registry {
	return &Registry{
		dialer:   dialer,
		sessions: make(map[int64]Session),
	}
}

// Get returns the live session for a key, dialing one if none exists.
func (r *Registry) Get(ctx context.Context, keyID int64) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dialer == nil {
		return nil, ErrNoDialer
	}

	if s, ok := r.sessions[keyID]; ok {
		return s, nil
	}

	s, err := r.dialer.Dial(ctx, keyID)
	if err != nil {
		return nil, fmt.Errorf("dial session for key %d: %w", keyID, err)
	}
	r.sessions[keyID] = s
	return s, nil
}

// Evict closes and removes the session for a key, if any. The next Get
// dials a fresh one.
func (r *Registry) Evict(keyID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[keyID]
	if !ok {
		return nil
	}
	delete(r.sessions, keyID)
	return s.Close()
}

// CloseAll evicts every live session. Called on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for keyID, s := range r.sessions {
		s.Close()
		delete(r.sessions, keyID)
	}
}

// Active returns the number of live sessions.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
