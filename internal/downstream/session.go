package downstream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// session tracks one downstream client's last-activity timestamp. The
// handler set itself is stateless (bound to the shared registry and
// router), so a session record carries nothing beyond its id and age
// (spec.md §4.6).
type session struct {
	id           string
	lastActivity time.Time
}

// sessionStore is the session table: generates ids, tracks activity, and
// evicts idle sessions on a timer, grounded on the SunnyMittal-AI
// calculator server's sessions map plus its generateSessionID helper.
type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]*session
	timeout  time.Duration
}

func newSessionStore(timeout time.Duration) *sessionStore {
	return &sessionStore{sessions: make(map[string]*session), timeout: timeout}
}

func generateSessionID() string {
	return uuid.NewString()
}

// create allocates a new session id and records it.
func (s *sessionStore) create() string {
	id := generateSessionID()
	s.mu.Lock()
	s.sessions[id] = &session{id: id, lastActivity: time.Now()}
	s.mu.Unlock()
	return id
}

// touch reports whether id is known and, if so, bumps its activity clock.
func (s *sessionStore) touch(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	sess.lastActivity = time.Now()
	return true
}

// count reports the number of live sessions, used by /health.
func (s *sessionStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// sweep removes every session idle past s.timeout. Eviction only discards
// the session record; it has no effect on upstream state (spec.md §4.6).
func (s *sessionStore) sweep() {
	cutoff := time.Now().Add(-s.timeout)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if sess.lastActivity.Before(cutoff) {
			delete(s.sessions, id)
			slog.Info("evicted idle downstream session", "session_id", id)
		}
	}
}

// startSweeper runs sweep every interval until ctx is cancelled.
func (s *sessionStore) startSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}
