package dialogue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrSessionNotFound is returned when looking up a call that has no session.
var ErrSessionNotFound = errors.New("session not found")

// Session is the per-call record of dialogue progress.
type Session struct {
	CallID          string            `json:"call_id"`
	CurrentQuestion int               `json:"current_question"`
	Responses       map[string]string `json:"responses"`
	Completed       bool              `json:"completed"`
	Turns           int               `json:"turns"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// clone returns a deep copy so callers never share the responses map with
// the store.
func (s *Session) clone() Session {
	out := *s
	out.Responses = make(map[string]string, len(s.Responses))
	for k, v := range s.Responses {
		out.Responses[k] = v
	}
	return out
}

// entry wraps a session with its own lock. refs counts goroutines that hold
// or are waiting for the lock; entries with refs > 0 are never evicted.
type entry struct {
	mu   sync.Mutex
	sess Session
	refs int
}

// Store holds live call sessions in memory. Each call is serialized on its
// own lock so concurrent webhook deliveries for one call cannot interleave,
// while different calls proceed independently. Sessions idle for longer
// than the TTL are removed by CleanExpired.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	ttl     time.Duration
	now     func() time.Time
}

// NewStore creates an empty session store. A ttl of zero disables eviction.
func NewStore(ttl time.Duration) *Store {
	return &Store{
		entries: make(map[string]*entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// acquire returns the locked entry for callID, creating it when create is
// true. It returns nil if the entry does not exist and create is false.
// Every non-nil result must be handed back to release.
func (s *Store) acquire(callID string, create bool) *entry {
	s.mu.Lock()
	e, ok := s.entries[callID]
	if !ok {
		if !create {
			s.mu.Unlock()
			return nil
		}
		now := s.now()
		e = &entry{sess: Session{
			CallID:    callID,
			Responses: make(map[string]string),
			CreatedAt: now,
			UpdatedAt: now,
		}}
		s.entries[callID] = e
	}
	e.refs++
	s.mu.Unlock()

	e.mu.Lock()
	return e
}

func (s *Store) release(e *entry) {
	e.mu.Unlock()

	s.mu.Lock()
	e.refs--
	s.mu.Unlock()
}

// with runs fn against the session for callID under its lock, creating the
// session first if needed.
func (s *Store) with(callID string, fn func(sess *Session)) {
	e := s.acquire(callID, true)
	defer s.release(e)
	fn(&e.sess)
}

// Get returns a copy of the session for callID.
func (s *Store) Get(callID string) (Session, error) {
	e := s.acquire(callID, false)
	if e == nil {
		return Session{}, ErrSessionNotFound
	}
	defer s.release(e)
	return e.sess.clone(), nil
}

// All returns a copy of every live session keyed by call ID.
func (s *Store) All() map[string]Session {
	s.mu.Lock()
	held := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		e.refs++
		held = append(held, e)
	}
	s.mu.Unlock()

	out := make(map[string]Session, len(held))
	for _, e := range held {
		e.mu.Lock()
		out[e.sess.CallID] = e.sess.clone()
		s.release(e)
	}
	return out
}

// Stats returns the number of live sessions and how many of them have
// completed the question list.
func (s *Store) Stats() (active, completed int) {
	for _, sess := range s.All() {
		active++
		if sess.Completed {
			completed++
		}
	}
	return active, completed
}

// CleanExpired removes sessions that have not been updated within the TTL
// and are not currently in use. It returns the number removed.
func (s *Store) CleanExpired() int {
	if s.ttl <= 0 {
		return 0
	}

	cutoff := s.now().Add(-s.ttl)
	removed := 0

	s.mu.Lock()
	for id, e := range s.entries {
		// refs == 0 means no goroutine holds or waits on e.mu, and none can
		// start to while s.mu is held.
		if e.refs == 0 && e.sess.UpdatedAt.Before(cutoff) {
			delete(s.entries, id)
			removed++
		}
	}
	s.mu.Unlock()

	return removed
}

// StartCleanupTicker runs a goroutine that periodically removes expired
// sessions. It stops when the provided context is cancelled.
func StartCleanupTicker(ctx context.Context, store *Store, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed := store.CleanExpired()
				if removed > 0 {
					slog.Debug("cleaned expired call sessions", "removed", removed)
				}
			}
		}
	}()
}
