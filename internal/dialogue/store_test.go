package dialogue

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStoreGetNotFound(t *testing.T) {
	s := NewStore(time.Hour)
	_, err := s.Get("missing")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if len(s.All()) != 0 {
		t.Fatal("Get must not create a session")
	}
}

func TestStoreAllAndStats(t *testing.T) {
	s := NewStore(time.Hour)
	m := NewMachine(s, []Question{{Key: "name", Prompt: "Name?"}})

	m.GetOrCreate("CA1")
	m.Advance("CA2", "Alex")

	all := s.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(all))
	}
	if !all["CA2"].Completed {
		t.Fatal("expected CA2 completed")
	}

	active, completed := s.Stats()
	if active != 2 || completed != 1 {
		t.Fatalf("Stats() = (%d, %d), want (2, 1)", active, completed)
	}
}

func TestStoreCleanExpired(t *testing.T) {
	s := NewStore(time.Hour)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	s.with("old", func(*Session) {})
	s.now = func() time.Time { return base.Add(90 * time.Minute) }
	s.with("fresh", func(*Session) {})

	removed := s.CleanExpired()
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := s.Get("old"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatal("expected old session to be evicted")
	}
	if _, err := s.Get("fresh"); err != nil {
		t.Fatalf("expected fresh session to remain: %v", err)
	}
}

func TestStoreCleanExpiredSkipsInUse(t *testing.T) {
	s := NewStore(time.Minute)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	s.with("busy", func(*Session) {})

	s.now = func() time.Time { return base.Add(time.Hour) }

	e := s.acquire("busy", false)
	if removed := s.CleanExpired(); removed != 0 {
		t.Fatalf("removed = %d, want 0 while session is held", removed)
	}
	s.release(e)

	if removed := s.CleanExpired(); removed != 1 {
		t.Fatalf("removed = %d, want 1 after release", removed)
	}
}

func TestStoreZeroTTLNeverEvicts(t *testing.T) {
	s := NewStore(0)
	s.with("CA1", func(sess *Session) {
		sess.UpdatedAt = time.Now().Add(-1000 * time.Hour)
	})
	if removed := s.CleanExpired(); removed != 0 {
		t.Fatalf("removed = %d, want 0", removed)
	}
}

func TestStartCleanupTickerStopsOnCancel(t *testing.T) {
	s := NewStore(time.Nanosecond)
	s.with("CA1", func(sess *Session) {
		sess.UpdatedAt = time.Now().Add(-time.Hour)
	})

	ctx, cancel := context.WithCancel(context.Background())
	StartCleanupTicker(ctx, s, 5*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(s.All()) == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if len(s.All()) != 0 {
		t.Fatal("expected cleanup ticker to evict the session")
	}
}
