package tts

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
)

type memMedia struct {
	mu    sync.Mutex
	files map[string][]byte
	err   error
}

func (m *memMedia) Save(data []byte, ext string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	if m.files == nil {
		m.files = make(map[string][]byte)
	}
	name := "tts_test" + ext
	m.files[name] = data
	return name, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSynthesizeSuccess(t *testing.T) {
	var got speechRequest
	var gotPath, gotKey, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("xi-api-key")
		gotAccept = r.Header.Get("Accept")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("mp3-bytes"))
	}))
	defer srv.Close()

	media := &memMedia{}
	s := NewSynthesizer("key-1", srv.URL, media, testLogger())

	name, ok := s.Synthesize(context.Background(), "Hello there", "voice-9")
	if !ok {
		t.Fatal("expected synthesis to succeed")
	}
	if name != "tts_test.mp3" {
		t.Fatalf("name = %q", name)
	}
	if string(media.files[name]) != "mp3-bytes" {
		t.Fatalf("stored audio = %q", media.files[name])
	}

	if gotPath != "/v1/text-to-speech/voice-9" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "key-1" {
		t.Errorf("xi-api-key = %q", gotKey)
	}
	if gotAccept != "audio/mpeg" {
		t.Errorf("Accept = %q", gotAccept)
	}
	if got.Text != "Hello there" || got.ModelID != "eleven_multilingual_v2" {
		t.Errorf("request body = %+v", got)
	}
	if got.VoiceSettings.Stability != 0.5 || got.VoiceSettings.SimilarityBoost != 0.7 {
		t.Errorf("voice settings = %+v", got.VoiceSettings)
	}

	if st := s.Stats(); st.Succeeded != 1 || st.Failed != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestSynthesizeSkipsWithoutCall(t *testing.T) {
	tests := []struct {
		name string
		key  string
		text string
	}{
		{"empty text", "key-1", ""},
		{"no key", "", "Hello"},
		{"placeholder key", PlaceholderAPIKey, "Hello"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var called atomic.Bool
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called.Store(true)
			}))
			defer srv.Close()

			s := NewSynthesizer(tt.key, srv.URL, &memMedia{}, testLogger())
			if _, ok := s.Synthesize(context.Background(), tt.text, "v"); ok {
				t.Fatal("expected no audio")
			}
			if called.Load() {
				t.Fatal("expected no outbound request")
			}
		})
	}
}

func TestSynthesizeAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"quota exceeded"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	media := &memMedia{}
	s := NewSynthesizer("key-1", srv.URL, media, testLogger())
	if _, ok := s.Synthesize(context.Background(), "Hello", "v"); ok {
		t.Fatal("expected failure on 500")
	}
	if len(media.files) != 0 {
		t.Fatal("no audio should be stored on failure")
	}
	if st := s.Stats(); st.Failed != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestSynthesizeUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	s := NewSynthesizer("key-1", url, &memMedia{}, testLogger())
	if _, ok := s.Synthesize(context.Background(), "Hello", "v"); ok {
		t.Fatal("expected failure when api is unreachable")
	}
}

func TestSynthesizeMediaError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("mp3"))
	}))
	defer srv.Close()

	s := NewSynthesizer("key-1", srv.URL, &memMedia{err: errors.New("disk full")}, testLogger())
	if _, ok := s.Synthesize(context.Background(), "Hello", "v"); ok {
		t.Fatal("expected failure when media cannot be stored")
	}
	if st := s.Stats(); st.Failed != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestConfigured(t *testing.T) {
	if NewSynthesizer("", "", &memMedia{}, testLogger()).Configured() {
		t.Error("empty key should not be configured")
	}
	if NewSynthesizer(PlaceholderAPIKey, "", &memMedia{}, testLogger()).Configured() {
		t.Error("placeholder key should not be configured")
	}
	if !NewSynthesizer("real", "", &memMedia{}, testLogger()).Configured() {
		t.Error("real key should be configured")
	}
}
