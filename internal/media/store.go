// Package media owns the directory of synthesized prompt audio. Files are
// written under unguessable random names; knowing the name is the only
// access control on the retrieval endpoint.
package media

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested media file does not exist or the
// name is not a plain file name.
var ErrNotFound = errors.New("media file not found")

// filePrefix marks files produced by speech synthesis.
const filePrefix = "tts_"

// Store reads and writes audio files in a single flat directory.
type Store struct {
	dir string
}

// NewStore creates the media directory if needed and returns a store for it.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating media dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the media directory.
func (s *Store) Dir() string {
	return s.dir
}

// Save writes data under a fresh random name with the given extension
// (e.g. ".mp3") and returns the file name.
func (s *Store) Save(data []byte, ext string) (string, error) {
	name := filePrefix + strings.ReplaceAll(uuid.NewString(), "-", "") + ext

	// Write to a temp name first so the file only becomes visible once
	// complete.
	tmp, err := os.CreateTemp(s.dir, ".partial-*")
	if err != nil {
		return "", fmt.Errorf("creating temp media file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("writing media file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("closing media file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("chmod media file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("renaming media file: %w", err)
	}
	return name, nil
}

// Path resolves a file name to its full path. Names with path separators,
// hidden names and missing files yield ErrNotFound.
func (s *Store) Path(name string) (string, error) {
	if name == "" || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return "", ErrNotFound
	}
	full := filepath.Join(s.dir, name)
	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("stat media file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", ErrNotFound
	}
	return full, nil
}

// Count returns the number of media files on disk.
func (s *Store) Count() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("reading media dir: %w", err)
	}
	n := 0
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasPrefix(e.Name(), filePrefix) {
			n++
		}
	}
	return n, nil
}

// DeleteOlderThan removes media files last modified before now-maxAge and
// returns the names removed.
func (s *Store) DeleteOlderThan(maxAge time.Duration) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading media dir: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	var removed []string
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.HasPrefix(e.Name(), filePrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue // removed concurrently
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("removing %s: %w", e.Name(), err)
		}
		removed = append(removed, e.Name())
	}
	return removed, nil
}
