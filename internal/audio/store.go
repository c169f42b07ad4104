// Package audio writes synthesized speech to disk under generated keys and
// serves it back.
package audio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Extension is appended to every audio key on disk.
const Extension = ".mp3"

// ErrNotFound is returned when no artifact exists for a key.
var ErrNotFound = errors.New("audio not found")

// ErrInvalidKey is returned for keys that are not UUIDs.
var ErrInvalidKey = errors.New("invalid audio key")

// Store is a flat directory of {key}.mp3 files.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the backing directory.
func (s *Store) Dir() string { return s.dir }

// NewKey returns a fresh random key.
func NewKey() string {
	return uuid.NewString()
}

// Path returns the artifact path for key. Keys must parse as UUIDs so a
// caller-supplied key can never escape the directory.
func (s *Store) Path(key string) (string, error) {
	if _, err := uuid.Parse(key); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.dir, key+Extension), nil
}

// Stat returns the artifact's file info or ErrNotFound.
func (s *Store) Stat(key string) (os.FileInfo, error) {
	path, err := s.Path(key)
	if err != nil {
		return nil, ErrNotFound
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}
	return info, nil
}

// Open opens the artifact for reading.
func (s *Store) Open(key string) (*os.File, os.FileInfo, error) {
	info, err := s.Stat(key)
	if err != nil {
		return nil, nil, err
	}
	path, _ := s.Path(key)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	return f, info, nil
}

// create opens a new artifact file for key, creating the directory if needed.
func (s *Store) create(key string) (*os.File, string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("create audio dir: %w", err)
	}
	path, err := s.Path(key)
	if err != nil {
		return nil, "", err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, "", fmt.Errorf("create audio file: %w", err)
	}
	return f, path, nil
}
