// Package session persists the bearer token and current user between runs.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hilthontt/roomsync/internal/domain"
	"github.com/spf13/afero"
)

const (
	appName     = "roomsync"
	sessionFile = "session.json"
)

type Store struct {
	fs    afero.Fs
	path  string
	cache *domain.Session
	mu    sync.RWMutex
}

// NewStore keeps the session at path on fs. An empty path uses DefaultPath.
func NewStore(fs afero.Fs, path string) *Store {
	if path == "" {
		path = DefaultPath()
	}
	return &Store{fs: fs, path: path}
}

// NewOSStore is a Store on the real filesystem.
func NewOSStore(path string) *Store {
	return NewStore(afero.NewOsFs(), path)
}

func (s *Store) Path() string {
	return s.path
}

// Load returns the stored session or domain.ErrNoSession.
func (s *Store) Load() (domain.Session, error) {
	s.mu.RLock()
	if s.cache != nil {
		defer s.mu.RUnlock()
		return *s.cache, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cache != nil {
		return *s.cache, nil
	}

	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.Session{}, domain.ErrNoSession
		}
		return domain.Session{}, fmt.Errorf("failed to read session: %w", err)
	}

	var sess domain.Session
	if err := json.Unmarshal(data, &sess); err != nil || !sess.Valid() {
		return domain.Session{}, domain.ErrNoSession
	}

	s.cache = &sess
	return sess, nil
}

func (s *Store) Save(sess domain.Session) error {
	if !sess.Valid() {
		return domain.ErrInvalidInput
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	if err := afero.WriteFile(s.fs, s.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}

	s.cache = &sess
	return nil
}

// Clear discards the session. Clearing when nothing is stored is not an error.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache = nil
	if err := s.fs.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	return nil
}

// Token satisfies the API client's token source; it is empty when logged out.
func (s *Store) Token() string {
	sess, err := s.Load()
	if err != nil {
		return ""
	}
	return sess.Token
}

// DefaultPath is <user config dir>/roomsync/session.json, or the working
// directory when no config dir is known.
func DefaultPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, appName, sessionFile)
	}
	return sessionFile
}
