package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Remembered is the login a previous run persisted, so the next run can
// reconnect without prompting.
type Remembered struct {
	// UserID is the last connected user.
	UserID string `yaml:"user_id,omitempty"`
	// Nickname is the last nickname used with UserID.
	Nickname string `yaml:"nickname,omitempty"`
	// OpenChannels lists channel URLs that had a board open on exit.
	OpenChannels []string `yaml:"open_channels,omitempty"`
	// UpdatedAt is when the session was last saved.
	UpdatedAt time.Time `yaml:"updated_at,omitempty"`
}

// IsEmpty returns true if nothing is remembered.
func (r *Remembered) IsEmpty() bool {
	return r.UserID == ""
}

// SetUser records the connected user. A different user forgets the
// previously open channels.
func (r *Remembered) SetUser(id, nickname string) {
	if id != r.UserID {
		r.OpenChannels = nil
	}
	r.UserID = id
	r.Nickname = nickname
	r.UpdatedAt = time.Now()
}

// Clear forgets everything.
func (r *Remembered) Clear() {
	r.UserID = ""
	r.Nickname = ""
	r.OpenChannels = nil
	r.UpdatedAt = time.Now()
}

// String returns a human-readable representation of the session.
func (r *Remembered) String() string {
	if r.IsEmpty() {
		return "(no session)"
	}
	if r.Nickname == "" {
		return r.UserID
	}
	return fmt.Sprintf("%s (%s)", r.Nickname, r.UserID)
}

// SessionStore manages loading and saving the remembered session.
type SessionStore struct {
	path string
	mu   sync.RWMutex
}

// NewSessionStore creates a new session store.
// If path is empty, uses the default path (~/.config/chatsync/session.yaml).
func NewSessionStore(path string) *SessionStore {
	if path == "" {
		homeDir, _ := os.UserHomeDir()
		path = filepath.Join(homeDir, ".config", "chatsync", "session.yaml")
	}
	return &SessionStore{path: path}
}

// Path returns the session file path.
func (s *SessionStore) Path() string {
	return s.path
}

// Load reads the session from disk.
// Returns an empty session if the file doesn't exist.
func (s *SessionStore) Load() (*Remembered, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r := &Remembered{}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	if err := yaml.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("failed to parse session file: %w", err)
	}

	return r, nil
}

// Save writes the session to disk.
func (s *SessionStore) Save(r *Remembered) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to serialize session: %w", err)
	}

	// Owner-only: the file identifies the user.
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}

	return nil
}

// Clear removes the session file.
func (s *SessionStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}
