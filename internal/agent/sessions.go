package agent

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/featherlabs/featherbot/internal/providers"
)

// sessionRecord is the on-disk form of one conversation.
type sessionRecord struct {
	Key      string              `json:"key"`
	Messages []providers.Message `json:"messages"`
	Created  time.Time           `json:"created"`
	Updated  time.Time           `json:"updated"`
}

// SessionStore snapshots per-session transcripts as JSON files so
// conversations survive restarts. Best effort: in-memory history is
// authoritative within a process, and load/save failures only log.
type SessionStore struct {
	dir string
	log *slog.Logger
	mu  sync.Mutex
}

func NewSessionStore(dir string, logger *slog.Logger) (*SessionStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	return &SessionStore{dir: dir, log: logger}, nil
}

// Load returns the persisted transcript for a session, or nil.
func (s *SessionStore) Load(key string) []providers.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("sessions: load failed", "session", key, "error", err)
		}
		return nil
	}
	var rec sessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		s.log.Warn("sessions: corrupt session file, ignoring", "session", key, "error", err)
		return nil
	}
	return rec.Messages
}

// Save snapshots a transcript.
func (s *SessionStore) Save(key string, messages []providers.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := sessionRecord{
		Key:      key,
		Messages: messages,
		Updated:  time.Now(),
	}
	path := s.path(key)
	if prev, err := os.ReadFile(path); err == nil {
		var old sessionRecord
		if json.Unmarshal(prev, &old) == nil {
			rec.Created = old.Created
		}
	}
	if rec.Created.IsZero() {
		rec.Created = rec.Updated
	}

	data, err := json.MarshalIndent(rec, "", "\t")
	if err != nil {
		s.log.Warn("sessions: marshal failed", "session", key, "error", err)
		return
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		s.log.Warn("sessions: save failed", "session", key, "error", err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		s.log.Warn("sessions: save failed", "session", key, "error", err)
	}
}

// Delete removes a persisted session.
func (s *SessionStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		s.log.Warn("sessions: delete failed", "session", key, "error", err)
	}
}

// path maps a session key to a filesystem-safe file name.
func (s *SessionStore) path(key string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '.':
			return r
		default:
			return '_'
		}
	}, key)
	return filepath.Join(s.dir, safe+".json")
}
