package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"hexdash/internal/logging"
)

// Storage is the capability interface for one physical tier holding the
// session documents and the active-session pointer. Implementations are
// chosen explicitly at startup; there is no environment detection.
type Storage interface {
	Load() ([]*Session, error)
	Save(sessions []*Session) error
	LoadActiveID() (string, error)
	SaveActiveID(id string) error
}

// FileStorage persists sessions as a JSON array plus a single-line pointer
// file. It is the authoritative tier on a developer machine.
type FileStorage struct {
	sessionsPath string
	activePath   string
}

// NewFileStorage creates file-tier storage rooted at the given paths.
func NewFileStorage(sessionsPath, activePath string) *FileStorage {
	return &FileStorage{sessionsPath: sessionsPath, activePath: activePath}
}

// Load reads the session array. Missing or corrupt files fail open to an
// empty slice; callers must tolerate zero sessions.
func (f *FileStorage) Load() ([]*Session, error) {
	data, err := os.ReadFile(f.sessionsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		logging.Get(logging.CategoryStore).Warn("Failed to read sessions file: %v", err)
		return nil, nil
	}

	var sessions []*Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		logging.Get(logging.CategoryStore).Warn("Corrupt sessions file, starting empty: %v", err)
		return nil, nil
	}
	return sessions, nil
}

// Save rewrites the whole session array.
func (f *FileStorage) Save(sessions []*Session) error {
	if err := os.MkdirAll(filepath.Dir(f.sessionsPath), 0755); err != nil {
		return err
	}
	if sessions == nil {
		sessions = []*Session{}
	}
	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(f.sessionsPath, data, 0644); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to write sessions file: %v", err)
		return err
	}
	logging.StoreDebug("Sessions file rewritten: %d sessions", len(sessions))
	return nil
}

// LoadActiveID reads the active-session pointer. Absent or empty means no
// active session.
func (f *FileStorage) LoadActiveID() (string, error) {
	data, err := os.ReadFile(f.activePath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		logging.Get(logging.CategoryStore).Warn("Failed to read active pointer: %v", err)
		return "", nil
	}
	return strings.TrimSpace(string(data)), nil
}

// SaveActiveID writes the pointer file; an empty id clears it.
func (f *FileStorage) SaveActiveID(id string) error {
	if err := os.MkdirAll(filepath.Dir(f.activePath), 0755); err != nil {
		return err
	}
	return os.WriteFile(f.activePath, []byte(id+"\n"), 0644)
}

// MemoryStorage is an in-process tier used by tests and as a scratch cache.
type MemoryStorage struct {
	sessions []*Session
	activeID string
}

// NewMemoryStorage returns an empty in-memory tier.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (m *MemoryStorage) Load() ([]*Session, error) {
	out := make([]*Session, len(m.sessions))
	copy(out, m.sessions)
	return out, nil
}

func (m *MemoryStorage) Save(sessions []*Session) error {
	m.sessions = make([]*Session, len(sessions))
	copy(m.sessions, sessions)
	return nil
}

func (m *MemoryStorage) LoadActiveID() (string, error) {
	return m.activeID, nil
}

func (m *MemoryStorage) SaveActiveID(id string) error {
	m.activeID = id
	return nil
}
