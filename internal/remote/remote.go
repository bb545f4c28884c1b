// Package remote defines the opaque key-value interface to the optional
// cross-device store. The backing service is an external collaborator;
// the core only reads and writes whole documents through this interface,
// selected at startup.
package remote

import (
	"context"
	"encoding/json"
	"sync"
)

// Collections used by the sync bridge.
const (
	CollectionProjects     = "projects"      // fixed key, whole project list
	CollectionProjectStats = "project_stats" // keyed by project code
)

// ProjectsKey is the fixed key under CollectionProjects.
const ProjectsKey = "all"

// Store is the opaque remote key-value interface. Read returns (nil, nil)
// when no document exists.
type Store interface {
	Read(ctx context.Context, collection, key, ownerID string) (json.RawMessage, error)
	Write(ctx context.Context, collection, key, ownerID string, doc json.RawMessage) error
}

// MemoryStore is an in-process Store used by tests and offline runs.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]json.RawMessage
}

// NewMemoryStore returns an empty in-memory remote store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]json.RawMessage)}
}

func (m *MemoryStore) Read(_ context.Context, collection, key, ownerID string) (json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[collection+"/"+ownerID+"/"+key]
	if !ok {
		return nil, nil
	}
	out := make(json.RawMessage, len(doc))
	copy(out, doc)
	return out, nil
}

func (m *MemoryStore) Write(_ context.Context, collection, key, ownerID string, doc json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make(json.RawMessage, len(doc))
	copy(stored, doc)
	m.docs[collection+"/"+ownerID+"/"+key] = stored
	return nil
}
