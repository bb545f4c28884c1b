package entry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"hexdash/internal/logging"
)

// DefaultMaxEntries bounds the log; oldest entries are evicted first.
const DefaultMaxEntries = 10000

const logVersion = "1.0"

// logDocument is the on-disk shape of the entry log.
type logDocument struct {
	Entries  []Entry     `json:"entries"`
	Metadata logMetadata `json:"metadata"`
}

type logMetadata struct {
	Version      string    `json:"version"`
	Created      time.Time `json:"created"`
	LastUpdated  time.Time `json:"lastUpdated"`
	TotalEntries int       `json:"totalEntries"`
}

// Store is the persistent token entry log. Every mutation rewrites the
// whole file; there are no incremental append semantics to reason about.
type Store struct {
	mu         sync.RWMutex
	filePath   string
	maxEntries int
	doc        logDocument
}

// NewStore opens (or creates) the entry log at path. A corrupt or missing
// file is treated as an empty store, never an error.
func NewStore(path string, maxEntries int) (*Store, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	s := &Store{
		filePath:   path,
		maxEntries: maxEntries,
		doc: logDocument{
			Metadata: logMetadata{Version: logVersion, Created: time.Now()},
		},
	}
	s.load()
	return s, nil
}

// load reads the log from disk, failing open to an empty store.
func (s *Store) load() {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Get(logging.CategoryEntries).Warn("Failed to read entry log %s: %v", s.filePath, err)
		}
		return
	}

	var doc logDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		logging.Get(logging.CategoryEntries).Warn("Corrupt entry log %s, starting empty: %v", s.filePath, err)
		return
	}
	if doc.Metadata.Version == "" {
		doc.Metadata.Version = logVersion
	}
	s.doc = doc
	logging.EntriesDebug("Loaded %d entries from %s", len(doc.Entries), s.filePath)
}

// Append persists a fully-formed entry. The caller supplies a populated
// entryId; the store assigns nothing. Oldest entries are evicted after the
// append when the store exceeds capacity.
func (s *Store) Append(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.doc.Entries = append(s.doc.Entries, e)
	if over := len(s.doc.Entries) - s.maxEntries; over > 0 {
		s.doc.Entries = s.doc.Entries[over:]
	}
	return s.saveLocked()
}

// AppendAll persists a batch with a single rewrite.
func (s *Store) AppendAll(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.doc.Entries = append(s.doc.Entries, entries...)
	if over := len(s.doc.Entries) - s.maxEntries; over > 0 {
		s.doc.Entries = s.doc.Entries[over:]
	}
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	s.doc.Metadata.LastUpdated = time.Now()
	s.doc.Metadata.TotalEntries = len(s.doc.Entries)

	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.filePath, data, 0644); err != nil {
		logging.Get(logging.CategoryEntries).Error("Failed to write entry log: %v", err)
		return err
	}
	logging.EntriesDebug("Entry log rewritten: %d entries", len(s.doc.Entries))
	return nil
}

// Query returns entries matching the filter, ordered by timestamp
// ascending with insertion order breaking ties. The result is a fresh
// slice; iterating it is restartable by construction.
func (s *Store) Query(f Filter) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for _, e := range s.doc.Entries {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Get returns the entry with the given id, if present.
func (s *Store) Get(id string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.doc.Entries {
		if e.ID() == id {
			return e, true
		}
	}
	return Entry{}, false
}

// ResolveEntry resolves an entry id to its timestamp and token count.
// Satisfies the session store's resolver; evicted entries do not resolve.
func (s *Store) ResolveEntry(id string) (time.Time, int, bool) {
	e, ok := s.Get(id)
	if !ok {
		return time.Time{}, 0, false
	}
	return e.Timestamp, e.TokensUsed, true
}

// Len returns the number of retained entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.doc.Entries)
}

// ComputeStatistics aggregates the filtered view: count, token sum,
// average, and token-sum groupings by project, operation, and model.
func (s *Store) ComputeStatistics(f Filter) Statistics {
	timer := logging.StartTimer(logging.CategoryEntries, "ComputeStatistics")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Statistics{
		ByProject:   make(map[string]int64),
		ByOperation: make(map[string]int64),
		ByModel:     make(map[string]int64),
	}
	for _, e := range s.doc.Entries {
		if !f.Matches(e) {
			continue
		}
		tokens := int64(e.TokensUsed)
		stats.Count++
		stats.TotalTokens += tokens
		if e.Project != "" {
			stats.ByProject[e.Project] += tokens
		}
		if e.Operation != "" {
			stats.ByOperation[e.Operation] += tokens
		}
		if e.Model != "" {
			stats.ByModel[e.Model] += tokens
		}
	}
	if stats.Count > 0 {
		stats.AvgTokens = float64(stats.TotalTokens) / float64(stats.Count)
	}
	return stats
}
