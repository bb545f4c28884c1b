package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"hexdash/internal/logging"
)

// DefaultTimeout is the inactivity threshold for the automatic
// Active -> Ended transition.
const DefaultTimeout = 2 * time.Hour

// EntryResolver resolves a referenced entry id to its timestamp and token
// count. The entry log may have evicted old entries, so resolution is
// best-effort.
type EntryResolver interface {
	ResolveEntry(id string) (time.Time, int, bool)
}

// StartOptions configures Start.
type StartOptions struct {
	ProjectID      *int
	ProjectCode    string
	ProjectName    string
	Description    string
	ConversationID string
	Tags           []string

	// Force ends a still-active session before starting the new one.
	// Without it, Start returns the existing active session unchanged.
	Force bool
}

// Filter selects sessions in List. Zero values mean "no constraint".
type Filter struct {
	ProjectID   *int
	ProjectCode string
	From        time.Time
	To          time.Time
	ActiveOnly  bool
}

// Store owns the session records for one process. The active-session
// pointer is explicit state behind the Storage interface, never a hidden
// global. Every mutation reads, modifies and rewrites the whole document;
// a concurrent writer losing the race is accepted (last writer wins).
type Store struct {
	mu       sync.Mutex
	storage  Storage
	resolver EntryResolver
	timeout  time.Duration
	now      func() time.Time
}

// NewStore creates a session store over the given tier. resolver may be
// nil when entry-level history is unavailable.
func NewStore(storage Storage, resolver EntryResolver, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Store{
		storage:  storage,
		resolver: resolver,
		timeout:  timeout,
		now:      time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Start creates a new session. If one is already active and opts.Force is
// unset, the existing session is returned with a warning instead of an
// error. With Force, the previous session is ended first so at most one
// session is ever active.
func (s *Store) Start(opts StartOptions) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, activeID := s.load()
	activeID, _ = s.sweep(sessions, activeID)

	if active := findSession(sessions, activeID); active != nil && active.Active() && !opts.Force {
		logging.SessionWarn("Start requested while session %s is active; returning existing", active.ID)
		if err := s.persist(sessions, activeID); err != nil {
			return nil, err
		}
		return active, nil
	}

	// Force path: end anything still open so at most one session is active.
	for _, sess := range sessions {
		if sess.Active() {
			s.endSession(sess, "")
			logging.Session("Force-ended session %s to start a new one", sess.ID)
		}
	}

	sess := &Session{
		ID:             uuid.NewString(),
		StartTime:      s.now(),
		ProjectID:      opts.ProjectID,
		ProjectCode:    opts.ProjectCode,
		ProjectName:    opts.ProjectName,
		Description:    opts.Description,
		ConversationID: opts.ConversationID,
		TokenEntries:   []string{},
		Tags:           opts.Tags,
	}
	sessions = append(sessions, sess)

	if err := s.persist(sessions, sess.ID); err != nil {
		return nil, err
	}
	logging.Session("Started session %s (project=%s)", sess.ID, opts.ProjectCode)
	return sess, nil
}

// End closes the active session and returns it, or nil when none is
// active. Token totals are finalized per the adopt-if-recomputed-positive
// rule before the end time is stamped.
func (s *Store) End() (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, activeID := s.load()
	activeID, _ = s.sweep(sessions, activeID)

	active := findSession(sessions, activeID)
	if active == nil || !active.Active() {
		if err := s.persist(sessions, ""); err != nil {
			return nil, err
		}
		return nil, nil
	}

	s.endSession(active, "")
	if err := s.persist(sessions, ""); err != nil {
		return nil, err
	}
	logging.Session("Ended session %s (totalTokens=%d, entries=%d)",
		active.ID, active.TotalTokens, len(active.TokenEntries))
	return active, nil
}

// GetActive returns the current active session or nil. The timeout sweep
// always runs first.
func (s *Store) GetActive() (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, activeID := s.load()
	newActiveID, swept := s.sweep(sessions, activeID)
	if swept > 0 || newActiveID != activeID {
		if err := s.persist(sessions, newActiveID); err != nil {
			return nil, err
		}
	}

	active := findSession(sessions, newActiveID)
	if active == nil || !active.Active() {
		return nil, nil
	}
	return active, nil
}

// Get returns the session with the given id.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, _ := s.load()
	if sess := findSession(sessions, id); sess != nil {
		return sess, nil
	}
	return nil, ErrNotFound
}

// List returns sessions matching the filter, newest start time first.
func (s *Store) List(f Filter) ([]*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, _ := s.load()
	var out []*Session
	for _, sess := range sessions {
		if f.ProjectID != nil && (sess.ProjectID == nil || *sess.ProjectID != *f.ProjectID) {
			continue
		}
		if f.ProjectCode != "" && sess.ProjectCode != f.ProjectCode {
			continue
		}
		if !f.From.IsZero() && sess.StartTime.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && sess.StartTime.After(f.To) {
			continue
		}
		if f.ActiveOnly && !sess.Active() {
			continue
		}
		out = append(out, sess)
	}
	// startTime descending; stable insertion order for equal times
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].StartTime.After(out[i].StartTime) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

// AddEntryReference appends an entry id to the session's reference set.
// No-op with ErrSessionEnded for ended sessions; duplicates are ignored.
func (s *Store) AddEntryReference(sessionID, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, activeID := s.load()
	sess := findSession(sessions, sessionID)
	if sess == nil {
		return ErrNotFound
	}
	if !sess.Active() {
		return ErrSessionEnded
	}
	if sess.HasEntry(entryID) {
		return nil
	}
	sess.TokenEntries = append(sess.TokenEntries, entryID)
	return s.persist(sessions, activeID)
}

// AddActivity appends a timestamped activity record. Same immutability
// rule as AddEntryReference.
func (s *Store) AddActivity(sessionID string, activity Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, activeID := s.load()
	sess := findSession(sessions, sessionID)
	if sess == nil {
		return ErrNotFound
	}
	if !sess.Active() {
		return ErrSessionEnded
	}
	if activity.Timestamp.IsZero() {
		activity.Timestamp = s.now()
	}
	sess.Activities = append(sess.Activities, activity)
	return s.persist(sessions, activeID)
}

// ApplyImport records a reconciliation batch in one write: new entry
// references, new prompt group keys, and an additive token increase.
// Totals only ever grow here; they are never recomputed from scratch.
func (s *Store) ApplyImport(sessionID string, entryIDs, promptGroups []string, addTokens int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, activeID := s.load()
	sess := findSession(sessions, sessionID)
	if sess == nil {
		return ErrNotFound
	}
	if !sess.Active() {
		return ErrSessionEnded
	}

	for _, id := range entryIDs {
		if !sess.HasEntry(id) {
			sess.TokenEntries = append(sess.TokenEntries, id)
		}
	}
	for _, key := range promptGroups {
		if !sess.HasPromptGroup(key) {
			sess.PromptGroups = append(sess.PromptGroups, key)
		}
	}
	if addTokens > 0 {
		sess.TotalTokens += addTokens
	}
	return s.persist(sessions, activeID)
}

// AdoptTotalIfLarger installs a bulk-recomputed total, but only when it
// exceeds the stored value. Protects manually-added estimates and earlier
// resync results from being silently shrunk.
func (s *Store) AdoptTotalIfLarger(sessionID string, total int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, activeID := s.load()
	sess := findSession(sessions, sessionID)
	if sess == nil {
		return false, ErrNotFound
	}
	if total <= sess.TotalTokens {
		return false, nil
	}
	sess.TotalTokens = total
	if err := s.persist(sessions, activeID); err != nil {
		return false, err
	}
	return true, nil
}

// Sweep runs the timeout sweep and persists any transitions. Returns the
// number of sessions auto-ended. Idempotent: a second immediate call ends
// nothing.
func (s *Store) Sweep() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, activeID := s.load()
	newActiveID, ended := s.sweep(sessions, activeID)
	if ended == 0 && newActiveID == activeID {
		return 0, nil
	}
	if err := s.persist(sessions, newActiveID); err != nil {
		return ended, err
	}
	return ended, nil
}

// sweep applies the Active -> Ended transition to every session whose
// inactivity exceeds the threshold. Already-ended sessions are untouched.
// The active pointer is cleared only when it references a swept session.
func (s *Store) sweep(sessions []*Session, activeID string) (string, int) {
	now := s.now()
	ended := 0
	for _, sess := range sessions {
		if !sess.Active() {
			continue
		}
		idle := now.Sub(sess.lastActivityTime(s.resolver))
		if idle < s.timeout {
			continue
		}
		s.endSession(sess, fmt.Sprintf("Auto-ended after %s of inactivity", roundDuration(idle)))
		logging.Session("Timeout sweep ended session %s (idle %v)", sess.ID, idle)
		ended++
		if sess.ID == activeID {
			activeID = ""
		}
	}
	return activeID, ended
}

// endSession stamps the end time after finalizing totals. A synthesized
// description is installed only when the session has none.
func (s *Store) endSession(sess *Session, autoDescription string) {
	if sess.TotalTokens == 0 && s.resolver != nil {
		var sum int64
		for _, id := range sess.TokenEntries {
			if _, tokens, ok := s.resolver.ResolveEntry(id); ok {
				sum += int64(tokens)
			}
		}
		if sum > 0 {
			sess.TotalTokens = sum
		}
	}
	if autoDescription != "" && sess.Description == "" {
		sess.Description = autoDescription
	}
	now := s.now()
	sess.EndTime = &now
}

func (s *Store) load() ([]*Session, string) {
	sessions, err := s.storage.Load()
	if err != nil {
		logging.Get(logging.CategorySession).Warn("Session load failed, treating as empty: %v", err)
		sessions = nil
	}
	activeID, err := s.storage.LoadActiveID()
	if err != nil {
		activeID = ""
	}
	return sessions, activeID
}

func (s *Store) persist(sessions []*Session, activeID string) error {
	if err := s.storage.Save(sessions); err != nil {
		return fmt.Errorf("save sessions: %w", err)
	}
	if err := s.storage.SaveActiveID(activeID); err != nil {
		return fmt.Errorf("save active pointer: %w", err)
	}
	return nil
}

func findSession(sessions []*Session, id string) *Session {
	if id == "" {
		return nil
	}
	for _, sess := range sessions {
		if sess.ID == id {
			return sess
		}
	}
	return nil
}

// roundDuration renders an idle duration for the synthesized description:
// whole hours when at least an hour, minutes otherwise.
func roundDuration(d time.Duration) string {
	if d >= time.Hour {
		hours := int(d.Round(time.Hour) / time.Hour)
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	minutes := int(d.Round(time.Minute) / time.Minute)
	if minutes == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", minutes)
}
