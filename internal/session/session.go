// Package session implements the session store: one mutable record per
// bounded unit of work, with entry references, derived token totals, and
// an inactivity timeout sweep.
package session

import (
	"errors"
	"time"
)

var (
	// ErrSessionEnded is returned when a mutation targets an ended session.
	// Ended sessions are immutable with respect to entries and activities.
	ErrSessionEnded = errors.New("session already ended")

	// ErrNoActiveSession is returned by operations that require an active
	// session when none exists.
	ErrNoActiveSession = errors.New("no active session")

	// ErrNotFound is returned when a session id is unknown.
	ErrNotFound = errors.New("session not found")
)

// Activity is one timestamped note attached to a session.
type Activity struct {
	Timestamp   time.Time              `json:"timestamp"`
	Type        string                 `json:"type"`
	Description string                 `json:"description"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Session represents one bounded unit of developer work. TokenEntries is a
// non-owning reference list; the referenced entries live in the entry log
// and survive independently.
type Session struct {
	ID             string     `json:"id"`
	StartTime      time.Time  `json:"startTime"`
	EndTime        *time.Time `json:"endTime"`
	ProjectID      *int       `json:"projectId,omitempty"`
	ProjectCode    string     `json:"projectCode,omitempty"`
	ProjectName    string     `json:"projectName,omitempty"`
	Description    string     `json:"description,omitempty"`
	ConversationID string     `json:"conversationId,omitempty"`
	TokenEntries   []string   `json:"tokenEntries"`
	TotalTokens    int64      `json:"totalTokens"`
	Activities     []Activity `json:"activities,omitempty"`
	Tags           []string   `json:"tags,omitempty"`
	PromptGroups   []string   `json:"promptGroups,omitempty"`
}

// Active reports whether the session is still open.
func (s *Session) Active() bool {
	return s.EndTime == nil
}

// HasEntry reports whether entryID is already referenced.
func (s *Session) HasEntry(entryID string) bool {
	for _, id := range s.TokenEntries {
		if id == entryID {
			return true
		}
	}
	return false
}

// HasPromptGroup reports whether the group key is already recorded.
func (s *Session) HasPromptGroup(key string) bool {
	for _, g := range s.PromptGroups {
		if g == key {
			return true
		}
	}
	return false
}

// lastActivityTime is the reference point for the timeout sweep: the
// latest of session start, the newest activity, and the newest referenced
// entry timestamp the resolver can still produce.
func (s *Session) lastActivityTime(resolver EntryResolver) time.Time {
	last := s.StartTime
	for _, a := range s.Activities {
		if a.Timestamp.After(last) {
			last = a.Timestamp
		}
	}
	if resolver != nil {
		for _, id := range s.TokenEntries {
			if ts, _, ok := resolver.ResolveEntry(id); ok && ts.After(last) {
				last = ts
			}
		}
	}
	return last
}
