// Package entry implements the append-only, size-bounded token entry log.
package entry

import "time"

// Metadata keys recognized on an Entry.
const (
	MetaEntryID          = "entryId"
	MetaSessionID        = "sessionId"
	MetaConversationID   = "conversationId"
	MetaRequestID        = "requestId"
	MetaHash             = "hash"
	MetaSyncedFromCursor = "syncedFromCursor"
)

// Entry represents one observed unit of token-consuming activity.
// Entries are immutable once created and are never deleted individually;
// the store as a whole is trimmed to a maximum count, oldest first.
type Entry struct {
	Timestamp  time.Time              `json:"timestamp"`
	TokensUsed int                    `json:"tokensUsed"`
	Model      string                 `json:"model"`
	Operation  string                 `json:"operation"`
	Project    string                 `json:"project"`
	File       string                 `json:"file,omitempty"`
	Metadata   map[string]interface{} `json:"metadata"`
}

// ID returns the stable entry id carried in metadata, or "" if absent.
func (e Entry) ID() string {
	if e.Metadata == nil {
		return ""
	}
	id, _ := e.Metadata[MetaEntryID].(string)
	return id
}

// Filter selects entries by optional predicates. Zero values mean
// "no constraint". Time bounds are inclusive.
type Filter struct {
	Since     time.Time
	Until     time.Time
	Project   string
	Operation string
}

// Matches reports whether e satisfies every set predicate.
func (f Filter) Matches(e Entry) bool {
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	if f.Project != "" && e.Project != f.Project {
		return false
	}
	if f.Operation != "" && e.Operation != f.Operation {
		return false
	}
	return true
}

// Statistics summarizes a filtered view of the entry log.
type Statistics struct {
	Count       int              `json:"count"`
	TotalTokens int64            `json:"totalTokens"`
	AvgTokens   float64          `json:"avgTokens"`
	ByProject   map[string]int64 `json:"byProject"`
	ByOperation map[string]int64 `json:"byOperation"`
	ByModel     map[string]int64 `json:"byModel"`
}
