// Package source reads the external activity log: the IDE's local sqlite
// database of code-generation events. The core only reads; the schema is
// the IDE's concern.
package source

import (
	"context"
	"errors"
	"time"
)

// ErrSourceUnavailable indicates the external activity database is missing
// or unreachable. Recoverable: callers abort without mutating state.
var ErrSourceUnavailable = errors.New("activity source unavailable")

// Row is one observed code-generation event. CreatedAt is epoch
// milliseconds, matching the IDE's storage format.
type Row struct {
	Hash           string
	Model          string
	FileName       string
	FileExtension  string
	Source         string
	CreatedAt      int64
	ConversationID string
	RequestID      string
}

// CreatedTime returns the row's creation instant.
func (r Row) CreatedTime() time.Time {
	return time.UnixMilli(r.CreatedAt)
}

// Source is an ordered, append-only collection of activity rows.
type Source interface {
	// RowsSince returns rows with creation time >= threshold, ascending
	// by creation time.
	RowsSince(ctx context.Context, threshold time.Time) ([]Row, error)
}
