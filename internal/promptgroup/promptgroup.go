// Package promptgroup holds the shared heuristic for grouping token entries
// into "prompts". When conversation and request correlation ids are present
// the group key is exact; otherwise entries are bucketed by time. Both the
// reconciler and the aggregator must use this package so the two call sites
// cannot drift apart.
package promptgroup

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// BucketWidth is the fallback grouping window. One minute matches the
// original sync script; it is an approximation, not a semantic guarantee.
const BucketWidth = time.Minute

var entryIDPattern = regexp.MustCompile(`entry_(estimated_)?(\d+)`)

// Key returns the prompt-group key for an activity observed at ts.
// Composite id key when both correlation ids are present, minute bucket
// otherwise.
func Key(conversationID, requestID string, ts time.Time) string {
	if conversationID != "" && requestID != "" {
		return conversationID + ":" + requestID
	}
	return BucketKey(ts)
}

// BucketKey returns the time-bucket key for ts.
func BucketKey(ts time.Time) string {
	return fmt.Sprintf("minute_%d", ts.UnixMilli()/BucketWidth.Milliseconds())
}

// KeyFromEntryID recovers a bucket key from an entry id of the form
// entry_<millis>_... or entry_estimated_<millis>_... Entries created before
// prompt grouping existed carry no stored group, so the aggregator falls
// back to the timestamp embedded in the id. Returns false if the id does
// not embed a timestamp.
func KeyFromEntryID(id string) (string, bool) {
	m := entryIDPattern.FindStringSubmatch(id)
	if m == nil {
		return "", false
	}
	millis, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return "", false
	}
	return BucketKey(time.UnixMilli(millis)), true
}
