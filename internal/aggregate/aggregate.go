// Package aggregate computes display-ready statistics over a filtered set
// of sessions.
package aggregate

import (
	"hexdash/internal/promptgroup"
	"hexdash/internal/session"
)

// RemoteCounts carries totals the remote tier already computed. When
// present, its prompt count wins over local derivation.
type RemoteCounts struct {
	TotalPrompts int64
}

// Summary is the aggregator output.
type Summary struct {
	TotalSessions   int     `json:"totalSessions"`
	TotalTokens     int64   `json:"totalTokens"`
	TotalPrompts    int64   `json:"totalPrompts"`
	TokensPerPrompt float64 `json:"tokensPerPrompt"`
}

// Summarize computes totals for the given sessions. Prompt counting is
// dual-path: stored prompt groups when a session has them, otherwise the
// entry ids are bucketed retroactively by their embedded timestamps. The
// fallback keeps sessions created before prompt grouping existed correct;
// do not collapse the two paths.
func Summarize(sessions []*session.Session, remote *RemoteCounts) Summary {
	s := Summary{TotalSessions: len(sessions)}

	for _, sess := range sessions {
		s.TotalTokens += sess.TotalTokens
	}

	if remote != nil && remote.TotalPrompts > 0 {
		s.TotalPrompts = remote.TotalPrompts
	} else {
		for _, sess := range sessions {
			s.TotalPrompts += promptCount(sess)
		}
	}

	if s.TotalPrompts > 0 {
		s.TokensPerPrompt = float64(s.TotalTokens) / float64(s.TotalPrompts)
	}
	return s
}

// promptCount derives the number of distinct prompts for one session.
func promptCount(sess *session.Session) int64 {
	if len(sess.PromptGroups) > 0 {
		return int64(len(sess.PromptGroups))
	}
	if len(sess.TokenEntries) == 0 {
		return 0
	}

	buckets := make(map[string]bool)
	for _, id := range sess.TokenEntries {
		if key, ok := promptgroup.KeyFromEntryID(id); ok {
			buckets[key] = true
		}
	}
	if len(buckets) == 0 {
		// Entries exist but none embed a timestamp: count one prompt.
		return 1
	}
	return int64(len(buckets))
}
