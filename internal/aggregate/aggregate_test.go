package aggregate

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"hexdash/internal/session"
)

func sessionWith(tokens int64, groups []string, entries []string) *session.Session {
	return &session.Session{
		ID:           "s",
		StartTime:    time.Now(),
		TotalTokens:  tokens,
		PromptGroups: groups,
		TokenEntries: entries,
	}
}

func TestSummarizeTotalsAndStoredGroups(t *testing.T) {
	sessions := []*session.Session{
		sessionWith(300, []string{"g1"}, []string{"e1", "e2"}),
		sessionWith(700, []string{"g1", "g2"}, nil),
	}

	s := Summarize(sessions, nil)
	assert.Equal(t, int64(1000), s.TotalTokens)
	assert.Equal(t, int64(3), s.TotalPrompts)
	assert.InDelta(t, 333.33, s.TokensPerPrompt, 0.01)
}

func TestSummarizeRemoteCountWins(t *testing.T) {
	sessions := []*session.Session{
		sessionWith(1000, []string{"g1", "g2"}, nil),
	}

	s := Summarize(sessions, &RemoteCounts{TotalPrompts: 5})
	assert.Equal(t, int64(5), s.TotalPrompts)
	assert.Equal(t, float64(200), s.TokensPerPrompt)
}

func TestSummarizeFallbackBucketsEntryIDs(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	// Two ids in the same minute, one in the next: two buckets.
	ids := []string{
		fmt.Sprintf("entry_%d_aaaa", base.UnixMilli()),
		fmt.Sprintf("entry_%d_bbbb", base.Add(20*time.Second).UnixMilli()),
		fmt.Sprintf("entry_estimated_%d_manual", base.Add(time.Minute).UnixMilli()),
	}
	sessions := []*session.Session{sessionWith(400, nil, ids)}

	s := Summarize(sessions, nil)
	assert.Equal(t, int64(2), s.TotalPrompts)
	assert.Equal(t, float64(200), s.TokensPerPrompt)
}

func TestSummarizeCountsAtLeastOnePromptWhenEntriesExist(t *testing.T) {
	sessions := []*session.Session{
		sessionWith(100, nil, []string{"opaque-id-without-timestamp"}),
	}

	s := Summarize(sessions, nil)
	assert.Equal(t, int64(1), s.TotalPrompts)
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil, nil)
	assert.Zero(t, s.TotalTokens)
	assert.Zero(t, s.TotalPrompts)
	assert.Zero(t, s.TokensPerPrompt, "no division by zero")

	// Sessions without entries or groups contribute zero prompts.
	s = Summarize([]*session.Session{sessionWith(50, nil, nil)}, nil)
	assert.Equal(t, int64(50), s.TotalTokens)
	assert.Zero(t, s.TotalPrompts)
	assert.Zero(t, s.TokensPerPrompt)
}
