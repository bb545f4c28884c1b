package reconcile

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hexdash/internal/entry"
	"hexdash/internal/session"
	"hexdash/internal/source"
)

// fakeSource serves rows from memory, honoring the threshold filter.
type fakeSource struct {
	rows []source.Row
	err  error
}

func (f *fakeSource) RowsSince(_ context.Context, threshold time.Time) ([]source.Row, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []source.Row
	for _, r := range f.rows {
		if r.CreatedAt >= threshold.UnixMilli() {
			out = append(out, r)
		}
	}
	return out, nil
}

func newFixture(t *testing.T, src source.Source) (*Reconciler, *entry.Store, *session.Store) {
	t.Helper()
	entries, err := entry.NewStore(filepath.Join(t.TempDir(), "token_entries.json"), 0)
	require.NoError(t, err)
	sessions := session.NewStore(session.NewMemoryStorage(), entries, 2*time.Hour)
	return New(entries, sessions, src), entries, sessions
}

func row(hash string, at time.Time, srcLen int, conv, req string) source.Row {
	return source.Row{
		Hash:           hash,
		Model:          "auto",
		FileName:       "main",
		FileExtension:  "go",
		Source:         strings.Repeat("x", srcLen),
		CreatedAt:      at.UnixMilli(),
		ConversationID: conv,
		RequestID:      req,
	}
}

func TestRunImportsRowsIntoActiveSession(t *testing.T) {
	t0 := time.Now().Add(-10 * time.Minute)
	src := &fakeSource{rows: []source.Row{
		row("aaaa1111bbbb", t0.Add(1*time.Minute), 400, "conv-1", "req-1"),
		row("cccc2222dddd", t0.Add(2*time.Minute), 400, "conv-1", "req-1"),
		row("eeee3333ffff", t0.Add(3*time.Minute), 400, "conv-1", "req-1"),
	}}
	r, entries, sessions := newFixture(t, src)

	sess, err := sessions.Start(session.StartOptions{ProjectCode: "26Q1W22"})
	require.NoError(t, err)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.NewEntries)
	assert.Equal(t, int64(300), res.NewTokens)
	assert.Equal(t, 1, res.NewPromptGroups, "shared conversation+request collapses to one prompt")

	got, err := sessions.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(300), got.TotalTokens)
	assert.Len(t, got.TokenEntries, 3)
	assert.Len(t, got.PromptGroups, 1)
	assert.Equal(t, 3, entries.Len())

	// Imported entries carry provenance and the session back-reference.
	e, ok := entries.Get(got.TokenEntries[0])
	require.True(t, ok)
	assert.Equal(t, true, e.Metadata[entry.MetaSyncedFromCursor])
	assert.Equal(t, sess.ID, e.Metadata[entry.MetaSessionID])
	assert.Equal(t, "26Q1W22", e.Project)
	assert.Equal(t, "main.go", e.File)
}

func TestRunIsIdempotent(t *testing.T) {
	t0 := time.Now().Add(-10 * time.Minute)
	src := &fakeSource{rows: []source.Row{
		row("aaaa1111", t0.Add(time.Minute), 400, "", ""),
		row("bbbb2222", t0.Add(2*time.Minute), 404, "", ""),
	}}
	r, entries, sessions := newFixture(t, src)
	sess, _ := sessions.Start(session.StartOptions{})

	first, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, first.NewEntries)

	second, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.NewEntries)
	assert.Equal(t, int64(0), second.NewTokens)
	assert.Equal(t, 2, second.SkippedExisting)

	got, _ := sessions.Get(sess.ID)
	assert.Equal(t, first.NewTokens, got.TotalTokens)
	assert.Len(t, got.TokenEntries, 2)
	assert.Equal(t, 2, entries.Len(), "no duplicate entries in the log")
}

func TestRunAdditiveTotals(t *testing.T) {
	t0 := time.Now().Add(-10 * time.Minute)
	src := &fakeSource{rows: []source.Row{
		row("aaaa1111", t0.Add(time.Minute), 4800, "", ""), // 1200 tokens
	}}
	r, _, sessions := newFixture(t, src)
	sess, _ := sessions.Start(session.StartOptions{})
	require.NoError(t, sessions.ApplyImport(sess.ID, nil, nil, 5000))

	_, err := r.Run(context.Background())
	require.NoError(t, err)

	got, _ := sessions.Get(sess.ID)
	assert.Equal(t, int64(6200), got.TotalTokens)
}

func TestRunRequiresActiveSession(t *testing.T) {
	r, _, _ := newFixture(t, &fakeSource{})
	_, err := r.Run(context.Background())
	assert.ErrorIs(t, err, session.ErrNoActiveSession)
}

func TestRunSourceUnavailableLeavesStateUntouched(t *testing.T) {
	r, entries, sessions := newFixture(t, &fakeSource{err: source.ErrSourceUnavailable})
	sess, _ := sessions.Start(session.StartOptions{})

	_, err := r.Run(context.Background())
	assert.ErrorIs(t, err, source.ErrSourceUnavailable)

	got, _ := sessions.Get(sess.ID)
	assert.Zero(t, got.TotalTokens)
	assert.Empty(t, got.TokenEntries)
	assert.Zero(t, entries.Len())
}

func TestRunSkipsRowsWithoutHash(t *testing.T) {
	t0 := time.Now().Add(-10 * time.Minute)
	src := &fakeSource{rows: []source.Row{
		row("", t0.Add(time.Minute), 400, "", ""),
		row("good1234", t0.Add(2*time.Minute), 400, "", ""),
	}}
	r, _, sessions := newFixture(t, src)
	sessions.Start(session.StartOptions{})

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.NewEntries)
	assert.Equal(t, 1, res.SkippedNoHash)
}

func TestRunMinuteBucketFallbackGrouping(t *testing.T) {
	// The three-row scenario: start at T0, rows at T0+1m/+2m/+3m, 400 chars
	// each. Without correlation ids every row lands in its own minute bucket.
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	src := &fakeSource{rows: []source.Row{
		row("aaaa1111", t0.Add(1*time.Minute), 400, "", ""),
		row("bbbb2222", t0.Add(2*time.Minute), 400, "", ""),
		row("cccc3333", t0.Add(3*time.Minute), 400, "", ""),
	}}
	r, _, sessions := newFixture(t, src)
	sessions.SetClock(func() time.Time { return t0 })
	sess, _ := sessions.Start(session.StartOptions{})
	sessions.SetClock(func() time.Time { return t0.Add(5 * time.Minute) })

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(300), res.NewTokens)
	assert.Equal(t, 3, res.NewPromptGroups, "one bucket per distinct minute")

	got, _ := sessions.Get(sess.ID)
	assert.Equal(t, int64(300), got.TotalTokens)
	assert.Len(t, got.TokenEntries, 3)
}

func TestRunHasNoUpperTimeBound(t *testing.T) {
	// Rows created after the moment end() would later be called still
	// belong to the session while it is active.
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	src := &fakeSource{rows: []source.Row{
		row("aaaa1111", t0.Add(90*time.Minute), 40, "", ""),
	}}
	r, _, sessions := newFixture(t, src)
	sessions.SetClock(func() time.Time { return t0 })
	sessions.Start(session.StartOptions{})
	// Reconcile "runs" at T0+95m; the row is only 5 minutes old.
	sessions.SetClock(func() time.Time { return t0.Add(95 * time.Minute) })

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.NewEntries)
}

func TestDeriveEntryID(t *testing.T) {
	r := source.Row{Hash: "0123456789abcdef", CreatedAt: 1700000000000}
	assert.Equal(t, "entry_1700000000000_01234567", DeriveEntryID(r))

	short := source.Row{Hash: "ab", CreatedAt: 5}
	assert.Equal(t, "entry_5_ab", DeriveEntryID(short))
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 100, EstimateTokens(strings.Repeat("a", 400)))
	assert.Equal(t, 101, EstimateTokens(strings.Repeat("a", 401)))
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("ab"))
}

func TestRecordManual(t *testing.T) {
	r, entries, sessions := newFixture(t, &fakeSource{})
	sess, _ := sessions.Start(session.StartOptions{ProjectCode: "26Q1W22"})

	id, err := r.RecordManual(250, "", "ported old notes")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "entry_estimated_"), "id = %q", id)

	got, _ := sessions.Get(sess.ID)
	assert.Equal(t, int64(250), got.TotalTokens)
	assert.Equal(t, []string{id}, got.TokenEntries)
	require.Len(t, got.Activities, 1)
	assert.Equal(t, "manual-log", got.Activities[0].Type)

	e, ok := entries.Get(id)
	require.True(t, ok)
	assert.Equal(t, 250, e.TokensUsed)
}

func TestRecordManualRequiresActiveSession(t *testing.T) {
	r, _, _ := newFixture(t, &fakeSource{})
	_, err := r.RecordManual(10, "", "")
	assert.ErrorIs(t, err, session.ErrNoActiveSession)
}
