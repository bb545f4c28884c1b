package reconcile

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hexdash/internal/session"
	"hexdash/internal/source"
)

func TestResyncRecomputesTotalsPerSessionWindow(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	src := &fakeSource{}
	r, _, sessions := newFixture(t, src)

	// First session: t0 .. t0+10m, then a second one from t0+20m, active.
	sessions.SetClock(func() time.Time { return t0 })
	first, _ := sessions.Start(session.StartOptions{})
	sessions.SetClock(func() time.Time { return t0.Add(10 * time.Minute) })
	_, err := sessions.End()
	require.NoError(t, err)
	sessions.SetClock(func() time.Time { return t0.Add(20 * time.Minute) })
	second, _ := sessions.Start(session.StartOptions{})
	sessions.SetClock(func() time.Time { return t0.Add(30 * time.Minute) })

	src.rows = []source.Row{
		row("aaaa1111", t0.Add(5*time.Minute), 400, "", ""),  // first session window
		row("bbbb2222", t0.Add(25*time.Minute), 800, "", ""), // second session window
	}

	res, err := r.Resync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.SessionsSeen)
	assert.Equal(t, 2, res.SessionsUpdated)

	got1, _ := sessions.Get(first.ID)
	assert.Equal(t, int64(100), got1.TotalTokens, "ended session bounded by its end time")

	got2, _ := sessions.Get(second.ID)
	assert.Equal(t, int64(200), got2.TotalTokens)
}

func TestResyncIsIdempotentAndNeverShrinks(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	src := &fakeSource{rows: []source.Row{
		row("aaaa1111", t0.Add(time.Minute), 400, "", ""),
	}}
	r, _, sessions := newFixture(t, src)
	sessions.SetClock(func() time.Time { return t0 })
	sess, _ := sessions.Start(session.StartOptions{})
	sessions.SetClock(func() time.Time { return t0.Add(5 * time.Minute) })

	// A manual estimate larger than the recomputation must survive.
	require.NoError(t, sessions.ApplyImport(sess.ID, nil, nil, 9000))

	res, err := r.Resync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.SessionsUpdated)

	got, _ := sessions.Get(sess.ID)
	assert.Equal(t, int64(9000), got.TotalTokens)

	// Re-run with no new data changes nothing.
	res, err = r.Resync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.SessionsUpdated)
}

func TestResyncSourceUnavailable(t *testing.T) {
	r, _, sessions := newFixture(t, &fakeSource{err: source.ErrSourceUnavailable})
	sessions.Start(session.StartOptions{})

	_, err := r.Resync(context.Background())
	assert.ErrorIs(t, err, source.ErrSourceUnavailable)
}

func TestResyncSkipsHashlessRows(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	src := &fakeSource{rows: []source.Row{
		{Hash: "", Source: strings.Repeat("x", 4000), CreatedAt: t0.Add(time.Minute).UnixMilli()},
		row("aaaa1111", t0.Add(2*time.Minute), 400, "", ""),
	}}
	r, _, sessions := newFixture(t, src)
	sessions.SetClock(func() time.Time { return t0 })
	sess, _ := sessions.Start(session.StartOptions{})
	sessions.SetClock(func() time.Time { return t0.Add(5 * time.Minute) })

	_, err := r.Resync(context.Background())
	require.NoError(t, err)

	got, _ := sessions.Get(sess.ID)
	assert.Equal(t, int64(100), got.TotalTokens)
}
