package source

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedDB(t *testing.T, rows []Row) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.vscdb")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE generations (
		hash TEXT NOT NULL,
		model TEXT,
		file_name TEXT,
		file_extension TEXT,
		source TEXT,
		created_at INTEGER NOT NULL,
		conversation_id TEXT,
		request_id TEXT
	)`)
	require.NoError(t, err)

	for _, r := range rows {
		_, err = db.Exec(
			`INSERT INTO generations (hash, model, file_name, file_extension, source, created_at, conversation_id, request_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.Hash, r.Model, r.FileName, r.FileExtension, r.Source, r.CreatedAt, r.ConversationID, r.RequestID,
		)
		require.NoError(t, err)
	}
	return path
}

func TestRowsSinceFiltersAndOrders(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	path := seedDB(t, []Row{
		{Hash: "cc", CreatedAt: base.Add(2 * time.Minute).UnixMilli(), Source: "yyy"},
		{Hash: "aa", CreatedAt: base.Add(-time.Hour).UnixMilli(), Source: "old"},
		{Hash: "bb", CreatedAt: base.Add(time.Minute).UnixMilli(), Source: "xxx"},
	})

	rows, err := NewSQLiteSource(path).RowsSince(context.Background(), base)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "bb", rows[0].Hash)
	assert.Equal(t, "cc", rows[1].Hash)
}

func TestRowsSinceInclusiveThreshold(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	path := seedDB(t, []Row{
		{Hash: "exact", CreatedAt: base.UnixMilli(), Source: "s"},
	})

	rows, err := NewSQLiteSource(path).RowsSince(context.Background(), base)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "exact", rows[0].Hash)
}

func TestMissingDatabaseIsSourceUnavailable(t *testing.T) {
	src := NewSQLiteSource(filepath.Join(t.TempDir(), "nope.db"))
	_, err := src.RowsSince(context.Background(), time.Now())
	assert.ErrorIs(t, err, ErrSourceUnavailable)

	_, err = NewSQLiteSource("").RowsSince(context.Background(), time.Now())
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestNullColumnsScanClean(t *testing.T) {
	base := time.Now()
	path := seedDB(t, nil)

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO generations (hash, created_at) VALUES ('h1', ?)`, base.UnixMilli())
	require.NoError(t, err)
	db.Close()

	rows, err := NewSQLiteSource(path).RowsSince(context.Background(), base.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "h1", rows[0].Hash)
	assert.Empty(t, rows[0].Model)
	assert.Empty(t, rows[0].ConversationID)
}
