package syncbridge

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hexdash/internal/session"
)

func openCache(t *testing.T) *CacheStorage {
	t.Helper()
	cache, err := NewCacheStorage(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestCacheStorageRoundTrip(t *testing.T) {
	cache := openCache(t)

	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	sessions := []*session.Session{
		{
			ID:           "s1",
			StartTime:    start,
			EndTime:      &end,
			ProjectCode:  "26Q1W22",
			Description:  "auth work",
			TokenEntries: []string{"entry_1_aaaa"},
			TotalTokens:  300,
			PromptGroups: []string{"conv:req"},
			Tags:         []string{"backend"},
		},
		{ID: "s2", StartTime: start.Add(2 * time.Hour)},
	}
	require.NoError(t, cache.Save(sessions))

	loaded, err := cache.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "s1", loaded[0].ID, "insertion order preserved")
	assert.Equal(t, int64(300), loaded[0].TotalTokens)
	assert.Equal(t, []string{"conv:req"}, loaded[0].PromptGroups)
	require.NotNil(t, loaded[0].EndTime)
	assert.True(t, loaded[0].EndTime.Equal(end))
	assert.Equal(t, "s2", loaded[1].ID)
}

func TestCacheStorageSaveReplacesWholeSet(t *testing.T) {
	cache := openCache(t)

	require.NoError(t, cache.Save([]*session.Session{
		{ID: "old1", StartTime: time.Now()},
		{ID: "old2", StartTime: time.Now()},
	}))
	require.NoError(t, cache.Save([]*session.Session{
		{ID: "new1", StartTime: time.Now()},
	}))

	loaded, err := cache.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "new1", loaded[0].ID)
}

func TestCacheStorageEmpty(t *testing.T) {
	cache := openCache(t)

	loaded, err := cache.Load()
	require.NoError(t, err)
	assert.Empty(t, loaded)

	id, err := cache.LoadActiveID()
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestCacheStorageActivePointer(t *testing.T) {
	cache := openCache(t)

	require.NoError(t, cache.SaveActiveID("s1"))
	id, err := cache.LoadActiveID()
	require.NoError(t, err)
	assert.Equal(t, "s1", id)

	// Upsert, then clear.
	require.NoError(t, cache.SaveActiveID("s2"))
	id, _ = cache.LoadActiveID()
	assert.Equal(t, "s2", id)

	require.NoError(t, cache.SaveActiveID(""))
	id, _ = cache.LoadActiveID()
	assert.Empty(t, id)
}

func TestCacheStorageReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")

	cache, err := NewCacheStorage(path)
	require.NoError(t, err)
	require.NoError(t, cache.Save([]*session.Session{{ID: "s1", StartTime: time.Now()}}))
	require.NoError(t, cache.SaveActiveID("s1"))
	require.NoError(t, cache.Close())

	reopened, err := NewCacheStorage(path)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "s1", loaded[0].ID)

	id, err := reopened.LoadActiveID()
	require.NoError(t, err)
	assert.Equal(t, "s1", id)
}
