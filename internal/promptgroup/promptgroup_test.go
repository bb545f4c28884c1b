package promptgroup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyPrefersCorrelationIDs(t *testing.T) {
	ts := time.Now()
	assert.Equal(t, "conv-1:req-9", Key("conv-1", "req-9", ts))
}

func TestKeyFallsBackToMinuteBucket(t *testing.T) {
	ts := time.UnixMilli(1_700_000_000_000)

	// Missing either id drops to the bucket.
	assert.Equal(t, BucketKey(ts), Key("conv-1", "", ts))
	assert.Equal(t, BucketKey(ts), Key("", "req-9", ts))

	// Same minute, same bucket; next minute, different bucket.
	assert.Equal(t, BucketKey(ts), BucketKey(ts.Add(30*time.Second)))
	assert.NotEqual(t, BucketKey(ts), BucketKey(ts.Add(BucketWidth)))
}

func TestKeyFromEntryID(t *testing.T) {
	ts := time.UnixMilli(1_700_000_123_456)

	key, ok := KeyFromEntryID("entry_1700000123456_ab12cd34")
	assert.True(t, ok)
	assert.Equal(t, BucketKey(ts), key)

	key, ok = KeyFromEntryID("entry_estimated_1700000123456_manual")
	assert.True(t, ok)
	assert.Equal(t, BucketKey(ts), key)

	_, ok = KeyFromEntryID("no-timestamp-here")
	assert.False(t, ok)
}
