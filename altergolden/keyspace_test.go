package altergolden

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRecord struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestKeyspaceDefaultOnMiss(t *testing.T) {
	cache := NewCache(nil, nil, testLogger(t))
	ks := NewKeyspace[testRecord](
		cache,
		"records",
		NamespaceConfig{TTL: time.Minute},
		func() testRecord { return testRecord{Name: "default", Count: 7} },
	)
	ctx := context.Background()

	got := ks.Get(ctx, "missing")
	assert.Equal(t, testRecord{Name: "default", Count: 7}, got)

	_, ok := ks.Lookup(ctx, "missing")
	assert.False(t, ok)
}

func TestKeyspaceRoundTrip(t *testing.T) {
	cache := NewCache(nil, nil, testLogger(t))
	ks := NewKeyspace[testRecord](
		cache,
		"records",
		NamespaceConfig{TTL: time.Minute},
		nil,
	)
	ctx := context.Background()

	ks.Set(ctx, "a", testRecord{Name: "first", Count: 1})

	got, ok := ks.Lookup(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, testRecord{Name: "first", Count: 1}, got)

	ks.Delete(ctx, "a")
	_, ok = ks.Lookup(ctx, "a")
	assert.False(t, ok)
}

func TestKeyspaceUpdate(t *testing.T) {
	cache := NewCache(nil, nil, testLogger(t))
	ks := NewKeyspace[testRecord](
		cache,
		"records",
		NamespaceConfig{TTL: time.Minute},
		nil,
	)
	ctx := context.Background()

	// updating an absent record is a no-op that reports false
	_, ok := ks.Update(
		ctx, "a", func(r testRecord) testRecord {
			r.Count++
			return r
		},
	)
	assert.False(t, ok)
	_, ok = ks.Lookup(ctx, "a")
	assert.False(t, ok, "failed update must not create a record")

	ks.Set(ctx, "a", testRecord{Name: "first", Count: 1})
	updated, ok := ks.Update(
		ctx, "a", func(r testRecord) testRecord {
			r.Count++
			return r
		},
	)
	require.True(t, ok)
	assert.Equal(t, 2, updated.Count)

	got := ks.Get(ctx, "a")
	assert.Equal(t, 2, got.Count)
}

func TestKeyspaceDropsUndecodableEntry(t *testing.T) {
	cache := NewCache(nil, nil, testLogger(t))
	ks := NewKeyspace[testRecord](
		cache,
		"records",
		NamespaceConfig{TTL: time.Minute},
		nil,
	)
	ctx := context.Background()

	// a raw write that isn't valid JSON for testRecord
	cache.Set(ctx, "records", "bad", []byte("not-json"))

	_, ok := ks.Lookup(ctx, "bad")
	assert.False(t, ok)
	assert.Zero(t, cache.Len("records"), "undecodable entry should be removed")
}
