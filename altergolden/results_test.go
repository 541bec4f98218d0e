package altergolden

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultStoreKeyedBySafeSearch(t *testing.T) {
	cache := NewCache(nil, nil, testLogger(t))
	results := NewResultStore(cache)
	ctx := context.Background()

	safe := []SearchResult{{ID: "1", Title: "safe result"}}
	unsafe := []SearchResult{
		{ID: "1", Title: "safe result"},
		{ID: "2", Title: "other result", NSFW: true},
	}

	results.Put(ctx, "booru", "cats", true, safe)
	results.Put(ctx, "booru", "cats", false, unsafe)

	got, ok := results.Get(ctx, "booru", "cats", true)
	require.True(t, ok)
	assert.Len(t, got, 1)

	got, ok = results.Get(ctx, "booru", "cats", false)
	require.True(t, ok)
	assert.Len(t, got, 2)

	_, ok = results.Get(ctx, "otherbooru", "cats", true)
	assert.False(t, ok)

	results.Invalidate(ctx, "booru", "cats", true)
	_, ok = results.Get(ctx, "booru", "cats", true)
	assert.False(t, ok)
	_, ok = results.Get(ctx, "booru", "cats", false)
	assert.True(t, ok)
}

func TestAutocompleteRecordDedupesToFront(t *testing.T) {
	cache := NewCache(nil, nil, testLogger(t))
	autocomplete := NewAutocompleteStore(cache)
	ctx := context.Background()

	autocomplete.Record(ctx, "user1", "search", "cats")
	autocomplete.Record(ctx, "user1", "search", "dogs")
	autocomplete.Record(ctx, "user1", "search", "cats")

	recent := autocomplete.Recent(ctx, "user1", "search")
	assert.Equal(t, []string{"cats", "dogs"}, recent)
}

func TestAutocompleteTrimsToMaxLength(t *testing.T) {
	cache := NewCache(nil, nil, testLogger(t))
	autocomplete := NewAutocompleteStore(cache)
	ctx := context.Background()

	choices := []string{
		"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l",
	}
	for _, choice := range choices {
		autocomplete.Record(ctx, "user1", "search", choice)
	}

	recent := autocomplete.Recent(ctx, "user1", "search")
	require.Len(t, recent, DefaultAutocompleteLen)
	assert.Equal(t, "l", recent[0])

	// scoped per command
	assert.Empty(t, autocomplete.Recent(ctx, "user1", "play"))
}
