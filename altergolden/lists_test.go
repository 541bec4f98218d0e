package altergolden

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFavoritesPushFrontAndTrim(t *testing.T) {
	cache := NewCache(nil, nil, testLogger(t))
	favorites := NewFavoritesStore(cache)
	ctx := context.Background()

	for i := 0; i < DefaultFavoritesListLen+5; i++ {
		favorites.Push(
			ctx, "user1", Favorite{
				ID:      fmt.Sprintf("item-%d", i),
				Title:   fmt.Sprintf("Item %d", i),
				AddedAt: time.Now(),
			},
		)
	}

	items := favorites.All(ctx, "user1")
	require.Len(t, items, DefaultFavoritesListLen)

	// newest first; the oldest five fell off the tail
	assert.Equal(
		t,
		fmt.Sprintf("item-%d", DefaultFavoritesListLen+4),
		items[0].ID,
	)
	assert.Equal(t, "item-5", items[len(items)-1].ID)
}

func TestHistoryIsolatedPerUser(t *testing.T) {
	cache := NewCache(nil, nil, testLogger(t))
	history := NewHistoryStore(cache)
	ctx := context.Background()

	history.Push(ctx, "user1", HistoryEntry{Query: "cats", Source: "booru"})
	history.Push(ctx, "user2", HistoryEntry{Query: "dogs", Source: "booru"})

	got := history.All(ctx, "user1")
	require.Len(t, got, 1)
	assert.Equal(t, "cats", got[0].Query)

	history.Clear(ctx, "user1")
	assert.Empty(t, history.All(ctx, "user1"))
	assert.Len(t, history.All(ctx, "user2"), 1)
}

func TestBlacklistAddDeduplicates(t *testing.T) {
	cache := NewCache(nil, nil, testLogger(t))
	blacklist := NewBlacklistStore(cache)
	ctx := context.Background()

	assert.True(t, blacklist.Add(ctx, "user1", "gore"))
	assert.False(t, blacklist.Add(ctx, "user1", "gore"))
	assert.Len(t, blacklist.All(ctx, "user1"), 1)

	assert.True(t, blacklist.Contains(ctx, "user1", "gore"))
	assert.False(t, blacklist.Contains(ctx, "user1", "spiders"))
}

func TestBlacklistMaxLength(t *testing.T) {
	cache := NewCache(nil, nil, testLogger(t))
	blacklist := NewBlacklistStore(cache)
	ctx := context.Background()

	for i := 0; i < DefaultBlacklistLen; i++ {
		require.True(t, blacklist.Add(ctx, "user1", fmt.Sprintf("tag-%d", i)))
	}
	assert.False(
		t,
		blacklist.Add(ctx, "user1", "one-too-many"),
		"adds beyond the cap are refused",
	)
	assert.Len(t, blacklist.All(ctx, "user1"), DefaultBlacklistLen)

	// removing frees a slot
	assert.True(t, blacklist.Remove(ctx, "user1", "tag-0"))
	assert.True(t, blacklist.Add(ctx, "user1", "one-too-many"))
}

func TestBlacklistRemove(t *testing.T) {
	cache := NewCache(nil, nil, testLogger(t))
	blacklist := NewBlacklistStore(cache)
	ctx := context.Background()

	assert.False(t, blacklist.Remove(ctx, "user1", "gore"))

	blacklist.Add(ctx, "user1", "gore")
	blacklist.Add(ctx, "user1", "spiders")
	assert.True(t, blacklist.Remove(ctx, "user1", "gore"))
	assert.Equal(t, []string{"spiders"}, blacklist.All(ctx, "user1"))

	blacklist.Clear(ctx, "user1")
	assert.Empty(t, blacklist.All(ctx, "user1"))
}
