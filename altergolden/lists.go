package altergolden

import (
	"context"
	"time"
)

// Favorite is one saved content item in a user's favorites list.
type Favorite struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	URL     string    `json:"url"`
	AddedAt time.Time `json:"added_at"`
}

// HistoryEntry records one content lookup in a user's view history.
type HistoryEntry struct {
	Query  string    `json:"query"`
	Source string    `json:"source"`
	At     time.Time `json:"at"`
}

// ListStore is a per-user ordered collection with a maximum retained size:
// new items push to the front, and overflow evicts from the tail. Both
// favorites and history use it.
type ListStore[T any] struct {
	ks     *Keyspace[[]T]
	maxLen int
}

func newListStore[T any](
	cache *Cache,
	name string,
	cfg NamespaceConfig,
	maxLen int,
) *ListStore[T] {
	return &ListStore[T]{
		ks:     NewKeyspace[[]T](cache, name, cfg, nil),
		maxLen: maxLen,
	}
}

// NewFavoritesStore returns the durable per-user favorites list.
func NewFavoritesStore(cache *Cache) *ListStore[Favorite] {
	return newListStore[Favorite](
		cache,
		NamespaceFavorites,
		NamespaceConfig{
			TTL:        DefaultFavoritesTTL,
			MaxEntries: DefaultFavoritesMax,
			Durable:    true,
		},
		DefaultFavoritesListLen,
	)
}

// NewHistoryStore returns the durable per-user view-history list.
func NewHistoryStore(cache *Cache) *ListStore[HistoryEntry] {
	return newListStore[HistoryEntry](
		cache,
		NamespaceHistory,
		NamespaceConfig{
			TTL:        DefaultHistoryTTL,
			MaxEntries: DefaultHistoryMax,
			Durable:    true,
		},
		DefaultHistoryListLen,
	)
}

// All returns the user's list, empty when no record exists locally.
func (l *ListStore[T]) All(ctx context.Context, userID string) []T {
	return l.ks.Get(ctx, userID)
}

// Push inserts item at the front of the user's list, dropping the oldest
// tail items beyond the maximum length, and returns the stored list.
func (l *ListStore[T]) Push(ctx context.Context, userID string, item T) []T {
	items := l.ks.Get(ctx, userID)
	items = append([]T{item}, items...)
	if l.maxLen > 0 && len(items) > l.maxLen {
		items = items[:l.maxLen]
	}
	l.ks.Set(ctx, userID, items)
	return items
}

// Clear removes the user's entire list.
func (l *ListStore[T]) Clear(ctx context.Context, userID string) {
	l.ks.Delete(ctx, userID)
}

// BlacklistStore is the per-user tag blacklist: a deduplicated, bounded
// set of tags excluded from that user's content lookups.
type BlacklistStore struct {
	ks     *Keyspace[[]string]
	maxLen int
}

func NewBlacklistStore(cache *Cache) *BlacklistStore {
	return &BlacklistStore{
		ks: NewKeyspace[[]string](
			cache,
			NamespaceBlacklist,
			NamespaceConfig{
				TTL:        DefaultBlacklistTTL,
				MaxEntries: DefaultBlacklistMax,
				Durable:    true,
			},
			nil,
		),
		maxLen: DefaultBlacklistLen,
	}
}

// All returns the user's blacklisted tags, empty when no record exists
// locally.
func (b *BlacklistStore) All(ctx context.Context, userID string) []string {
	return b.ks.Get(ctx, userID)
}

// Add appends the tag if it isn't already present, reporting whether the
// list changed. Adds beyond the maximum length are refused.
func (b *BlacklistStore) Add(
	ctx context.Context,
	userID string,
	tag string,
) bool {
	tags := b.ks.Get(ctx, userID)
	for _, t := range tags {
		if t == tag {
			return false
		}
	}
	if b.maxLen > 0 && len(tags) >= b.maxLen {
		return false
	}
	b.ks.Set(ctx, userID, append(tags, tag))
	return true
}

// Remove deletes the tag, reporting whether it was present.
func (b *BlacklistStore) Remove(
	ctx context.Context,
	userID string,
	tag string,
) bool {
	tags := b.ks.Get(ctx, userID)
	for i, t := range tags {
		if t == tag {
			b.ks.Set(ctx, userID, append(tags[:i], tags[i+1:]...))
			return true
		}
	}
	return false
}

// Contains reports whether the tag is blacklisted for the user.
func (b *BlacklistStore) Contains(
	ctx context.Context,
	userID string,
	tag string,
) bool {
	for _, t := range b.ks.Get(ctx, userID) {
		if t == tag {
			return true
		}
	}
	return false
}

// Clear removes the user's entire blacklist.
func (b *BlacklistStore) Clear(ctx context.Context, userID string) {
	b.ks.Delete(ctx, userID)
}
