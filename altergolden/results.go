package altergolden

import (
	"context"
	"strconv"
)

// SearchResult is one item returned by a content-provider adapter. The
// adapters themselves live upstream; this layer only caches what they
// return so paging through results doesn't re-hit provider APIs.
type SearchResult struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	URL    string `json:"url"`
	Source string `json:"source"`
	Score  int    `json:"score"`
	NSFW   bool   `json:"nsfw"`
}

// ResultStore caches provider search results keyed by (source, query,
// safe-search). Local-only: results are cheap to re-fetch and stale ones
// are worse than missing ones, so nothing is persisted.
type ResultStore struct {
	ks *Keyspace[[]SearchResult]
}

func NewResultStore(cache *Cache) *ResultStore {
	return &ResultStore{
		ks: NewKeyspace[[]SearchResult](
			cache,
			NamespaceSearchResults,
			NamespaceConfig{
				TTL:        DefaultSearchResultTTL,
				MaxEntries: DefaultSearchResultMax,
				Durable:    false,
			},
			nil,
		),
	}
}

func resultKey(source, query string, safe bool) string {
	return source + namespaceKeySeparator + query +
		namespaceKeySeparator + strconv.FormatBool(safe)
}

// Get returns cached results for the lookup, and whether any were cached.
func (r *ResultStore) Get(
	ctx context.Context,
	source string,
	query string,
	safe bool,
) ([]SearchResult, bool) {
	return r.ks.Lookup(ctx, resultKey(source, query, safe))
}

// Put caches results for the lookup.
func (r *ResultStore) Put(
	ctx context.Context,
	source string,
	query string,
	safe bool,
	results []SearchResult,
) {
	r.ks.Set(ctx, resultKey(source, query, safe), results)
}

// Invalidate drops cached results for the lookup.
func (r *ResultStore) Invalidate(
	ctx context.Context,
	source string,
	query string,
	safe bool,
) {
	r.ks.Delete(ctx, resultKey(source, query, safe))
}

// AutocompleteStore keeps each user's recent choices per command, used to
// seed slash-command autocomplete menus. Local-only and short-lived.
type AutocompleteStore struct {
	ks     *Keyspace[[]string]
	maxLen int
}

func NewAutocompleteStore(cache *Cache) *AutocompleteStore {
	return &AutocompleteStore{
		ks: NewKeyspace[[]string](
			cache,
			NamespaceAutocomplete,
			NamespaceConfig{
				TTL:        DefaultAutocompleteTTL,
				MaxEntries: DefaultAutocompleteMax,
				Durable:    false,
			},
			nil,
		),
		maxLen: DefaultAutocompleteLen,
	}
}

func autocompleteKey(userID, command string) string {
	return userID + namespaceKeySeparator + command
}

// Recent returns the user's recent choices for a command, newest first.
func (a *AutocompleteStore) Recent(
	ctx context.Context,
	userID string,
	command string,
) []string {
	return a.ks.Get(ctx, autocompleteKey(userID, command))
}

// Record notes a choice the user just made, moving it to the front and
// trimming the oldest entries beyond the maximum length.
func (a *AutocompleteStore) Record(
	ctx context.Context,
	userID string,
	command string,
	choice string,
) {
	key := autocompleteKey(userID, command)
	recent := a.ks.Get(ctx, key)

	deduped := make([]string, 0, len(recent)+1)
	deduped = append(deduped, choice)
	for _, c := range recent {
		if c != choice {
			deduped = append(deduped, c)
		}
	}
	if a.maxLen > 0 && len(deduped) > a.maxLen {
		deduped = deduped[:a.maxLen]
	}
	a.ks.Set(ctx, key, deduped)
}
