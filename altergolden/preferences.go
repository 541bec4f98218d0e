package altergolden

import "context"

// Preferences are per-user durable settings applied to every content
// lookup. A record is created lazily with defaults on first read and only
// ever removed by an explicit reset.
type Preferences struct {
	// SafeSearch filters NSFW results out of provider lookups
	SafeSearch bool `json:"safe_search"`

	// SortMode orders provider results ("top", "new", "random")
	SortMode string `json:"sort_mode"`

	// MinScore drops results rated below this threshold
	MinScore int `json:"min_score"`

	// CompactEmbeds collapses result embeds to a single line
	CompactEmbeds bool `json:"compact_embeds"`
}

// PreferencesPatch is a partial preference update: nil fields are left
// untouched by Apply.
type PreferencesPatch struct {
	SafeSearch    *bool   `json:"safe_search,omitempty"`
	SortMode      *string `json:"sort_mode,omitempty"`
	MinScore      *int    `json:"min_score,omitempty"`
	CompactEmbeds *bool   `json:"compact_embeds,omitempty"`
}

func DefaultPreferences() Preferences {
	return Preferences{
		SafeSearch: true,
		SortMode:   "top",
	}
}

// PreferencesStore holds durable per-user preference records.
type PreferencesStore struct {
	ks *Keyspace[Preferences]
}

func NewPreferencesStore(cache *Cache) *PreferencesStore {
	return &PreferencesStore{
		ks: NewKeyspace[Preferences](
			cache,
			NamespacePreferences,
			NamespaceConfig{
				TTL:        DefaultPreferencesTTL,
				MaxEntries: DefaultPreferencesMax,
				Durable:    true,
			},
			DefaultPreferences,
		),
	}
}

// Get returns the user's preferences, or defaults when no record exists
// locally yet.
func (p *PreferencesStore) Get(ctx context.Context, userID string) Preferences {
	return p.ks.Get(ctx, userID)
}

// Apply merges the patch over the user's existing record (or the defaults,
// when none exists) field by field and stores the result.
func (p *PreferencesStore) Apply(
	ctx context.Context,
	userID string,
	patch PreferencesPatch,
) Preferences {
	prefs := p.ks.Get(ctx, userID)
	if patch.SafeSearch != nil {
		prefs.SafeSearch = *patch.SafeSearch
	}
	if patch.SortMode != nil {
		prefs.SortMode = *patch.SortMode
	}
	if patch.MinScore != nil {
		prefs.MinScore = *patch.MinScore
	}
	if patch.CompactEmbeds != nil {
		prefs.CompactEmbeds = *patch.CompactEmbeds
	}
	p.ks.Set(ctx, userID, prefs)
	return prefs
}

// Reset hard-deletes the user's record; the next read sees defaults again.
func (p *PreferencesStore) Reset(ctx context.Context, userID string) {
	p.ks.Delete(ctx, userID)
}
