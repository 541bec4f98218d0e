package altergolden

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPreferencesDefaults(t *testing.T) {
	cache := NewCache(nil, nil, testLogger(t))
	prefs := NewPreferencesStore(cache)
	ctx := context.Background()

	got := prefs.Get(ctx, "user1")
	assert.True(t, got.SafeSearch)
	assert.Equal(t, "top", got.SortMode)
	assert.Zero(t, got.MinScore)
}

func TestPreferencesApplyPartialPatch(t *testing.T) {
	cache := NewCache(nil, nil, testLogger(t))
	prefs := NewPreferencesStore(cache)
	ctx := context.Background()

	safeOff := false
	minScore := 50
	updated := prefs.Apply(
		ctx, "user1", PreferencesPatch{
			SafeSearch: &safeOff,
			MinScore:   &minScore,
		},
	)
	assert.False(t, updated.SafeSearch)
	assert.Equal(t, 50, updated.MinScore)
	// untouched fields keep their defaults
	assert.Equal(t, "top", updated.SortMode)

	// a later patch only changes what it names
	sortNew := "new"
	updated = prefs.Apply(ctx, "user1", PreferencesPatch{SortMode: &sortNew})
	assert.Equal(t, "new", updated.SortMode)
	assert.False(t, updated.SafeSearch)
	assert.Equal(t, 50, updated.MinScore)
}

func TestPreferencesReset(t *testing.T) {
	cache := NewCache(nil, nil, testLogger(t))
	prefs := NewPreferencesStore(cache)
	ctx := context.Background()

	safeOff := false
	prefs.Apply(ctx, "user1", PreferencesPatch{SafeSearch: &safeOff})
	assert.False(t, prefs.Get(ctx, "user1").SafeSearch)

	prefs.Reset(ctx, "user1")
	assert.True(t, prefs.Get(ctx, "user1").SafeSearch)
}
