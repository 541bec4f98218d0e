package altergolden

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStoreCreateOnFirstSave(t *testing.T) {
	cache := NewCache(nil, nil, testLogger(t))
	sessions := NewSessionStore(cache)
	ctx := context.Background()

	_, ok := sessions.Get(ctx, "search", "user1")
	assert.False(t, ok)

	sess := sessions.Save(
		ctx, "search", "user1", func(s *Session) {
			s.Results = []string{"r1", "r2", "r3"}
			s.Index = 1
		},
	)
	assert.Equal(t, "user1", sess.Owner)
	assert.Equal(t, 1, sess.Index)
	assert.False(t, sess.CreatedAt.IsZero())

	got, ok := sessions.Get(ctx, "search", "user1")
	require.True(t, ok)
	assert.Equal(t, []string{"r1", "r2", "r3"}, got.Results)
}

func TestSessionStoreSaveBumpsUpdatedAt(t *testing.T) {
	cache := NewCache(nil, nil, testLogger(t))
	sessions := NewSessionStore(cache)
	ctx := context.Background()

	now := time.Now()
	sessions.now = func() time.Time { return now }

	first := sessions.Save(ctx, "search", "user1", nil)

	now = now.Add(time.Minute)
	second := sessions.Save(
		ctx, "search", "user1", func(s *Session) {
			s.Index = 2
		},
	)

	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
	assert.Equal(t, 2, second.Index)
}

func TestSessionStoreSaveRenewsTTL(t *testing.T) {
	cache := NewCache(nil, nil, testLogger(t))
	sessions := NewSessionStore(cache)
	ctx := context.Background()

	now := time.Now()
	cache.now = func() time.Time { return now }

	sessions.Save(ctx, "search", "user1", nil)

	// interact again just before expiry; the window restarts
	now = now.Add(DefaultSessionTTL - time.Minute)
	sessions.Save(ctx, "search", "user1", nil)

	now = now.Add(DefaultSessionTTL - time.Minute)
	_, ok := sessions.Get(ctx, "search", "user1")
	assert.True(t, ok, "session touched within the window should survive")

	now = now.Add(2 * time.Minute)
	_, ok = sessions.Get(ctx, "search", "user1")
	assert.False(t, ok, "idle session should expire")
}

func TestSessionStoreTouch(t *testing.T) {
	cache := NewCache(nil, nil, testLogger(t))
	sessions := NewSessionStore(cache)
	ctx := context.Background()

	_, ok := sessions.Touch(ctx, "search", "user1")
	assert.False(t, ok, "touch must not create a session")

	sessions.Save(ctx, "search", "user1", nil)
	_, ok = sessions.Touch(ctx, "search", "user1")
	assert.True(t, ok)
}

func TestSessionStoreScopedByFeatureAndUser(t *testing.T) {
	cache := NewCache(nil, nil, testLogger(t))
	sessions := NewSessionStore(cache)
	ctx := context.Background()

	sessions.Save(
		ctx, "search", "user1", func(s *Session) { s.Index = 1 },
	)
	sessions.Save(
		ctx, "favorites", "user1", func(s *Session) { s.Index = 9 },
	)
	sessions.Save(
		ctx, "search", "user2", func(s *Session) { s.Index = 5 },
	)

	got, ok := sessions.Get(ctx, "search", "user1")
	require.True(t, ok)
	assert.Equal(t, 1, got.Index)

	got, ok = sessions.Get(ctx, "favorites", "user1")
	require.True(t, ok)
	assert.Equal(t, 9, got.Index)

	sessions.Clear(ctx, "search", "user1")
	_, ok = sessions.Get(ctx, "search", "user1")
	assert.False(t, ok)
	_, ok = sessions.Get(ctx, "search", "user2")
	assert.True(t, ok)
}
