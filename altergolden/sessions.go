package altergolden

import (
	"context"
	"time"
)

// Session is the transient per-user, per-feature UI state behind paginated
// embeds: the result list being browsed, the "now showing" index, and any
// display toggles. Sessions are created on first interaction, refreshed on
// every subsequent one, and expire after a fixed window of inactivity.
type Session struct {
	Owner     string          `json:"owner"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Results   []string        `json:"results,omitempty"`
	Index     int             `json:"index"`
	Page      int             `json:"page"`
	Flags     map[string]bool `json:"flags,omitempty"`
}

// SessionStore keeps UI sessions keyed by (feature, user). Durable, so a
// user's pagination state survives a process restart (after one hydrating
// miss).
type SessionStore struct {
	ks  *Keyspace[Session]
	now func() time.Time
}

func NewSessionStore(cache *Cache) *SessionStore {
	return &SessionStore{
		ks: NewKeyspace[Session](
			cache,
			NamespaceSessions,
			NamespaceConfig{
				TTL:        DefaultSessionTTL,
				MaxEntries: DefaultSessionMaxEntries,
				Durable:    true,
			},
			nil,
		),
		now: time.Now,
	}
}

func sessionKey(feature, userID string) string {
	return feature + namespaceKeySeparator + userID
}

// Get returns the session for (feature, user) and whether one exists
// locally.
func (s *SessionStore) Get(
	ctx context.Context,
	feature string,
	userID string,
) (Session, bool) {
	return s.ks.Lookup(ctx, sessionKey(feature, userID))
}

// Save creates the session on first interaction and applies mutate to it,
// bumping UpdatedAt and renewing the TTL either way. It returns the stored
// session.
func (s *SessionStore) Save(
	ctx context.Context,
	feature string,
	userID string,
	mutate func(*Session),
) Session {
	key := sessionKey(feature, userID)
	sess, ok := s.ks.Lookup(ctx, key)
	now := s.now()
	if !ok {
		sess = Session{
			Owner:     userID,
			CreatedAt: now,
		}
	}
	if mutate != nil {
		mutate(&sess)
	}
	sess.UpdatedAt = now
	s.ks.Set(ctx, key, sess)
	return sess
}

// Touch renews the session's TTL and UpdatedAt without other changes. It
// reports false if no session exists.
func (s *SessionStore) Touch(
	ctx context.Context,
	feature string,
	userID string,
) (Session, bool) {
	return s.ks.Update(
		ctx,
		sessionKey(feature, userID),
		func(sess Session) Session {
			sess.UpdatedAt = s.now()
			return sess
		},
	)
}

// Clear removes the session, used when the owner explicitly dismisses the
// UI.
func (s *SessionStore) Clear(ctx context.Context, feature, userID string) {
	s.ks.Delete(ctx, sessionKey(feature, userID))
}
