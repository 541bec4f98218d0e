package altergolden

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/lmittmann/tint"
)

// memoryStore is an in-process BackingStore used by tests. It honors TTLs
// at read time and implements the same delete-reports-existed contract as
// the redis store.
type memoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryStoreEntry

	// failAll makes every operation return failErr, simulating an
	// unreachable store
	failAll bool
	failErr error

	gets    int
	sets    int
	deletes int
}

type memoryStoreEntry struct {
	value     []byte
	expiresAt time.Time
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		entries: map[string]memoryStoreEntry{},
		failErr: errors.New("store unavailable"),
	}
}

func (m *memoryStore) setFailing(failing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAll = failing
}

func (m *memoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.failAll {
		return nil, m.failErr
	}
	entry, ok := m.entries[key]
	if !ok {
		return nil, ErrStoreMiss
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		delete(m.entries, key)
		return nil, ErrStoreMiss
	}
	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, nil
}

func (m *memoryStore) Set(
	_ context.Context,
	key string,
	value []byte,
	ttl time.Duration,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets++
	if m.failAll {
		return m.failErr
	}
	entry := memoryStoreEntry{value: make([]byte, len(value))}
	copy(entry.value, value)
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	m.entries[key] = entry
	return nil
}

func (m *memoryStore) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	if m.failAll {
		return false, m.failErr
	}
	_, existed := m.entries[key]
	delete(m.entries, key)
	return existed, nil
}

func (m *memoryStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return false, m.failErr
	}
	_, ok := m.entries[key]
	return ok, nil
}

func (m *memoryStore) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return m.failErr
	}
	return nil
}

func (m *memoryStore) Close() error {
	return nil
}

func (m *memoryStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *memoryStore) value(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	return entry.value, ok
}

func testLogger(t testing.TB) *slog.Logger {
	t.Helper()
	return slog.New(
		tint.NewHandler(
			os.Stdout, &tint.Options{
				Level:     slog.LevelError,
				AddSource: true,
			},
		),
	)
}

// newTestCache returns a cache with fast writeback pacing and its
// background goroutines running until the test ends.
func newTestCache(t testing.TB, store BackingStore) *Cache {
	t.Helper()
	cache := NewCache(
		store,
		&CacheConfig{
			SweepInterval:      50 * time.Millisecond,
			WritebackBuffer:    256,
			WritebackPerSecond: 10000,
		},
		testLogger(t),
	)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go cache.Run(ctx)
	return cache
}
