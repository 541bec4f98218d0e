package altergolden

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lmittmann/tint"
)

// Keyspace is a typed view over a single cache namespace. It's the one
// generic implementation of the hydrate-on-miss / evict-on-overflow
// repository shape every domain store composes, so the pattern isn't
// copy-pasted per feature.
//
// Values are serialized with JSON; the encoding is cache-private and never
// part of a wire contract. A miss (or an undecodable entry) yields the
// keyspace's default value rather than an error, so callers never deal in
// nils - the underlying Cache still hydrates asynchronously so a later
// read can return real data.
type Keyspace[T any] struct {
	cache      *Cache
	name       string
	defaultFn  func() T
	decodeFail func(key string, err error)
}

// NewKeyspace registers the namespace on the given cache and returns a
// typed view over it. defaultFn produces the value returned on miss; nil
// defaults to the zero value of T.
func NewKeyspace[T any](
	cache *Cache,
	name string,
	cfg NamespaceConfig,
	defaultFn func() T,
) *Keyspace[T] {
	cache.RegisterNamespace(name, cfg)
	if defaultFn == nil {
		defaultFn = func() T {
			var zero T
			return zero
		}
	}
	ks := &Keyspace[T]{
		cache:     cache,
		name:      name,
		defaultFn: defaultFn,
	}
	ks.decodeFail = func(key string, err error) {
		cache.logger.Warn(
			"dropping undecodable cache entry",
			"namespace", name,
			"key", key,
			tint.Err(err),
		)
		cache.Delete(context.Background(), name, key)
	}
	return ks
}

// Default returns the keyspace's default value.
func (k *Keyspace[T]) Default() T {
	return k.defaultFn()
}

// Get returns the value for id, or the default on a miss.
func (k *Keyspace[T]) Get(ctx context.Context, id string) T {
	v, ok := k.Lookup(ctx, id)
	if !ok {
		return k.defaultFn()
	}
	return v
}

// Lookup returns the value for id and whether it was present locally.
func (k *Keyspace[T]) Lookup(ctx context.Context, id string) (T, bool) {
	raw, ok := k.cache.Get(ctx, k.name, id)
	if !ok {
		var zero T
		return zero, false
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		k.decodeFail(id, err)
		var zero T
		return zero, false
	}
	return v, true
}

// Set writes the value for id. Encoding failures are logged and the write
// skipped; nothing in the repositories stores unencodable values.
func (k *Keyspace[T]) Set(
	ctx context.Context,
	id string,
	v T,
	ttlOverride ...time.Duration,
) {
	raw, err := json.Marshal(v)
	if err != nil {
		k.cache.logger.ErrorContext(
			ctx,
			"failed encoding cache value",
			"namespace", k.name,
			"key", id,
			tint.Err(err),
		)
		return
	}
	k.cache.Set(ctx, k.name, id, raw, ttlOverride...)
}

// Update applies a read-modify-write: it loads the existing record, passes
// it to patch, and stores the result. It reports false - without writing -
// when no record exists.
func (k *Keyspace[T]) Update(
	ctx context.Context,
	id string,
	patch func(T) T,
) (T, bool) {
	existing, ok := k.Lookup(ctx, id)
	if !ok {
		var zero T
		return zero, false
	}
	updated := patch(existing)
	k.Set(ctx, id, updated)
	return updated, true
}

// Delete removes the record for id.
func (k *Keyspace[T]) Delete(ctx context.Context, id string) {
	k.cache.Delete(ctx, k.name, id)
}
