package altergolden

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
)

// Cache namespace names. Each domain repository owns exactly one; no two
// components write the same namespace.
const (
	NamespaceSessions      = "session"
	NamespacePreferences   = "prefs"
	NamespaceBlacklist     = "blacklist"
	NamespaceFavorites     = "fav"
	NamespaceHistory       = "history"
	NamespaceSearchResults = "results"
	NamespaceAutocomplete  = "autocomplete"
)

const (
	namespaceKeySeparator = ":"
	writebackOpTimeout    = 5 * time.Second
)

// NamespaceConfig is the per-namespace cache policy: how long local entries
// live, how many are kept, and whether writes are mirrored to the backing
// store.
type NamespaceConfig struct {
	// TTL for local entries (and the durable TTL for write-through).
	// Zero means entries never expire locally.
	TTL time.Duration

	// MaxEntries bounds the local tier. Zero means unbounded.
	MaxEntries int

	// Durable namespaces write through to the backing store and hydrate
	// from it on local misses.
	Durable bool
}

type cacheEntry struct {
	value      []byte
	insertedAt time.Time
	ttl        time.Duration
}

func (e cacheEntry) expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.insertedAt) > e.ttl
}

// namespace is one logical partition of the local tier. Eviction is strict
// FIFO by insertion order: reads never reorder entries, and overwriting an
// existing key keeps its original position, so a hot key can still be
// evicted ahead of idle ones. That trade-off bounds memory without
// tracking access recency.
type namespace struct {
	name    string
	cfg     NamespaceConfig
	entries map[string]*cacheEntry

	// insertion holds keys oldest-first
	insertion []string
}

func (n *namespace) removeKey(key string) {
	if _, ok := n.entries[key]; !ok {
		return
	}
	delete(n.entries, key)
	for i, k := range n.insertion {
		if k == key {
			n.insertion = append(n.insertion[:i], n.insertion[i+1:]...)
			break
		}
	}
}

type storeOpKind int

const (
	storeOpSet storeOpKind = iota
	storeOpDelete
)

type storeOp struct {
	kind  storeOpKind
	key   string
	value []byte
	ttl   time.Duration
}

// Cache is the dual-tier cache core: a registry of namespaces, each with a
// bounded in-process map in front of the (optional) backing store.
//
// All local operations are synchronous and lock-cheap; durable effects are
// submitted to a bounded writeback queue drained by a single background
// goroutine, so a caller never blocks on - or sees an error from - the
// network store. Durability here is best-effort, not transactional: a
// failed durable write is logged and counted, and the local value stands.
type Cache struct {
	mu         sync.Mutex
	namespaces map[string]*namespace

	// store is the durable tier. Nil disables durability entirely.
	store BackingStore

	logger *slog.Logger

	writeback chan storeOp
	limiter   *rate.Limiter

	sweepInterval time.Duration

	// hydrating tracks in-flight hydration fetches by namespaced key, so a
	// burst of misses on one key fetches it once
	hydrating map[string]struct{}

	now func() time.Time

	hits               atomic.Int64
	misses             atomic.Int64
	evictions          atomic.Int64
	expirations        atomic.Int64
	hydrations         atomic.Int64
	writebackFailures  atomic.Int64
	writebackDropped   atomic.Int64
	writebackSubmitted atomic.Int64
}

// CacheStats is a point-in-time snapshot of cache counters, exposed via the
// ops API.
type CacheStats struct {
	Hits               int64          `json:"hits"`
	Misses             int64          `json:"misses"`
	Evictions          int64          `json:"evictions"`
	Expirations        int64          `json:"expirations"`
	Hydrations         int64          `json:"hydrations"`
	WritebackSubmitted int64          `json:"writeback_submitted"`
	WritebackFailures  int64          `json:"writeback_failures"`
	WritebackDropped   int64          `json:"writeback_dropped"`
	NamespaceSizes     map[string]int `json:"namespace_sizes"`
}

// NewCache creates a Cache backed by the given store. A nil store is
// valid: every namespace then behaves as local-only, regardless of its
// Durable flag.
func NewCache(
	store BackingStore,
	cfg *CacheConfig,
	logger *slog.Logger,
) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = DefaultConfig().Cache
	}
	buffer := cfg.WritebackBuffer
	if buffer <= 0 {
		buffer = DefaultCacheWritebackBuffer
	}
	perSecond := cfg.WritebackPerSecond
	if perSecond <= 0 {
		perSecond = DefaultCacheWritebackPerSecond
	}
	sweep := cfg.SweepInterval
	if sweep <= 0 {
		sweep = DefaultCacheSweepInterval
	}
	return &Cache{
		namespaces:    map[string]*namespace{},
		store:         store,
		logger:        logger.With(loggerNameKey, "cache"),
		writeback:     make(chan storeOp, buffer),
		limiter:       rate.NewLimiter(rate.Limit(perSecond), 1),
		sweepInterval: sweep,
		hydrating:     map[string]struct{}{},
		now:           time.Now,
	}
}

// RegisterNamespace registers (or re-registers) a namespace. Registration
// is idempotent: registering an existing name replaces its config but
// keeps its data.
func (c *Cache) RegisterNamespace(name string, cfg NamespaceConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing := c.namespaces[name]
	if existing != nil {
		existing.cfg = cfg
		return
	}
	c.namespaces[name] = &namespace{
		name:    name,
		cfg:     cfg,
		entries: map[string]*cacheEntry{},
	}
}

func storeKey(ns, key string) string {
	return ns + namespaceKeySeparator + key
}

// Get returns the locally cached value for (ns, key). On a local miss in a
// durable namespace, it kicks off an asynchronous hydration fetch that
// populates the local tier for future calls - the in-flight call still
// reports absent. Callers must therefore treat a miss as "retry or use a
// default", never as proof the key doesn't exist.
func (c *Cache) Get(ctx context.Context, ns, key string) ([]byte, bool) {
	c.mu.Lock()
	n := c.namespaces[ns]
	if n == nil {
		c.mu.Unlock()
		c.logger.ErrorContext(
			ctx,
			"get on unregistered namespace",
			"namespace", ns,
		)
		return nil, false
	}

	entry := n.entries[key]
	if entry != nil && entry.expired(c.now()) {
		n.removeKey(key)
		c.expirations.Add(1)
		entry = nil
	}
	if entry != nil {
		value := make([]byte, len(entry.value))
		copy(value, entry.value)
		c.mu.Unlock()
		c.hits.Add(1)
		return value, true
	}

	durable := n.cfg.Durable && c.store != nil
	sk := storeKey(ns, key)
	if durable {
		if _, inflight := c.hydrating[sk]; inflight {
			durable = false
		} else {
			c.hydrating[sk] = struct{}{}
		}
	}
	c.mu.Unlock()

	c.misses.Add(1)
	if durable {
		go c.hydrate(context.WithoutCancel(ctx), ns, key)
	}
	return nil, false
}

// hydrate fetches (ns, key) from the backing store and, on success,
// populates the local tier - but only if the key is still absent, so a
// value written locally while the fetch was in flight is never clobbered
// by stale store data.
func (c *Cache) hydrate(ctx context.Context, ns, key string) {
	sk := storeKey(ns, key)
	defer func() {
		c.mu.Lock()
		delete(c.hydrating, sk)
		c.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, writebackOpTimeout)
	defer cancel()

	value, err := c.store.Get(ctx, sk)
	if err != nil {
		if !errors.Is(err, ErrStoreMiss) {
			c.logger.DebugContext(
				ctx,
				"hydration fetch failed",
				"namespace", ns,
				"key", key,
				tint.Err(err),
			)
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.namespaces[ns]
	if n == nil {
		return
	}
	if _, exists := n.entries[key]; exists {
		return
	}
	c.insertLocked(n, key, value, n.cfg.TTL)
	c.hydrations.Add(1)
}

// Set writes (ns, key) to the local tier synchronously, then - for durable
// namespaces - submits a fire-and-forget write to the backing store. The
// optional ttlOverride replaces the namespace TTL for this entry only.
func (c *Cache) Set(
	ctx context.Context,
	ns string,
	key string,
	value []byte,
	ttlOverride ...time.Duration,
) {
	c.mu.Lock()
	n := c.namespaces[ns]
	if n == nil {
		c.mu.Unlock()
		c.logger.ErrorContext(
			ctx,
			"set on unregistered namespace",
			"namespace", ns,
		)
		return
	}
	ttl := n.cfg.TTL
	if len(ttlOverride) > 0 {
		ttl = ttlOverride[0]
	}
	c.insertLocked(n, key, value, ttl)
	durable := n.cfg.Durable && c.store != nil
	c.mu.Unlock()

	if durable {
		c.submit(
			storeOp{
				kind:  storeOpSet,
				key:   storeKey(ns, key),
				value: value,
				ttl:   ttl,
			},
		)
	}
}

// insertLocked adds or replaces an entry, evicting the oldest-inserted
// entry first when the namespace is at capacity. Replacing an existing key
// renews its expiry clock but keeps its original insertion position.
func (c *Cache) insertLocked(
	n *namespace,
	key string,
	value []byte,
	ttl time.Duration,
) {
	if existing := n.entries[key]; existing != nil {
		n.entries[key] = &cacheEntry{
			value:      value,
			insertedAt: c.now(),
			ttl:        ttl,
		}
		return
	}

	if n.cfg.MaxEntries > 0 && len(n.entries) >= n.cfg.MaxEntries {
		for len(n.insertion) > 0 {
			oldest := n.insertion[0]
			n.insertion = n.insertion[1:]
			if _, ok := n.entries[oldest]; ok {
				delete(n.entries, oldest)
				c.evictions.Add(1)
				break
			}
		}
	}

	n.entries[key] = &cacheEntry{
		value:      value,
		insertedAt: c.now(),
		ttl:        ttl,
	}
	n.insertion = append(n.insertion, key)
}

// Delete removes (ns, key) locally and submits a fire-and-forget durable
// delete.
func (c *Cache) Delete(ctx context.Context, ns, key string) {
	c.mu.Lock()
	n := c.namespaces[ns]
	if n == nil {
		c.mu.Unlock()
		c.logger.ErrorContext(
			ctx,
			"delete on unregistered namespace",
			"namespace", ns,
		)
		return
	}
	n.removeKey(key)
	durable := n.cfg.Durable && c.store != nil
	c.mu.Unlock()

	if durable {
		c.submit(storeOp{kind: storeOpDelete, key: storeKey(ns, key)})
	}
}

// Len returns the local entry count for a namespace.
func (c *Cache) Len(ns string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.namespaces[ns]
	if n == nil {
		return 0
	}
	return len(n.entries)
}

// Stats returns a snapshot of cache counters and per-namespace sizes.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	sizes := make(map[string]int, len(c.namespaces))
	for name, n := range c.namespaces {
		sizes[name] = len(n.entries)
	}
	c.mu.Unlock()

	return CacheStats{
		Hits:               c.hits.Load(),
		Misses:             c.misses.Load(),
		Evictions:          c.evictions.Load(),
		Expirations:        c.expirations.Load(),
		Hydrations:         c.hydrations.Load(),
		WritebackSubmitted: c.writebackSubmitted.Load(),
		WritebackFailures:  c.writebackFailures.Load(),
		WritebackDropped:   c.writebackDropped.Load(),
		NamespaceSizes:     sizes,
	}
}

// submit enqueues a durable operation without ever blocking the caller.
// When the queue is full the op is dropped: durability for that write is
// lost, which is the documented degraded mode, so it's logged and counted
// rather than silently vanishing.
func (c *Cache) submit(op storeOp) {
	select {
	case c.writeback <- op:
		c.writebackSubmitted.Add(1)
	default:
		c.writebackDropped.Add(1)
		c.logger.Warn(
			"writeback queue full, dropping durable write",
			"key", op.key,
		)
	}
}

// Run starts the background sweep and writeback goroutines, blocking until
// ctx is cancelled.
func (c *Cache) Run(ctx context.Context) {
	wg := &sync.WaitGroup{}

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.drainWriteback(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(c.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed := c.sweep(c.now())
				if removed > 0 {
					c.logger.Debug("sweep removed expired entries", "count", removed)
				}
			}
		}
	}()

	wg.Wait()
}

// sweep removes every local entry older than its TTL. Durable-side TTLs
// are enforced by the store itself and aren't swept here.
func (c *Cache) sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, n := range c.namespaces {
		var expired []string
		for key, entry := range n.entries {
			if entry.expired(now) {
				expired = append(expired, key)
			}
		}
		for _, key := range expired {
			n.removeKey(key)
		}
		removed += len(expired)
	}
	if removed > 0 {
		c.expirations.Add(int64(removed))
	}
	return removed
}

func (c *Cache) drainWriteback(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-c.writeback:
			if err := c.limiter.Wait(ctx); err != nil {
				return
			}
			c.applyStoreOp(ctx, op)
		}
	}
}

func (c *Cache) applyStoreOp(ctx context.Context, op storeOp) {
	opCtx, cancel := context.WithTimeout(
		context.WithoutCancel(ctx),
		writebackOpTimeout,
	)
	defer cancel()

	var err error
	switch op.kind {
	case storeOpSet:
		err = c.store.Set(opCtx, op.key, op.value, op.ttl)
	case storeOpDelete:
		_, err = c.store.Delete(opCtx, op.key)
	}
	if err != nil {
		c.writebackFailures.Add(1)
		c.logger.Warn(
			"durable write failed, continuing local-only",
			"key", op.key,
			tint.Err(err),
		)
	}
}
