// Package cache implements a bounded in-memory TTL cache with sharded
// locking, expiry-on-read, and a periodic background sweep.
//
// Values are serialized to JSON on Set and deserialized on Get, so entries
// are immutable snapshots rather than shared references. Capacity is enforced
// by evicting the oldest-expiring 10% of entries when a new key would exceed
// it: an approximate-LRU-by-expiry policy, not true LRU, so callers must
// tolerate early eviction under load.
package cache

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"golang.org/x/sync/singleflight"

	"github.com/taskforge/guardkit/clock"
	"github.com/taskforge/guardkit/errors"
	"github.com/taskforge/guardkit/logger"
)

// MaxTTLSeconds is the largest TTL a caller may request (24 hours).
const MaxTTLSeconds int64 = 86400

// GetTTL sentinel results.
const (
	// TTLExpired is returned by GetTTL for a key whose entry has expired.
	TTLExpired int64 = -1
	// TTLAbsent is returned by GetTTL for a key with no entry.
	TTLAbsent int64 = -2
)

// EvictReason describes why entries were removed outside an explicit Delete.
type EvictReason string

const (
	// EvictExpired marks removals by the background sweep or expiry-on-read.
	EvictExpired EvictReason = "expired"
	// EvictCapacity marks removals made to keep the cache within capacity.
	EvictCapacity EvictReason = "capacity"
)

// Config configures a Cache.
type Config struct {
	// Capacity is the maximum number of live entries.
	Capacity int
	// DefaultTTL is applied when Set is called with ttlSeconds == 0.
	DefaultTTL time.Duration
	// SweepInterval is the cadence of the background expiry sweep.
	SweepInterval time.Duration
	// Namespace prefixes every key internally to avoid collisions with
	// other subsystems sharing the process.
	Namespace string
	// Shards is the number of lock shards for the key space.
	Shards int
	// Clock supplies the current time. Defaults to the real clock.
	Clock clock.Clock
	// Logger receives sweep and degradation logs. Nil disables logging.
	Logger *logger.Logger
	// OnEvict is called with the removal reason and count. Optional.
	OnEvict func(reason EvictReason, count int)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Capacity:      1000,
		DefaultTTL:    300 * time.Second,
		SweepInterval: 60 * time.Second,
		Namespace:     "guardkit",
		Shards:        16,
	}
}

// Cache is a bounded TTL key-value store safe for concurrent use.
type Cache struct {
	cfg    Config
	clk    clock.Clock
	log    *logger.Logger
	shards []*shard
	group  singleflight.Group

	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	evictions atomic.Int64
	expired   atomic.Int64

	// evictMu serializes new-key inserts so the capacity invariant holds
	// under parallel Set calls. Reads and same-key overwrites bypass it.
	evictMu sync.Mutex

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New creates a Cache. Call Start to begin the background sweep.
func New(cfg Config) *Cache {
	def := DefaultConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = def.DefaultTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.Namespace == "" {
		cfg.Namespace = def.Namespace
	}
	if cfg.Shards <= 0 {
		cfg.Shards = def.Shards
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}

	shards := make([]*shard, cfg.Shards)
	for i := range shards {
		shards[i] = newShard()
	}

	return &Cache{
		cfg:    cfg,
		clk:    cfg.Clock,
		log:    cfg.Logger.WithComponent("cache"),
		shards: shards,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Name identifies the cache to the runtime lifecycle registry.
func (c *Cache) Name() string { return "cache" }

// Start launches the periodic expiry sweep.
func (c *Cache) Start(ctx context.Context) error {
	go c.sweepLoop()
	return nil
}

// Stop halts the background sweep and waits for it to exit. Entries are not
// persisted; the cache is purely in-memory.
func (c *Cache) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stop) })
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Set stores value under key with the given TTL in seconds. A ttlSeconds of
// zero applies the configured default TTL. Returns InvalidKey, InvalidTTL,
// or SerializationError; on any error no mutation occurs.
func (c *Cache) Set(key string, value any, ttlSeconds int64) error {
	nk, err := c.namespacedKey(key)
	if err != nil {
		return err
	}
	ttl, err := c.resolveTTL(ttlSeconds)
	if err != nil {
		return err
	}

	data, merr := json.Marshal(value)
	if merr != nil {
		return errors.SerializationFailed(key, merr)
	}

	now := c.clk.Now()
	e := &entry{value: data, expiresAt: now.Add(ttl), storedAt: now}
	c.insert(nk, e)
	c.sets.Add(1)
	return nil
}

// insert stores the entry, evicting the oldest-expiring 10% first when a new
// key would push the cache past capacity.
func (c *Cache) insert(nk string, e *entry) {
	sh := c.shardFor(nk)
	if _, exists := sh.get(nk); exists {
		// Overwrite cannot grow the cache.
		sh.put(nk, e)
		return
	}

	c.evictMu.Lock()
	defer c.evictMu.Unlock()
	if c.totalKeys() >= c.cfg.Capacity {
		c.evictOldestExpiring()
	}
	sh.put(nk, e)
}

// evictOldestExpiring removes max(1, capacity/10) entries ordered by
// expiresAt ascending. Caller must hold evictMu.
func (c *Cache) evictOldestExpiring() {
	var all []keyExpiry
	for _, sh := range c.shards {
		all = sh.snapshotExpiries(all)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].expiresAt.Before(all[j].expiresAt) })

	n := c.cfg.Capacity / 10
	if n < 1 {
		n = 1
	}
	if n > len(all) {
		n = len(all)
	}
	removed := 0
	for _, ke := range all[:n] {
		if c.shardFor(ke.key).delete(ke.key) {
			removed++
		}
	}
	c.evictions.Add(int64(removed))
	c.log.Debug("capacity eviction", "removed", removed, "capacity", c.cfg.Capacity)
	if c.cfg.OnEvict != nil && removed > 0 {
		c.cfg.OnEvict(EvictCapacity, removed)
	}
}

// Get loads the value for key into dest, which must be a pointer. It returns
// false when the key is absent or expired. Expired entries are removed on
// read. Internal faults degrade to a miss rather than propagating a panic.
func (c *Cache) Get(key string, dest any) (found bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("cache get degraded to miss", "key", key, "panic", r)
			found, err = false, nil
		}
	}()

	nk, kerr := c.namespacedKey(key)
	if kerr != nil {
		return false, kerr
	}

	e, ok := c.liveEntry(nk)
	if !ok {
		c.misses.Add(1)
		return false, nil
	}
	if uerr := json.Unmarshal(e.value, dest); uerr != nil {
		c.misses.Add(1)
		return false, errors.SerializationFailed(key, uerr)
	}
	c.hits.Add(1)
	return true, nil
}

// Has reports whether key holds a live entry. It does not count toward hit
// rate and removes the entry if it is found expired.
func (c *Cache) Has(key string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("cache has degraded to miss", "key", key, "panic", r)
			ok = false
		}
	}()

	nk, err := c.namespacedKey(key)
	if err != nil {
		return false
	}
	_, ok = c.liveEntry(nk)
	return ok
}

// Delete removes key and reports whether an entry existed.
func (c *Cache) Delete(key string) bool {
	nk, err := c.namespacedKey(key)
	if err != nil {
		return false
	}
	return c.shardFor(nk).delete(nk)
}

// Increment atomically adds delta to the integer stored at key and returns
// the new value. An absent or expired key starts from zero and is created
// with the given TTL. A non-integer value fails with SerializationError.
func (c *Cache) Increment(key string, delta int64, ttlSeconds int64) (int64, error) {
	nk, err := c.namespacedKey(key)
	if err != nil {
		return 0, err
	}
	ttl, err := c.resolveTTL(ttlSeconds)
	if err != nil {
		return 0, err
	}

	sh := c.shardFor(nk)

	// Fast path: read-modify-write under the shard lock when the counter
	// already exists. Different keys never contend on a global lock here.
	if next, done, err := c.incrementExisting(sh, nk, key, delta); done {
		return next, err
	}

	// Slow path: creating a new counter is serialized with other new-key
	// inserts so capacity cannot be breached.
	c.evictMu.Lock()
	defer c.evictMu.Unlock()

	if next, done, err := c.incrementExisting(sh, nk, key, delta); done {
		return next, err
	}
	if c.totalKeys() >= c.cfg.Capacity {
		c.evictOldestExpiring()
	}
	now := c.clk.Now()
	sh.put(nk, &entry{
		value:     []byte(strconv.FormatInt(delta, 10)),
		expiresAt: now.Add(ttl),
		storedAt:  now,
	})
	return delta, nil
}

// incrementExisting applies delta to a live counter under the shard lock.
// done is false when the key is absent or expired and a new counter must be
// created by the caller.
func (c *Cache) incrementExisting(sh *shard, nk, key string, delta int64) (next int64, done bool, err error) {
	now := c.clk.Now()
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[nk]
	if !ok {
		return 0, false, nil
	}
	if !e.expiresAt.After(now) {
		delete(sh.entries, nk)
		return 0, false, nil
	}
	cur, perr := strconv.ParseInt(string(e.value), 10, 64)
	if perr != nil {
		return 0, true, errors.SerializationFailed(key, perr)
	}
	next = cur + delta
	e.value = []byte(strconv.FormatInt(next, 10))
	return next, true, nil
}

// GetTTL returns the remaining lifetime of key in whole seconds (rounded
// up), TTLExpired (-1) for an expired entry, or TTLAbsent (-2) when the key
// has no entry.
func (c *Cache) GetTTL(key string) int64 {
	nk, err := c.namespacedKey(key)
	if err != nil {
		return TTLAbsent
	}
	sh := c.shardFor(nk)
	e, ok := sh.get(nk)
	if !ok {
		return TTLAbsent
	}
	now := c.clk.Now()
	if !e.expiresAt.After(now) {
		sh.deleteIf(nk, e)
		return TTLExpired
	}
	return int64(math.Ceil(e.expiresAt.Sub(now).Seconds()))
}

// ExtendTTL resets the expiry of a live entry to now + ttlSeconds. It
// returns false when the key is absent or already expired.
func (c *Cache) ExtendTTL(key string, ttlSeconds int64) bool {
	nk, err := c.namespacedKey(key)
	if err != nil {
		return false
	}
	ttl, err := c.resolveTTL(ttlSeconds)
	if err != nil {
		return false
	}

	now := c.clk.Now()
	sh := c.shardFor(nk)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[nk]
	if !ok {
		return false
	}
	if !e.expiresAt.After(now) {
		delete(sh.entries, nk)
		return false
	}
	e.expiresAt = now.Add(ttl)
	return true
}

// SetMany stores every item with best-effort semantics: one failing item
// does not abort the batch. It returns the number stored and a map of
// per-key failures (empty when all succeeded).
func (c *Cache) SetMany(items map[string]any, ttlSeconds int64) (int, map[string]error) {
	failures := make(map[string]error)
	stored := 0
	for k, v := range items {
		if err := c.Set(k, v, ttlSeconds); err != nil {
			failures[k] = err
			continue
		}
		stored++
	}
	return stored, failures
}

// GetMany returns the raw serialized values for every live key in keys.
// Missing, expired, and invalid keys are simply absent from the result.
func (c *Cache) GetMany(keys []string) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(keys))
	for _, k := range keys {
		var raw json.RawMessage
		found, err := c.Get(k, &raw)
		if err != nil || !found {
			continue
		}
		out[k] = raw
	}
	return out
}

// DeleteMany removes every key in keys and returns how many existed.
func (c *Cache) DeleteMany(keys []string) int {
	removed := 0
	for _, k := range keys {
		if c.Delete(k) {
			removed++
		}
	}
	return removed
}

// GetOrLoad returns the cached value for key, or invokes loader on a miss,
// stores its result with the given TTL, and decodes it into dest. Concurrent
// loads for the same key are collapsed into a single loader call.
func (c *Cache) GetOrLoad(ctx context.Context, key string, ttlSeconds int64, loader func(context.Context) (any, error), dest any) error {
	found, err := c.Get(key, dest)
	if err != nil {
		return err
	}
	if found {
		return nil
	}

	nk, err := c.namespacedKey(key)
	if err != nil {
		return err
	}
	raw, err, _ := c.group.Do(nk, func() (any, error) {
		val, lerr := loader(ctx)
		if lerr != nil {
			return nil, lerr
		}
		if serr := c.Set(key, val, ttlSeconds); serr != nil {
			return nil, serr
		}
		data, merr := json.Marshal(val)
		if merr != nil {
			return nil, errors.SerializationFailed(key, merr)
		}
		return data, nil
	})
	if err != nil {
		return err
	}
	if uerr := json.Unmarshal(raw.([]byte), dest); uerr != nil {
		return errors.SerializationFailed(key, uerr)
	}
	return nil
}

// --- internals ---

// liveEntry returns the entry for nk if it has not expired, removing it on
// read when it has.
func (c *Cache) liveEntry(nk string) (*entry, bool) {
	sh := c.shardFor(nk)
	e, ok := sh.get(nk)
	if !ok {
		return nil, false
	}
	if !e.expiresAt.After(c.clk.Now()) {
		sh.deleteIf(nk, e)
		c.expired.Add(1)
		if c.cfg.OnEvict != nil {
			c.cfg.OnEvict(EvictExpired, 1)
		}
		return nil, false
	}
	return e, true
}

func (c *Cache) shardFor(nk string) *shard {
	return c.shards[shardIndex(nk, len(c.shards))]
}

func (c *Cache) totalKeys() int {
	total := 0
	for _, sh := range c.shards {
		total += sh.size()
	}
	return total
}

func (c *Cache) resolveTTL(ttlSeconds int64) (time.Duration, error) {
	if ttlSeconds < 0 || ttlSeconds > MaxTTLSeconds {
		return 0, errors.InvalidTTL(ttlSeconds, MaxTTLSeconds)
	}
	if ttlSeconds == 0 {
		return c.cfg.DefaultTTL, nil
	}
	return time.Duration(ttlSeconds) * time.Second, nil
}

// namespacedKey validates and normalizes a caller key. Whitespace and
// control characters are replaced rather than rejected; only a wholly empty
// key fails.
func (c *Cache) namespacedKey(key string) (string, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return "", errors.InvalidKey("key must be a non-empty string")
	}
	normalized := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return '_'
		}
		return r
	}, trimmed)
	return c.cfg.Namespace + ":" + normalized, nil
}

// sweepLoop runs the periodic expiry sweep until Stop.
func (c *Cache) sweepLoop() {
	defer close(c.done)
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// sweep removes every expired entry. A panic in bookkeeping is contained so
// the sweeper never takes the process down.
func (c *Cache) sweep() {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("cache sweep recovered", "panic", r)
		}
	}()

	now := c.clk.Now()
	removed := 0
	for _, sh := range c.shards {
		removed += sh.expireBefore(now)
	}
	if removed > 0 {
		c.expired.Add(int64(removed))
		c.log.Debug("expiry sweep", "removed", removed)
		if c.cfg.OnEvict != nil {
			c.cfg.OnEvict(EvictExpired, removed)
		}
	}
}
