// Package rescache implements the resource cache: a TTL+LRU cache of
// read-only resource payloads, where InvalidateDevice evicts every entry
// indexed against a given device. Two tiers: an in-process sharded
// map as the hot path, with Redis pub/sub carrying cross-process
// invalidation so a write served by one process instance evicts cached
// reads held by another, and singleflight coalescing concurrent misses on
// the same key.
package rescache

import (
	"container/list"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/wrenops/netguard-mcp/internal/telemetry"
)

const invalidationChannel = "netguard:rescache:invalidate"

const shardCount = 16

type entry struct {
	key       string
	value     json.RawMessage
	deviceIDs []string
	expiresAt time.Time
	elem      *list.Element
}

// shard is one of the cache's sharded maps, each guarded by its own mutex
// so concurrent lookups against keys in different shards never contend.
type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List // LRU order, front = most recently used
	cap     int
}

// Cache is the process-wide ResourceCache.
type Cache struct {
	shards      [shardCount]*shard
	defaultTTL  time.Duration
	redis       *redis.Client
	logger      *slog.Logger
	group       singleflight.Group
	deviceIndex sync.Map // deviceID string -> map[string]struct{} of cache keys
}

// New constructs a Cache. maxEntries is the total entry budget across all
// shards (default 1000); defaultTTL is used when Set is called without an
// explicit TTL (default 300s).
func New(rdb *redis.Client, maxEntries int, defaultTTL time.Duration, logger *slog.Logger) *Cache {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	if defaultTTL <= 0 {
		defaultTTL = 300 * time.Second
	}
	c := &Cache{redis: rdb, defaultTTL: defaultTTL, logger: logger}
	perShard := maxEntries / shardCount
	if perShard < 1 {
		perShard = 1
	}
	for i := range c.shards {
		c.shards[i] = &shard{entries: make(map[string]*entry), order: list.New(), cap: perShard}
	}
	return c
}

// Run subscribes to the cross-process invalidation channel and evicts keys
// named in incoming messages; it blocks until ctx is cancelled.
func (c *Cache) Run(ctx context.Context) {
	if c.redis == nil {
		return
	}
	sub := c.redis.Subscribe(ctx, invalidationChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			c.evictLocal(msg.Payload)
		}
	}
}

// Get returns the cached payload for key if present and unexpired.
func (c *Cache) Get(key string) (json.RawMessage, bool) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		telemetry.CacheHitsTotal.WithLabelValues("miss").Inc()
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		s.remove(e)
		telemetry.CacheHitsTotal.WithLabelValues("miss").Inc()
		return nil, false
	}
	s.order.MoveToFront(e.elem)
	telemetry.CacheHitsTotal.WithLabelValues("hit").Inc()
	return e.value, true
}

// Set stores value under key with ttl (0 uses the cache's default TTL),
// indexed against deviceIDs so a later InvalidateDevice call can find it.
func (c *Cache) Set(key string, value json.RawMessage, ttl time.Duration, deviceIDs ...string) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	s := c.shardFor(key)
	s.mu.Lock()
	if existing, ok := s.entries[key]; ok {
		s.remove(existing)
	}
	e := &entry{key: key, value: value, deviceIDs: deviceIDs, expiresAt: time.Now().Add(ttl)}
	e.elem = s.order.PushFront(e)
	s.entries[key] = e
	for s.order.Len() > s.cap {
		oldest := s.order.Back()
		if oldest == nil {
			break
		}
		s.remove(oldest.Value.(*entry))
	}
	s.mu.Unlock()

	for _, id := range deviceIDs {
		c.indexKey(id, key)
	}
}

// GetOrLoad returns the cached value for key, or calls load to populate
// it, coalescing concurrent callers for the same key into a single load so
// a cold entry does not trigger a thundering herd.
func (c *Cache) GetOrLoad(ctx context.Context, key string, ttl time.Duration, deviceIDs []string, load func(ctx context.Context) (json.RawMessage, error)) (json.RawMessage, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err, shared := c.group.Do(key, func() (any, error) {
		value, loadErr := load(ctx)
		if loadErr != nil {
			return nil, loadErr
		}
		c.Set(key, value, ttl, deviceIDs...)
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		telemetry.CacheHitsTotal.WithLabelValues("coalesced").Inc()
	}
	return v.(json.RawMessage), nil
}

// InvalidateDevice evicts every cached key registered against deviceID, both
// locally and (via pub/sub) on every other process sharing this Redis
// instance, so a write to a device invalidates every cached entry whose
// key references that device.
func (c *Cache) InvalidateDevice(ctx context.Context, deviceID string) {
	keys := c.keysForDevice(deviceID)
	for _, key := range keys {
		c.evictLocal(key)
		if c.redis != nil {
			if err := c.redis.Publish(ctx, invalidationChannel, key).Err(); err != nil && c.logger != nil {
				c.logger.Warn("publishing cache invalidation", "key", key, "error", err)
			}
		}
	}
	c.deviceIndex.Delete(deviceID)
}

func (c *Cache) evictLocal(key string) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		s.remove(e)
	}
}

func (c *Cache) indexKey(deviceID, key string) {
	raw, _ := c.deviceIndex.LoadOrStore(deviceID, &sync.Map{})
	keySet := raw.(*sync.Map)
	keySet.Store(key, struct{}{})
}

func (c *Cache) keysForDevice(deviceID string) []string {
	raw, ok := c.deviceIndex.Load(deviceID)
	if !ok {
		return nil
	}
	keySet := raw.(*sync.Map)
	var keys []string
	keySet.Range(func(k, _ any) bool {
		keys = append(keys, k.(string))
		return true
	})
	return keys
}

func (c *Cache) shardFor(key string) *shard {
	return c.shards[fnv32(key)%shardCount]
}

// remove deletes e from the shard's map and LRU list; callers hold s.mu.
func (s *shard) remove(e *entry) {
	delete(s.entries, e.key)
	s.order.Remove(e.elem)
}

// fnv32 is a small, dependency-free string hash used only to pick a shard;
// it has no security properties and none are required here.
func fnv32(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}
