package rescache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestGetSetRoundTrip(t *testing.T) {
	c := New(nil, 100, time.Minute, nil)

	if _, ok := c.Get("device://x/health"); ok {
		t.Fatal("Get on empty cache must miss")
	}

	c.Set("device://x/health", json.RawMessage(`{"status":"healthy"}`), 0, "x")
	v, ok := c.Get("device://x/health")
	if !ok {
		t.Fatal("Get after Set must hit")
	}
	if string(v) != `{"status":"healthy"}` {
		t.Fatalf("Get = %s", v)
	}
}

func TestExpiredEntryMisses(t *testing.T) {
	c := New(nil, 100, time.Minute, nil)
	c.Set("k", json.RawMessage(`1`), time.Nanosecond)
	time.Sleep(5 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expired entry must miss")
	}
}

func TestLRUEviction(t *testing.T) {
	// One entry per shard: a second Set into the same shard must evict the
	// first. Find two keys landing on the same shard.
	c := New(nil, shardCount, time.Minute, nil)

	base := "collide-0"
	var collide string
	for i := 1; i < 10000; i++ {
		k := fmt.Sprintf("collide-%d", i)
		if c.shardFor(k) == c.shardFor(base) {
			collide = k
			break
		}
	}
	if collide == "" {
		t.Fatal("no colliding key found")
	}

	c.Set(base, json.RawMessage(`1`), 0)
	c.Set(collide, json.RawMessage(`2`), 0)

	if _, ok := c.Get(base); ok {
		t.Fatal("oldest entry must be evicted once the shard is over capacity")
	}
	if _, ok := c.Get(collide); !ok {
		t.Fatal("newest entry must survive eviction")
	}
}

func TestInvalidateDevice(t *testing.T) {
	c := New(nil, 100, time.Minute, nil)
	c.Set("device://d1/health", json.RawMessage(`1`), 0, "d1")
	c.Set("device://d1/config", json.RawMessage(`2`), 0, "d1")
	c.Set("device://d2/health", json.RawMessage(`3`), 0, "d2")

	c.InvalidateDevice(context.Background(), "d1")

	if _, ok := c.Get("device://d1/health"); ok {
		t.Fatal("d1 health entry must be invalidated")
	}
	if _, ok := c.Get("device://d1/config"); ok {
		t.Fatal("d1 config entry must be invalidated")
	}
	if _, ok := c.Get("device://d2/health"); !ok {
		t.Fatal("d2 entry must survive d1 invalidation")
	}
}

func TestGetOrLoadCachesAndPropagatesErrors(t *testing.T) {
	c := New(nil, 100, time.Minute, nil)

	loads := 0
	load := func(ctx context.Context) (json.RawMessage, error) {
		loads++
		return json.RawMessage(`{"n":1}`), nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.GetOrLoad(context.Background(), "k", time.Minute, nil, load)
		if err != nil {
			t.Fatalf("GetOrLoad: %v", err)
		}
		if string(v) != `{"n":1}` {
			t.Fatalf("GetOrLoad = %s", v)
		}
	}
	if loads != 1 {
		t.Fatalf("load called %d times, want 1", loads)
	}

	wantErr := errors.New("boom")
	_, err := c.GetOrLoad(context.Background(), "failing", time.Minute, nil, func(ctx context.Context) (json.RawMessage, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("GetOrLoad error = %v, want %v", err, wantErr)
	}
	if _, ok := c.Get("failing"); ok {
		t.Fatal("failed load must not be cached")
	}
}
