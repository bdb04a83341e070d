package platform

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// blobRetention is how long an externalized snapshot payload survives in
// Redis before expiring; pkg/snapshot's own retention sweep deletes the
// referencing row well before this, so this is a backstop against orphaned
// blobs outliving their row (e.g. a crash between insert and commit).
const blobRetention = 45 * 24 * time.Hour

// RedisBlobStore implements pkg/snapshot.BlobStore on top of the same Redis
// client already wired for rate limiting and the resource cache, rather
// than introducing a dedicated object-storage SDK for what is a small
// put/get surface.
type RedisBlobStore struct {
	client *redis.Client
}

// NewRedisBlobStore creates a RedisBlobStore.
func NewRedisBlobStore(client *redis.Client) *RedisBlobStore {
	return &RedisBlobStore{client: client}
}

// Put stores payload under ref with the blob retention TTL.
func (b *RedisBlobStore) Put(ref string, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.client.Set(ctx, blobKey(ref), payload, blobRetention).Err(); err != nil {
		return fmt.Errorf("storing externalized snapshot payload: %w", err)
	}
	return nil
}

// Get retrieves the payload stored under ref.
func (b *RedisBlobStore) Get(ref string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	data, err := b.client.Get(ctx, blobKey(ref)).Bytes()
	if err != nil {
		return nil, fmt.Errorf("fetching externalized snapshot payload %s: %w", ref, err)
	}
	return data, nil
}

func blobKey(ref string) string {
	return "blob:" + ref
}
