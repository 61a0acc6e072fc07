package functions

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Uploaded files expire after 48h on the Files API; cached refs expire first.
const docCacheTTL = 47 * time.Hour

// DocCache remembers uploaded documents across process restarts
type DocCache interface {
	Load(ctx context.Context, path string) (DocRef, bool, error)
	Store(ctx context.Context, path string, ref DocRef) error
}

// RedisDocCache keeps DocRefs in a redis hash per document path
type RedisDocCache struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisDocCache(client *redis.Client) *RedisDocCache {
	return &RedisDocCache{redis: client, ttl: docCacheTTL}
}

func docKey(path string) string {
	return "doc:" + path
}

// Load returns the cached ref for path, if any
func (c *RedisDocCache) Load(ctx context.Context, path string) (DocRef, bool, error) {
	fields, err := c.redis.HGetAll(ctx, docKey(path)).Result()
	if err != nil {
		return DocRef{}, false, fmt.Errorf("failed to read doc cache: %w", err)
	}
	ref := DocRef{
		Name:     fields["name"],
		URI:      fields["uri"],
		MIMEType: fields["mime_type"],
	}
	if ref.Name == "" || ref.URI == "" {
		return DocRef{}, false, nil
	}
	return ref, true, nil
}

// Store saves ref for path with the cache TTL
func (c *RedisDocCache) Store(ctx context.Context, path string, ref DocRef) error {
	key := docKey(path)
	pipe := c.redis.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"name":        ref.Name,
		"uri":         ref.URI,
		"mime_type":   ref.MIMEType,
		"uploaded_at": time.Now().Format(time.RFC3339),
	})
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write doc cache: %w", err)
	}
	return nil
}
