package sigcache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/poemonsense/antigravity-proxy-go/internal/logging"
)

// Redis key prefixes, matching the teacher's pkg/redis/client.go layout.
const (
	prefixSignatureTool     = "antigravity:signatures:tool:"
	prefixSignatureThinking = "antigravity:signatures:thinking:"
)

// RedisConfig names the distributed backing store for the L1/L2 layers.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewWithRedis builds a Cache whose L1 (tool) and L2 (family) layers are
// backed by Redis instead of the in-memory maps, per the teacher's
// "useRedis bool, falls back to in-memory" pattern in
// internal/format/signature_cache.go. The L3 session layer always stays
// in-memory since the teacher's Redis-backed signature store never
// covered it either. A connection failure here is the caller's to handle;
// on success the returned Cache's in-memory L1/L2 maps sit unused.
func NewWithRedis(cfg RedisConfig) (*Cache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	c := New()
	c.redis = rdb
	return c, nil
}

func (c *Cache) redisSetTool(toolUseID, signature string) {
	ctx := context.Background()
	if err := c.redis.Set(ctx, prefixSignatureTool+toolUseID, signature, ttl).Err(); err != nil {
		logging.Warn("[sigcache] redis set tool signature failed: %v", err)
	}
}

func (c *Cache) redisGetTool(toolUseID string) (string, bool) {
	ctx := context.Background()
	sig, err := c.redis.Get(ctx, prefixSignatureTool+toolUseID).Result()
	if err != nil {
		if err != redis.Nil {
			logging.Warn("[sigcache] redis get tool signature failed: %v", err)
		}
		return "", false
	}
	return sig, true
}

func (c *Cache) redisSetFamily(signature, family string) {
	ctx := context.Background()
	key := prefixSignatureThinking + signature
	if err := c.redis.HSet(ctx, key, map[string]interface{}{"family": family}).Err(); err != nil {
		logging.Warn("[sigcache] redis set family failed: %v", err)
		return
	}
	if err := c.redis.Expire(ctx, key, ttl).Err(); err != nil {
		logging.Warn("[sigcache] redis expire family key failed: %v", err)
	}
}

func (c *Cache) redisGetFamily(signature string) (string, bool) {
	ctx := context.Background()
	family, err := c.redis.HGet(ctx, prefixSignatureThinking+signature, "family").Result()
	if err != nil {
		if err != redis.Nil {
			logging.Warn("[sigcache] redis get family failed: %v", err)
		}
		return "", false
	}
	return family, family != ""
}
