package store

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Fingerprint derives the deterministic cache key for a message. The client
// id is part of the hashed input so entries can never collide across tenants.
func Fingerprint(clientID, message string) string {
	hash := sha256.Sum256([]byte(clientID + ":" + message))
	return fmt.Sprintf("%x", hash)
}

// GetCachedResponse looks up a cached answer. Misses and storage errors both
// read as "not cached" so the caller simply regenerates.
func (s *Store) GetCachedResponse(ctx context.Context, fingerprint string) (string, bool) {
	val, err := s.rdb.Get(ctx, cacheKey(fingerprint)).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		s.logger.Error("cache read failed", zap.String("fingerprint", fingerprint), zap.Error(err))
		return "", false
	}
	return val, true
}

// CacheResponse stores an answer with an absolute TTL. The TTL is never
// refreshed on read. Caching is best-effort: failures are logged only.
func (s *Store) CacheResponse(ctx context.Context, clientID, fingerprint, response string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if err := s.rdb.SetEx(ctx, cacheKey(fingerprint), response, ttl).Err(); err != nil {
		s.logger.Error("cache write failed", zap.String("fingerprint", fingerprint), zap.Error(err))
		return
	}
	s.registerKeys(ctx, clientID, cacheKey(fingerprint))
}
