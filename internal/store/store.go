// Package store implements the tenant-scoped data layer on top of Redis:
// chunk storage with vector retrieval, the conversation stream and its
// rollup counters, the response cache and cascading tenant lifecycle.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	chunkIndexName = "chunks_idx"

	// VectorDim is the embedding dimension stored per chunk.
	VectorDim = 768

	maxLogEntries = 10000
	configTTL     = 30 * 24 * time.Hour

	// DefaultCacheTTL is the absolute expiry for cached responses.
	DefaultCacheTTL = time.Hour
)

// Embedder produces fixed-dimension embeddings. Batch calls are issued once
// per ingestion, outside any lock.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Notifier pushes onboarding state to the identity provider.
type Notifier interface {
	SetOnboarded(ctx context.Context, userID string, onboarded bool) error
}

// Store wraps the Redis substrate. It is constructed once at startup and safe
// for concurrent use.
type Store struct {
	rdb      *redis.Client
	embedder Embedder
	notifier Notifier
	logger   *zap.Logger
}

func New(redisURL string, embedder Embedder, notifier Notifier, logger *zap.Logger) (*Store, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Store{
		rdb:      client,
		embedder: embedder,
		notifier: notifier,
		logger:   logger,
	}, nil
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

// Client exposes the underlying connection for collaborators that share it
// (rate limiter, pub/sub bridge).
func (s *Store) Client() *redis.Client {
	return s.rdb
}

// EnsureChunkIndex creates the vector index if it does not exist yet.
// Safe to call more than once.
func (s *Store) EnsureChunkIndex(ctx context.Context) error {
	if err := s.rdb.FTInfo(ctx, chunkIndexName).Err(); err == nil {
		return nil
	}

	err := s.rdb.FTCreate(ctx, chunkIndexName,
		&redis.FTCreateOptions{
			OnHash: true,
			Prefix: []interface{}{"chunk:"},
		},
		&redis.FieldSchema{FieldName: "client_id", FieldType: redis.SearchFieldTypeTag},
		&redis.FieldSchema{FieldName: "content", FieldType: redis.SearchFieldTypeText},
		&redis.FieldSchema{FieldName: "filename", FieldType: redis.SearchFieldTypeText},
		&redis.FieldSchema{FieldName: "file_id", FieldType: redis.SearchFieldTypeText},
		&redis.FieldSchema{
			FieldName: "embedding",
			FieldType: redis.SearchFieldTypeVector,
			VectorArgs: &redis.FTVectorArgs{
				HNSWOptions: &redis.FTHNSWOptions{
					Type:           "FLOAT32",
					Dim:            VectorDim,
					DistanceMetric: "COSINE",
				},
			},
		},
	).Err()
	if err != nil {
		// Two processes can race index creation; losing is fine.
		if strings.Contains(err.Error(), "already exists") {
			return nil
		}
		return fmt.Errorf("create vector index: %w", err)
	}

	s.logger.Info("vector index created", zap.String("index", chunkIndexName))
	return nil
}

// ScanKeys collects every key matching pattern without blocking the server.
func (s *Store) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

// Publish sends payload on a channel; failures are logged, not fatal.
func (s *Store) Publish(ctx context.Context, channel string, payload []byte) {
	if err := s.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		s.logger.Error("publish failed", zap.String("channel", channel), zap.Error(err))
	}
}

// Subscribe opens a subscription the caller must close.
func (s *Store) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	return s.rdb.Subscribe(ctx, channel)
}

// Key layout. Bit-exact with the widget's persisted data.

func configKey(clientID string) string { return fmt.Sprintf("client:%s:config", clientID) }

func mappingKey(clientID string) string { return fmt.Sprintf("client_mapping:%s", clientID) }

func userKey(userID string) string { return fmt.Sprintf("user:%s", userID) }

func chunkKey(clientID string, fileID int64, idx int) string {
	return fmt.Sprintf("chunk:%s:%d:%d", clientID, fileID, idx)
}

func fileKey(clientID string, fileID int64) string {
	return fmt.Sprintf("file:%s:%d", clientID, fileID)
}

func filesKey(clientID string) string { return fmt.Sprintf("files:%s", clientID) }

func fileCounterKey(clientID string) string { return fmt.Sprintf("file_counter:%s", clientID) }

func analyticsKey(clientID string) string { return fmt.Sprintf("analytics:%s", clientID) }

func summaryKey(clientID string) string { return fmt.Sprintf("summary:%s", clientID) }

func cacheKey(fingerprint string) string { return fmt.Sprintf("cache:%s", fingerprint) }

func registryKey(clientID string) string { return fmt.Sprintf("keys:%s", clientID) }

// ConfigChannel is the pub/sub channel carrying live config updates for a
// tenant's widget.
func ConfigChannel(clientID string) string {
	return fmt.Sprintf("config_updates:%s", clientID)
}

// registerKeys records keys in the tenant's ownership set so destroy is a
// bounded lookup instead of a full scan.
func (s *Store) registerKeys(ctx context.Context, clientID string, keys ...string) {
	if len(keys) == 0 {
		return
	}
	members := make([]interface{}, len(keys))
	for i, k := range keys {
		members[i] = k
	}
	if err := s.rdb.SAdd(ctx, registryKey(clientID), members...).Err(); err != nil {
		s.logger.Warn("key registry update failed",
			zap.String("client_id", clientID), zap.Error(err))
	}
}
