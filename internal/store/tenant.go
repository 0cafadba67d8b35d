package store

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/widgetbase/server/internal/models"
	"go.uber.org/zap"
)

// CreateUser provisions a tenant: a fresh opaque client id, the user record,
// the reverse mapping and a default config. Callers are expected to check for
// an existing user first; duplicate calls are not deduplicated here.
func (s *Store) CreateUser(ctx context.Context, userID, email, name string) (string, error) {
	id := uuid.New()
	clientID := "client_" + hex.EncodeToString(id[:])[:12]

	user := models.User{
		UserID:    userID,
		ClientID:  clientID,
		Email:     email,
		Name:      name,
		CreatedAt: time.Now(),
		Onboarded: false,
	}
	userData, err := json.Marshal(user)
	if err != nil {
		return "", err
	}
	if err := s.rdb.Set(ctx, userKey(userID), userData, 0).Err(); err != nil {
		return "", err
	}

	if err := s.rdb.Set(ctx, mappingKey(clientID), userID, 0).Err(); err != nil {
		return "", err
	}

	cfg := models.DefaultClientConfig(clientID, name)
	if err := s.StoreClientConfig(ctx, cfg); err != nil {
		return "", err
	}

	s.registerKeys(ctx, clientID, userKey(userID), mappingKey(clientID), configKey(clientID))

	if s.notifier != nil {
		if err := s.notifier.SetOnboarded(ctx, userID, false); err != nil {
			s.logger.Warn("identity provider notification failed",
				zap.String("user_id", userID), zap.Error(err))
		}
	}

	s.logger.Info("user created",
		zap.String("user_id", userID), zap.String("client_id", clientID))
	return clientID, nil
}

// GetUser resolves an identity-provider subject to its tenant record.
func (s *Store) GetUser(ctx context.Context, userID string) (*models.User, error) {
	data, err := s.rdb.Get(ctx, userKey(userID)).Result()
	if err == redis.Nil {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var user models.User
	if err := json.Unmarshal([]byte(data), &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateOnboarding marks the user onboarded and records the profile fields.
func (s *Store) UpdateOnboarding(ctx context.Context, userID, companyName, website, useCase string) error {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return err
	}

	now := time.Now()
	user.Onboarded = true
	user.CompanyName = companyName
	user.Website = website
	user.UseCase = useCase
	user.OnboardedAt = &now

	data, err := json.Marshal(user)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, userKey(userID), data, 0).Err(); err != nil {
		return err
	}

	if s.notifier != nil {
		if err := s.notifier.SetOnboarded(ctx, userID, true); err != nil {
			s.logger.Warn("identity provider notification failed",
				zap.String("user_id", userID), zap.Error(err))
		}
	}
	return nil
}

// DeleteUser destroys the user's tenant footprint: record, mapping, config,
// files, chunks, log, rollup and cache entries. Returns false when the user
// was already absent. Deletion is best-effort; a concurrent ingestion can
// leave orphaned keys behind.
func (s *Store) DeleteUser(ctx context.Context, userID string) (bool, error) {
	user, err := s.GetUser(ctx, userID)
	if err == models.ErrNotFound {
		s.logger.Warn("user not found for deletion", zap.String("user_id", userID))
		return false, nil
	}
	if err != nil {
		return false, err
	}

	clientID := user.ClientID
	seen := map[string]struct{}{
		userKey(userID):          {},
		mappingKey(clientID):     {},
		configKey(clientID):      {},
		analyticsKey(clientID):   {},
		summaryKey(clientID):     {},
		fileCounterKey(clientID): {},
		filesKey(clientID):       {},
		registryKey(clientID):    {},
	}

	// The registry is authoritative for keys written after tenant creation.
	owned, err := s.rdb.SMembers(ctx, registryKey(clientID)).Result()
	if err == nil {
		for _, k := range owned {
			seen[k] = struct{}{}
		}
	}

	// Sweep patterns as a fallback for anything the registry missed.
	for _, pattern := range []string{
		chunkPattern(clientID),
		filePattern(clientID),
	} {
		matched, err := s.ScanKeys(ctx, pattern)
		if err != nil {
			s.logger.Warn("key sweep failed", zap.String("pattern", pattern), zap.Error(err))
			continue
		}
		for _, k := range matched {
			seen[k] = struct{}{}
		}
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}

	pipe := s.rdb.Pipeline()
	for _, k := range keys {
		pipe.Del(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}

	s.logger.Info("user deleted",
		zap.String("user_id", userID),
		zap.String("client_id", clientID),
		zap.Int("keys", len(keys)))
	return true, nil
}

func chunkPattern(clientID string) string { return "chunk:" + clientID + ":*" }

func filePattern(clientID string) string { return "file:" + clientID + ":*" }

// GetClientConfig loads a tenant's widget configuration.
func (s *Store) GetClientConfig(ctx context.Context, clientID string) (*models.ClientConfig, error) {
	data, err := s.rdb.Get(ctx, configKey(clientID)).Result()
	if err == redis.Nil {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var cfg models.ClientConfig
	if err := json.Unmarshal([]byte(data), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// StoreClientConfig writes the config with a 30 day expiry.
func (s *Store) StoreClientConfig(ctx context.Context, cfg models.ClientConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, configKey(cfg.ClientID), data, configTTL).Err(); err != nil {
		return err
	}
	s.registerKeys(ctx, cfg.ClientID, configKey(cfg.ClientID))
	return nil
}

// PublishConfigUpdate pushes the new config to live widgets.
func (s *Store) PublishConfigUpdate(ctx context.Context, clientID string, cfg models.ClientConfig) {
	payload, err := json.Marshal(cfg)
	if err != nil {
		s.logger.Error("config marshal failed", zap.String("client_id", clientID), zap.Error(err))
		return
	}
	s.Publish(ctx, ConfigChannel(clientID), payload)
}
