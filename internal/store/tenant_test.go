package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/widgetbase/server/internal/models"
)

func TestCreateUser(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	clientID, err := s.CreateUser(ctx, "user_1", "a@example.com", "Acme")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(clientID, "client_"))
	assert.Len(t, clientID, len("client_")+12)

	user, err := s.GetUser(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, clientID, user.ClientID)
	assert.Equal(t, "a@example.com", user.Email)
	assert.False(t, user.Onboarded)

	// The reverse mapping and a default config are provisioned alongside.
	userID, err := mr.Get(mappingKey(clientID))
	require.NoError(t, err)
	assert.Equal(t, "user_1", userID)

	cfg, err := s.GetClientConfig(ctx, clientID)
	require.NoError(t, err)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 10, cfg.RateLimit)
	assert.Equal(t, "Hello! How can I help you today?", cfg.WelcomeMessage)
}

func TestCreateUserDistinctClientIDs(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	first, err := s.CreateUser(ctx, "user_1", "a@example.com", "A")
	require.NoError(t, err)
	second, err := s.CreateUser(ctx, "user_2", "b@example.com", "B")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestGetUserMissing(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.GetUser(context.Background(), "ghost")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestUpdateOnboarding(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateUser(ctx, "user_1", "a@example.com", "Acme")
	require.NoError(t, err)

	err = s.UpdateOnboarding(ctx, "user_1", "Acme Inc", "https://acme.test", "support")
	require.NoError(t, err)

	user, err := s.GetUser(ctx, "user_1")
	require.NoError(t, err)
	assert.True(t, user.Onboarded)
	assert.Equal(t, "Acme Inc", user.CompanyName)
	assert.Equal(t, "https://acme.test", user.Website)
	assert.Equal(t, "support", user.UseCase)
	require.NotNil(t, user.OnboardedAt)
}

func TestDeleteUserCascades(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	clientID, err := s.CreateUser(ctx, "user_1", "a@example.com", "Acme")
	require.NoError(t, err)

	_, err = s.StoreChunks(ctx, clientID, []string{"a", "b", "c"}, models.FileMeta{Filename: "doc.txt", Size: 30})
	require.NoError(t, err)
	require.NoError(t, s.AppendTurn(ctx, clientID, models.Turn{SessionID: "s1", Message: "hi", Response: "hello"}))
	s.CacheResponse(ctx, clientID, Fingerprint(clientID, "hi"), "hello", time.Hour)

	// An unrelated tenant must survive the cascade.
	otherID, err := s.CreateUser(ctx, "user_2", "b@example.com", "Other")
	require.NoError(t, err)

	deleted, err := s.DeleteUser(ctx, "user_1")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = s.GetUser(ctx, "user_1")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = s.GetClientConfig(ctx, clientID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	for _, key := range mr.Keys() {
		assert.NotContains(t, key, clientID, "leftover key %s", key)
	}
	// Cache keys carry no tenant prefix; the registry must catch them.
	assert.False(t, mr.Exists(cacheKey(Fingerprint(clientID, "hi"))))

	_, err = s.GetUser(ctx, "user_2")
	require.NoError(t, err)
	_, err = s.GetClientConfig(ctx, otherID)
	require.NoError(t, err)
}

func TestDeleteUserAbsent(t *testing.T) {
	s, _ := newTestStore(t)

	deleted, err := s.DeleteUser(context.Background(), "ghost")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestStoreClientConfigTTL(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	cfg := models.DefaultClientConfig("client_a", "Acme")
	require.NoError(t, s.StoreClientConfig(ctx, cfg))

	assert.Equal(t, configTTL, mr.TTL(configKey("client_a")))

	loaded, err := s.GetClientConfig(ctx, "client_a")
	require.NoError(t, err)
	assert.Equal(t, cfg, *loaded)
}

func TestConfigMissing(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.GetClientConfig(context.Background(), "client_missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
