package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/widgetbase/server/internal/analytics"
	"github.com/widgetbase/server/internal/auth"
	"github.com/widgetbase/server/internal/ratelimit"
	"github.com/widgetbase/server/internal/store"
	"go.uber.org/zap"
)

const webhookSecret = "whsec_dGVzdC13ZWJob29rLXNpZ25pbmcta2V5"

type stubEmbedder struct{}

func (stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = make([]float32, store.VectorDim)
	}
	return vectors, nil
}

type stubGenerator struct {
	response string
}

func (g stubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return g.response, nil
}

type testEnv struct {
	router *mux.Router
	store  *store.Store
	mr     *miniredis.Miniredis
	key    *rsa.PrivateKey
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	s, err := store.New(fmt.Sprintf("redis://%s", mr.Addr()), stubEmbedder{}, nil, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	jwks := map[string]interface{}{
		"keys": []map[string]string{{
			"kid": "key-1",
			"kty": "RSA",
			"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
		}},
	}
	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(jwks)
	}))
	t.Cleanup(jwksServer.Close)

	webhook, err := auth.NewWebhookVerifier(webhookSecret)
	require.NoError(t, err)

	handler := NewHandler(s, stubGenerator{response: "generated answer"},
		analytics.New(s, zap.NewNop()), ratelimit.NewRateLimiter(s.Client()), webhook, zap.NewNop())

	router := mux.NewRouter()
	handler.RegisterRoutes(router, auth.NewMiddleware(auth.NewVerifier(jwksServer.URL), s))

	return &testEnv{router: router, store: s, mr: mr, key: key}
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, auth.Claims{
		SessionID: "sess_1",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	token.Header["kid"] = "key-1"
	signed, err := token.SignedString(e.key)
	require.NoError(t, err)
	return signed
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func signWebhook(t *testing.T, id, timestamp string, body []byte) string {
	t.Helper()

	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(webhookSecret, "whsec_"))
	require.NoError(t, err)

	mac := hmac.New(sha256.New, key)
	fmt.Fprintf(mac, "%s.%s.%s", id, timestamp, body)
	return "v1," + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func webhookRequest(t *testing.T, body []byte) *http.Request {
	t.Helper()

	req := httptest.NewRequest("POST", "/v1/webhooks/clerk", bytes.NewReader(body))
	req.Header.Set("svix-id", "msg_1")
	req.Header.Set("svix-timestamp", "1700000000")
	req.Header.Set("svix-signature", signWebhook(t, "msg_1", "1700000000", body))
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestGetPublicConfig(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec := env.do(t, httptest.NewRequest("GET", "/v1/config/client_missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	clientID, err := env.store.CreateUser(ctx, "user_1", "a@example.com", "Acme")
	require.NoError(t, err)

	rec = env.do(t, httptest.NewRequest("GET", "/v1/config/"+clientID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "Hello! How can I help you today?", body["welcome_message"])
	assert.Equal(t, true, body["enabled"])
	assert.Contains(t, body, "theme")
	// Internal fields stay out of the public payload.
	assert.NotContains(t, body, "client_id")
	assert.NotContains(t, body, "rate_limit")
}

func TestClerkWebhookLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created := []byte(`{
		"type": "user.created",
		"data": {
			"id": "user_wh",
			"first_name": "Ada",
			"last_name": "Lovelace",
			"email_addresses": [{"email_address": "ada@example.com"}]
		}
	}`)

	rec := env.do(t, webhookRequest(t, created))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "User created successfully", body["message"])
	clientID := body["client_id"].(string)
	assert.NotEmpty(t, clientID)

	user, err := env.store.GetUser(ctx, "user_wh")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", user.Email)
	assert.Equal(t, "Ada Lovelace", user.Name)

	// Replayed creation is a no-op.
	rec = env.do(t, webhookRequest(t, created))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "User already exists", decodeBody(t, rec)["message"])

	deleted := []byte(`{"type":"user.deleted","data":{"id":"user_wh"}}`)
	rec = env.do(t, webhookRequest(t, deleted))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "User deleted successfully", decodeBody(t, rec)["message"])

	_, err = env.store.GetUser(ctx, "user_wh")
	assert.Error(t, err)

	// Deleting again reports the absence without failing.
	rec = env.do(t, webhookRequest(t, deleted))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "User not found for deletion", decodeBody(t, rec)["message"])
}

func TestClerkWebhookRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)

	body := []byte(`{"type":"user.created","data":{"id":"user_x"}}`)

	req := httptest.NewRequest("POST", "/v1/webhooks/clerk", bytes.NewReader(body))
	rec := env.do(t, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest("POST", "/v1/webhooks/clerk", bytes.NewReader(body))
	req.Header.Set("svix-id", "msg_1")
	req.Header.Set("svix-timestamp", "1700000000")
	req.Header.Set("svix-signature", "v1,AAAA")
	rec = env.do(t, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatNoContext(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	clientID, err := env.store.CreateUser(ctx, "user_1", "a@example.com", "Acme")
	require.NoError(t, err)

	payload := fmt.Sprintf(`{"message":"hello","client_id":%q}`, clientID)
	req := httptest.NewRequest("POST", "/v1/chat", bytes.NewBufferString(payload))

	rec := env.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, noContextResponse, body["response"])
	assert.Equal(t, false, body["cached"])
	assert.NotEmpty(t, body["session_id"])

	// The canned answer was cached; an identical message now hits the cache.
	req = httptest.NewRequest("POST", "/v1/chat", bytes.NewBufferString(payload))
	rec = env.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["cached"])

	summary, err := env.store.GetSummary(ctx, clientID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.TotalMessages)
	assert.Equal(t, int64(1), summary.CacheHits)
}

func TestChatValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, httptest.NewRequest("POST", "/v1/chat", bytes.NewBufferString(`{"message":"hi"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, httptest.NewRequest("POST", "/v1/chat", bytes.NewBufferString(`{"client_id":"client_a"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	long := bytes.Repeat([]byte("x"), maxMessageLength+1)
	payload := fmt.Sprintf(`{"message":%q,"client_id":"client_a"}`, long)
	rec = env.do(t, httptest.NewRequest("POST", "/v1/chat", bytes.NewBufferString(payload)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, httptest.NewRequest("POST", "/v1/chat", bytes.NewBufferString(`{"message":"hi","client_id":"client_missing"}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatRateLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	clientID, err := env.store.CreateUser(ctx, "user_1", "a@example.com", "Acme")
	require.NoError(t, err)

	cfg, err := env.store.GetClientConfig(ctx, clientID)
	require.NoError(t, err)
	cfg.RateLimit = 2
	require.NoError(t, env.store.StoreClientConfig(ctx, *cfg))

	for i := 0; i < 2; i++ {
		payload := fmt.Sprintf(`{"message":"q%d","client_id":%q}`, i, clientID)
		rec := env.do(t, httptest.NewRequest("POST", "/v1/chat", bytes.NewBufferString(payload)))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	payload := fmt.Sprintf(`{"message":"q3","client_id":%q}`, clientID)
	rec := env.do(t, httptest.NewRequest("POST", "/v1/chat", bytes.NewBufferString(payload)))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestChatDisabledClient(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	clientID, err := env.store.CreateUser(ctx, "user_1", "a@example.com", "Acme")
	require.NoError(t, err)

	cfg, err := env.store.GetClientConfig(ctx, clientID)
	require.NoError(t, err)
	cfg.Enabled = false
	require.NoError(t, env.store.StoreClientConfig(ctx, *cfg))

	payload := fmt.Sprintf(`{"message":"hi","client_id":%q}`, clientID)
	rec := env.do(t, httptest.NewRequest("POST", "/v1/chat", bytes.NewBufferString(payload)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthedConfig(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	clientID, err := env.store.CreateUser(ctx, "user_1", "a@example.com", "Acme")
	require.NoError(t, err)

	rec := env.do(t, httptest.NewRequest("GET", "/v1/config", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token := env.token(t, "user_1")

	req := httptest.NewRequest("GET", "/v1/config", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = env.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, clientID, decodeBody(t, rec)["client_id"])

	// Updates land on the caller's tenant even if the body claims otherwise.
	update := `{"client_id":"client_spoofed","name":"Acme","welcome_message":"Hi there!","enabled":true,"rate_limit":10}`
	req = httptest.NewRequest("POST", "/v1/config", bytes.NewBufferString(update))
	req.Header.Set("Authorization", "Bearer "+token)
	rec = env.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, httptest.NewRequest("GET", "/v1/config/"+clientID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hi there!", decodeBody(t, rec)["welcome_message"])
}

func TestOnboarding(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	clientID, err := env.store.CreateUser(ctx, "user_1", "a@example.com", "Acme")
	require.NoError(t, err)
	token := env.token(t, "user_1")

	mismatch := `{"user_id":"user_other","company_name":"Acme Inc"}`
	req := httptest.NewRequest("POST", "/v1/onboarding", bytes.NewBufferString(mismatch))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := env.do(t, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	valid := `{"user_id":"user_1","company_name":"Acme Inc","website":"https://acme.test","use_case":"support"}`
	req = httptest.NewRequest("POST", "/v1/onboarding", bytes.NewBufferString(valid))
	req.Header.Set("Authorization", "Bearer "+token)
	rec = env.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, clientID, body["client_id"])
	assert.Equal(t, true, body["success"])

	user, err := env.store.GetUser(ctx, "user_1")
	require.NoError(t, err)
	assert.True(t, user.Onboarded)
	assert.Equal(t, "Acme Inc", user.CompanyName)

	// A second submission short-circuits.
	req = httptest.NewRequest("POST", "/v1/onboarding", bytes.NewBufferString(valid))
	req.Header.Set("Authorization", "Bearer "+token)
	rec = env.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "User already onboarded", decodeBody(t, rec)["message"])
}

func TestUploadAndFileLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.store.CreateUser(ctx, "user_1", "a@example.com", "Acme")
	require.NoError(t, err)
	token := env.token(t, "user_1")

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "guide.txt")
	require.NoError(t, err)
	part.Write(bytes.Repeat([]byte("knowledge base content. "), 60))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest("POST", "/v1/upload", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := env.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "guide.txt", body["filename"])
	assert.Equal(t, float64(3), body["chunks_count"])

	req = httptest.NewRequest("GET", "/v1/files", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = env.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, float64(1), body["total_files"])
	assert.Equal(t, float64(3), body["total_chunks"])

	req = httptest.NewRequest("DELETE", "/v1/files/guide.txt", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = env.do(t, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest("DELETE", "/v1/files/guide.txt", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = env.do(t, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetAnalytics(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	clientID, err := env.store.CreateUser(ctx, "user_1", "a@example.com", "Acme")
	require.NoError(t, err)
	token := env.token(t, "user_1")

	payload := fmt.Sprintf(`{"message":"hello","client_id":%q}`, clientID)
	rec := env.do(t, httptest.NewRequest("POST", "/v1/chat", bytes.NewBufferString(payload)))
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest("GET", "/v1/analytics", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = env.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	report := body["analytics"].(map[string]interface{})
	assert.Equal(t, float64(1), report["total_messages"])
	info := body["client_info"].(map[string]interface{})
	assert.Equal(t, clientID, info["client_id"])
}

func TestChunkText(t *testing.T) {
	assert.Nil(t, chunkText("", 500))
	assert.Nil(t, chunkText("   ", 500))

	chunks := chunkText("abcdef", 2)
	assert.Equal(t, []string{"ab", "cd", "ef"}, chunks)

	chunks = chunkText("abcde", 2)
	assert.Equal(t, []string{"ab", "cd", "e"}, chunks)
}

func TestChunkTextRuneBoundaries(t *testing.T) {
	// A split landing mid-rune backs up to the previous boundary.
	chunks := chunkText("héllo", 2)
	assert.Equal(t, []string{"h", "é", "ll", "o"}, chunks)

	// Three-byte runes with a four-byte budget: one rune per chunk.
	chunks = chunkText("日本語", 4)
	assert.Equal(t, []string{"日", "本", "語"}, chunks)

	for _, chunk := range chunkText(strings.Repeat("héllo wörld ", 200), 500) {
		assert.True(t, utf8.ValidString(chunk))
	}

	// A rune wider than the budget is emitted whole rather than looping.
	chunks = chunkText("日本", 1)
	assert.Equal(t, []string{"日", "本"}, chunks)
}
