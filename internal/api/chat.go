package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/widgetbase/server/internal/ai"
	"github.com/widgetbase/server/internal/models"
	"github.com/widgetbase/server/internal/store"
	"go.uber.org/zap"
)

const (
	maxMessageLength = 1000
	searchTopK       = 3
	historyLimit     = 50

	noContextResponse = "No relevant information found. Please upload more documents."
)

type chatRequest struct {
	Message   string `json:"message"`
	ClientID  string `json:"client_id"`
	SessionID string `json:"session_id"`
}

type chatResponse struct {
	Response  string    `json:"response"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	Cached    bool      `json:"cached"`
}

// Chat runs one widget turn: cache lookup, retrieval, generation, then the
// cache write and log append.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if err := validateChat(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	cfg, err := h.store.GetClientConfig(ctx, req.ClientID)
	if err == models.ErrNotFound || (err == nil && !cfg.Enabled) {
		http.Error(w, "Client not found or disabled", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Chat processing failed", http.StatusInternalServerError)
		return
	}

	allowed, err := h.limiter.Allow(ctx, req.ClientID, cfg.RateLimit)
	if err != nil {
		h.logger.Error("rate limit check failed", zap.String("client_id", req.ClientID), zap.Error(err))
	} else if !allowed {
		http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	fingerprint := store.Fingerprint(req.ClientID, req.Message)

	if cached, ok := h.store.GetCachedResponse(ctx, fingerprint); ok {
		h.appendTurn(r, req.ClientID, sessionID, req.Message, cached, time.Since(start).Seconds(), true)
		respondJSON(w, http.StatusOK, chatResponse{
			Response:  cached,
			SessionID: sessionID,
			Timestamp: time.Now(),
			Cached:    true,
		})
		return
	}

	chunks := h.store.SemanticSearch(ctx, req.ClientID, req.Message, searchTopK)

	if len(chunks) == 0 {
		h.store.CacheResponse(ctx, req.ClientID, fingerprint, noContextResponse, store.DefaultCacheTTL)
		h.appendTurn(r, req.ClientID, sessionID, req.Message, noContextResponse, time.Since(start).Seconds(), false)
		respondJSON(w, http.StatusOK, chatResponse{
			Response:  noContextResponse,
			SessionID: sessionID,
			Timestamp: time.Now(),
			Cached:    false,
		})
		return
	}

	history := h.store.GetChatHistory(ctx, req.ClientID, sessionID, historyLimit)
	context := "Here is the current chat history:\n" + history +
		"\n\nRelevant context:\n" + strings.Join(chunks, "\n")

	prompt := ai.BuildPrompt(req.Message, context, cfg.WelcomeMessage)
	answer, err := h.generator.Generate(ctx, prompt)
	if err != nil {
		h.logger.Error("generation failed", zap.String("client_id", req.ClientID), zap.Error(err))
		http.Error(w, "Response generation failed", http.StatusBadGateway)
		return
	}

	responseTime := time.Since(start).Seconds()

	h.store.CacheResponse(ctx, req.ClientID, fingerprint, answer, store.DefaultCacheTTL)
	h.appendTurn(r, req.ClientID, sessionID, req.Message, answer, responseTime, false)

	respondJSON(w, http.StatusOK, chatResponse{
		Response:  answer,
		SessionID: sessionID,
		Timestamp: time.Now(),
		Cached:    false,
	})
}

func (h *Handler) appendTurn(r *http.Request, clientID, sessionID, message, response string, responseTime float64, cached bool) {
	err := h.store.AppendTurn(r.Context(), clientID, models.Turn{
		SessionID:    sessionID,
		Message:      message,
		Response:     response,
		ResponseTime: responseTime,
		Cached:       cached,
	})
	if err != nil {
		h.logger.Error("turn append failed", zap.String("client_id", clientID), zap.Error(err))
	}
}

func validateChat(req *chatRequest) error {
	if req.ClientID == "" {
		return &models.ValidationError{Field: "client_id", Reason: "required"}
	}
	if req.Message == "" {
		return &models.ValidationError{Field: "message", Reason: "required"}
	}
	if len(req.Message) > maxMessageLength {
		return &models.ValidationError{Field: "message", Reason: "exceeds 1000 characters"}
	}
	return nil
}
