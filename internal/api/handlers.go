// Package api exposes the HTTP surface: the widget chat endpoint, tenant
// configuration, document management, analytics and the identity-provider
// webhook.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/widgetbase/server/internal/analytics"
	"github.com/widgetbase/server/internal/auth"
	"github.com/widgetbase/server/internal/models"
	"github.com/widgetbase/server/internal/ratelimit"
	"github.com/widgetbase/server/internal/store"
	"go.uber.org/zap"
)

// Generator completes chat prompts.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type Handler struct {
	store     *store.Store
	generator Generator
	reporter  *analytics.Reporter
	limiter   *ratelimit.RateLimiter
	webhook   *auth.WebhookVerifier
	logger    *zap.Logger
}

func NewHandler(s *store.Store, generator Generator, reporter *analytics.Reporter,
	limiter *ratelimit.RateLimiter, webhook *auth.WebhookVerifier, logger *zap.Logger) *Handler {
	return &Handler{
		store:     s,
		generator: generator,
		reporter:  reporter,
		limiter:   limiter,
		webhook:   webhook,
		logger:    logger,
	}
}

// RegisterRoutes mounts all endpoints under /v1. authMiddleware guards the
// dashboard endpoints; widget endpoints stay public.
func (h *Handler) RegisterRoutes(router *mux.Router, authMiddleware *auth.Middleware) {
	v1 := router.PathPrefix("/v1").Subrouter()

	// Public widget endpoints.
	v1.HandleFunc("/chat", h.Chat).Methods("POST")
	v1.HandleFunc("/config/{client_id}", h.GetPublicConfig).Methods("GET")
	v1.HandleFunc("/webhooks/clerk", h.ClerkWebhook).Methods("POST")
	v1.HandleFunc("/realtime/{client_id}", h.Realtime).Methods("GET")

	// Authenticated dashboard endpoints.
	authed := v1.NewRoute().Subrouter()
	authed.Use(authMiddleware.Authenticate)
	authed.HandleFunc("/config", h.GetConfig).Methods("GET")
	authed.HandleFunc("/config", h.UpdateConfig).Methods("POST")
	authed.HandleFunc("/upload", h.Upload).Methods("POST")
	authed.HandleFunc("/upload/multiple", h.UploadMultiple).Methods("POST")
	authed.HandleFunc("/files", h.ListFiles).Methods("GET")
	authed.HandleFunc("/files/{filename}", h.DeleteFile).Methods("DELETE")
	authed.HandleFunc("/analytics", h.GetAnalytics).Methods("GET")
	authed.HandleFunc("/analytics/export", h.ExportAnalytics).Methods("GET")
	authed.HandleFunc("/user/status", h.UserStatus).Methods("GET")
	authed.HandleFunc("/onboarding", h.Onboarding).Methods("POST")
}

func (h *Handler) GetPublicConfig(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["client_id"]

	cfg, err := h.store.GetClientConfig(r.Context(), clientID)
	if err == models.ErrNotFound {
		http.Error(w, "Client not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Failed to load config", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"theme":           cfg.Theme,
		"welcome_message": cfg.WelcomeMessage,
		"enabled":         cfg.Enabled,
	})
}

func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	cfg, err := h.store.GetClientConfig(r.Context(), user.ClientID)
	if err == models.ErrNotFound {
		http.Error(w, "Client not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Failed to load config", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, cfg)
}

func (h *Handler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var cfg models.ClientConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	// The config is always written under the caller's own tenant.
	cfg.ClientID = user.ClientID

	if err := h.store.StoreClientConfig(r.Context(), cfg); err != nil {
		h.logger.Error("config update failed", zap.String("client_id", user.ClientID), zap.Error(err))
		http.Error(w, "Failed to update config", http.StatusInternalServerError)
		return
	}
	h.store.PublishConfigUpdate(r.Context(), user.ClientID, cfg)

	respondJSON(w, http.StatusOK, map[string]string{"message": "Configuration updated successfully"})
}

func (h *Handler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	report := h.reporter.Report(r.Context(), user.ClientID)

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"analytics": report,
		"client_info": map[string]interface{}{
			"client_id":  user.ClientID,
			"user_name":  user.Name,
			"created_at": user.CreatedAt,
			"onboarded":  user.Onboarded,
		},
	})
}

func (h *Handler) ExportAnalytics(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	report := h.reporter.Report(r.Context(), user.ClientID)

	filename := "analytics_" + user.ClientID + "_" + time.Now().Format("20060102") + ".json"
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"analytics": report,
		"export_info": map[string]interface{}{
			"exported_at": time.Now().Format(time.RFC3339),
			"exported_by": user.Name,
			"client_id":   user.ClientID,
		},
	})
}

func (h *Handler) UserStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":    user.UserID,
		"client_id":  user.ClientID,
		"onboarded":  user.Onboarded,
		"created_at": user.CreatedAt,
		"name":       user.Name,
		"email":      user.Email,
	})
}

func (h *Handler) Onboarding(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		UserID      string `json:"user_id"`
		CompanyName string `json:"company_name"`
		Website     string `json:"website"`
		UseCase     string `json:"use_case"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if req.UserID != user.UserID {
		http.Error(w, "User ID mismatch", http.StatusForbidden)
		return
	}

	if user.Onboarded {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"client_id": user.ClientID,
			"message":   "User already onboarded",
			"success":   true,
		})
		return
	}

	if err := h.store.UpdateOnboarding(r.Context(), user.UserID, req.CompanyName, req.Website, req.UseCase); err != nil {
		h.logger.Error("onboarding update failed", zap.String("user_id", user.UserID), zap.Error(err))
		http.Error(w, "Failed to update onboarding status", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"client_id": user.ClientID,
		"message":   "Onboarding completed successfully",
		"success":   true,
	})
}

func (h *Handler) ClerkWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	id := r.Header.Get("svix-id")
	timestamp := r.Header.Get("svix-timestamp")
	signature := r.Header.Get("svix-signature")
	if id == "" || timestamp == "" || signature == "" {
		http.Error(w, "Missing required webhook headers", http.StatusBadRequest)
		return
	}

	if !h.webhook.Verify(id, timestamp, body, signature) {
		http.Error(w, "Invalid webhook signature", http.StatusBadRequest)
		return
	}

	event, err := auth.ExtractUserEvent(body)
	if err != nil {
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}
	if event == nil {
		respondJSON(w, http.StatusOK, map[string]string{"message": "Event not handled"})
		return
	}

	switch event.Type {
	case auth.EventUserCreated:
		if _, err := h.store.GetUser(r.Context(), event.UserID); err == nil {
			respondJSON(w, http.StatusOK, map[string]string{"message": "User already exists"})
			return
		} else if !errors.Is(err, models.ErrNotFound) {
			http.Error(w, "Webhook processing failed", http.StatusInternalServerError)
			return
		}

		clientID, err := h.store.CreateUser(r.Context(), event.UserID, event.Email, event.Name)
		if err != nil {
			h.logger.Error("user creation failed", zap.String("user_id", event.UserID), zap.Error(err))
			http.Error(w, "Webhook processing failed", http.StatusInternalServerError)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{
			"message":   "User created successfully",
			"client_id": clientID,
			"user_id":   event.UserID,
		})

	case auth.EventUserDeleted:
		deleted, err := h.store.DeleteUser(r.Context(), event.UserID)
		if err != nil {
			h.logger.Error("user deletion failed", zap.String("user_id", event.UserID), zap.Error(err))
			http.Error(w, "Webhook processing failed", http.StatusInternalServerError)
			return
		}
		msg := "User deleted successfully"
		if !deleted {
			msg = "User not found for deletion"
		}
		respondJSON(w, http.StatusOK, map[string]string{
			"message": msg,
			"user_id": event.UserID,
		})
	}
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
