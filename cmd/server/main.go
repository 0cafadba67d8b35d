package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/widgetbase/server/internal/ai"
	"github.com/widgetbase/server/internal/analytics"
	"github.com/widgetbase/server/internal/api"
	"github.com/widgetbase/server/internal/auth"
	"github.com/widgetbase/server/internal/config"
	"github.com/widgetbase/server/internal/ratelimit"
	"github.com/widgetbase/server/internal/store"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatal("Failed to build logger:", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Providers
	gemini, err := ai.NewGemini(ctx, cfg.GeminiAPIKey, store.VectorDim)
	if err != nil {
		logger.Fatal("failed to initialize gemini client", zap.Error(err))
	}

	notifier := auth.NewClerkClient(cfg.ClerkSecretKey)

	// Storage
	st, err := store.New(cfg.RedisURL, gemini, notifier, logger)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer st.Close()

	if err := st.EnsureChunkIndex(ctx); err != nil {
		logger.Fatal("failed to ensure vector index", zap.Error(err))
	}

	// Collaborators
	verifier := auth.NewVerifier(cfg.ClerkJWKSURL)
	authMiddleware := auth.NewMiddleware(verifier, st)

	webhookVerifier, err := auth.NewWebhookVerifier(cfg.ClerkWebhookSecret)
	if err != nil {
		logger.Fatal("failed to initialize webhook verifier", zap.Error(err))
	}

	limiter := ratelimit.NewRateLimiter(st.Client())
	reporter := analytics.New(st, logger)

	// Router
	router := mux.NewRouter()
	router.HandleFunc("/health", healthHandler).Methods("GET")

	handler := api.NewHandler(st, gemini, reporter, limiter, webhookVerifier, logger)
	handler.RegisterRoutes(router, authMiddleware)

	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: corsMiddleware(cfg.AllowedOrigins, router),
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"version": "1.0.0",
	})
}

func corsMiddleware(allowedOrigins string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", allowedOrigins)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
