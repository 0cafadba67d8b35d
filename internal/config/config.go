package config

import (
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	RedisURL           string
	ServerPort         string
	Env                string
	GeminiAPIKey       string
	ClerkSecretKey     string
	ClerkWebhookSecret string
	ClerkJWKSURL       string
	AllowedOrigins     string
}

func Load() (*Config, error) {
	godotenv.Load()

	return &Config{
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
		ServerPort:         getEnv("SERVER_PORT", "8080"),
		Env:                getEnv("APP_ENV", "development"),
		GeminiAPIKey:       getEnv("GEMINI_API_KEY", ""),
		ClerkSecretKey:     getEnv("CLERK_SECRET_KEY", ""),
		ClerkWebhookSecret: getEnv("CLERK_WEBHOOK_SECRET", ""),
		ClerkJWKSURL:       getEnv("CLERK_JWKS_URL", ""),
		AllowedOrigins:     getEnv("ALLOWED_ORIGINS", "*"),
	}, nil
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}
