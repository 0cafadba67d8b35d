package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/widgetbase/server/internal/models"
	"github.com/widgetbase/server/internal/store"
)

type contextKey string

const (
	userContextKey    contextKey = "user"
	sessionContextKey contextKey = "session"
)

// Middleware verifies bearer tokens and resolves the subject to its tenant
// record before the handler runs.
type Middleware struct {
	verifier *Verifier
	store    *store.Store
}

func NewMiddleware(verifier *Verifier, s *store.Store) *Middleware {
	return &Middleware{verifier: verifier, store: s}
}

func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing authorization header", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
			return
		}

		claims, err := m.verifier.Verify(parts[1])
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		user, err := m.store.GetUser(r.Context(), claims.Subject)
		if err == models.ErrNotFound {
			http.Error(w, "User not found", http.StatusUnauthorized)
			return
		}
		if err != nil {
			http.Error(w, "Authentication failed", http.StatusInternalServerError)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		ctx = context.WithValue(ctx, sessionContextKey, claims.SessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func UserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(userContextKey).(*models.User)
	return user, ok
}

func SessionFromContext(ctx context.Context) string {
	session, _ := ctx.Value(sessionContextKey).(string)
	return session
}
