package myMiddleware

import (
	"context"
	"net/http"
	"strings"

	"go-counsel/internal/domain"
	"go-counsel/internal/httpx"
)

type contextKey string

const actorKey contextKey = "actor"

// TokenValidator resolves a bearer credential to the caller's identity.
type TokenValidator interface {
	ValidateToken(tokenString string) (domain.Actor, error)
}

type AuthMiddleware struct {
	validator TokenValidator
}

func NewAuthMiddleware(v TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: v}
}

// Handle rejects the request before any upgrade when the credential is missing or invalid,
// so a websocket handshake without one is closed with an authentication error.
func (am *AuthMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := ""

		authHeader := r.Header.Get("Authorization")
		if authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
				tokenString = strings.TrimSpace(parts[1])
			}
		}

		// Browsers cannot set headers on a websocket handshake.
		if tokenString == "" {
			tokenString = r.URL.Query().Get("token")
		}

		if tokenString == "" {
			writeUnauthorized(w, "missing authentication token")
			return
		}

		actor, err := am.validator.ValidateToken(tokenString)
		if err != nil {
			writeUnauthorized(w, "invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	httpx.WriteJSON(w, http.StatusUnauthorized, map[string]string{
		"status":  "error",
		"code":    "UNAUTHORIZED",
		"message": message,
	})
}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(domain.Actor)
	return actor, ok && actor.UserID != ""
}
