package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"clup/store-service/internal/store"
)

type authContextKey struct{}

type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (string, error)
}

func AuthMiddleware(tokens TokenValidator, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicEndpoint(r) {
			next.ServeHTTP(w, r)
			return
		}
		token := tokenFromRequest(r)
		if token == "" {
			writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing token")
			return
		}
		userID, err := tokens.ValidateToken(r.Context(), token)
		if err != nil {
			if errors.Is(err, store.ErrInvalidToken) {
				writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}
			writeError(w, requestIDFromRequest(r), http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		ctx := context.WithValue(r.Context(), authContextKey{}, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(authContextKey{}).(string)
	return userID
}

func tokenFromRequest(r *http.Request) string {
	if token := strings.TrimSpace(r.Header.Get("X-Auth-Token")); token != "" {
		return token
	}
	return bearerToken(r.Header.Get("Authorization"))
}

func requestIDFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Request-ID"))
}

func bearerToken(header string) string {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

func isPublicEndpoint(r *http.Request) bool {
	path := r.URL.Path
	switch path {
	case "/", "/healthz", "/metrics", "/api/auth/login", "/api/auth/code":
		return true
	}
	if strings.HasPrefix(path, "/realtime/") {
		return true
	}
	if strings.HasPrefix(path, "/api/store/") && strings.HasSuffix(path, "/checkout") {
		return true
	}
	return r.Method == http.MethodOptions
}
