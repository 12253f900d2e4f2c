package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/markb/sqlbridge/internal/auth"
)

type contextKey string

const apiKeyTypeKey contextKey = "api_key_type"

// apiKeyMiddleware requires an API key in the apikey header or as a bearer
// token and stores its type in the request context.
func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.auth == nil {
			ctx := context.WithValue(r.Context(), apiKeyTypeKey, auth.APIKeyServiceRole)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		key := r.Header.Get("apikey")
		if key == "" {
			if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
				key = strings.TrimPrefix(h, "Bearer ")
			}
		}
		if key == "" {
			s.writeError(w, http.StatusUnauthorized, "no_api_key", "API key required")
			return
		}

		keyType, err := s.auth.ValidateAPIKey(key)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, "invalid_api_key", "Invalid API key")
			return
		}

		ctx := context.WithValue(r.Context(), apiKeyTypeKey, keyType)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// apiKeyType returns the type of the key that authorized r.
func apiKeyType(r *http.Request) auth.APIKeyType {
	keyType, _ := r.Context().Value(apiKeyTypeKey).(auth.APIKeyType)
	return keyType
}
