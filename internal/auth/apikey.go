// Package auth issues and checks the credentials of the network front ends:
// signed API keys for the HTTP API and hashed passwords for the wire server.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// APIKeyType represents the type of API key
type APIKeyType string

const (
	// APIKeyAnon may run read-only statements.
	APIKeyAnon APIKeyType = "anon"
	// APIKeyServiceRole may run any statement.
	APIKeyServiceRole APIKeyType = "service_role"
)

// CanWrite reports whether keys of this type may run statements that
// change the database.
func (t APIKeyType) CanWrite() bool {
	return t == APIKeyServiceRole
}

// Service signs and validates API keys with an HMAC secret.
type Service struct {
	jwtSecret string
}

// NewService returns a Service using jwtSecret.
func NewService(jwtSecret string) (*Service, error) {
	if len(jwtSecret) < 32 {
		return nil, fmt.Errorf("jwt secret must be at least 32 characters, got %d", len(jwtSecret))
	}
	return &Service{jwtSecret: jwtSecret}, nil
}

// GenerateAPIKey creates a JWT API key with role claim, no expiration
func (s *Service) GenerateAPIKey(keyType APIKeyType) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"role": string(keyType),
		"iss":  "sqlbridge",
		"iat":  now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.jwtSecret))
}

// ValidateAPIKey validates a JWT API key and returns its type.
func (s *Service) ValidateAPIKey(tokenString string) (APIKeyType, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})

	if err != nil {
		return "", fmt.Errorf("invalid API key: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid API key claims")
	}

	role, ok := claims["role"].(string)
	if !ok {
		return "", fmt.Errorf("API key missing role claim")
	}

	// Validate role is one of the expected values
	switch keyType := APIKeyType(role); keyType {
	case APIKeyAnon, APIKeyServiceRole:
		return keyType, nil
	default:
		return "", fmt.Errorf("invalid API key role: %s", role)
	}
}
