package auth

import (
	"context"
	"time"
)

// JWTService issues and validates bearer tokens for the chat API.
type JWTService interface {
	// GenerateToken signs an access token for subject
	GenerateToken(ctx context.Context, subject string) (string, error)

	// ValidateToken verifies tokenString and returns its claims
	ValidateToken(ctx context.Context, tokenString string) (*Claims, error)
}

// Claims are the fields extracted from a valid token.
type Claims struct {
	Subject   string    `json:"sub,omitempty"`
	IssuedAt  time.Time `json:"iat,omitempty"`
	ExpiresAt time.Time `json:"exp,omitempty"`
	ID        string    `json:"jti,omitempty"`
}
