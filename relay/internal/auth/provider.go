// Package auth authenticates callers of the relay's admin API.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/token-beam/token-beam/relay/internal/config"
)

var ErrUnauthorized = errors.New("unauthorized")

// Identity is the authenticated admin caller.
type Identity struct {
	Subject  string
	Role     string
	Provider string
}

// Provider validates bearer credentials.
type Provider interface {
	ValidateToken(ctx context.Context, token string) (*Identity, error)
	Name() string
}

// NewProvider creates the admin Provider selected by cfg.Provider.
func NewProvider(cfg config.AdminConfig) (Provider, error) {
	switch cfg.Provider {
	case "jwt":
		return NewJWTProvider(cfg.JWTSecret), nil
	case "jwks":
		return NewJWKSProvider(cfg.JWKSIssuer)
	case "apikey":
		return NewAPIKeyProvider(cfg.APIKeyHash)
	case "":
		return nil, fmt.Errorf("admin provider is not configured")
	default:
		return nil, fmt.Errorf("unknown admin provider: %q", cfg.Provider)
	}
}
