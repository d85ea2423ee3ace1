package auth

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// APIKeyProvider accepts a single static key, stored as a bcrypt hash.
type APIKeyProvider struct {
	hash []byte
}

// NewAPIKeyProvider creates an APIKeyProvider from a bcrypt hash.
func NewAPIKeyProvider(hash string) (*APIKeyProvider, error) {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("admin api key hash: %w", err)
	}
	return &APIKeyProvider{hash: []byte(hash)}, nil
}

// HashAPIKey returns the bcrypt hash to put in admin.api_key_hash.
func HashAPIKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash api key: %w", err)
	}
	return string(h), nil
}

func (p *APIKeyProvider) Name() string { return "apikey" }

func (p *APIKeyProvider) ValidateToken(_ context.Context, key string) (*Identity, error) {
	if key == "" || bcrypt.CompareHashAndPassword(p.hash, []byte(key)) != nil {
		return nil, ErrUnauthorized
	}
	return &Identity{Subject: "api-key", Role: RoleAdmin, Provider: p.Name()}, nil
}
