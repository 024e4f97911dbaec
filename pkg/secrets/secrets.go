// Package secrets resolves provider credentials from Vault, falling back to
// the process environment.
package secrets

import (
	"context"
	"errors"
	"sync"

	"persona-chat/backend/pkg/logger"
)

// Well-known secret keys.
const (
	KeyOpenAI     = "openai_api_key"
	KeyElevenLabs = "elevenlabs_api_key"
	KeyJWT        = "jwt_secret"
)

var (
	ErrSecretNotFound        = errors.New("secret not found")
	ErrManagerNotInitialized = errors.New("secrets manager not initialized")
	ErrNoVaultToken          = errors.New("no vault token provided")
	ErrNoVaultAddress        = errors.New("no vault address provided")
)

// Manager provides access to secrets
type Manager interface {
	GetSecret(ctx context.Context, key string) (string, error)
	GetSecretWithDefault(ctx context.Context, key, defaultValue string) string
}

var (
	defaultManager Manager
	managerMu      sync.RWMutex
)

// Init builds the default manager from cfg.
func Init(cfg VaultConfig, log *logger.Logger) (*VaultManager, error) {
	m, err := NewVaultManager(cfg, log)
	if err != nil {
		return nil, err
	}
	SetManager(m)
	return m, nil
}

// SetManager replaces the default manager
func SetManager(m Manager) {
	managerMu.Lock()
	defer managerMu.Unlock()
	defaultManager = m
}

// GetSecret reads key through the default manager
func GetSecret(ctx context.Context, key string) (string, error) {
	managerMu.RLock()
	m := defaultManager
	managerMu.RUnlock()
	if m == nil {
		return "", ErrManagerNotInitialized
	}
	return m.GetSecret(ctx, key)
}

// GetSecretWithDefault reads key, returning defaultValue on any failure
func GetSecretWithDefault(ctx context.Context, key, defaultValue string) string {
	managerMu.RLock()
	m := defaultManager
	managerMu.RUnlock()
	if m == nil {
		return defaultValue
	}
	return m.GetSecretWithDefault(ctx, key, defaultValue)
}
