package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"persona-chat/backend/internal/models"
	"persona-chat/backend/pkg/cache"
	apperrors "persona-chat/backend/pkg/errors"
	"persona-chat/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingPersonas struct {
	PersonaRepository
	gets int
}

func (c *countingPersonas) Get(ctx context.Context, id uint) (*models.Persona, error) {
	c.gets++
	return c.PersonaRepository.Get(ctx, id)
}

type brokenCache struct{}

func (brokenCache) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, errors.New("connection refused")
}

func (brokenCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return errors.New("connection refused")
}

func (brokenCache) Delete(ctx context.Context, key string) error {
	return errors.New("connection refused")
}

func TestCachedPersonaStoreHitsCache(t *testing.T) {
	ctx := context.Background()
	inner := &countingPersonas{PersonaRepository: newTestStore(t).Personas()}
	require.NoError(t, inner.Create(ctx, &models.Persona{Name: "Aria"}))

	mem := cache.New(cache.Options{})
	defer mem.Close()
	store := NewCachedPersonaStore(inner, mem, time.Minute, logger.Nop())

	for i := 0; i < 3; i++ {
		p, err := store.Get(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "Aria", p.Name)
	}
	assert.Equal(t, 1, inner.gets)
}

func TestCachedPersonaStoreDoesNotCacheMisses(t *testing.T) {
	ctx := context.Background()
	inner := &countingPersonas{PersonaRepository: newTestStore(t).Personas()}
	mem := cache.New(cache.Options{})
	defer mem.Close()
	store := NewCachedPersonaStore(inner, mem, time.Minute, logger.Nop())

	_, err := store.Get(ctx, 9)
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))
	_, err = store.Get(ctx, 9)
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))
	assert.Equal(t, 2, inner.gets)
}

func TestCachedPersonaStoreSurvivesBrokenCache(t *testing.T) {
	ctx := context.Background()
	inner := newTestStore(t).Personas()
	store := NewCachedPersonaStore(inner, brokenCache{}, time.Minute, logger.Nop())

	require.NoError(t, store.Create(ctx, &models.Persona{Name: "Milo"}))
	p, err := store.Get(ctx, 1)

	require.NoError(t, err)
	assert.Equal(t, "Milo", p.Name)
}
