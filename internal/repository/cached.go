package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"persona-chat/backend/internal/models"
	"persona-chat/backend/pkg/cache"
	"persona-chat/backend/pkg/logger"
)

// CachedPersonaStore serves persona lookups from a cache.Store before
// falling back to the underlying repository. Cache failures are logged and
// never fail a lookup.
type CachedPersonaStore struct {
	PersonaRepository
	cache cache.Store
	ttl   time.Duration
	log   *logger.Logger
}

func NewCachedPersonaStore(repo PersonaRepository, store cache.Store, ttl time.Duration, log *logger.Logger) *CachedPersonaStore {
	return &CachedPersonaStore{
		PersonaRepository: repo,
		cache:             store,
		ttl:               ttl,
		log:               log.WithComponent("persona-cache"),
	}
}

func personaKey(id uint) string {
	return fmt.Sprintf("persona:%d", id)
}

func (s *CachedPersonaStore) Get(ctx context.Context, id uint) (*models.Persona, error) {
	key := personaKey(id)

	data, err := s.cache.Get(ctx, key)
	switch {
	case err == nil:
		var p models.Persona
		if jerr := json.Unmarshal(data, &p); jerr == nil {
			return &p, nil
		}
		s.log.Warn("Discarding undecodable cached persona", "key", key)
	case !errors.Is(err, cache.ErrMiss):
		s.log.LogError(err, "Persona cache read failed", "key", key)
	}

	p, err := s.PersonaRepository.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(p); err == nil {
		if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
			s.log.LogError(err, "Persona cache write failed", "key", key)
		}
	}
	return p, nil
}

// Create writes through and drops any stale entry for the new id.
func (s *CachedPersonaStore) Create(ctx context.Context, p *models.Persona) error {
	if err := s.PersonaRepository.Create(ctx, p); err != nil {
		return err
	}
	if err := s.cache.Delete(ctx, personaKey(p.ID)); err != nil {
		s.log.LogError(err, "Persona cache invalidation failed", "persona_id", p.ID)
	}
	return nil
}
