// Package repository persists personas and conversation history, on
// PostgreSQL through gorm or on an embedded SQLite file.
package repository

import (
	"context"

	"persona-chat/backend/internal/models"
)

// PersonaRepository is the persona store used by the chat pipeline and the
// persona listing endpoint.
type PersonaRepository interface {
	Get(ctx context.Context, id uint) (*models.Persona, error)
	List(ctx context.Context) ([]models.Persona, error)
	Create(ctx context.Context, p *models.Persona) error
	Count(ctx context.Context) (int64, error)
}

// HistoryRepository stores conversation records. Latest returns records
// most-recent-first.
type HistoryRepository interface {
	Append(ctx context.Context, record *models.ConversationRecord) error
	Latest(ctx context.Context, userID, personaID uint, n int) ([]models.ConversationRecord, error)
	LatestLanguage(ctx context.Context, userID, personaID uint) (string, error)
	UpdateLanguage(ctx context.Context, recordID uint, tag string) error
}

// SeedPersonas inserts the default personas when the store is empty and
// reports how many were created.
func SeedPersonas(ctx context.Context, repo PersonaRepository) (int, error) {
	n, err := repo.Count(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		return 0, nil
	}

	defaults := models.DefaultPersonas()
	for i := range defaults {
		if err := repo.Create(ctx, &defaults[i]); err != nil {
			return i, err
		}
	}
	return len(defaults), nil
}
