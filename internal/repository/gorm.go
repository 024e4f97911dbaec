package repository

import (
	"context"
	"errors"
	"fmt"

	"persona-chat/backend/internal/models"
	apperrors "persona-chat/backend/pkg/errors"

	"gorm.io/gorm"
)

// AutoMigrate creates or updates the tables used by the gorm stores
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&models.Persona{}, &models.ConversationRecord{})
}

type GormPersonaStore struct {
	db *gorm.DB
}

func NewGormPersonaStore(db *gorm.DB) *GormPersonaStore {
	return &GormPersonaStore{db: db}
}

func (r *GormPersonaStore) Get(ctx context.Context, id uint) (*models.Persona, error) {
	var persona models.Persona
	err := r.db.WithContext(ctx).First(&persona, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound(fmt.Sprintf("persona %d not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("get persona %d: %w", id, err)
	}
	return &persona, nil
}

func (r *GormPersonaStore) List(ctx context.Context) ([]models.Persona, error) {
	var personas []models.Persona
	err := r.db.WithContext(ctx).Order("id ASC").Find(&personas).Error
	return personas, err
}

func (r *GormPersonaStore) Create(ctx context.Context, p *models.Persona) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *GormPersonaStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Persona{}).Count(&n).Error
	return n, err
}

type GormHistoryStore struct {
	db *gorm.DB
}

func NewGormHistoryStore(db *gorm.DB) *GormHistoryStore {
	return &GormHistoryStore{db: db}
}

func (r *GormHistoryStore) Append(ctx context.Context, record *models.ConversationRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *GormHistoryStore) Latest(ctx context.Context, userID, personaID uint, n int) ([]models.ConversationRecord, error) {
	var records []models.ConversationRecord
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND persona_id = ?", userID, personaID).
		Order("timestamp DESC, id DESC").
		Limit(n).
		Find(&records).Error
	return records, err
}

func (r *GormHistoryStore) LatestLanguage(ctx context.Context, userID, personaID uint) (string, error) {
	var record models.ConversationRecord
	err := r.db.WithContext(ctx).
		Select("language_tag").
		Where("user_id = ? AND persona_id = ? AND language_tag <> ''", userID, personaID).
		Order("timestamp DESC, id DESC").
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	return record.LanguageTag, err
}

func (r *GormHistoryStore) UpdateLanguage(ctx context.Context, recordID uint, tag string) error {
	res := r.db.WithContext(ctx).
		Model(&models.ConversationRecord{}).
		Where("id = ?", recordID).
		Update("language_tag", tag)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound(fmt.Sprintf("conversation record %d not found", recordID))
	}
	return nil
}
