package models

import (
	"time"

	"gorm.io/gorm"
)

// ConversationRecord is one persisted turn between a user and a persona.
// LanguageTag is empty until a language has been recorded for the pair.
type ConversationRecord struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	UserID      uint      `json:"userId" gorm:"not null;index:idx_conversation_user_persona,priority:1"`
	PersonaID   uint      `json:"personaId" gorm:"not null;index:idx_conversation_user_persona,priority:2"`
	SessionID   string    `json:"sessionId" gorm:"size:100;index"`
	UserMessage string    `json:"userMessage" gorm:"type:text;not null"`
	AIResponse  string    `json:"aiResponse" gorm:"type:text;not null"`
	AudioURL    string    `json:"audioUrl,omitempty" gorm:"size:500"`
	LanguageTag string    `json:"languageTag,omitempty" gorm:"size:10"`
	Emotion     string    `json:"emotion,omitempty" gorm:"size:20"`
	Timestamp   time.Time `json:"timestamp" gorm:"not null;index"`
}

// TableName pins the table name
func (ConversationRecord) TableName() string {
	return "conversation_history"
}

// BeforeCreate stamps records created without a timestamp
func (r *ConversationRecord) BeforeCreate(tx *gorm.DB) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	return nil
}
