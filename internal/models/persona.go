package models

import (
	"time"
)

// Persona is the AI character a conversation is held with
type Persona struct {
	ID               uint      `json:"id" gorm:"primaryKey"`
	Name             string    `json:"name" gorm:"size:100;not null"`
	SystemPrompt     string    `json:"systemPrompt" gorm:"type:text"`
	BackgroundPrompt string    `json:"backgroundPrompt" gorm:"type:text"`
	VoiceType        string    `json:"voiceType" gorm:"size:50"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// TableName pins the table name
func (Persona) TableName() string {
	return "personas"
}

// DefaultPersonas is the starter set seeded into an empty store
func DefaultPersonas() []Persona {
	return []Persona{
		{
			Name:         "Aria",
			SystemPrompt: "You are Aria, a warm and upbeat companion who loves hearing about the user's day.",
			VoiceType:    "alloy",
		},
		{
			Name:             "Professor Lin",
			SystemPrompt:     "You are Professor Lin, a patient teacher.",
			BackgroundPrompt: "You are Professor Lin, a retired history professor who explains things with stories and asks gentle follow-up questions.",
			VoiceType:        "echo",
		},
		{
			Name:         "Milo",
			SystemPrompt: "You are Milo, a curious and playful assistant who keeps answers short.",
			VoiceType:    "nova",
		},
	}
}
