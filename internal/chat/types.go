package chat

import (
	"context"
	"strings"
	"time"

	"persona-chat/backend/internal/emotion"
	"persona-chat/backend/internal/models"
	"persona-chat/backend/internal/voice"
	apperrors "persona-chat/backend/pkg/errors"
)

// Status is the outcome of one turn.
type Status string

const (
	StatusSuccess    Status = "SUCCESS"
	StatusError      Status = "ERROR"
	StatusProcessing Status = "PROCESSING"
)

// TurnRequest is one user message addressed to a persona.
type TurnRequest struct {
	UserID    uint   `json:"userId"`
	PersonaID uint   `json:"personaId"`
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

// TurnResponse is the reply to one TurnRequest.
type TurnResponse struct {
	PersonaID   uint      `json:"personaId"`
	PersonaName string    `json:"personaName,omitempty"`
	Message     string    `json:"message"`
	AudioURL    string    `json:"audioUrl,omitempty"`
	SessionID   string    `json:"sessionId"`
	Status      Status    `json:"status"`
	Emotion     string    `json:"emotion,omitempty"`
	Language    string    `json:"language,omitempty"`
	Transcript  string    `json:"transcript,omitempty"`
	ErrorCode   string    `json:"errorCode,omitempty"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Processing is the interim response sent while a turn is in flight.
func Processing(req TurnRequest, now time.Time) TurnResponse {
	return TurnResponse{
		PersonaID: req.PersonaID,
		SessionID: req.SessionID,
		Status:    StatusProcessing,
		Timestamp: now,
	}
}

func (r TurnRequest) validateIdentity() error {
	switch {
	case r.UserID == 0:
		return apperrors.Validation("userId is required")
	case r.PersonaID == 0:
		return apperrors.Validation("personaId is required")
	case strings.TrimSpace(r.SessionID) == "":
		return apperrors.Validation("sessionId is required")
	}
	return nil
}

// Validate checks the fields every text turn needs.
func (r TurnRequest) Validate() error {
	if err := r.validateIdentity(); err != nil {
		return err
	}
	if strings.TrimSpace(r.Message) == "" {
		return apperrors.Validation("message must not be empty")
	}
	return nil
}

// HistoryStore owns conversation records. Latest returns most-recent-first.
type HistoryStore interface {
	Append(ctx context.Context, record *models.ConversationRecord) error
	Latest(ctx context.Context, userID, personaID uint, n int) ([]models.ConversationRecord, error)
	LatestLanguage(ctx context.Context, userID, personaID uint) (string, error)
	UpdateLanguage(ctx context.Context, recordID uint, tag string) error
}

// PersonaStore resolves personas; a missing persona is a NOT_FOUND AppError.
type PersonaStore interface {
	Get(ctx context.Context, id uint) (*models.Persona, error)
}

// LanguageModel produces the raw reply for a turn.
type LanguageModel interface {
	Complete(ctx context.Context, systemPrompt, history, userMessage string) (string, error)
}

// Transcriber turns recorded speech into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// VoiceSynthesizer stores a spoken version of a reply.
type VoiceSynthesizer interface {
	Synthesize(ctx context.Context, text string, label emotion.Label) (*voice.Result, error)
	Discard(res *voice.Result) error
}
