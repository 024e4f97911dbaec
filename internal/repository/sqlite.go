package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"persona-chat/backend/internal/models"
	apperrors "persona-chat/backend/pkg/errors"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements both repositories on a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (and creates if needed) the database at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS personas (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		system_prompt TEXT NOT NULL DEFAULT '',
		background_prompt TEXT NOT NULL DEFAULT '',
		voice_type TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversation_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		persona_id INTEGER NOT NULL,
		session_id TEXT NOT NULL DEFAULT '',
		user_message TEXT NOT NULL,
		ai_response TEXT NOT NULL,
		audio_url TEXT NOT NULL DEFAULT '',
		language_tag TEXT NOT NULL DEFAULT '',
		emotion TEXT NOT NULL DEFAULT '',
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversation_user_persona
		ON conversation_history(user_id, persona_id, timestamp);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// Personas exposes the persona half of the store.
func (s *SQLiteStore) Personas() *SQLitePersonaStore {
	return &SQLitePersonaStore{db: s.db}
}

// History exposes the conversation-history half of the store.
func (s *SQLiteStore) History() *SQLiteHistoryStore {
	return &SQLiteHistoryStore{db: s.db}
}

type SQLitePersonaStore struct {
	db *sql.DB
}

const personaColumns = `id, name, system_prompt, background_prompt, voice_type, created_at, updated_at`

func scanPersona(row interface{ Scan(...any) error }) (*models.Persona, error) {
	var p models.Persona
	var createdAt, updatedAt int64
	if err := row.Scan(&p.ID, &p.Name, &p.SystemPrompt, &p.BackgroundPrompt, &p.VoiceType, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p.CreatedAt = time.UnixMilli(createdAt).UTC()
	p.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &p, nil
}

func (s *SQLitePersonaStore) Get(ctx context.Context, id uint) (*models.Persona, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+personaColumns+` FROM personas WHERE id = ?`, id)
	p, err := scanPersona(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound(fmt.Sprintf("persona %d not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("scan persona row: %w", err)
	}
	return p, nil
}

func (s *SQLitePersonaStore) List(ctx context.Context) ([]models.Persona, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+personaColumns+` FROM personas ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query personas: %w", err)
	}
	defer rows.Close()

	var personas []models.Persona
	for rows.Next() {
		p, err := scanPersona(rows)
		if err != nil {
			return nil, fmt.Errorf("scan persona row: %w", err)
		}
		personas = append(personas, *p)
	}
	return personas, rows.Err()
}

func (s *SQLitePersonaStore) Create(ctx context.Context, p *models.Persona) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO personas (name, system_prompt, background_prompt, voice_type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.Name, p.SystemPrompt, p.BackgroundPrompt, p.VoiceType, p.CreatedAt.UnixMilli(), p.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert persona: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("read persona id: %w", err)
	}
	p.ID = uint(id)
	return nil
}

func (s *SQLitePersonaStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM personas`).Scan(&n)
	return n, err
}

type SQLiteHistoryStore struct {
	db *sql.DB
}

func (s *SQLiteHistoryStore) Append(ctx context.Context, r *models.ConversationRecord) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_history
		(user_id, persona_id, session_id, user_message, ai_response, audio_url, language_tag, emotion, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.UserID, r.PersonaID, r.SessionID, r.UserMessage, r.AIResponse,
		r.AudioURL, r.LanguageTag, r.Emotion, r.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert conversation record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("read conversation record id: %w", err)
	}
	r.ID = uint(id)
	return nil
}

func (s *SQLiteHistoryStore) Latest(ctx context.Context, userID, personaID uint, n int) ([]models.ConversationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, persona_id, session_id, user_message, ai_response, audio_url, language_tag, emotion, timestamp
		FROM conversation_history
		WHERE user_id = ? AND persona_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, userID, personaID, n)
	if err != nil {
		return nil, fmt.Errorf("query conversation history: %w", err)
	}
	defer rows.Close()

	var records []models.ConversationRecord
	for rows.Next() {
		var r models.ConversationRecord
		var ts int64
		if err := rows.Scan(&r.ID, &r.UserID, &r.PersonaID, &r.SessionID, &r.UserMessage,
			&r.AIResponse, &r.AudioURL, &r.LanguageTag, &r.Emotion, &ts); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		r.Timestamp = time.UnixMilli(ts).UTC()
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *SQLiteHistoryStore) LatestLanguage(ctx context.Context, userID, personaID uint) (string, error) {
	var tag string
	err := s.db.QueryRowContext(ctx,
		`SELECT language_tag FROM conversation_history
		WHERE user_id = ? AND persona_id = ? AND language_tag <> ''
		ORDER BY timestamp DESC, id DESC
		LIMIT 1`, userID, personaID).Scan(&tag)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query latest language: %w", err)
	}
	return tag, nil
}

func (s *SQLiteHistoryStore) UpdateLanguage(ctx context.Context, recordID uint, tag string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversation_history SET language_tag = ? WHERE id = ?`, tag, recordID)
	if err != nil {
		return fmt.Errorf("update language: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return apperrors.NotFound(fmt.Sprintf("conversation record %d not found", recordID))
	}
	return nil
}
