package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"persona-chat/backend/pkg/logger"
)

const defaultElevenLabsURL = "https://api.elevenlabs.io"

// elevenLabsVoices maps the profile voice names onto ElevenLabs voice ids so
// the emotion table works unchanged with either provider.
var elevenLabsVoices = map[string]string{
	"alloy":   "21m00Tcm4TlvDq8ikWAM", // Rachel
	"nova":    "MF3mGyEYCl7XYWbV9V6O", // Elli
	"echo":    "ErXwobaYiN019PkySvjV", // Antoni
	"fable":   "EXAVITQu4vr4xnSDxMaL", // Bella
	"onyx":    "VR6AewLTigWG4xSOukaG", // Arnold
	"shimmer": "AZnzlk1XvdvUeBnXmlld", // Domi
}

// ElevenLabsConfig configures the ElevenLabs client
type ElevenLabsConfig struct {
	APIKey         string
	BaseURL        string
	DefaultVoiceID string
	ModelID        string
	Timeout        time.Duration
	HTTPClient     *http.Client
}

// ElevenLabsProvider is a plain Synthesizer; it has no emotion capability.
type ElevenLabsProvider struct {
	cfg        ElevenLabsConfig
	httpClient *http.Client
	log        *logger.Logger
}

// NewElevenLabsProvider creates the provider; the API key is required.
func NewElevenLabsProvider(cfg ElevenLabsConfig, log *logger.Logger) (*ElevenLabsProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("ElevenLabs API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultElevenLabsURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.DefaultVoiceID == "" {
		cfg.DefaultVoiceID = elevenLabsVoices["alloy"]
	}
	if cfg.ModelID == "" {
		cfg.ModelID = "eleven_multilingual_v2"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &ElevenLabsProvider{
		cfg:        cfg,
		httpClient: client,
		log:        log.WithComponent("elevenlabs"),
	}, nil
}

type elevenLabsRequest struct {
	Text          string             `json:"text"`
	ModelID       string             `json:"model_id"`
	VoiceSettings elevenLabsSettings `json:"voice_settings"`
}

type elevenLabsSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed"`
}

// Synthesize converts text to MP3 audio
func (p *ElevenLabsProvider) Synthesize(ctx context.Context, text, voiceID string, speed float64) ([]byte, error) {
	body, err := json.Marshal(elevenLabsRequest{
		Text:    text,
		ModelID: p.cfg.ModelID,
		VoiceSettings: elevenLabsSettings{
			Stability:       0.75,
			SimilarityBoost: 0.75,
			Speed:           elevenLabsSpeed(speed),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal TTS request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s", p.cfg.BaseURL, p.voiceFor(voiceID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create TTS request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", p.cfg.APIKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("TTS request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("TTS request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read TTS response: %w", err)
	}
	return audio, nil
}

func (p *ElevenLabsProvider) voiceFor(voiceID string) string {
	if id, ok := elevenLabsVoices[voiceID]; ok {
		return id
	}
	if voiceID != "" {
		return voiceID
	}
	return p.cfg.DefaultVoiceID
}

// elevenLabsSpeed clamps to the 0.7-1.2 range the API accepts.
func elevenLabsSpeed(speed float64) float64 {
	switch {
	case speed <= 0:
		return 1.0
	case speed < 0.7:
		return 0.7
	case speed > 1.2:
		return 1.2
	}
	return speed
}
