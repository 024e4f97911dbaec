// Package ai holds the clients for the hosted language, speech-to-text and
// text-to-speech services.
package ai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"persona-chat/backend/internal/emotion"
	"persona-chat/backend/internal/voice"
	"persona-chat/backend/pkg/logger"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const historyPrefix = "Conversation history:\n"

// OpenAIConfig configures the OpenAI-compatible client. BaseURL may point at
// any compatible endpoint (DeepSeek, a local gateway).
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	ChatModel   string
	MaxTokens   int64
	Temperature float64
	TTSModel    string
	STTModel    string
	MaxRetries  int
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// OpenAIProvider implements completion, transcription and synthesis on one
// client.
type OpenAIProvider struct {
	client openai.Client
	cfg    OpenAIConfig
	log    *logger.Logger
}

// NewOpenAIProvider builds the provider; the API key is required.
func NewOpenAIProvider(cfg OpenAIConfig, log *logger.Logger) (*OpenAIProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = "gpt-4o-mini"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2000
	}
	if cfg.TTSModel == "" {
		cfg.TTSModel = "tts-1"
	}
	if cfg.STTModel == "" {
		cfg.STTModel = "whisper-1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithHTTPClient(cfg.HTTPClient),
		option.WithMaxRetries(cfg.MaxRetries),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}

	return &OpenAIProvider{
		client: openai.NewClient(opts...),
		cfg:    cfg,
		log:    log.WithComponent("openai"),
	}, nil
}

// Complete sends the system prompt, the rendered history as one assistant
// message, and the user message.
func (p *OpenAIProvider) Complete(ctx context.Context, systemPrompt, history, userMessage string) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt),
	}
	if strings.TrimSpace(history) != "" {
		messages = append(messages, openai.AssistantMessage(historyPrefix+history))
	}
	messages = append(messages, openai.UserMessage(userMessage))

	params := openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(p.cfg.ChatModel),
		Messages:  messages,
		MaxTokens: openai.Int(p.cfg.MaxTokens),
	}
	if p.cfg.Temperature > 0 {
		params.Temperature = openai.Float(p.cfg.Temperature)
	}

	start := time.Now()
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}

	p.log.Debug("Chat completion finished",
		"model", p.cfg.ChatModel,
		"latency", time.Since(start).String(),
		"total_tokens", resp.Usage.TotalTokens,
	)
	return resp.Choices[0].Message.Content, nil
}

// Transcribe runs speech recognition over a recorded clip.
func (p *OpenAIProvider) Transcribe(ctx context.Context, audio []byte) (string, error) {
	resp, err := p.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(audio), "audio.webm", "audio/webm"),
		Model: openai.AudioModel(p.cfg.STTModel),
	})
	if err != nil {
		return "", fmt.Errorf("transcription: %w", err)
	}
	return resp.Text, nil
}

// Synthesize speaks text with a plain voice and speed.
func (p *OpenAIProvider) Synthesize(ctx context.Context, text, voiceID string, speed float64) ([]byte, error) {
	return p.speech(ctx, voiceID, openai.AudioSpeechNewParams{
		Input: text,
		Speed: openai.Float(clampSpeed(speed)),
	})
}

// SynthesizeWithEmotion also passes a delivery instruction on models that
// accept one. Pitch has no API counterpart and is expressed through the
// instruction.
func (p *OpenAIProvider) SynthesizeWithEmotion(ctx context.Context, text string, profile voice.Profile, label emotion.Label) ([]byte, error) {
	params := openai.AudioSpeechNewParams{
		Input: text,
		Speed: openai.Float(clampSpeed(profile.Speed)),
	}
	if p.acceptsInstructions() && label != emotion.None {
		params.Instructions = openai.String(deliveryInstruction(label, profile.Pitch))
	}
	return p.speech(ctx, profile.VoiceID, params)
}

// speech sets the voice as a raw JSON field so built-in and custom voice
// names are sent the same way.
func (p *OpenAIProvider) speech(ctx context.Context, voiceID string, params openai.AudioSpeechNewParams) ([]byte, error) {
	params.Model = openai.SpeechModel(p.cfg.TTSModel)
	params.ResponseFormat = openai.AudioSpeechNewParamsResponseFormatMP3

	resp, err := p.client.Audio.Speech.New(ctx, params, option.WithJSONSet("voice", voiceID))
	if err != nil {
		return nil, fmt.Errorf("speech synthesis: %w", err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read synthesized audio: %w", err)
	}
	return audio, nil
}

func (p *OpenAIProvider) acceptsInstructions() bool {
	return p.cfg.TTSModel != "tts-1" && p.cfg.TTSModel != "tts-1-hd"
}

// clampSpeed keeps speed inside the API's accepted range.
func clampSpeed(speed float64) float64 {
	switch {
	case speed <= 0:
		return 1.0
	case speed < 0.25:
		return 0.25
	case speed > 4.0:
		return 4.0
	}
	return speed
}

func deliveryInstruction(label emotion.Label, pitch float64) string {
	tone := strings.ToLower(string(label))
	switch {
	case pitch > 1.0:
		return fmt.Sprintf("Speak in a %s tone with a slightly raised pitch.", tone)
	case pitch > 0 && pitch < 1.0:
		return fmt.Sprintf("Speak in a %s tone with a slightly lowered pitch.", tone)
	}
	return fmt.Sprintf("Speak in a %s tone.", tone)
}
