// Package voice turns a cleaned reply into a stored audio file, choosing the
// voice from the reply's emotion.
package voice

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"persona-chat/backend/internal/emotion"
	apperrors "persona-chat/backend/pkg/errors"
	"persona-chat/backend/pkg/logger"

	"github.com/google/uuid"
)

// Synthesizer is the plain speech-synthesis contract every provider meets.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string, speed float64) ([]byte, error)
}

// SupportsEmotionSynthesis is an optional capability: providers that can
// shape delivery from the whole profile and label implement it.
type SupportsEmotionSynthesis interface {
	SynthesizeWithEmotion(ctx context.Context, text string, profile Profile, label emotion.Label) ([]byte, error)
}

// Config controls where audio lands and how it is addressed.
type Config struct {
	OutputDir    string
	BaseURL      string
	DefaultVoice string
	Timeout      time.Duration
	Extension    string
}

// Result describes one stored audio file.
type Result struct {
	URL     string
	Path    string
	Profile Profile
}

// Adapter writes synthesized replies to disk.
type Adapter struct {
	provider Synthesizer
	cfg      Config
	log      *logger.Logger
	newName  func() string
}

// NewAdapter creates an Adapter around provider.
func NewAdapter(provider Synthesizer, cfg Config, log *logger.Logger) *Adapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Extension == "" {
		cfg.Extension = ".mp3"
	}
	if cfg.DefaultVoice == "" {
		cfg.DefaultVoice = "alloy"
	}
	return &Adapter{
		provider: provider,
		cfg:      cfg,
		log:      log.WithComponent("voice"),
		newName:  func() string { return uuid.New().String() },
	}
}

// Synthesize speaks text with the voice chosen for label and stores the
// audio. Every failure is reported as SYNTHESIS_UNAVAILABLE.
func (a *Adapter) Synthesize(ctx context.Context, text string, label emotion.Label) (*Result, error) {
	if a.provider == nil {
		return nil, apperrors.SynthesisUnavailable("no speech provider configured", nil)
	}
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.SynthesisUnavailable("nothing to synthesize", nil)
	}

	profile := ProfileFor(label, a.cfg.DefaultVoice)

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	var (
		audio []byte
		err   error
	)
	if es, ok := a.provider.(SupportsEmotionSynthesis); ok && label != emotion.None {
		audio, err = es.SynthesizeWithEmotion(ctx, text, profile, label)
	} else {
		audio, err = a.provider.Synthesize(ctx, text, profile.VoiceID, profile.Speed)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperrors.SynthesisUnavailable("speech synthesis timed out", err)
		}
		return nil, apperrors.SynthesisUnavailable("speech synthesis failed", err)
	}
	if len(audio) == 0 {
		return nil, apperrors.SynthesisUnavailable("speech provider returned no audio", nil)
	}

	path, err := a.store(ctx, audio)
	if err != nil {
		return nil, apperrors.SynthesisUnavailable("could not store audio", err)
	}

	name := filepath.Base(path)
	a.log.Debug("Stored synthesized audio",
		"file", name,
		"voice", profile.VoiceID,
		"emotion", string(label),
		"bytes", len(audio),
	)

	return &Result{
		URL:     strings.TrimRight(a.cfg.BaseURL, "/") + "/" + name,
		Path:    path,
		Profile: profile,
	}, nil
}

// Discard removes a stored file, e.g. when the turn it belonged to could not
// be persisted.
func (a *Adapter) Discard(res *Result) error {
	if res == nil || res.Path == "" {
		return nil
	}
	if err := os.Remove(res.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing audio %s: %w", res.Path, err)
	}
	return nil
}

// store writes audio through a temp file so a cancelled or failed write
// never leaves a partial file behind.
func (a *Adapter) store(ctx context.Context, audio []byte) (string, error) {
	if err := os.MkdirAll(a.cfg.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("creating audio dir: %w", err)
	}

	tmp, err := os.CreateTemp(a.cfg.OutputDir, ".audio-*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating temp audio file: %w", err)
	}
	tmpPath := tmp.Name()

	cleanup := func(cause error) (string, error) {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", cause
	}

	if _, err := tmp.Write(audio); err != nil {
		return cleanup(fmt.Errorf("writing audio: %w", err))
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("closing audio: %w", err)
	}
	if err := ctx.Err(); err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}

	final := filepath.Join(a.cfg.OutputDir, a.newName()+a.cfg.Extension)
	if err := os.Rename(tmpPath, final); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("publishing audio: %w", err)
	}
	return final, nil
}
