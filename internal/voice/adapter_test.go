package voice

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"persona-chat/backend/internal/emotion"
	apperrors "persona-chat/backend/pkg/errors"
	"persona-chat/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type plainProvider struct {
	audio   []byte
	err     error
	voiceID string
	speed   float64
	calls   int
}

func (p *plainProvider) Synthesize(ctx context.Context, text, voiceID string, speed float64) ([]byte, error) {
	p.calls++
	p.voiceID = voiceID
	p.speed = speed
	return p.audio, p.err
}

type emotionalProvider struct {
	plainProvider
	profile Profile
	label   emotion.Label
}

func (p *emotionalProvider) SynthesizeWithEmotion(ctx context.Context, text string, profile Profile, label emotion.Label) ([]byte, error) {
	p.profile = profile
	p.label = label
	return []byte("emotional-audio"), nil
}

type slowProvider struct{}

func (slowProvider) Synthesize(ctx context.Context, text, voiceID string, speed float64) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func newTestAdapter(t *testing.T, p Synthesizer) (*Adapter, string) {
	t.Helper()
	dir := t.TempDir()
	a := NewAdapter(p, Config{
		OutputDir:    dir,
		BaseURL:      "http://localhost:8080/api/audio/",
		DefaultVoice: "alloy",
		Timeout:      time.Second,
	}, logger.Nop())
	return a, dir
}

func TestProfileFor(t *testing.T) {
	assert.Equal(t, Profile{VoiceID: "alloy", Speed: 1.2, Pitch: 1.1}, ProfileFor(emotion.Happy, "x"))
	assert.Equal(t, Profile{VoiceID: "fable", Speed: 0.7, Pitch: 0.8}, ProfileFor(emotion.Sad, "x"))
	assert.Equal(t, Profile{VoiceID: "echo", Speed: 0.9, Pitch: 0.95}, ProfileFor(emotion.Thoughtful, "x"))
	assert.Equal(t, Profile{VoiceID: "x", Speed: 1.0, Pitch: 1.0}, ProfileFor(emotion.None, "x"))
}

func TestSynthesizeWritesFileAndReturnsURL(t *testing.T) {
	p := &plainProvider{audio: []byte("mp3-bytes")}
	a, dir := newTestAdapter(t, p)

	res, err := a.Synthesize(context.Background(), "Hello!", emotion.Happy)
	require.NoError(t, err)

	assert.Equal(t, "alloy", p.voiceID)
	assert.Equal(t, 1.2, p.speed)
	assert.True(t, strings.HasPrefix(res.URL, "http://localhost:8080/api/audio/"))
	assert.True(t, strings.HasSuffix(res.URL, ".mp3"))
	assert.Equal(t, dir, filepath.Dir(res.Path))

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, "mp3-bytes", string(data))

	require.NoError(t, a.Discard(res))
	_, err = os.Stat(res.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestSynthesizePrefersEmotionCapability(t *testing.T) {
	p := &emotionalProvider{}
	a, _ := newTestAdapter(t, p)

	_, err := a.Synthesize(context.Background(), "Wow", emotion.Excited)
	require.NoError(t, err)

	assert.Equal(t, emotion.Excited, p.label)
	assert.Equal(t, "nova", p.profile.VoiceID)
	assert.Equal(t, 0, p.calls)
}

func TestSynthesizeProviderFailureIsUnavailable(t *testing.T) {
	a, dir := newTestAdapter(t, &plainProvider{err: errors.New("quota exceeded")})

	res, err := a.Synthesize(context.Background(), "Hi there", emotion.None)

	assert.Nil(t, res)
	assert.True(t, apperrors.Is(err, apperrors.CodeSynthesisUnavailable))
	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)
}

func TestSynthesizeTimeoutLeavesNoFile(t *testing.T) {
	dir := t.TempDir()
	a := NewAdapter(slowProvider{}, Config{OutputDir: dir, BaseURL: "http://x", Timeout: 20 * time.Millisecond}, logger.Nop())

	_, err := a.Synthesize(context.Background(), "slow", emotion.Calm)

	assert.True(t, apperrors.Is(err, apperrors.CodeSynthesisUnavailable))
	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)
}

func TestSynthesizeRejectsEmptyInput(t *testing.T) {
	p := &plainProvider{audio: []byte("x")}
	a, _ := newTestAdapter(t, p)

	_, err := a.Synthesize(context.Background(), "   ", emotion.Happy)
	assert.True(t, apperrors.Is(err, apperrors.CodeSynthesisUnavailable))
	assert.Equal(t, 0, p.calls)

	_, err = NewAdapter(nil, Config{}, logger.Nop()).Synthesize(context.Background(), "hi", emotion.None)
	assert.True(t, apperrors.Is(err, apperrors.CodeSynthesisUnavailable))
}

func TestSynthesizeEmptyAudio(t *testing.T) {
	a, _ := newTestAdapter(t, &plainProvider{})

	_, err := a.Synthesize(context.Background(), "hello", emotion.None)
	assert.True(t, apperrors.Is(err, apperrors.CodeSynthesisUnavailable))
}
