package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"persona-chat/backend/internal/voice"
	"persona-chat/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestElevenLabsSynthesize(t *testing.T) {
	var gotPath, gotKey string
	var gotBody elevenLabsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("xi-api-key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("mp3"))
	}))
	defer srv.Close()

	p, err := NewElevenLabsProvider(ElevenLabsConfig{APIKey: "xi", BaseURL: srv.URL + "/"}, logger.Nop())
	require.NoError(t, err)

	audio, err := p.Synthesize(context.Background(), "Hello!", "nova", 1.3)

	require.NoError(t, err)
	assert.Equal(t, []byte("mp3"), audio)
	assert.Equal(t, "/v1/text-to-speech/"+elevenLabsVoices["nova"], gotPath)
	assert.Equal(t, "xi", gotKey)
	assert.Equal(t, "Hello!", gotBody.Text)
	assert.Equal(t, 1.2, gotBody.VoiceSettings.Speed)
}

func TestElevenLabsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p, err := NewElevenLabsProvider(ElevenLabsConfig{APIKey: "xi", BaseURL: srv.URL}, logger.Nop())
	require.NoError(t, err)

	_, err = p.Synthesize(context.Background(), "Hello!", "alloy", 1)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestElevenLabsHasNoEmotionCapability(t *testing.T) {
	p, err := NewElevenLabsProvider(ElevenLabsConfig{APIKey: "xi"}, logger.Nop())
	require.NoError(t, err)

	var s voice.Synthesizer = p
	_, ok := s.(voice.SupportsEmotionSynthesis)
	assert.False(t, ok)
}

func TestElevenLabsVoiceMapping(t *testing.T) {
	p, err := NewElevenLabsProvider(ElevenLabsConfig{APIKey: "xi", DefaultVoiceID: "default-id"}, logger.Nop())
	require.NoError(t, err)

	assert.Equal(t, elevenLabsVoices["echo"], p.voiceFor("echo"))
	assert.Equal(t, "custom-id", p.voiceFor("custom-id"))
	assert.Equal(t, "default-id", p.voiceFor(""))
}

func TestNewElevenLabsProviderRequiresKey(t *testing.T) {
	_, err := NewElevenLabsProvider(ElevenLabsConfig{}, logger.Nop())
	assert.Error(t, err)
}
