package router

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"persona-chat/backend/internal/chat"
	"persona-chat/backend/pkg/config"
	"persona-chat/backend/pkg/di"
	"persona-chat/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOpenAI answers chat completions and speech requests.
func fakeOpenAI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "Nice to meet you! [EMOTION: HAPPY]"}}],
			"usage": {"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2}
		}`)
	})
	mux.HandleFunc("/audio/speech", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3-fake-audio"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestRouter(t *testing.T, withSchema bool) *Router {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	cfg := config.Load()
	cfg.Database.Driver = "sqlite"
	cfg.Database.SQLitePath = filepath.Join(dir, "chat.db")
	cfg.Redis.URL = ""
	cfg.Vault.Enabled = false
	cfg.Providers.OpenAIKey = "sk-test"
	cfg.Providers.OpenAIBaseURL = fakeOpenAI(t).URL
	cfg.Providers.TTSProvider = "openai"
	cfg.Audio.UploadDir = filepath.Join(dir, "audio")
	cfg.Audio.BaseURL = "/api/audio"
	cfg.Chat.EnableTTS = true
	cfg.Security.AllowedOrigins = []string{"https://app.example"}
	cfg.Security.RateLimit = 1000
	cfg.Security.RateLimitBurst = 1000
	cfg.WebSocket.RequireAuth = false

	container, err := di.New(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Close() })
	container.Health.RunChecks(context.Background())

	r := New(container)
	t.Cleanup(r.Close)
	if withSchema {
		r.AddOpenAPIValidation(filepath.Join("..", "..", "api", "openapi.yaml"))
	}
	r.SetupRoutes()
	return r
}

func serve(r *Router, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.Engine.ServeHTTP(w, req)
	return w
}

func TestChatTextEndToEnd(t *testing.T) {
	r := newTestRouter(t, false)

	w := serve(r, http.MethodPost, "/api/v1/chat/text",
		`{"userId":7,"personaId":1,"sessionId":"s1","message":"hello"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp chat.TurnResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, chat.StatusSuccess, resp.Status)
	assert.Equal(t, "Nice to meet you!", resp.Message)
	assert.Equal(t, "HAPPY", resp.Emotion)
	require.True(t, strings.HasPrefix(resp.AudioURL, "/api/audio/"), resp.AudioURL)

	audio := serve(r, http.MethodGet, resp.AudioURL, "")
	assert.Equal(t, http.StatusOK, audio.Code)
	assert.Equal(t, "ID3-fake-audio", audio.Body.String())

	records, err := r.Container.History.Latest(context.Background(), 7, 1, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "hello", records[0].UserMessage)
}

func TestChatTextUnknownPersona(t *testing.T) {
	r := newTestRouter(t, false)

	w := serve(r, http.MethodPost, "/api/v1/chat/text",
		`{"userId":7,"personaId":999,"sessionId":"s1","message":"hello"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "NOT_FOUND")
}

func TestOpenAPIValidationRejectsBadBody(t *testing.T) {
	r := newTestRouter(t, true)

	w := serve(r, http.MethodPost, "/api/v1/chat/text", `{"userId":7,"personaId":0,"sessionId":"s1","message":"hi"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "VALIDATION_ERROR")

	docs := serve(r, http.MethodGet, "/api/docs/openapi.yaml", "")
	assert.Equal(t, http.StatusOK, docs.Code)
}

func TestPersonaListIsSeeded(t *testing.T) {
	r := newTestRouter(t, false)

	w := serve(r, http.MethodGet, "/api/v1/personas", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Personas []map[string]any `json:"personas"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Personas)
}

func TestHealthAndMetrics(t *testing.T) {
	r := newTestRouter(t, false)

	w := serve(r, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Contains(t, body["components"], "database")

	m := serve(r, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, m.Code)
	assert.Contains(t, m.Body.String(), "ws_connections")
}

func TestCORS(t *testing.T) {
	r := newTestRouter(t, false)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/chat/text", nil)
	req.Header.Set("Origin", "https://app.example")
	w := httptest.NewRecorder()
	r.Engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/v1/ws/stats", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	r.Engine.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestWebSocketRoute(t *testing.T) {
	r := newTestRouter(t, false)
	srv := httptest.NewServer(r.Engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var welcome map[string]any
	require.NoError(t, conn.ReadJSON(&welcome))
	assert.Equal(t, "system", welcome["type"])

	assert.Eventually(t, func() bool {
		return r.Container.Registry.ConnectionCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}
