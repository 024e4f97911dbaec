package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"persona-chat/backend/internal/chat"
	"persona-chat/backend/internal/models"
	apperrors "persona-chat/backend/pkg/errors"
	"persona-chat/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTurns struct {
	text     chat.TurnRequest
	voice    chat.TurnRequest
	audio    []byte
	response chat.TurnResponse
}

func (f *fakeTurns) HandleText(_ context.Context, req chat.TurnRequest) chat.TurnResponse {
	f.text = req
	return f.reply(req)
}

func (f *fakeTurns) HandleVoice(_ context.Context, audio []byte, req chat.TurnRequest) chat.TurnResponse {
	f.voice = req
	f.audio = audio
	return f.reply(req)
}

func (f *fakeTurns) reply(req chat.TurnRequest) chat.TurnResponse {
	resp := f.response
	resp.PersonaID = req.PersonaID
	resp.SessionID = req.SessionID
	resp.Timestamp = time.Unix(0, 0).UTC()
	return resp
}

func newRouter(turns TurnRunner, personas PersonaLister, maxUpload int64) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(apperrors.ErrorHandler())
	v1 := r.Group("/api/v1")
	NewChatController(turns, maxUpload, logger.Nop()).RegisterRoutes(v1)
	if personas != nil {
		NewPersonaController(personas).RegisterRoutes(v1)
	}
	return r
}

func decodeTurn(t *testing.T, w *httptest.ResponseRecorder) chat.TurnResponse {
	t.Helper()
	var resp chat.TurnResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestTextTurnSuccess(t *testing.T) {
	turns := &fakeTurns{response: chat.TurnResponse{Status: chat.StatusSuccess, Message: "hello"}}
	r := newRouter(turns, nil, 0)

	body := `{"userId":1,"personaId":2,"sessionId":"s1","message":"hi"}`
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/chat/text", strings.NewReader(body)))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, chat.TurnRequest{UserID: 1, PersonaID: 2, SessionID: "s1", Message: "hi"}, turns.text)
	resp := decodeTurn(t, w)
	assert.Equal(t, "hello", resp.Message)
	assert.Equal(t, "s1", resp.SessionID)
}

func TestTextTurnErrorCodeSetsStatus(t *testing.T) {
	cases := map[string]int{
		apperrors.CodeValidation:      http.StatusBadRequest,
		apperrors.CodeNotFound:        http.StatusNotFound,
		apperrors.CodeProviderTimeout: http.StatusGatewayTimeout,
		apperrors.CodeProviderError:   http.StatusBadGateway,
		apperrors.CodePersistence:     http.StatusInternalServerError,
	}
	for code, status := range cases {
		t.Run(code, func(t *testing.T) {
			turns := &fakeTurns{response: chat.TurnResponse{Status: chat.StatusError, ErrorCode: code}}
			r := newRouter(turns, nil, 0)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/chat/text",
				strings.NewReader(`{"userId":1,"personaId":2,"sessionId":"s","message":"x"}`)))

			assert.Equal(t, status, w.Code)
			assert.Equal(t, code, decodeTurn(t, w).ErrorCode)
		})
	}
}

func TestTextTurnRejectsMalformedJSON(t *testing.T) {
	turns := &fakeTurns{}
	r := newRouter(turns, nil, 0)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/chat/text", strings.NewReader(`{"userId":`)))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), apperrors.CodeValidation)
	assert.Zero(t, turns.text)
}

func voiceForm(t *testing.T, fields map[string]string, audio []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if audio != nil {
		fw, err := mw.CreateFormFile("audio", "clip.webm")
		require.NoError(t, err)
		_, err = fw.Write(audio)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestVoiceTurnPassesAudioAndFields(t *testing.T) {
	turns := &fakeTurns{response: chat.TurnResponse{Status: chat.StatusSuccess, Transcript: "hi there"}}
	r := newRouter(turns, nil, 0)

	body, ctype := voiceForm(t, map[string]string{"userId": "3", "personaId": "4", "sessionId": "s9"}, []byte("OggS"))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/voice", body)
	req.Header.Set("Content-Type", ctype)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, chat.TurnRequest{UserID: 3, PersonaID: 4, SessionID: "s9"}, turns.voice)
	assert.Equal(t, []byte("OggS"), turns.audio)
	assert.Equal(t, "hi there", decodeTurn(t, w).Transcript)
}

func TestVoiceTurnBadInput(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		turns := &fakeTurns{}
		r := newRouter(turns, nil, 0)
		body, ctype := voiceForm(t, map[string]string{"userId": "1", "personaId": "1", "sessionId": "s"}, nil)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/voice", body)
		req.Header.Set("Content-Type", ctype)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Nil(t, turns.audio)
	})

	t.Run("non numeric id", func(t *testing.T) {
		r := newRouter(&fakeTurns{}, nil, 0)
		body, ctype := voiceForm(t, map[string]string{"userId": "abc", "personaId": "1", "sessionId": "s"}, []byte("x"))
		req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/voice", body)
		req.Header.Set("Content-Type", ctype)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "userId")
	})

	t.Run("too large", func(t *testing.T) {
		turns := &fakeTurns{}
		r := newRouter(turns, nil, 64)
		body, ctype := voiceForm(t, map[string]string{"userId": "1", "personaId": "1", "sessionId": "s"}, bytes.Repeat([]byte("a"), 4096))
		req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/voice", body)
		req.Header.Set("Content-Type", ctype)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Contains(t, w.Body.String(), "too large")
		assert.Nil(t, turns.audio)
	})
}

type fakePersonas struct {
	list []models.Persona
	err  error
}

func (f fakePersonas) List(context.Context) ([]models.Persona, error) { return f.list, f.err }

func TestListPersonasHidesPrompts(t *testing.T) {
	r := newRouter(&fakeTurns{}, fakePersonas{list: []models.Persona{
		{ID: 1, Name: "Aria", SystemPrompt: "secret", VoiceType: "alloy"},
	}}, 0)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/personas", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "secret")

	var body struct {
		Personas []PersonaSummary `json:"personas"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, []PersonaSummary{{ID: 1, Name: "Aria", VoiceType: "alloy"}}, body.Personas)
}

func TestListPersonasStoreFailure(t *testing.T) {
	r := newRouter(&fakeTurns{}, fakePersonas{err: errors.New("db down")}, 0)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/personas", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
