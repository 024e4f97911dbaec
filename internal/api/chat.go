// Package api maps the HTTP surface onto the chat pipeline.
package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"persona-chat/backend/internal/chat"
	apperrors "persona-chat/backend/pkg/errors"
	"persona-chat/backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

// TurnRunner runs one chat turn.
type TurnRunner interface {
	HandleText(ctx context.Context, req chat.TurnRequest) chat.TurnResponse
	HandleVoice(ctx context.Context, audio []byte, req chat.TurnRequest) chat.TurnResponse
}

// ChatController handles the stateless chat endpoints
type ChatController struct {
	turns         TurnRunner
	maxUploadSize int64
	log           *logger.Logger
}

// NewChatController creates a controller; maxUploadSize bounds voice uploads.
func NewChatController(turns TurnRunner, maxUploadSize int64, log *logger.Logger) *ChatController {
	if maxUploadSize <= 0 {
		maxUploadSize = 10 << 20
	}
	return &ChatController{
		turns:         turns,
		maxUploadSize: maxUploadSize,
		log:           log.WithComponent("chat-api"),
	}
}

// RegisterRoutes mounts the chat endpoints under group
func (c *ChatController) RegisterRoutes(group gin.IRouter) {
	chatGroup := group.Group("/chat")
	{
		chatGroup.POST("/text", c.Text)
		chatGroup.POST("/voice", c.Voice)
	}
}

// Text handles POST /chat/text.
func (c *ChatController) Text(ctx *gin.Context) {
	var req chat.TurnRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		_ = ctx.Error(apperrors.Validation("request body must be a JSON chat turn"))
		return
	}

	c.respond(ctx, c.turns.HandleText(ctx.Request.Context(), req))
}

// Voice handles POST /chat/voice: a multipart form with an "audio" file
// and userId, personaId and sessionId fields.
func (c *ChatController) Voice(ctx *gin.Context) {
	ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, c.maxUploadSize)

	req, err := voiceRequest(ctx)
	if err != nil {
		_ = ctx.Error(err)
		return
	}

	audio, err := readUpload(ctx, c.maxUploadSize)
	if err != nil {
		_ = ctx.Error(err)
		return
	}

	c.respond(ctx, c.turns.HandleVoice(ctx.Request.Context(), audio, req))
}

func (c *ChatController) respond(ctx *gin.Context, resp chat.TurnResponse) {
	ctx.JSON(apperrors.StatusForCode(resp.ErrorCode), resp)
}

func voiceRequest(ctx *gin.Context) (chat.TurnRequest, error) {
	var req chat.TurnRequest

	userID, err := formID(ctx, "userId")
	if err != nil {
		return req, err
	}
	personaID, err := formID(ctx, "personaId")
	if err != nil {
		return req, err
	}

	req.UserID = userID
	req.PersonaID = personaID
	req.SessionID = strings.TrimSpace(ctx.PostForm("sessionId"))
	return req, nil
}

func formID(ctx *gin.Context, field string) (uint, error) {
	raw := strings.TrimSpace(ctx.PostForm(field))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, apperrors.Validation(field + " must be a positive integer")
	}
	return uint(n), nil
}

func readUpload(ctx *gin.Context, limit int64) ([]byte, error) {
	header, err := ctx.FormFile("audio")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperrors.NewError(http.StatusRequestEntityTooLarge, apperrors.CodeValidation, "audio upload is too large")
		}
		return nil, apperrors.Validation("audio file is required")
	}

	f, err := header.Open()
	if err != nil {
		return nil, apperrors.Wrap(http.StatusBadRequest, apperrors.CodeValidation, "audio file could not be read", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(f, limit)); err != nil {
		return nil, apperrors.Wrap(http.StatusBadRequest, apperrors.CodeValidation, "audio file could not be read", err)
	}
	return buf.Bytes(), nil
}
