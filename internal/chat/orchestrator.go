// Package chat turns one user message into a persisted, emotion-annotated and
// optionally voiced persona reply.
package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"persona-chat/backend/internal/emotion"
	"persona-chat/backend/internal/language"
	"persona-chat/backend/internal/models"
	"persona-chat/backend/internal/voice"
	apperrors "persona-chat/backend/pkg/errors"
	"persona-chat/backend/pkg/logger"
	"persona-chat/backend/pkg/resilience"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "persona-chat/backend/internal/chat"

// Config tunes the pipeline.
type Config struct {
	HistoryLimit      int
	DefaultLanguage   language.Tag
	ModelTimeout      time.Duration
	TranscribeTimeout time.Duration
	EnableTTS         bool
	DefaultPrompt     string
}

// DefaultConfig returns the pipeline defaults.
func DefaultConfig() Config {
	return Config{
		HistoryLimit:      10,
		DefaultLanguage:   language.Default,
		ModelTimeout:      30 * time.Second,
		TranscribeTimeout: 60 * time.Second,
		EnableTTS:         true,
		DefaultPrompt:     DefaultSystemPrompt,
	}
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithTranscriber enables voice turns.
func WithTranscriber(t Transcriber) Option {
	return func(o *Orchestrator) { o.transcriber = t }
}

// WithVoice enables spoken replies.
func WithVoice(v VoiceSynthesizer) Option {
	return func(o *Orchestrator) { o.voice = v }
}

// WithBreaker guards model calls with a circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(o *Orchestrator) { o.breaker = cb }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator runs chat turns. It never returns an error: every failure
// becomes a TurnResponse with StatusError.
type Orchestrator struct {
	history     HistoryStore
	personas    PersonaStore
	model       LanguageModel
	transcriber Transcriber
	voice       VoiceSynthesizer
	breaker     *resilience.CircuitBreaker
	cfg         Config
	log         *logger.Logger
	now         func() time.Time

	tracer  trace.Tracer
	turns   metric.Int64Counter
	latency metric.Float64Histogram
}

// New creates an Orchestrator.
func New(history HistoryStore, personas PersonaStore, model LanguageModel, cfg Config, log *logger.Logger, opts ...Option) *Orchestrator {
	defaults := DefaultConfig()
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaults.HistoryLimit
	}
	if _, ok := language.Parse(string(cfg.DefaultLanguage)); !ok {
		cfg.DefaultLanguage = defaults.DefaultLanguage
	}
	if cfg.ModelTimeout <= 0 {
		cfg.ModelTimeout = defaults.ModelTimeout
	}
	if cfg.TranscribeTimeout <= 0 {
		cfg.TranscribeTimeout = defaults.TranscribeTimeout
	}
	if strings.TrimSpace(cfg.DefaultPrompt) == "" {
		cfg.DefaultPrompt = defaults.DefaultPrompt
	}

	o := &Orchestrator{
		history:  history,
		personas: personas,
		model:    model,
		cfg:      cfg,
		log:      log.WithComponent("chat"),
		now:      time.Now,
		tracer:   otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(o)
	}

	meter := otel.Meter(instrumentationName)
	var err error
	if o.turns, err = meter.Int64Counter("chat_turns_total",
		metric.WithDescription("Chat turns handled, by operation and status")); err != nil {
		o.log.LogError(err, "Failed to create turn counter")
	}
	if o.latency, err = meter.Float64Histogram("chat_turn_duration_seconds",
		metric.WithDescription("End-to-end chat turn latency"),
		metric.WithUnit("s")); err != nil {
		o.log.LogError(err, "Failed to create turn latency histogram")
	}

	return o
}

// HandleText runs the text pipeline for one turn.
func (o *Orchestrator) HandleText(ctx context.Context, req TurnRequest) TurnResponse {
	return o.run(ctx, "chat.HandleText", req, func(ctx context.Context) TurnResponse {
		return o.handleText(ctx, req)
	})
}

// HandleVoice transcribes audio, runs the text pipeline on the transcript and
// annotates the response with it.
func (o *Orchestrator) HandleVoice(ctx context.Context, audio []byte, req TurnRequest) TurnResponse {
	return o.run(ctx, "chat.HandleVoice", req, func(ctx context.Context) TurnResponse {
		if err := req.validateIdentity(); err != nil {
			return o.failure(ctx, req, nil, err)
		}
		if len(audio) == 0 {
			return o.failure(ctx, req, nil, apperrors.Validation("audio is required"))
		}
		if o.transcriber == nil {
			return o.failure(ctx, req, nil, apperrors.ProviderFailure("speech recognition is not configured", nil))
		}

		text, err := o.transcribe(ctx, audio)
		if err != nil {
			return o.failure(ctx, req, nil, err)
		}

		req.Message = text
		resp := o.handleText(ctx, req)
		resp.Transcript = text
		return resp
	})
}

func (o *Orchestrator) run(ctx context.Context, op string, req TurnRequest, fn func(context.Context) TurnResponse) (resp TurnResponse) {
	ctx, span := o.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.Int64("chat.user_id", int64(req.UserID)),
		attribute.Int64("chat.persona_id", int64(req.PersonaID)),
		attribute.String("chat.session_id", req.SessionID),
	))
	start := o.now()

	defer func() {
		if r := recover(); r != nil {
			o.log.Error("Chat turn panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			resp = o.failure(ctx, req, nil, apperrors.NewInternalServerError(apperrors.CodeInternal, "an unexpected error occurred"))
		}

		attrs := metric.WithAttributes(
			attribute.String("operation", op),
			attribute.String("status", string(resp.Status)),
		)
		if o.turns != nil {
			o.turns.Add(ctx, 1, attrs)
		}
		if o.latency != nil {
			o.latency.Record(ctx, o.now().Sub(start).Seconds(), attrs)
		}
		if resp.Status == StatusError {
			span.SetStatus(codes.Error, resp.Error)
		}
		span.End()
	}()

	return fn(ctx)
}

func (o *Orchestrator) handleText(ctx context.Context, req TurnRequest) TurnResponse {
	if err := req.Validate(); err != nil {
		return o.failure(ctx, req, nil, err)
	}

	persona, err := o.personas.Get(ctx, req.PersonaID)
	if err != nil {
		if _, ok := apperrors.As(err); !ok {
			err = apperrors.Wrap(http.StatusInternalServerError, apperrors.CodeInternal, "could not load persona", err)
		}
		return o.failure(ctx, req, nil, err)
	}

	if tag, ok := language.Detect(req.Message); ok {
		return o.confirmLanguageSwitch(ctx, req, persona, tag)
	}

	lang := o.resolveLanguage(ctx, req)
	systemPrompt := BuildSystemPrompt(persona, lang, o.cfg.DefaultLanguage, o.cfg.DefaultPrompt)
	history := o.loadHistory(ctx, req)

	raw, err := o.complete(ctx, systemPrompt, history, req.Message)
	if err != nil {
		return o.failure(ctx, req, persona, err)
	}

	label, text := emotion.Decode(raw)
	if text == "" {
		return o.failure(ctx, req, persona, apperrors.ProviderFailure("the model returned an empty reply", nil))
	}

	audio := o.synthesize(ctx, text, label)

	record := &models.ConversationRecord{
		UserID:      req.UserID,
		PersonaID:   req.PersonaID,
		SessionID:   req.SessionID,
		UserMessage: req.Message,
		AIResponse:  text,
		LanguageTag: string(lang),
		Emotion:     string(label),
		Timestamp:   o.now().UTC(),
	}
	if audio != nil {
		record.AudioURL = audio.URL
	}

	if err := o.history.Append(ctx, record); err != nil {
		if audio != nil {
			if derr := o.voice.Discard(audio); derr != nil {
				o.log.LogError(derr, "Failed to discard orphaned audio", "url", audio.URL)
			}
		}
		return o.failure(ctx, req, persona, apperrors.Persistence("could not save the conversation", err))
	}

	resp := o.success(req, persona, text, lang)
	resp.Emotion = string(label)
	if audio != nil {
		resp.AudioURL = audio.URL
	}
	return resp
}

// confirmLanguageSwitch records the new language and answers with the canned
// confirmation. The model is not called on this path.
//
// The tag is also written onto the pair's most recent existing record.
func (o *Orchestrator) confirmLanguageSwitch(ctx context.Context, req TurnRequest, persona *models.Persona, tag language.Tag) TurnResponse {
	ctx, span := o.tracer.Start(ctx, "chat.languageSwitch", trace.WithAttributes(
		attribute.String("chat.language", string(tag)),
	))
	defer span.End()

	confirmation := language.Confirmation(tag)

	latest, err := o.history.Latest(ctx, req.UserID, req.PersonaID, 1)
	switch {
	case err != nil:
		o.log.LogError(err, "Failed to load latest record for language update", "user_id", req.UserID, "persona_id", req.PersonaID)
	case len(latest) > 0:
		if err := o.history.UpdateLanguage(ctx, latest[0].ID, string(tag)); err != nil {
			o.log.LogError(err, "Failed to update language on latest record", "record_id", latest[0].ID)
		}
	}

	record := &models.ConversationRecord{
		UserID:      req.UserID,
		PersonaID:   req.PersonaID,
		SessionID:   req.SessionID,
		UserMessage: req.Message,
		AIResponse:  confirmation,
		LanguageTag: string(tag),
		Timestamp:   o.now().UTC(),
	}
	if err := o.history.Append(ctx, record); err != nil {
		return o.failure(ctx, req, persona, apperrors.Persistence("could not save the language preference", err))
	}

	o.log.Info("Conversation language switched",
		"user_id", req.UserID,
		"persona_id", req.PersonaID,
		"language", string(tag),
	)
	return o.success(req, persona, confirmation, tag)
}

func (o *Orchestrator) resolveLanguage(ctx context.Context, req TurnRequest) language.Tag {
	stored, err := o.history.LatestLanguage(ctx, req.UserID, req.PersonaID)
	if err != nil {
		o.log.LogError(err, "Failed to resolve conversation language, using default")
		return o.cfg.DefaultLanguage
	}
	if tag, ok := language.Parse(stored); ok {
		return tag
	}
	return o.cfg.DefaultLanguage
}

// loadHistory degrades to no context when the store cannot be read.
func (o *Orchestrator) loadHistory(ctx context.Context, req TurnRequest) string {
	records, err := o.history.Latest(ctx, req.UserID, req.PersonaID, o.cfg.HistoryLimit)
	if err != nil {
		o.log.LogError(err, "Failed to load conversation history", "user_id", req.UserID, "persona_id", req.PersonaID)
		return ""
	}
	return RenderHistory(records)
}

func (o *Orchestrator) complete(ctx context.Context, systemPrompt, history, message string) (string, error) {
	ctx, span := o.tracer.Start(ctx, "chat.modelCall")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, o.cfg.ModelTimeout)
	defer cancel()

	var reply string
	call := func() error {
		var err error
		reply, err = o.model.Complete(ctx, systemPrompt, history, message)
		return err
	}

	var err error
	if o.breaker != nil {
		err = o.breaker.ExecuteIgnoring(call, func(err error) bool {
			return errors.Is(err, context.Canceled)
		})
	} else {
		err = call()
	}

	if err != nil {
		span.RecordError(err)
		switch {
		case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
			return "", apperrors.ProviderTimeout("the model did not answer in time", err)
		case errors.Is(err, resilience.ErrCircuitOpen):
			return "", apperrors.ProviderFailure("the model is temporarily unavailable", err)
		default:
			return "", apperrors.ProviderFailure("the model call failed", err)
		}
	}
	return reply, nil
}

func (o *Orchestrator) transcribe(ctx context.Context, audio []byte) (string, error) {
	ctx, span := o.tracer.Start(ctx, "chat.transcribe", trace.WithAttributes(
		attribute.Int("chat.audio_bytes", len(audio)),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, o.cfg.TranscribeTimeout)
	defer cancel()

	text, err := o.transcriber.Transcribe(ctx, audio)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", apperrors.ProviderTimeout("speech recognition timed out", err)
		}
		return "", apperrors.ProviderFailure("speech recognition failed", err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", apperrors.ProviderFailure("no speech was recognized", nil)
	}
	return text, nil
}

// synthesize returns nil whenever no audio could be produced.
func (o *Orchestrator) synthesize(ctx context.Context, text string, label emotion.Label) *voice.Result {
	if o.voice == nil || !o.cfg.EnableTTS {
		return nil
	}

	ctx, span := o.tracer.Start(ctx, "chat.voiceSynthesis", trace.WithAttributes(
		attribute.String("chat.emotion", string(label)),
	))
	defer span.End()

	res, err := o.voice.Synthesize(ctx, text, label)
	if err != nil {
		span.RecordError(err)
		o.log.Warn("Voice synthesis unavailable, replying with text only",
			"error", err.Error(),
			"emotion", string(label),
		)
		return nil
	}
	return res
}

func (o *Orchestrator) success(req TurnRequest, persona *models.Persona, message string, lang language.Tag) TurnResponse {
	return TurnResponse{
		PersonaID:   persona.ID,
		PersonaName: persona.Name,
		Message:     message,
		SessionID:   req.SessionID,
		Status:      StatusSuccess,
		Language:    string(lang),
		Timestamp:   o.now().UTC(),
	}
}

func (o *Orchestrator) failure(ctx context.Context, req TurnRequest, persona *models.Persona, err error) TurnResponse {
	appErr := apperrors.FromError(err)
	trace.SpanFromContext(ctx).RecordError(err)

	args := []any{
		"code", appErr.Code,
		"user_id", req.UserID,
		"persona_id", req.PersonaID,
		"session_id", req.SessionID,
	}
	if appErr.Code == apperrors.CodeValidation || appErr.Code == apperrors.CodeNotFound {
		o.log.Info("Chat turn rejected", append(args, "reason", appErr.Message)...)
	} else {
		o.log.LogError(err, "Chat turn failed", args...)
	}

	resp := TurnResponse{
		PersonaID: req.PersonaID,
		SessionID: req.SessionID,
		Status:    StatusError,
		ErrorCode: appErr.Code,
		Error:     appErr.Message,
		Timestamp: o.now().UTC(),
	}
	if persona != nil {
		resp.PersonaName = persona.Name
	}
	return resp
}
