// Package di assembles the application graph from configuration.
package di

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"persona-chat/backend/ai"
	"persona-chat/backend/internal/chat"
	"persona-chat/backend/internal/language"
	"persona-chat/backend/internal/repository"
	"persona-chat/backend/internal/voice"
	"persona-chat/backend/internal/ws"
	"persona-chat/backend/pkg/cache"
	"persona-chat/backend/pkg/config"
	"persona-chat/backend/pkg/health"
	"persona-chat/backend/pkg/jwt"
	"persona-chat/backend/pkg/logger"
	"persona-chat/backend/pkg/resilience"
	"persona-chat/backend/pkg/secrets"
	"persona-chat/backend/shared/observability"
	"persona-chat/backend/shared/redis"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"gorm.io/gorm"
)

const serviceName = "persona-chat"

// Container holds all the dependencies for the application
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	// Exactly one of DB and SQLite is set, following DB_DRIVER
	DB     *gorm.DB
	SQLite *repository.SQLiteStore

	Personas repository.PersonaRepository
	History  repository.HistoryRepository
	Cache    cache.Store
	Redis    *redis.Client

	Secrets      *secrets.VaultManager
	Provider     *ai.OpenAIProvider
	Voice        *voice.Adapter
	Breaker      *resilience.CircuitBreaker
	Orchestrator *chat.Orchestrator
	Registry     *ws.Registry
	JWTService   *jwt.Service
	Health       *health.Checker

	Metrics       *prometheus.Registry
	MeterProvider *sdkmetric.MeterProvider

	closers []func() error
}

// New wires every component described by cfg. On error, whatever was
// already opened is closed.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Container, error) {
	c := &Container{Config: cfg, Logger: log, Metrics: prometheus.NewRegistry()}
	if err := c.init(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Container) init(ctx context.Context) error {
	c.Metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if c.Config.Observability.MetricsEnabled {
		mp, err := observability.SetupMetrics(serviceName, c.Metrics)
		if err != nil {
			return err
		}
		c.MeterProvider = mp
		c.onClose(func() error { return mp.Shutdown(context.Background()) })
	}

	if err := c.initSecrets(); err != nil {
		return err
	}
	if err := c.initStores(ctx); err != nil {
		return err
	}
	if err := c.initPipeline(ctx); err != nil {
		return err
	}
	if err := c.initSessions(ctx); err != nil {
		return err
	}
	c.initHealth()
	return nil
}

func (c *Container) onClose(f func() error) {
	c.closers = append(c.closers, f)
}

func (c *Container) initSecrets() error {
	v := c.Config.Vault
	m, err := secrets.Init(secrets.VaultConfig{
		Enabled:   v.Enabled,
		Address:   v.Address,
		Token:     v.Token,
		Namespace: v.Namespace,
		Mount:     v.Mount,
		Path:      v.Path,
	}, c.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize secrets: %w", err)
	}
	c.Secrets = m
	c.onClose(func() error { m.Close(); return nil })
	return nil
}

func (c *Container) initStores(ctx context.Context) error {
	cfg := c.Config
	var personas repository.PersonaRepository

	switch strings.ToLower(cfg.Database.Driver) {
	case "sqlite":
		store, err := repository.NewSQLite(cfg.Database.SQLitePath)
		if err != nil {
			return err
		}
		c.SQLite = store
		c.onClose(store.Close)
		personas = store.Personas()
		c.History = store.History()
	case "postgres", "":
		db, err := config.NewDB(cfg, c.Logger)
		if err != nil {
			return err
		}
		c.DB = db
		c.onClose(func() error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		})
		if err := repository.AutoMigrate(db); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		personas = repository.NewGormPersonaStore(db)
		c.History = repository.NewGormHistoryStore(db)
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", cfg.Database.Driver)
	}

	seeded, err := repository.SeedPersonas(ctx, personas)
	if err != nil {
		return fmt.Errorf("failed to seed personas: %w", err)
	}
	if seeded > 0 {
		c.Logger.Info("Seeded default personas", "count", seeded)
	}

	if cfg.Redis.URL != "" {
		c.Redis = redis.NewClient(redis.Options{
			URL:      cfg.Redis.URL,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   serviceName + ":",
		})
		c.onClose(c.Redis.Close)
		c.Cache = c.Redis
	} else {
		mem := cache.New(cache.Options{TTL: cfg.Redis.PersonaTTL})
		c.onClose(mem.Close)
		c.Cache = mem
	}
	c.Personas = repository.NewCachedPersonaStore(personas, c.Cache, cfg.Redis.PersonaTTL, c.Logger)
	return nil
}

func (c *Container) initPipeline(ctx context.Context) error {
	cfg := c.Config
	p := cfg.Providers

	provider, err := ai.NewOpenAIProvider(ai.OpenAIConfig{
		APIKey:      c.Secrets.GetSecretWithDefault(ctx, secrets.KeyOpenAI, p.OpenAIKey),
		BaseURL:     p.OpenAIBaseURL,
		ChatModel:   p.ChatModel,
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
		TTSModel:    p.TTSModel,
		STTModel:    p.STTModel,
	}, c.Logger)
	if err != nil {
		return err
	}
	c.Provider = provider

	var synth voice.Synthesizer = provider
	if strings.EqualFold(p.TTSProvider, "elevenlabs") {
		eleven, err := ai.NewElevenLabsProvider(ai.ElevenLabsConfig{
			APIKey:         c.Secrets.GetSecretWithDefault(ctx, secrets.KeyElevenLabs, p.ElevenLabsKey),
			BaseURL:        p.ElevenLabsBaseURL,
			DefaultVoiceID: p.ElevenLabsVoiceID,
		}, c.Logger)
		if err != nil {
			return err
		}
		synth = eleven
	}

	c.Voice = voice.NewAdapter(synth, voice.Config{
		OutputDir:    cfg.Audio.UploadDir,
		BaseURL:      cfg.Audio.BaseURL,
		DefaultVoice: p.TTSVoice,
		Timeout:      cfg.Audio.SynthesisTimeout,
	}, c.Logger)

	c.Breaker = resilience.NewCircuitBreaker(resilience.DefaultConfig("llm"), c.Logger)

	c.Orchestrator = chat.New(c.History, c.Personas, provider, chat.Config{
		HistoryLimit:      cfg.Chat.HistoryLimit,
		DefaultLanguage:   language.Tag(cfg.Chat.DefaultLanguage),
		ModelTimeout:      cfg.Chat.ModelTimeout,
		TranscribeTimeout: cfg.Chat.TranscribeTimeout,
		EnableTTS:         cfg.Chat.EnableTTS,
		DefaultPrompt:     cfg.Chat.DefaultPrompt,
	}, c.Logger,
		chat.WithTranscriber(provider),
		chat.WithVoice(c.Voice),
		chat.WithBreaker(c.Breaker),
	)
	return nil
}

func (c *Container) initSessions(ctx context.Context) error {
	cfg := c.Config

	secret := c.Secrets.GetSecretWithDefault(ctx, secrets.KeyJWT, cfg.Security.JWTSecret)
	switch {
	case secret != "":
		c.JWTService = jwt.NewService(secret, 0)
	case cfg.WebSocket.RequireAuth:
		return errors.New("WS_REQUIRE_AUTH is set but no JWT secret is configured")
	}

	c.Registry = ws.NewRegistry(c.Logger, ws.Options{Turns: c.Orchestrator})
	c.onClose(func() error { c.Registry.Shutdown(); return nil })
	for _, col := range c.Registry.Collectors() {
		if err := c.Metrics.Register(col); err != nil {
			return fmt.Errorf("failed to register session metrics: %w", err)
		}
	}
	return nil
}

func (c *Container) initHealth() {
	c.Health = health.NewChecker(c.Logger, c.Config.Observability.HealthInterval)

	switch {
	case c.DB != nil:
		db := c.DB
		c.Health.RegisterPing("database", true, func(ctx context.Context) error {
			return config.TestConnection(ctx, db)
		})
	case c.SQLite != nil:
		c.Health.RegisterPing("database", true, c.SQLite.Ping)
	}
	if c.Redis != nil {
		c.Health.RegisterPing("cache", false, c.Redis.Ping)
	}

	registry, breaker := c.Registry, c.Breaker
	c.Health.RegisterCheck("websocket", false, func(context.Context) (health.Status, string, error) {
		return health.StatusUp, fmt.Sprintf("%d connections, %d users online",
			registry.ConnectionCount(), registry.OnlineCount()), nil
	})
	c.Health.RegisterCheck("llm", false, func(context.Context) (health.Status, string, error) {
		if breaker.State() == resilience.StateOpen {
			return health.StatusDegraded, "model circuit is open", nil
		}
		return health.StatusUp, "model circuit is " + string(breaker.State()), nil
	})
}

// Close releases everything New opened, in reverse order.
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
