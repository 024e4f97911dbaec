package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server struct {
		Port            string
		Env             string
		ShutdownTimeout time.Duration
	}

	// Database configuration
	Database struct {
		Driver     string
		Host       string
		Port       string
		User       string
		Password   string
		Name       string
		SSLMode    string
		MaxConns   int
		SQLitePath string
	}

	// Redis backs the persona cache; empty URL selects the in-process cache
	Redis struct {
		URL        string
		Password   string
		DB         int
		PersonaTTL time.Duration
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
	}

	// Chat pipeline settings
	Chat struct {
		HistoryLimit      int
		DefaultLanguage   string
		ModelTimeout      time.Duration
		TranscribeTimeout time.Duration
		EnableTTS         bool
		DefaultPrompt     string
	}

	// Audio storage settings
	Audio struct {
		UploadDir        string
		BaseURL          string
		SynthesisTimeout time.Duration
		MaxUploadSize    int64
	}

	// Model and speech providers
	Providers struct {
		OpenAIKey         string
		OpenAIBaseURL     string
		ChatModel         string
		MaxTokens         int64
		Temperature       float64
		TTSProvider       string
		TTSModel          string
		TTSVoice          string
		STTModel          string
		ElevenLabsKey     string
		ElevenLabsBaseURL string
		ElevenLabsVoiceID string
	}

	// WebSocket transport settings
	WebSocket struct {
		SendBuffer     int
		InboundBuffer  int
		MaxMessageSize int64
		MessageRate    float64
		MessageBurst   int
		RequireAuth    bool
	}

	// Security configuration
	Security struct {
		JWTSecret      string
		RateLimit      float64
		RateLimitBurst int
		AllowedOrigins []string
	}

	// Observability configuration
	Observability struct {
		MetricsEnabled bool
		TracingEnabled bool
		GRPCHealthPort string
		HealthInterval time.Duration
		OpenAPISchema  string
	}

	// Vault holds provider credentials; disabled means environment only
	Vault struct {
		Enabled   bool
		Address   string
		Token     string
		Namespace string
		Mount     string
		Path      string
	}
}

var (
	instance *Config
	once     sync.Once
)

// New returns the process-wide Config, loading it on first use
func New() *Config {
	once.Do(func() {
		// Load .env file if exists
		_ = godotenv.Load()
		instance = Load()
	})
	return instance
}

// Get returns the singleton Config instance
func Get() *Config {
	if instance == nil {
		return New()
	}
	return instance
}

// Load builds a fresh Config from the environment without touching the singleton
func Load() *Config {
	cfg := &Config{}

	cfg.Server.Port = getEnvString("PORT", "8080")
	cfg.Server.Env = getEnvString("APP_ENV", "development")
	cfg.Server.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second)

	cfg.Database.Driver = getEnvString("DB_DRIVER", "postgres")
	cfg.Database.Host = getEnvString("DB_HOST", "localhost")
	cfg.Database.Port = getEnvString("DB_PORT", "5432")
	cfg.Database.User = getEnvString("DB_USER", "postgres")
	cfg.Database.Password = getEnvString("DB_PASSWORD", "postgres")
	cfg.Database.Name = getEnvString("DB_NAME", "persona_chat")
	cfg.Database.SSLMode = getEnvString("DB_SSL_MODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
	cfg.Database.SQLitePath = getEnvString("SQLITE_PATH", "data/persona-chat.db")

	cfg.Redis.URL = getEnvString("REDIS_URL", "")
	cfg.Redis.Password = getEnvString("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)
	cfg.Redis.PersonaTTL = getEnvDuration("PERSONA_CACHE_TTL", 5*time.Minute)

	cfg.Logging.Level = getEnvString("LOG_LEVEL", "info")
	cfg.Logging.Format = getEnvString("LOG_FORMAT", "json")

	cfg.Chat.HistoryLimit = getEnvInt("CHAT_HISTORY_LIMIT", 10)
	cfg.Chat.DefaultLanguage = getEnvString("CHAT_DEFAULT_LANGUAGE", "zh-CN")
	cfg.Chat.ModelTimeout = getEnvDuration("CHAT_MODEL_TIMEOUT", 30*time.Second)
	cfg.Chat.TranscribeTimeout = getEnvDuration("CHAT_TRANSCRIBE_TIMEOUT", 60*time.Second)
	cfg.Chat.EnableTTS = getEnvBool("CHAT_ENABLE_TTS", true)
	cfg.Chat.DefaultPrompt = getEnvString("CHAT_DEFAULT_PROMPT", "")

	cfg.Audio.UploadDir = getEnvString("AUDIO_UPLOAD_DIR", "uploads/audio")
	cfg.Audio.BaseURL = getEnvString("AUDIO_BASE_URL", "http://localhost:8080/api/audio")
	cfg.Audio.SynthesisTimeout = getEnvDuration("AUDIO_SYNTHESIS_TIMEOUT", 30*time.Second)
	cfg.Audio.MaxUploadSize = getEnvInt64("AUDIO_MAX_UPLOAD_SIZE", 10<<20) // 10MB

	cfg.Providers.OpenAIKey = getEnvString("OPENAI_API_KEY", "")
	cfg.Providers.OpenAIBaseURL = getEnvString("OPENAI_BASE_URL", "https://api.openai.com/v1")
	cfg.Providers.ChatModel = getEnvString("CHAT_MODEL", "gpt-4o-mini")
	cfg.Providers.MaxTokens = getEnvInt64("LLM_MAX_TOKENS", 2000)
	cfg.Providers.Temperature = getEnvFloat("LLM_TEMPERATURE", 0.7)
	cfg.Providers.TTSProvider = getEnvString("TTS_PROVIDER", "openai")
	cfg.Providers.TTSModel = getEnvString("TTS_MODEL", "tts-1")
	cfg.Providers.TTSVoice = getEnvString("TTS_VOICE", "alloy")
	cfg.Providers.STTModel = getEnvString("STT_MODEL", "whisper-1")
	cfg.Providers.ElevenLabsKey = getEnvString("ELEVENLABS_API_KEY", "")
	cfg.Providers.ElevenLabsBaseURL = getEnvString("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io")
	cfg.Providers.ElevenLabsVoiceID = getEnvString("ELEVENLABS_VOICE_ID", "21m00Tcm4TlvDq8ikWAM")

	cfg.WebSocket.SendBuffer = getEnvInt("WS_SEND_BUFFER", 256)
	cfg.WebSocket.InboundBuffer = getEnvInt("WS_INBOUND_BUFFER", 16)
	cfg.WebSocket.MaxMessageSize = getEnvInt64("WS_MAX_MESSAGE_SIZE", 512*1024)
	cfg.WebSocket.MessageRate = getEnvFloat("WS_MESSAGE_RATE", 5)
	cfg.WebSocket.MessageBurst = getEnvInt("WS_MESSAGE_BURST", 10)
	cfg.WebSocket.RequireAuth = getEnvBool("WS_REQUIRE_AUTH", false)

	cfg.Security.JWTSecret = getEnvString("JWT_SECRET", "")
	cfg.Security.RateLimit = getEnvFloat("RATE_LIMIT", 5)
	cfg.Security.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", 10)
	cfg.Security.AllowedOrigins = getEnvStringSlice("ALLOWED_ORIGINS", []string{"*"})

	cfg.Observability.MetricsEnabled = getEnvBool("METRICS_ENABLED", true)
	cfg.Observability.TracingEnabled = getEnvBool("TRACING_ENABLED", false)
	cfg.Observability.GRPCHealthPort = getEnvString("GRPC_HEALTH_PORT", "")
	cfg.Observability.HealthInterval = getEnvDuration("HEALTH_CHECK_INTERVAL", 30*time.Second)
	cfg.Observability.OpenAPISchema = getEnvString("OPENAPI_SCHEMA", "api/openapi.yaml")

	cfg.Vault.Enabled = getEnvBool("VAULT_ENABLED", false)
	cfg.Vault.Address = getEnvString("VAULT_ADDR", "")
	cfg.Vault.Token = getEnvString("VAULT_TOKEN", "")
	cfg.Vault.Namespace = getEnvString("VAULT_NAMESPACE", "")
	cfg.Vault.Mount = getEnvString("VAULT_MOUNT", "secret")
	cfg.Vault.Path = getEnvString("VAULT_SECRETS_PATH", "persona-chat")

	return cfg
}

// IsProduction reports whether APP_ENV selects production mode
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions to read environment variables with default values

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
