package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Provider selects which upstream backs reply generation and emotion
// classification.
type Provider string

const (
	ProviderGemini Provider = "gemini"
	ProviderOpenAI Provider = "openai"
)

// StoreDriver selects the durable store backing turn logs and per-user
// documents.
type StoreDriver string

const (
	StoreMemory   StoreDriver = "memory"
	StoreRedis    StoreDriver = "redis"
	StorePostgres StoreDriver = "postgres"
)

type Config struct {
	Addr string

	// Upstream providers.
	CompletionProvider Provider
	GeminiAPIKey       string
	GeminiModel        string
	OpenAIAPIKey       string
	OpenAIModel        string
	TTSVoice           string

	// Prompt shaping.
	Persona string

	// Durable store.
	StoreDriver StoreDriver
	RedisURL    string
	PostgresDSN string

	// Filler clips.
	FillerDir               string
	FillerLongFormThreshold int

	// Conversation tuning.
	HistoryWindow        int
	TextChunkRunes       int
	TextChunkDelay       time.Duration
	AudioMinChunkBytes   int
	AudioFormat          string
	CompleteForceTimeout time.Duration

	// WebSocket transport.
	WSWriteTimeout     time.Duration
	WSPingInterval     time.Duration
	WSReadLimitBytes   int64
	WSHandshakeTimeout time.Duration

	// CORS origin allowlist for the websocket upgrade; empty allows only
	// same-origin browsers.
	CORSAllowedOrigins map[string]struct{}

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                    envOr("KIN_ADDR", ":8080"),
		CompletionProvider:      Provider(strings.ToLower(envOr("KIN_COMPLETION_PROVIDER", string(ProviderGemini)))),
		GeminiAPIKey:            strings.TrimSpace(os.Getenv("KIN_GEMINI_API_KEY")),
		GeminiModel:             envOr("KIN_GEMINI_MODEL", "gemini-2.0-flash"),
		OpenAIAPIKey:            strings.TrimSpace(os.Getenv("KIN_OPENAI_API_KEY")),
		OpenAIModel:             envOr("KIN_OPENAI_MODEL", "gpt-4o-mini"),
		TTSVoice:                envOr("KIN_TTS_VOICE", "nova"),
		Persona:                 strings.TrimSpace(os.Getenv("KIN_PERSONA")),
		StoreDriver:             StoreDriver(strings.ToLower(envOr("KIN_STORE_DRIVER", string(StoreMemory)))),
		RedisURL:                strings.TrimSpace(os.Getenv("KIN_REDIS_URL")),
		PostgresDSN:             strings.TrimSpace(os.Getenv("KIN_POSTGRES_DSN")),
		FillerDir:               strings.TrimSpace(os.Getenv("KIN_CHAT_FILLER_DIR")),
		FillerLongFormThreshold: envIntOr("KIN_CHAT_FILLER_LONGFORM_THRESHOLD", 160),
		HistoryWindow:           envIntOr("KIN_CHAT_HISTORY_WINDOW", 6),
		TextChunkRunes:          envIntOr("KIN_CHAT_TEXT_CHUNK_RUNES", 48),
		TextChunkDelay:          envDurationOr("KIN_CHAT_TEXT_CHUNK_DELAY", 30*time.Millisecond),
		AudioMinChunkBytes:      envIntOr("KIN_CHAT_AUDIO_MIN_CHUNK_BYTES", 8<<10),
		AudioFormat:             envOr("KIN_CHAT_AUDIO_FORMAT", "mp3"),
		CompleteForceTimeout:    envDurationOr("KIN_CHAT_COMPLETE_FORCE_TIMEOUT", 30*time.Second),
		WSWriteTimeout:          envDurationOr("KIN_WS_WRITE_TIMEOUT", 5*time.Second),
		WSPingInterval:          envDurationOr("KIN_WS_PING_INTERVAL", 20*time.Second),
		WSReadLimitBytes:        envInt64Or("KIN_WS_READ_LIMIT_BYTES", 2<<20),
		WSHandshakeTimeout:      envDurationOr("KIN_WS_HANDSHAKE_TIMEOUT", 5*time.Second),
		CORSAllowedOrigins:      make(map[string]struct{}),
		ReadHeaderTimeout:       envDurationOr("KIN_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:     envDurationOr("KIN_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	for _, origin := range splitCSV(os.Getenv("KIN_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	switch cfg.CompletionProvider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return Config{}, fmt.Errorf("KIN_COMPLETION_PROVIDER must be one of gemini|openai")
	}
	if cfg.CompletionProvider == ProviderGemini && cfg.GeminiAPIKey == "" {
		return Config{}, fmt.Errorf("KIN_GEMINI_API_KEY must be set when KIN_COMPLETION_PROVIDER=gemini")
	}
	if cfg.CompletionProvider == ProviderOpenAI && cfg.OpenAIAPIKey == "" {
		return Config{}, fmt.Errorf("KIN_OPENAI_API_KEY must be set when KIN_COMPLETION_PROVIDER=openai")
	}

	switch cfg.StoreDriver {
	case StoreMemory, StoreRedis, StorePostgres:
	default:
		return Config{}, fmt.Errorf("KIN_STORE_DRIVER must be one of memory|redis|postgres")
	}
	if cfg.StoreDriver == StoreRedis && cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("KIN_REDIS_URL must be set when KIN_STORE_DRIVER=redis")
	}
	if cfg.StoreDriver == StorePostgres && cfg.PostgresDSN == "" {
		return Config{}, fmt.Errorf("KIN_POSTGRES_DSN must be set when KIN_STORE_DRIVER=postgres")
	}

	if cfg.FillerLongFormThreshold <= 0 {
		return Config{}, fmt.Errorf("KIN_CHAT_FILLER_LONGFORM_THRESHOLD must be > 0")
	}
	if cfg.HistoryWindow <= 0 {
		return Config{}, fmt.Errorf("KIN_CHAT_HISTORY_WINDOW must be > 0")
	}
	if cfg.TextChunkRunes <= 0 {
		return Config{}, fmt.Errorf("KIN_CHAT_TEXT_CHUNK_RUNES must be > 0")
	}
	if cfg.TextChunkDelay < 0 {
		return Config{}, fmt.Errorf("KIN_CHAT_TEXT_CHUNK_DELAY must be >= 0")
	}
	if cfg.AudioMinChunkBytes <= 0 {
		return Config{}, fmt.Errorf("KIN_CHAT_AUDIO_MIN_CHUNK_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.AudioFormat) == "" {
		return Config{}, fmt.Errorf("KIN_CHAT_AUDIO_FORMAT must not be empty")
	}
	if cfg.CompleteForceTimeout <= 0 {
		return Config{}, fmt.Errorf("KIN_CHAT_COMPLETE_FORCE_TIMEOUT must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("KIN_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("KIN_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSReadLimitBytes <= 0 {
		return Config{}, fmt.Errorf("KIN_WS_READ_LIMIT_BYTES must be > 0")
	}
	if cfg.WSHandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("KIN_WS_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("KIN_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("KIN_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
