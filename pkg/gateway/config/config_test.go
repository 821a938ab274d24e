package config

import (
	"strings"
	"testing"
	"time"
)

var kinEnvKeys = []string{
	"KIN_ADDR",
	"KIN_COMPLETION_PROVIDER",
	"KIN_GEMINI_API_KEY",
	"KIN_GEMINI_MODEL",
	"KIN_OPENAI_API_KEY",
	"KIN_OPENAI_MODEL",
	"KIN_TTS_VOICE",
	"KIN_PERSONA",
	"KIN_STORE_DRIVER",
	"KIN_REDIS_URL",
	"KIN_POSTGRES_DSN",
	"KIN_CHAT_FILLER_DIR",
	"KIN_CHAT_FILLER_LONGFORM_THRESHOLD",
	"KIN_CHAT_HISTORY_WINDOW",
	"KIN_CHAT_TEXT_CHUNK_RUNES",
	"KIN_CHAT_TEXT_CHUNK_DELAY",
	"KIN_CHAT_AUDIO_MIN_CHUNK_BYTES",
	"KIN_CHAT_AUDIO_FORMAT",
	"KIN_CHAT_COMPLETE_FORCE_TIMEOUT",
	"KIN_WS_WRITE_TIMEOUT",
	"KIN_WS_PING_INTERVAL",
	"KIN_WS_READ_LIMIT_BYTES",
	"KIN_WS_HANDSHAKE_TIMEOUT",
	"KIN_CORS_ORIGINS",
	"KIN_READ_HEADER_TIMEOUT",
	"KIN_SHUTDOWN_GRACE_PERIOD",
}

func clearKinEnv(t *testing.T) {
	t.Helper()
	for _, key := range kinEnvKeys {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnvDefaults(t *testing.T) {
	clearKinEnv(t)
	t.Setenv("KIN_GEMINI_API_KEY", "test-key")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Addr != ":8080" {
		t.Fatalf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.CompletionProvider != ProviderGemini {
		t.Fatalf("CompletionProvider = %q, want gemini", cfg.CompletionProvider)
	}
	if cfg.StoreDriver != StoreMemory {
		t.Fatalf("StoreDriver = %q, want memory", cfg.StoreDriver)
	}
	if cfg.HistoryWindow != 6 {
		t.Fatalf("HistoryWindow = %d, want 6", cfg.HistoryWindow)
	}
	if cfg.TextChunkRunes != 48 {
		t.Fatalf("TextChunkRunes = %d, want 48", cfg.TextChunkRunes)
	}
	if cfg.TextChunkDelay != 30*time.Millisecond {
		t.Fatalf("TextChunkDelay = %v, want 30ms", cfg.TextChunkDelay)
	}
	if cfg.AudioMinChunkBytes != 8<<10 {
		t.Fatalf("AudioMinChunkBytes = %d, want %d", cfg.AudioMinChunkBytes, 8<<10)
	}
	if cfg.AudioFormat != "mp3" {
		t.Fatalf("AudioFormat = %q, want mp3", cfg.AudioFormat)
	}
	if cfg.CompleteForceTimeout != 30*time.Second {
		t.Fatalf("CompleteForceTimeout = %v, want 30s", cfg.CompleteForceTimeout)
	}
	if cfg.FillerLongFormThreshold != 160 {
		t.Fatalf("FillerLongFormThreshold = %d, want 160", cfg.FillerLongFormThreshold)
	}
	if cfg.WSWriteTimeout != 5*time.Second || cfg.WSPingInterval != 20*time.Second {
		t.Fatalf("ws timing mismatch: %v/%v", cfg.WSWriteTimeout, cfg.WSPingInterval)
	}
	if cfg.WSReadLimitBytes != 2<<20 {
		t.Fatalf("WSReadLimitBytes = %d, want %d", cfg.WSReadLimitBytes, int64(2<<20))
	}
	if cfg.ShutdownGracePeriod != 30*time.Second {
		t.Fatalf("ShutdownGracePeriod = %v, want 30s", cfg.ShutdownGracePeriod)
	}
	if len(cfg.CORSAllowedOrigins) != 0 {
		t.Fatalf("CORSAllowedOrigins len = %d, want 0", len(cfg.CORSAllowedOrigins))
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	clearKinEnv(t)
	t.Setenv("KIN_ADDR", ":9100")
	t.Setenv("KIN_COMPLETION_PROVIDER", "openai")
	t.Setenv("KIN_OPENAI_API_KEY", "sk-test")
	t.Setenv("KIN_OPENAI_MODEL", "gpt-4o")
	t.Setenv("KIN_TTS_VOICE", "alloy")
	t.Setenv("KIN_STORE_DRIVER", "redis")
	t.Setenv("KIN_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("KIN_CHAT_HISTORY_WINDOW", "10")
	t.Setenv("KIN_CHAT_TEXT_CHUNK_RUNES", "32")
	t.Setenv("KIN_CHAT_TEXT_CHUNK_DELAY", "10ms")
	t.Setenv("KIN_CHAT_AUDIO_MIN_CHUNK_BYTES", "4096")
	t.Setenv("KIN_CHAT_COMPLETE_FORCE_TIMEOUT", "45s")
	t.Setenv("KIN_CORS_ORIGINS", "https://app.example, https://staging.example")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Addr != ":9100" {
		t.Fatalf("Addr = %q, want :9100", cfg.Addr)
	}
	if cfg.CompletionProvider != ProviderOpenAI || cfg.OpenAIModel != "gpt-4o" {
		t.Fatalf("provider mismatch: %q/%q", cfg.CompletionProvider, cfg.OpenAIModel)
	}
	if cfg.TTSVoice != "alloy" {
		t.Fatalf("TTSVoice = %q, want alloy", cfg.TTSVoice)
	}
	if cfg.StoreDriver != StoreRedis || cfg.RedisURL != "redis://localhost:6379/0" {
		t.Fatalf("store mismatch: %q/%q", cfg.StoreDriver, cfg.RedisURL)
	}
	if cfg.HistoryWindow != 10 || cfg.TextChunkRunes != 32 || cfg.TextChunkDelay != 10*time.Millisecond {
		t.Fatalf("chat tuning mismatch: %d/%d/%v", cfg.HistoryWindow, cfg.TextChunkRunes, cfg.TextChunkDelay)
	}
	if cfg.AudioMinChunkBytes != 4096 || cfg.CompleteForceTimeout != 45*time.Second {
		t.Fatalf("audio tuning mismatch: %d/%v", cfg.AudioMinChunkBytes, cfg.CompleteForceTimeout)
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("CORSAllowedOrigins len = %d, want 2", len(cfg.CORSAllowedOrigins))
	}
	if _, ok := cfg.CORSAllowedOrigins["https://app.example"]; !ok {
		t.Fatalf("expected https://app.example in CORS allowlist")
	}
}

func TestLoadFromEnvRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "unknown provider",
			env:     map[string]string{"KIN_COMPLETION_PROVIDER": "llama"},
			wantErr: "KIN_COMPLETION_PROVIDER",
		},
		{
			name:    "gemini without key",
			env:     map[string]string{"KIN_GEMINI_API_KEY": ""},
			wantErr: "KIN_GEMINI_API_KEY",
		},
		{
			name: "openai without key",
			env: map[string]string{
				"KIN_COMPLETION_PROVIDER": "openai",
				"KIN_GEMINI_API_KEY":      "g",
			},
			wantErr: "KIN_OPENAI_API_KEY",
		},
		{
			name: "unknown store driver",
			env: map[string]string{
				"KIN_GEMINI_API_KEY": "g",
				"KIN_STORE_DRIVER":   "dynamo",
			},
			wantErr: "KIN_STORE_DRIVER",
		},
		{
			name: "redis without url",
			env: map[string]string{
				"KIN_GEMINI_API_KEY": "g",
				"KIN_STORE_DRIVER":   "redis",
			},
			wantErr: "KIN_REDIS_URL",
		},
		{
			name: "postgres without dsn",
			env: map[string]string{
				"KIN_GEMINI_API_KEY": "g",
				"KIN_STORE_DRIVER":   "postgres",
			},
			wantErr: "KIN_POSTGRES_DSN",
		},
		{
			name: "zero chunk size",
			env: map[string]string{
				"KIN_GEMINI_API_KEY":        "g",
				"KIN_CHAT_TEXT_CHUNK_RUNES": "0",
			},
			wantErr: "KIN_CHAT_TEXT_CHUNK_RUNES",
		},
		{
			name: "zero force timeout",
			env: map[string]string{
				"KIN_GEMINI_API_KEY":              "g",
				"KIN_CHAT_COMPLETE_FORCE_TIMEOUT": "0s",
			},
			wantErr: "KIN_CHAT_COMPLETE_FORCE_TIMEOUT",
		},
		{
			name: "zero history window",
			env: map[string]string{
				"KIN_GEMINI_API_KEY":      "g",
				"KIN_CHAT_HISTORY_WINDOW": "0",
			},
			wantErr: "KIN_CHAT_HISTORY_WINDOW",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearKinEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := LoadFromEnv()
			if err == nil {
				t.Fatal("LoadFromEnv() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not mention %s", err, tc.wantErr)
			}
		})
	}
}

func TestLoadFromEnvMalformedNumbersFallBack(t *testing.T) {
	clearKinEnv(t)
	t.Setenv("KIN_GEMINI_API_KEY", "g")
	t.Setenv("KIN_CHAT_TEXT_CHUNK_RUNES", "lots")
	t.Setenv("KIN_CHAT_TEXT_CHUNK_DELAY", "soon")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.TextChunkRunes != 48 {
		t.Fatalf("TextChunkRunes = %d, want default 48", cfg.TextChunkRunes)
	}
	if cfg.TextChunkDelay != 30*time.Millisecond {
		t.Fatalf("TextChunkDelay = %v, want default 30ms", cfg.TextChunkDelay)
	}
}
