package config

import (
	"strings"
	"testing"
	"time"
)

func validBase() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "dealsense"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Call: CallConfig{
			BufferMaxChunks:    100,
			BufferTTL:          time.Hour,
			QueryWindowSeconds: 120,
		},
	}
}

func TestValidate_EmptyConfigFails(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ValidLocalConfig(t *testing.T) {
	c := validBase()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validBase()
	c.App.Env = "production"
	c.LLM.APIKey = "sk-test"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
	c.DB.SSLMode = "require"
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidate_ProductionRequiresAPIKey(t *testing.T) {
	c := validBase()
	c.App.Env = "production"
	c.DB.SSLMode = "require"
	err := c.Validate()
	if err == nil || !strings.Contains(err.Error(), "OPENAI_API_KEY") {
		t.Fatalf("expected OPENAI_API_KEY error, got %v", err)
	}
}

func TestValidate_MemoryOnlySkipsBackends(t *testing.T) {
	c := Config{
		App: AppConfig{Env: "local", Port: 8080},
		Call: CallConfig{
			MemoryOnly:         true,
			BufferMaxChunks:    100,
			QueryWindowSeconds: 120,
		},
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	c.App.Env = "production"
	c.LLM.APIKey = "sk-test"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected MEMORY_ONLY to be rejected in production")
	}
}

func TestValidate_RejectsUnknownTranscriptionMode(t *testing.T) {
	c := validBase()
	c.Call.TranscriptionMode = "whisper"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for unknown transcription mode")
	}
	c.Call.TranscriptionMode = "scripted"
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidate_WindowAndCapMustBePositive(t *testing.T) {
	c := validBase()
	c.Call.QueryWindowSeconds = 0
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for zero query window")
	}

	c = validBase()
	c.Call.BufferMaxChunks = -1
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for negative buffer cap")
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "9090")
	t.Setenv("MEMORY_ONLY", "true")
	t.Setenv("BUFFER_MAX_CHUNKS", "50")
	t.Setenv("BUFFER_TTL", "30m")
	t.Setenv("QUERY_WINDOW_SECONDS", "90")
	t.Setenv("SELLER_NAME", "Dana")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.App.Env != "dev" || c.App.Port != 9090 {
		t.Fatalf("app = %+v", c.App)
	}
	if !c.Call.MemoryOnly {
		t.Fatalf("expected memory only mode")
	}
	if c.Call.BufferMaxChunks != 50 || c.Call.BufferTTL != 30*time.Minute || c.Call.QueryWindowSeconds != 90 {
		t.Fatalf("call = %+v", c.Call)
	}
	if c.Call.SellerName != "Dana" {
		t.Fatalf("seller = %q", c.Call.SellerName)
	}
	if c.HTTPAddr() != ":9090" {
		t.Fatalf("addr = %q", c.HTTPAddr())
	}
}

func TestPostgresDSNDefaultsSSLMode(t *testing.T) {
	c := validBase()
	dsn := c.PostgresDSN()
	if !strings.Contains(dsn, "sslmode=disable") {
		t.Fatalf("dsn = %q", dsn)
	}
	if c.RedisAddr() != "localhost:6379" {
		t.Fatalf("redis addr = %q", c.RedisAddr())
	}
}
