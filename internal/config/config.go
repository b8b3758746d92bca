package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App    AppConfig
	DB     DBConfig
	Redis  RedisConfig
	LLM    LLMConfig
	Call   CallConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type LLMConfig struct {
	// APIKey empty means no model backend; extraction degrades to the
	// fallback parser and queries get a static answer.
	APIKey string
	Model  string
}

type CallConfig struct {
	// BufferMaxChunks bounds per-call buffer memory.
	BufferMaxChunks int
	// BufferTTL bounds buffer entry lifetime after the call ends.
	BufferTTL time.Duration
	// QueryWindowSeconds is the live-context sliding window.
	QueryWindowSeconds int
	// TranscriptionMode: "scripted" replays a canned conversation per audio
	// frame; real speech backends plug in behind the same interface.
	TranscriptionMode string
	// MaxConcurrent caps live calls across processes; 0 disables the cap.
	MaxConcurrent int
	// MemoryOnly skips Postgres and Redis entirely; single-process mode.
	MemoryOnly bool
	SellerName string
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.Call.MemoryOnly = boolEnv("MEMORY_ONLY")

	if !c.Call.MemoryOnly {
		c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
		{
			n, err := mustInt("DB_PORT")
			n, parseErrs = appendParseErr(parseErrs, n, err)
			c.DB.Port = n
		}
		c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
		c.DB.Password = os.Getenv("DB_PASSWORD")
		c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
		c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

		c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
		{
			n, err := mustInt("REDIS_PORT")
			n, parseErrs = appendParseErr(parseErrs, n, err)
			c.Redis.Port = n
		}
	}

	c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	c.LLM.Model = strings.TrimSpace(os.Getenv("OPENAI_MODEL"))

	c.Call.BufferMaxChunks = intEnv("BUFFER_MAX_CHUNKS", 100)
	c.Call.BufferTTL = durationEnv("BUFFER_TTL", time.Hour)
	c.Call.QueryWindowSeconds = intEnv("QUERY_WINDOW_SECONDS", 120)
	c.Call.TranscriptionMode = strings.TrimSpace(os.Getenv("TRANSCRIPTION_MODE"))
	c.Call.MaxConcurrent = intEnv("CALL_MAX_CONCURRENT", 0)
	c.Call.SellerName = strings.TrimSpace(os.Getenv("SELLER_NAME"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.Call.MemoryOnly && c.IsProduction() {
		errs = append(errs, errors.New("MEMORY_ONLY is not allowed in production"))
	}

	if !c.Call.MemoryOnly {
		if c.DB.Host == "" {
			errs = append(errs, errors.New("DB_HOST is required"))
		}
		if c.DB.Port <= 0 || c.DB.Port > 65535 {
			errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
		}
		if c.DB.User == "" {
			errs = append(errs, errors.New("DB_USER is required"))
		}
		if c.DB.Name == "" {
			errs = append(errs, errors.New("DB_NAME is required"))
		}
		if strings.TrimSpace(c.DB.SSLMode) == "" && c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		}
		if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
			errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
		}

		if c.Redis.Host == "" {
			errs = append(errs, errors.New("REDIS_HOST is required"))
		}
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
	}

	if c.LLM.APIKey == "" && c.IsProduction() {
		errs = append(errs, errors.New("OPENAI_API_KEY is required in production"))
	}

	if c.Call.TranscriptionMode != "" && c.Call.TranscriptionMode != "scripted" {
		errs = append(errs, fmt.Errorf("TRANSCRIPTION_MODE must be scripted, got %q", c.Call.TranscriptionMode))
	}
	if c.Call.QueryWindowSeconds <= 0 {
		errs = append(errs, fmt.Errorf("QUERY_WINDOW_SECONDS must be positive, got %d", c.Call.QueryWindowSeconds))
	}
	if c.Call.BufferMaxChunks <= 0 {
		errs = append(errs, fmt.Errorf("BUFFER_MAX_CHUNKS must be positive, got %d", c.Call.BufferMaxChunks))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	sslMode := c.DB.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		sslMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func intEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func durationEnv(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func boolEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes"
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
		return 0, errs
	}
	return n, errs
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Error())
	}
	return errors.New(strings.Join(msgs, "; "))
}

func isValidEnv(env string) bool {
	switch env {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(mode string) bool {
	switch mode {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}
