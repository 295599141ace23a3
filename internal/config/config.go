package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
)

// PlaceholderGeminiAPIKey is used when GEMINI_API_KEY is unset. The service still
// starts; provider calls fail and the chat turn falls back.
const PlaceholderGeminiAPIKey = "your-gemini-api-key-here"

// Config contains all runtime settings for the chat service.
type Config struct {
	BindAddr         string        `env:"APP_BIND_ADDR" envDefault:":8000"`
	ShutdownTimeout  time.Duration `env:"APP_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	MetricsNamespace string        `env:"APP_METRICS_NAMESPACE" envDefault:"samantha"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	LLMProvider  string `env:"LLM_PROVIDER" envDefault:"gemini"`
	LLMModel     string `env:"LLM_MODEL" envDefault:"gemini-1.5-flash"`
	GeminiAPIKey string `env:"GEMINI_API_KEY" envDefault:"your-gemini-api-key-here"`
	GCPProject   string `env:"GCP_PROJECT"`
	GCPLocation  string `env:"GCP_LOCATION" envDefault:"us-central1"`

	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`
	OpenAIModel   string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`

	YandexOAuthToken string `env:"YANDEX_OAUTH_TOKEN"`
	YandexFolderID   string `env:"YANDEX_FOLDER_ID"`

	LLMHTTPURL string `env:"LLM_HTTP_URL"`

	StoreDriver     string `env:"STORE_DRIVER" envDefault:"sqlite"`
	StoreSQLitePath string `env:"STORE_SQLITE_PATH" envDefault:"samantha.db"`
	DatabaseURL     string `env:"DATABASE_URL"`

	HistoryDefaultLimit int `env:"HISTORY_DEFAULT_LIMIT" envDefault:"50"`
	HistoryMaxLimit     int `env:"HISTORY_MAX_LIMIT" envDefault:"1000"`
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.BindAddr = strings.TrimSpace(c.BindAddr)
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.LLMProvider = strings.ToLower(strings.TrimSpace(c.LLMProvider))
	c.LLMModel = strings.TrimSpace(c.LLMModel)
	c.GeminiAPIKey = strings.TrimSpace(c.GeminiAPIKey)
	if c.GeminiAPIKey == "" {
		c.GeminiAPIKey = PlaceholderGeminiAPIKey
	}
	c.GCPProject = strings.TrimSpace(c.GCPProject)
	c.GCPLocation = strings.TrimSpace(c.GCPLocation)
	c.OpenAIAPIKey = strings.TrimSpace(c.OpenAIAPIKey)
	c.OpenAIBaseURL = strings.TrimSpace(c.OpenAIBaseURL)
	c.YandexFolderID = strings.TrimSpace(c.YandexFolderID)
	c.LLMHTTPURL = strings.TrimSpace(c.LLMHTTPURL)
	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))
	c.StoreSQLitePath = strings.TrimSpace(c.StoreSQLitePath)
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
}

// Validate rejects combinations the service cannot run with. A placeholder
// provider key is accepted on purpose.
func (c Config) Validate() error {
	if c.BindAddr == "" {
		return errors.New("APP_BIND_ADDR must not be empty")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("APP_SHUTDOWN_TIMEOUT must be positive")
	}

	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("LOG_FORMAT %q is invalid (expected json|text)", c.LogFormat)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL %q is invalid (expected debug|info|warn|error)", c.LogLevel)
	}

	switch c.LLMProvider {
	case "gemini", "openai", "mock":
	case "yandex":
		if c.YandexFolderID == "" {
			return errors.New("YANDEX_FOLDER_ID is required when LLM_PROVIDER=yandex")
		}
	case "vertex":
		if c.GCPProject == "" {
			return errors.New("GCP_PROJECT is required when LLM_PROVIDER=vertex")
		}
	case "http":
		if c.LLMHTTPURL == "" {
			return errors.New("LLM_HTTP_URL is required when LLM_PROVIDER=http")
		}
	default:
		return fmt.Errorf("invalid LLM_PROVIDER: %q (expected gemini|vertex|openai|yandex|http|mock)", c.LLMProvider)
	}

	switch c.StoreDriver {
	case "memory":
	case "sqlite":
		if c.StoreSQLitePath == "" {
			return errors.New("STORE_SQLITE_PATH is required when STORE_DRIVER=sqlite")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("invalid STORE_DRIVER: %q (expected sqlite|postgres|memory)", c.StoreDriver)
	}

	if c.HistoryDefaultLimit <= 0 {
		return errors.New("HISTORY_DEFAULT_LIMIT must be positive")
	}
	if c.HistoryMaxLimit < c.HistoryDefaultLimit {
		return errors.New("HISTORY_MAX_LIMIT must be >= HISTORY_DEFAULT_LIMIT")
	}
	return nil
}
