package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// providerKeyEnv maps provider names to their API key variables
var providerKeyEnv = map[string]string{
	"openai": "OPENAI_API_KEY",
	"claude": "ANTHROPIC_API_KEY",
	"gemini": "GEMINI_API_KEY",
}

// LoadDotEnv loads the given .env files, skipping missing ones. Variables
// already present in the environment win.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// DefaultDotEnvPaths returns ./.env and ~/.mentor/.env
func DefaultDotEnvPaths() []string {
	paths := []string{".env"}
	if dir, err := MentorDir(); err == nil {
		paths = append(paths, filepath.Join(dir, ".env"))
	}
	return paths
}

// ApplyEnv overrides config values from environment variables
func ApplyEnv(cfg *LocalConfig) {
	cfg.Daemon.Port = getEnvInt("MENTOR_PORT", cfg.Daemon.Port)
	cfg.Daemon.Bind = getEnv("MENTOR_BIND", cfg.Daemon.Bind)
	cfg.Daemon.LogLevel = getEnv("MENTOR_LOG_LEVEL", cfg.Daemon.LogLevel)
	if getEnvBool("MENTOR_DEBUG", false) {
		cfg.Daemon.LogLevel = "debug"
	}

	cfg.LLM.DefaultProvider = getEnv("MENTOR_LLM_PROVIDER", cfg.LLM.DefaultProvider)
	cfg.LLM.TimeoutSeconds = getEnvInt("MENTOR_LLM_TIMEOUT", cfg.LLM.TimeoutSeconds)
	for name, key := range providerKeyEnv {
		value := os.Getenv(key)
		if value == "" {
			continue
		}
		p, ok := cfg.LLM.Providers[name]
		if !ok {
			p = &ProviderConfig{}
			cfg.LLM.Providers[name] = p
		}
		p.APIKey = value
		p.Enabled = true
	}
	if url := os.Getenv("OLLAMA_URL"); url != "" {
		if p, ok := cfg.LLM.Providers["ollama"]; ok {
			p.URL = url
		}
	}

	cfg.Storage.Driver = getEnv("MENTOR_STORAGE_DRIVER", cfg.Storage.Driver)
	cfg.Storage.SQLitePath = getEnv("MENTOR_SQLITE_PATH", cfg.Storage.SQLitePath)
	cfg.Storage.PostgresURL = getEnv("MENTOR_POSTGRES_URL", cfg.Storage.PostgresURL)
	cfg.Notify.AMQPURL = getEnv("MENTOR_AMQP_URL", cfg.Notify.AMQPURL)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
