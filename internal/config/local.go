package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dsamentor/mentor/internal/domain"
)

// Storage drivers
const (
	DriverJSON     = "json"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// LocalConfig holds configuration for the local daemon
type LocalConfig struct {
	Daemon   DaemonConfig   `yaml:"daemon"`
	LLM      LLMConfig      `yaml:"llm"`
	Policy   PolicyConfig   `yaml:"policy"`
	Storage  StorageConfig  `yaml:"storage"`
	Notify   NotifyConfig   `yaml:"notify"`
	Operator OperatorConfig `yaml:"-"`
}

// DaemonConfig holds daemon server settings
type DaemonConfig struct {
	Port     int    `yaml:"port"`
	Bind     string `yaml:"bind"`
	LogLevel string `yaml:"log_level"`
	// Origins lists browser origins allowed by CORS and the event stream,
	// e.g. "chrome-extension://abcdef".
	Origins []string `yaml:"origins,omitempty"`
}

// LLMConfig holds LLM provider settings
type LLMConfig struct {
	DefaultProvider string                     `yaml:"default_provider"`
	TimeoutSeconds  int                        `yaml:"timeout_seconds"`
	Providers       map[string]*ProviderConfig `yaml:"providers"`
}

// ProviderConfig holds settings for a single LLM provider
type ProviderConfig struct {
	Enabled bool   `yaml:"enabled"`
	Model   string `yaml:"model"`
	URL     string `yaml:"url,omitempty"` // For Ollama and OpenAI-compatible endpoints
	APIKey  string `yaml:"-"`             // Loaded from secrets.yaml
}

// PolicyConfig holds the tunable policy constants
type PolicyConfig struct {
	ThinkingSeconds   int    `yaml:"thinking_seconds"`
	EffortSeconds     int    `yaml:"effort_seconds"`
	RunsToUnlock      int    `yaml:"runs_to_unlock"`
	MaxHints          int    `yaml:"max_hints"`
	ResetAfter        string `yaml:"reset_after"`
	MaxDescriptionLen int    `yaml:"max_description_len"`
}

// StorageConfig selects where the two state records live
type StorageConfig struct {
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path,omitempty"`
	PostgresURL string `yaml:"postgres_url,omitempty"`
}

// NotifyConfig holds push notification settings
type NotifyConfig struct {
	AMQPURL      string `yaml:"amqp_url,omitempty"`
	Exchange     string `yaml:"exchange"`
	ClientBuffer int    `yaml:"client_buffer"`
}

// OperatorConfig holds the bcrypt hash of the operator secret
type OperatorConfig struct {
	SecretHash string
}

// SecretsConfig holds API keys and the operator secret hash from secrets.yaml
type SecretsConfig struct {
	Providers map[string]ProviderSecret `yaml:"providers,omitempty"`
	Operator  OperatorSecret            `yaml:"operator,omitempty"`
}

// ProviderSecret is one provider's credentials
type ProviderSecret struct {
	APIKey string `yaml:"api_key"`
}

// OperatorSecret holds the hashed operator secret
type OperatorSecret struct {
	SecretHash string `yaml:"secret_hash,omitempty"`
}

// MentorDir returns the path to ~/.mentor
func MentorDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".mentor"), nil
}

// EnsureMentorDir creates ~/.mentor and subdirectories if they don't exist
func EnsureMentorDir() (string, error) {
	dir, err := MentorDir()
	if err != nil {
		return "", err
	}

	for _, subdir := range []string{"", "logs", "data"} {
		path := filepath.Join(dir, subdir)
		if err := os.MkdirAll(path, 0755); err != nil {
			return "", fmt.Errorf("create dir %s: %w", path, err)
		}
	}

	return dir, nil
}

// DefaultLocalConfig returns sensible defaults for local mode
func DefaultLocalConfig() *LocalConfig {
	p := domain.DefaultPolicy()
	return &LocalConfig{
		Daemon: DaemonConfig{
			Port:     7432,
			Bind:     "127.0.0.1",
			LogLevel: "info",
		},
		LLM: LLMConfig{
			DefaultProvider: "auto",
			TimeoutSeconds:  20,
			Providers: map[string]*ProviderConfig{
				"openai": {
					Enabled: true,
					Model:   "gpt-4o-mini",
				},
				"claude": {
					Enabled: false,
					Model:   "claude-3-5-haiku-latest",
				},
				"gemini": {
					Enabled: false,
					Model:   "gemini-1.5-flash",
				},
				"ollama": {
					Enabled: false,
					URL:     "http://localhost:11434",
					Model:   "llama3.1",
				},
			},
		},
		Policy: PolicyConfig{
			ThinkingSeconds:   p.ThinkingSeconds,
			EffortSeconds:     p.EffortSeconds,
			RunsToUnlock:      p.RunsToUnlock,
			MaxHints:          p.MaxHints,
			ResetAfter:        p.ResetAfter.String(),
			MaxDescriptionLen: p.MaxDescriptionLen,
		},
		Storage: StorageConfig{
			Driver: DriverJSON,
		},
		Notify: NotifyConfig{
			Exchange:     "mentor.events",
			ClientBuffer: 16,
		},
	}
}

// DomainPolicy converts the policy section, filling unset values with defaults
func (c *LocalConfig) DomainPolicy() (domain.Policy, error) {
	p := domain.Policy{
		ThinkingSeconds:   c.Policy.ThinkingSeconds,
		EffortSeconds:     c.Policy.EffortSeconds,
		RunsToUnlock:      c.Policy.RunsToUnlock,
		MaxHints:          c.Policy.MaxHints,
		MaxDescriptionLen: c.Policy.MaxDescriptionLen,
	}
	if c.Policy.ResetAfter != "" {
		d, err := time.ParseDuration(c.Policy.ResetAfter)
		if err != nil {
			return domain.Policy{}, fmt.Errorf("policy.reset_after: %w", err)
		}
		p.ResetAfter = d
	}
	return p.Normalize(), nil
}

// LLMTimeout returns the per-call model timeout
func (c *LocalConfig) LLMTimeout() time.Duration {
	if c.LLM.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

// Validate reports the first invalid setting
func (c *LocalConfig) Validate() error {
	if c.Daemon.Port <= 0 || c.Daemon.Port > 65535 {
		return fmt.Errorf("daemon.port %d out of range", c.Daemon.Port)
	}
	switch c.Storage.Driver {
	case DriverJSON, DriverSQLite:
	case DriverPostgres:
		if c.Storage.PostgresURL == "" {
			return errors.New("storage.postgres_url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver %q is not one of json, sqlite, postgres", c.Storage.Driver)
	}
	if _, err := c.DomainPolicy(); err != nil {
		return err
	}
	if c.Policy.ThinkingSeconds < 0 || c.Policy.EffortSeconds < 0 ||
		c.Policy.RunsToUnlock < 0 || c.Policy.MaxHints < 0 {
		return errors.New("policy values must not be negative")
	}
	return nil
}

// LoadLocalConfig loads ~/.mentor/config.yaml and secrets.yaml, then applies
// environment overrides.
func LoadLocalConfig() (*LocalConfig, error) {
	dir, err := MentorDir()
	if err != nil {
		return nil, err
	}
	cfg, err := LoadLocalConfigFrom(dir)
	if err != nil {
		return nil, err
	}
	ApplyEnv(cfg)
	return cfg, nil
}

// LoadLocalConfigFrom reads config.yaml and secrets.yaml from dir. Missing
// files yield defaults.
func LoadLocalConfigFrom(dir string) (*LocalConfig, error) {
	cfg := DefaultLocalConfig()

	data, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	secrets, err := LoadSecrets(dir)
	if err != nil {
		return nil, fmt.Errorf("load secrets: %w", err)
	}
	for name, secret := range secrets.Providers {
		if provider, ok := cfg.LLM.Providers[name]; ok {
			provider.APIKey = secret.APIKey
		}
	}
	cfg.Operator.SecretHash = secrets.Operator.SecretHash

	if cfg.Storage.Driver == DriverSQLite && cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = filepath.Join(dir, "data", "mentor.db")
	}

	return cfg, nil
}

// LoadSecrets reads secrets.yaml from dir; a missing file is empty
func LoadSecrets(dir string) (*SecretsConfig, error) {
	secrets := &SecretsConfig{Providers: make(map[string]ProviderSecret)}

	data, err := os.ReadFile(filepath.Join(dir, "secrets.yaml"))
	if errors.Is(err, os.ErrNotExist) {
		return secrets, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read secrets: %w", err)
	}
	if err := yaml.Unmarshal(data, secrets); err != nil {
		return nil, fmt.Errorf("parse secrets: %w", err)
	}
	if secrets.Providers == nil {
		secrets.Providers = make(map[string]ProviderSecret)
	}
	return secrets, nil
}

// SaveLocalConfig saves configuration to ~/.mentor/config.yaml
func SaveLocalConfig(cfg *LocalConfig) error {
	dir, err := EnsureMentorDir()
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// SaveSecrets saves API keys and the operator hash to ~/.mentor/secrets.yaml
func SaveSecrets(secrets *SecretsConfig) error {
	dir, err := EnsureMentorDir()
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("marshal secrets: %w", err)
	}

	// Owner read/write only
	if err := os.WriteFile(filepath.Join(dir, "secrets.yaml"), data, 0600); err != nil {
		return fmt.Errorf("write secrets: %w", err)
	}

	return nil
}
