package daemon

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/dsamentor/mentor/internal/config"
	"github.com/dsamentor/mentor/internal/llm"
)

// Providers is a registry plus the resources its providers hold open
type Providers struct {
	Registry *llm.Registry
	closers  []func() error
}

// Close releases every provider
func (p *Providers) Close() error {
	var errs []error
	for _, c := range p.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// SetupProviders registers every enabled provider that has credentials,
// each wrapped with the resilience layer.
func SetupProviders(ctx context.Context, cfg config.LLMConfig) (*Providers, error) {
	out := &Providers{Registry: llm.NewRegistry()}

	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		providerCfg := cfg.Providers[name]
		if providerCfg == nil || !providerCfg.Enabled {
			continue
		}

		var provider llm.Provider
		switch name {
		case "claude":
			if providerCfg.APIKey == "" {
				slog.Debug("Claude provider enabled but no API key set")
				continue
			}
			provider = llm.NewClaudeProvider(llm.ClaudeConfig{
				APIKey:  providerCfg.APIKey,
				BaseURL: providerCfg.URL,
				Model:   providerCfg.Model,
			})

		case "openai":
			if providerCfg.APIKey == "" {
				slog.Debug("OpenAI provider enabled but no API key set")
				continue
			}
			provider = llm.NewOpenAIProvider(llm.OpenAIConfig{
				APIKey:  providerCfg.APIKey,
				BaseURL: providerCfg.URL,
				Model:   providerCfg.Model,
			})

		case "gemini":
			if providerCfg.APIKey == "" {
				slog.Debug("Gemini provider enabled but no API key set")
				continue
			}
			gp, err := llm.NewGeminiProvider(ctx, llm.GeminiConfig{
				APIKey: providerCfg.APIKey,
				Model:  providerCfg.Model,
			})
			if err != nil {
				slog.Warn("gemini provider unavailable", "error", err)
				continue
			}
			provider = gp

		case "ollama":
			provider = llm.NewOllamaProvider(llm.OllamaConfig{
				BaseURL: providerCfg.URL,
				Model:   providerCfg.Model,
			})

		default:
			slog.Warn("unknown LLM provider in config", "name", name)
			continue
		}

		rcfg := llm.DefaultResilientConfig()
		rcfg.Logger = slog.Default()
		resilient := llm.NewResilientProvider(provider, rcfg)
		out.Registry.Register(name, resilient)
		out.closers = append(out.closers, resilient.Close)
		slog.Info("registered LLM provider", "name", name, "model", providerCfg.Model)
	}

	if cfg.DefaultProvider != "" && cfg.DefaultProvider != "auto" {
		if err := out.Registry.SetDefault(cfg.DefaultProvider); err != nil {
			slog.Warn("default provider not available, falling back", "provider", cfg.DefaultProvider, "error", err)
		}
	}

	return out, nil
}
