package main

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dsamentor/mentor/internal/config"
	"github.com/dsamentor/mentor/internal/operator"
)

// cmdInit initializes Mentor for first-time use
func cmdInit() error {
	fmt.Println("Mentor - First-Time Setup")
	fmt.Println("=========================")
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)

	fmt.Print("Creating ~/.mentor directory structure... ")
	mentorDir, err := config.EnsureMentorDir()
	if err != nil {
		return fmt.Errorf("create directories: %w", err)
	}
	fmt.Println("✓")

	configPath := filepath.Join(mentorDir, "config.yaml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		fmt.Print("Creating default configuration... ")
		if err := config.SaveLocalConfig(config.DefaultLocalConfig()); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Println("✓")
	} else {
		fmt.Println("Configuration already exists ✓")
	}

	fmt.Println()
	fmt.Println("LLM Provider Setup")
	fmt.Println("------------------")
	fmt.Println("Mentor supports: OpenAI, Claude (Anthropic), Gemini and Ollama (local)")
	fmt.Println()

	secrets, err := config.LoadSecrets(mentorDir)
	if err != nil {
		return err
	}

	if secrets.Providers["openai"].APIKey != "" {
		fmt.Println("OpenAI API key: already configured ✓")
	} else {
		fmt.Print("Enter OpenAI API key (or press Enter to skip): ")
		key, _ := reader.ReadString('\n')
		key = strings.TrimSpace(key)
		if key != "" {
			secrets.Providers["openai"] = config.ProviderSecret{APIKey: key}
			if err := config.SaveSecrets(secrets); err != nil {
				fmt.Printf("  ⚠ Failed to save: %v\n", err)
			} else {
				fmt.Println("  ✓ Saved")
			}
		}
	}

	fmt.Println()
	if secrets.Operator.SecretHash != "" {
		fmt.Println("Operator secret: already configured ✓")
	} else {
		fmt.Println("Resets need an operator secret. Run 'mentor operator set-secret' to enable them.")
	}

	fmt.Println()
	fmt.Println("Setup Complete!")
	fmt.Println("===============")
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. mentor start          # Start the daemon")
	fmt.Println("  2. mentor doctor         # Verify configuration")
	fmt.Println("  3. mentor open <url>     # Start a problem")
	fmt.Println()
	fmt.Println("For IDE integration:")
	fmt.Println("  - MCP clients: configure 'mentor mcp' as a stdio server")

	return nil
}

// cmdDoctor checks configuration and provider reachability
func cmdDoctor() error {
	fmt.Println("Checking setup...")

	allGood := true

	fmt.Print("Directory: ")
	mentorDir, err := config.MentorDir()
	if err != nil {
		fmt.Printf("✗ %v\n", err)
		allGood = false
	} else if _, err := os.Stat(mentorDir); os.IsNotExist(err) {
		fmt.Println("✗ not created (run 'mentor init')")
		allGood = false
	} else {
		fmt.Printf("✓ %s\n", mentorDir)
	}

	fmt.Print("Config:    ")
	cfg, err := config.LoadLocalConfig()
	if err != nil {
		fmt.Printf("✗ %v\n", err)
		allGood = false
	} else if err := cfg.Validate(); err != nil {
		fmt.Printf("✗ %v\n", err)
		allGood = false
	} else {
		fmt.Println("✓ loaded")
		fmt.Printf("Storage:   %s\n", cfg.Storage.Driver)

		fmt.Println("\nLLM Providers:")
		ready := 0
		for _, name := range sortedProviders(cfg) {
			provider := cfg.LLM.Providers[name]
			if !provider.Enabled {
				continue
			}

			fmt.Printf("  %s: ", name)
			switch {
			case name == "ollama":
				if err := checkOllama(provider.URL); err != nil {
					fmt.Printf("✗ %v\n", err)
				} else {
					fmt.Printf("✓ available (model: %s)\n", provider.Model)
					ready++
				}
			case provider.APIKey != "":
				fmt.Printf("✓ configured (model: %s)\n", provider.Model)
				ready++
			default:
				fmt.Printf("✗ no API key (run 'mentor provider set-key %s')\n", name)
			}
		}
		if ready == 0 {
			fmt.Println("  ⚠ no provider ready; evaluations will fall back to a safe default")
		}

		fmt.Print("\nOperator:  ")
		if cfg.Operator.SecretHash != "" {
			fmt.Println("✓ secret configured")
		} else {
			fmt.Println("✗ not configured (resets disabled)")
		}
	}

	fmt.Print("Daemon:    ")
	if isRunning() {
		fmt.Println("✓ running")
	} else {
		fmt.Println("✗ not running (run 'mentor start')")
	}

	fmt.Println()
	if allGood {
		fmt.Println("All checks passed! ✓")
	} else {
		fmt.Println("Some checks failed. Please fix the issues above.")
	}

	return nil
}

// cmdConfig shows current configuration
func cmdConfig() error {
	cfg, err := config.LoadLocalConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	fmt.Println("Mentor Configuration")

	fmt.Println("Daemon:")
	fmt.Printf("  bind: %s:%d\n", cfg.Daemon.Bind, cfg.Daemon.Port)
	fmt.Printf("  log_level: %s\n", cfg.Daemon.LogLevel)
	if len(cfg.Daemon.Origins) > 0 {
		fmt.Printf("  origins: %s\n", strings.Join(cfg.Daemon.Origins, ", "))
	}

	fmt.Println("\nLLM:")
	fmt.Printf("  default_provider: %s\n", cfg.LLM.DefaultProvider)
	fmt.Printf("  timeout: %s\n", cfg.LLMTimeout())
	for _, name := range sortedProviders(cfg) {
		provider := cfg.LLM.Providers[name]
		if !provider.Enabled {
			continue
		}
		keyStatus := "✗"
		if provider.APIKey != "" || name == "ollama" {
			keyStatus = "✓"
		}
		fmt.Printf("  %s: model=%s key=%s\n", name, provider.Model, keyStatus)
	}

	fmt.Println("\nPolicy:")
	fmt.Printf("  thinking: %ds\n", cfg.Policy.ThinkingSeconds)
	fmt.Printf("  effort gate: %ds or %d runs\n", cfg.Policy.EffortSeconds, cfg.Policy.RunsToUnlock)
	fmt.Printf("  max_hints: %d\n", cfg.Policy.MaxHints)
	fmt.Printf("  reset_after: %s\n", cfg.Policy.ResetAfter)

	fmt.Println("\nStorage:")
	fmt.Printf("  driver: %s\n", cfg.Storage.Driver)
	if cfg.Storage.Driver == config.DriverSQLite {
		fmt.Printf("  path: %s\n", cfg.Storage.SQLitePath)
	}

	fmt.Println("\nNotify:")
	if cfg.Notify.AMQPURL != "" {
		fmt.Printf("  broker: enabled (exchange %s)\n", cfg.Notify.Exchange)
	} else {
		fmt.Println("  broker: disabled")
	}

	mentorDir, _ := config.MentorDir()
	fmt.Printf("\nConfig path: %s/config.yaml\n", mentorDir)

	return nil
}

func sortedProviders(cfg *config.LocalConfig) []string {
	names := make([]string, 0, len(cfg.LLM.Providers))
	for name := range cfg.LLM.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// cmdProvider manages LLM provider API keys
func cmdProvider(args []string) error {
	if len(args) < 1 {
		fmt.Println(`Provider management commands:

  mentor provider list              List configured providers
  mentor provider set-key <name>    Set API key for a provider`)
		return nil
	}

	switch args[0] {
	case "list":
		return cmdProviderList()
	case "set-key":
		if len(args) < 2 {
			return fmt.Errorf("provider name required")
		}
		return cmdProviderSetKey(args[1])
	default:
		return fmt.Errorf("unknown provider command: %s", args[0])
	}
}

func cmdProviderList() error {
	cfg, err := config.LoadLocalConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	fmt.Println("Configured LLM Providers:")
	for _, name := range sortedProviders(cfg) {
		provider := cfg.LLM.Providers[name]
		status := "disabled"
		if provider.Enabled {
			if provider.APIKey != "" || name == "ollama" {
				status = "ready"
			} else {
				status = "needs API key"
			}
		}

		isDefault := ""
		if name == cfg.LLM.DefaultProvider {
			isDefault = " (default)"
		}

		fmt.Printf("  %s%s\n", name, isDefault)
		fmt.Printf("    status: %s\n", status)
		fmt.Printf("    model:  %s\n", provider.Model)
		if provider.URL != "" {
			fmt.Printf("    url:    %s\n", provider.URL)
		}
		fmt.Println()
	}

	return nil
}

func cmdProviderSetKey(provider string) error {
	cfg, err := config.LoadLocalConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if _, ok := cfg.LLM.Providers[provider]; !ok {
		return fmt.Errorf("unknown provider: %s (valid: %s)", provider, strings.Join(sortedProviders(cfg), ", "))
	}

	if provider == "ollama" {
		fmt.Println("Ollama doesn't require an API key.")
		return nil
	}

	fmt.Printf("Enter %s API key: ", provider)
	key, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("API key cannot be empty")
	}

	mentorDir, err := config.EnsureMentorDir()
	if err != nil {
		return err
	}
	secrets, err := config.LoadSecrets(mentorDir)
	if err != nil {
		return err
	}
	secrets.Providers[provider] = config.ProviderSecret{APIKey: key}
	if err := config.SaveSecrets(secrets); err != nil {
		return fmt.Errorf("save secrets: %w", err)
	}

	fmt.Printf("✓ API key saved for %s\n", provider)
	fmt.Println("Restart the daemon for changes to take effect.")
	return nil
}

// cmdOperator manages the operator secret
func cmdOperator(args []string) error {
	if len(args) < 1 || args[0] != "set-secret" {
		fmt.Println(`Operator commands:

  mentor operator set-secret             Prompt for a new operator secret
  mentor operator set-secret --generate  Generate and print a random secret`)
		return nil
	}

	var secret string
	if len(args) > 1 && args[1] == "--generate" {
		s, err := operator.GenerateSecret(16)
		if err != nil {
			return fmt.Errorf("generate secret: %w", err)
		}
		secret = s
	} else {
		fmt.Printf("Enter operator secret (min %d characters): ", operator.MinSecretLength)
		s, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		secret = strings.TrimSpace(s)
	}

	hash, err := operator.HashSecret(secret, 0)
	if err != nil {
		return err
	}

	mentorDir, err := config.EnsureMentorDir()
	if err != nil {
		return err
	}
	secrets, err := config.LoadSecrets(mentorDir)
	if err != nil {
		return err
	}
	secrets.Operator.SecretHash = hash
	if err := config.SaveSecrets(secrets); err != nil {
		return fmt.Errorf("save secrets: %w", err)
	}

	if len(args) > 1 && args[1] == "--generate" {
		fmt.Printf("Operator secret: %s\n", secret)
		fmt.Println("Store it somewhere safe; only its hash is kept.")
	}
	fmt.Println("✓ Operator secret saved")
	fmt.Println("Restart the daemon for changes to take effect.")
	return nil
}

func checkOllama(url string) error {
	if url == "" {
		url = "http://localhost:11434"
	}

	hc := &http.Client{Timeout: 3 * time.Second}
	resp, err := hc.Get(url + "/api/tags")
	if err != nil {
		return fmt.Errorf("not reachable at %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return nil
}
