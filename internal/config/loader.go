package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Load reads and parses the configuration file and environment variables
func Load(configPath string) (*Config, *Secrets, error) {
	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, nil, err
	}

	// Load secrets from environment
	secrets, err := LoadSecrets()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load secrets: %w", err)
	}

	return cfg, secrets, nil
}

// Parse decodes TOML, applies defaults and validates the result
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Additional input security validation
	if err := cfg.ValidateInputs(); err != nil {
		return nil, fmt.Errorf("input validation failed: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	// Generation defaults
	if cfg.Generation.ItemType == "" {
		cfg.Generation.ItemType = "MCQ"
	}
	if cfg.Generation.ZeroWeightThreshold == 0 {
		cfg.Generation.ZeroWeightThreshold = 500
	}
	if cfg.Generation.MaxAttempts == 0 {
		cfg.Generation.MaxAttempts = 3
	}
	if cfg.Generation.RequestTimeoutSeconds == 0 {
		cfg.Generation.RequestTimeoutSeconds = 60
	}
	if cfg.Generation.MaxReferenceItems == 0 {
		cfg.Generation.MaxReferenceItems = 5
	}
	if cfg.Generation.MaxContextItems == 0 {
		cfg.Generation.MaxContextItems = 50
	}
	if cfg.Generation.CheckpointInterval == 0 {
		cfg.Generation.CheckpointInterval = 10
	}

	// Credential pool defaults
	if cfg.Credentials.FailureThreshold == 0 {
		cfg.Credentials.FailureThreshold = 3
	}
	if cfg.Credentials.AttemptsPerKey == 0 {
		cfg.Credentials.AttemptsPerKey = 3
	}

	// Storage defaults
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "examforge.db"
	}
	if cfg.Storage.OutputDir == "" {
		cfg.Storage.OutputDir = "output"
	}

	// Apply defaults for each model
	for name, model := range cfg.Models {
		if model.Provider == "" {
			model.Provider = ProviderOpenAI
		}
		if model.Temperature == 0 {
			model.Temperature = 0.7
		}
		if model.TopP == 0 {
			model.TopP = 1.0
		}
		if model.MaxOutputTokens == 0 {
			model.MaxOutputTokens = 8192
		}
		if model.RateLimitPerMinute == 0 {
			model.RateLimitPerMinute = 60
		}
		if model.HTTPTimeoutSeconds == 0 {
			model.HTTPTimeoutSeconds = 120
		}
		cfg.Models[name] = model
	}

	// Apply default templates if not provided
	if cfg.PromptTemplates.Generation == "" {
		cfg.PromptTemplates.Generation = GetDefaultGenerationTemplate()
	}
	if cfg.PromptTemplates.Solution == "" {
		cfg.PromptTemplates.Solution = GetDefaultSolutionTemplate()
	}
	if cfg.PromptTemplates.Validation == "" {
		cfg.PromptTemplates.Validation = GetDefaultValidationTemplate()
	}
	if cfg.PromptTemplates.Extraction == "" {
		cfg.PromptTemplates.Extraction = GetDefaultExtractionTemplate()
	}
	if cfg.PromptTemplates.GenerationSystem == "" {
		cfg.PromptTemplates.GenerationSystem = GetDefaultGenerationSystemPrompt()
	}
	if cfg.PromptTemplates.SolutionSystem == "" {
		cfg.PromptTemplates.SolutionSystem = GetDefaultSolutionSystemPrompt()
	}
	if cfg.PromptTemplates.ValidationSystem == "" {
		cfg.PromptTemplates.ValidationSystem = GetDefaultValidationSystemPrompt()
	}
	if cfg.PromptTemplates.ExtractionSystem == "" {
		cfg.PromptTemplates.ExtractionSystem = GetDefaultExtractionSystemPrompt()
	}
}

// Seconds converts a configured wait into a duration: 0 selects def,
// a negative value disables the wait.
func Seconds(configured int, def time.Duration) time.Duration {
	switch {
	case configured == 0:
		return def
	case configured < 0:
		return 0
	}
	return time.Duration(configured) * time.Second
}
