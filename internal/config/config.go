package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/lamim/examforge/pkg/models"
)

// Model roles. Only the generator is required; solver and validator fall back to it.
const (
	RoleGenerator = "generator"
	RoleSolver    = "solver"
	RoleValidator = "validator"
)

// Provider names accepted in models.<role>.provider
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Config represents the complete application configuration
type Config struct {
	Generation      GenerationConfig          `toml:"generation"`
	Credentials     CredentialsConfig         `toml:"credentials"`
	Storage         StorageConfig             `toml:"storage"`
	Models          map[string]ModelConfig    `toml:"models"`
	PromptTemplates PromptTemplates           `toml:"prompt_templates"`
	Scoring         map[string]models.Scoring `toml:"scoring"` // Keyed by item type (MCQ, MSQ, NAT, SUBJECTIVE)
	Metrics         MetricsConfig             `toml:"metrics"`
}

// GenerationConfig holds generation-specific settings.
// TOML cannot tell 0 from unset, so for cooldowns 0 means "use the default"
// and a negative value disables the wait.
type GenerationConfig struct {
	CourseID               string `toml:"course_id"`
	ItemType               string `toml:"item_type"`                // MCQ, MSQ, NAT or SUBJECTIVE (aliases accepted)
	TargetTotal            int    `toml:"target_total"`             // Items to distribute across topics by weight
	ZeroWeightThreshold    int    `toml:"zero_weight_threshold"`    // Zero-weight topics get one item at or above this total (default 500)
	MaxAttempts            int    `toml:"max_attempts"`             // Attempts per desired item (default 3)
	RequestTimeoutSeconds  int    `toml:"request_timeout_seconds"`  // Hard timeout per generation call (default 60)
	FailureCooldownSeconds int    `toml:"failure_cooldown_seconds"` // Wait after a failed attempt (default 2)
	ItemCooldownSeconds    int    `toml:"item_cooldown_seconds"`    // Wait after an accepted item (default 5)
	TopicCooldownSeconds   int    `toml:"topic_cooldown_seconds"`   // Wait between topics (default 3)
	MaxReferenceItems      int    `toml:"max_reference_items"`      // PYQs shown as inspiration (default 5)
	MaxContextItems        int    `toml:"max_context_items"`        // Accepted items listed for anti-repetition (default 50)
	Slot                   string `toml:"slot"`                     // Optional classification tag stored with every item
	Part                   string `toml:"part"`                     // Optional classification tag stored with every item
	EnableCheckpointing    bool   `toml:"enable_checkpointing"`     // Write a resumable checkpoint into the session directory
	CheckpointInterval     int    `toml:"checkpoint_interval"`      // Save checkpoint every N accepted items (default: 10)
}

// CredentialsConfig controls the API key pool
type CredentialsConfig struct {
	Keys             []string `toml:"keys"`              // Prefer API_KEYS in the environment; keys here are merged in
	FailureThreshold int      `toml:"failure_threshold"` // Consecutive failures before a key is deactivated (default 3)
	CooldownSeconds  int      `toml:"cooldown_seconds"`  // Wait before retrying on the next key (default 10)
	AttemptsPerKey   int      `toml:"attempts_per_key"`  // Attempt budget is attempts_per_key x pool size (default 3)
}

// StorageConfig locates the database and the session output directory
type StorageConfig struct {
	DatabasePath string `toml:"database_path"` // SQLite file (default "examforge.db")
	OutputDir    string `toml:"output_dir"`    // Session directories are created here (default "output")
}

// ModelConfig represents configuration for a single model endpoint
type ModelConfig struct {
	Provider           string  `toml:"provider"` // "openai" (any OpenAI-compatible endpoint) or "gemini"
	BaseURL            string  `toml:"base_url"` // Required for openai; optional override for gemini
	ModelName          string  `toml:"model_name"`
	Temperature        float64 `toml:"temperature"`
	TopP               float64 `toml:"top_p"`
	MaxOutputTokens    int     `toml:"max_output_tokens"`
	RateLimitPerMinute int     `toml:"rate_limit_per_minute"`
	HTTPTimeoutSeconds int     `toml:"http_timeout_seconds"` // Optional: HTTP request timeout (default 120)
	JSONMode           bool    `toml:"use_json_mode"`        // Ask the provider for JSON output
}

// PromptTemplates holds all customizable prompt templates
type PromptTemplates struct {
	Generation       string `toml:"generation"`
	Solution         string `toml:"solution"`
	Validation       string `toml:"validation"`
	Extraction       string `toml:"extraction"`
	GenerationSystem string `toml:"generation_system_prompt"` // Optional system prompt for generation
	SolutionSystem   string `toml:"solution_system_prompt"`   // Optional system prompt for solving PYQs
	ValidationSystem string `toml:"validation_system_prompt"` // Optional system prompt for semantic validation
	ExtractionSystem string `toml:"extraction_system_prompt"` // Optional system prompt for PYQ extraction
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Addr string `toml:"addr"` // e.g. ":9090"; empty disables the endpoint
}

// Secrets holds sensitive credentials loaded from environment variables
type Secrets struct {
	APIKeys []string
}

const (
	// MaxTargetTotal is the maximum number of items one run may plan
	MaxTargetTotal = 100000
	// MaxAttemptsLimit is the maximum allowed attempts per item
	MaxAttemptsLimit = 10
	// MaxContextItemsLimit bounds the anti-repetition block
	MaxContextItemsLimit = 500
)

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if _, err := models.ParseItemType(c.Generation.ItemType); err != nil {
		return fmt.Errorf("generation.item_type: %w", err)
	}
	if c.Generation.TargetTotal < 1 {
		return fmt.Errorf("generation.target_total must be at least 1")
	}
	if c.Generation.TargetTotal > MaxTargetTotal {
		return fmt.Errorf("generation.target_total must not exceed %d (got %d)", MaxTargetTotal, c.Generation.TargetTotal)
	}
	if c.Generation.MaxAttempts < 1 || c.Generation.MaxAttempts > MaxAttemptsLimit {
		return fmt.Errorf("generation.max_attempts must be between 1 and %d (got %d)", MaxAttemptsLimit, c.Generation.MaxAttempts)
	}
	if c.Generation.RequestTimeoutSeconds < 1 {
		return fmt.Errorf("generation.request_timeout_seconds must be at least 1")
	}
	if c.Generation.ZeroWeightThreshold < 1 {
		return fmt.Errorf("generation.zero_weight_threshold must be at least 1")
	}
	if c.Generation.MaxContextItems < 0 || c.Generation.MaxContextItems > MaxContextItemsLimit {
		return fmt.Errorf("generation.max_context_items must be between 0 and %d (got %d)", MaxContextItemsLimit, c.Generation.MaxContextItems)
	}
	if c.Generation.MaxReferenceItems < 0 {
		return fmt.Errorf("generation.max_reference_items must not be negative")
	}
	if c.Generation.CheckpointInterval < 1 {
		c.Generation.CheckpointInterval = 10
	}

	if c.Credentials.FailureThreshold < 1 {
		return fmt.Errorf("credentials.failure_threshold must be at least 1")
	}
	if c.Credentials.AttemptsPerKey < 1 {
		return fmt.Errorf("credentials.attempts_per_key must be at least 1")
	}

	if c.Storage.DatabasePath == "" {
		return fmt.Errorf("storage.database_path is required")
	}

	generator, ok := c.Models[RoleGenerator]
	if !ok {
		return fmt.Errorf("models.%s is required", RoleGenerator)
	}
	if err := validateModelConfig(RoleGenerator, generator); err != nil {
		return err
	}
	for _, role := range []string{RoleSolver, RoleValidator} {
		if mc, ok := c.Models[role]; ok {
			if err := validateModelConfig(role, mc); err != nil {
				return err
			}
		}
	}

	for key := range c.Scoring {
		if _, err := models.ParseItemType(key); err != nil {
			return fmt.Errorf("scoring.%s: %w", key, err)
		}
	}

	if c.PromptTemplates.Generation == "" {
		return fmt.Errorf("prompt_templates.generation is required")
	}
	if c.PromptTemplates.Solution == "" {
		return fmt.Errorf("prompt_templates.solution is required")
	}
	if c.PromptTemplates.Validation == "" {
		return fmt.Errorf("prompt_templates.validation is required")
	}
	if c.PromptTemplates.Extraction == "" {
		return fmt.Errorf("prompt_templates.extraction is required")
	}

	return nil
}

func validateModelConfig(name string, mc ModelConfig) error {
	switch mc.Provider {
	case ProviderOpenAI:
		if mc.BaseURL == "" {
			return fmt.Errorf("models.%s.base_url is required for provider %s", name, mc.Provider)
		}
	case ProviderGemini:
	default:
		return fmt.Errorf("models.%s.provider must be %q or %q (got %q)", name, ProviderOpenAI, ProviderGemini, mc.Provider)
	}
	if mc.ModelName == "" {
		return fmt.Errorf("models.%s.model_name is required", name)
	}
	if mc.Temperature < 0 || mc.Temperature > 2 {
		return fmt.Errorf("models.%s.temperature must be between 0 and 2", name)
	}
	if mc.TopP < 0 || mc.TopP > 1 {
		return fmt.Errorf("models.%s.top_p must be between 0 and 1", name)
	}
	if mc.MaxOutputTokens < 1 {
		return fmt.Errorf("models.%s.max_output_tokens must be at least 1", name)
	}
	if mc.RateLimitPerMinute < 0 {
		return fmt.Errorf("models.%s.rate_limit_per_minute must not be negative", name)
	}
	return nil
}

// ItemType returns the configured item type in canonical form
func (c *Config) ItemType() models.ItemType {
	t, err := models.ParseItemType(c.Generation.ItemType)
	if err != nil {
		return models.ItemSingleSelect
	}
	return t
}

// Model returns the model configuration for a role, falling back to the generator
func (c *Config) Model(role string) ModelConfig {
	if mc, ok := c.Models[role]; ok {
		return mc
	}
	return c.Models[RoleGenerator]
}

// ScoringFor returns the marking scheme for an item type.
// Configured entries win over the built-in defaults.
func (c *Config) ScoringFor(t models.ItemType) models.Scoring {
	for key, s := range c.Scoring {
		if kt, err := models.ParseItemType(key); err == nil && kt == t {
			return s
		}
	}
	return DefaultScoring(t)
}

// LoadSecrets loads sensitive credentials from environment variables.
// API_KEYS and GEMINI_API_KEYS hold comma-separated lists; GEMINI_API_KEY and
// OPENAI_API_KEY add a single key each.
func LoadSecrets() (*Secrets, error) {
	secrets := &Secrets{}

	for _, name := range []string{"API_KEYS", "GEMINI_API_KEYS"} {
		secrets.APIKeys = append(secrets.APIKeys, splitKeys(os.Getenv(name))...)
	}
	for _, name := range []string{"GEMINI_API_KEY", "OPENAI_API_KEY"} {
		if key := strings.TrimSpace(os.Getenv(name)); key != "" {
			secrets.APIKeys = append(secrets.APIKeys, key)
		}
	}

	return secrets, nil
}

// CredentialKeys merges keys from the environment with keys from the config file.
// The pool drops blanks and duplicates.
func (c *Config) CredentialKeys(s *Secrets) []string {
	var keys []string
	if s != nil {
		keys = append(keys, s.APIKeys...)
	}
	return append(keys, c.Credentials.Keys...)
}

func splitKeys(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	var keys []string
	for _, k := range strings.Split(v, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
