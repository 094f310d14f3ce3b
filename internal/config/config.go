package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/fortunelab/fortune-gateway/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	Server    models.ServerConfig              `yaml:"server"`
	Database  models.DatabaseConfig            `yaml:"database"`
	Redis     RedisConfig                      `yaml:"redis"`
	Providers map[string]models.ProviderConfig `yaml:"providers"`
	// DefaultProvider names the entry used when a request carries no
	// provider parameter.
	DefaultProvider string                    `yaml:"default_provider"`
	Replay          models.ReplayConfig       `yaml:"replay"`
	Conversation    models.ConversationConfig `yaml:"conversation"`
}

// RedisConfig holds the optional read-through cache settings
type RedisConfig struct {
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

// LoadFromFile loads configuration from a YAML file with environment variable substitution
func LoadFromFile(configPath string) (*Config, error) {
	// Validate and clean the file path to prevent directory traversal
	cleanPath := filepath.Clean(configPath)

	if strings.Contains(cleanPath, "..") {
		return nil, fmt.Errorf("invalid config path: path traversal not allowed")
	}

	ext := filepath.Ext(cleanPath)
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("invalid config file: only .yaml and .yml files are allowed")
	}

	data, err := os.ReadFile(cleanPath) // #nosec G304 - path is validated above
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", cleanPath, err)
	}

	return Parse(data)
}

// Parse parses YAML config bytes with environment variable substitution and
// applies defaults.
func Parse(data []byte) (*Config, error) {
	content := substituteEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(content), &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	// Normalize provider map keys to lowercase for case-insensitive lookups
	if config.Providers != nil {
		normalized := make(map[string]models.ProviderConfig, len(config.Providers))
		for key, value := range config.Providers {
			normalized[strings.ToLower(key)] = value
		}
		config.Providers = normalized
	}
	config.DefaultProvider = strings.ToLower(config.DefaultProvider)

	config.Replay = config.Replay.WithDefaults()
	config.Conversation = config.Conversation.WithDefaults()

	return &config, nil
}

// LoadEnvFiles loads environment variables from .env files in order of precedence
// Loads files in the order provided (first has highest priority)
func LoadEnvFiles(envFiles []string) {
	for _, envFile := range envFiles {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err == nil {
				fmt.Printf("Loaded environment variables from %s\n", envFile)
			}
		}
	}
}

// substituteEnvVars replaces ${VAR_NAME} and ${VAR_NAME:-default} patterns with environment variables
func substituteEnvVars(content string) string {
	re := regexp.MustCompile(`\$\{([^}:]+)(?::(-[^}]*))?\}`)

	return re.ReplaceAllStringFunc(content, func(match string) string {
		submatches := re.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		defaultValue := ""

		if len(submatches) > 2 && submatches[2] != "" {
			defaultValue = strings.TrimPrefix(submatches[2], "-")
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}

		return defaultValue
	})
}

// GetProviderConfig returns the configuration for a named provider entry.
// An empty name resolves to the configured default provider.
func (c *Config) GetProviderConfig(provider string) (models.ProviderConfig, bool) {
	name := strings.ToLower(provider)
	if name == "" {
		name = c.DefaultProvider
	}
	cfg, exists := c.Providers[name]
	return cfg, exists
}

// GetNormalizedLogLevel returns the log level in lowercase for consistent comparison
func (c *Config) GetNormalizedLogLevel() string {
	return strings.ToLower(c.Server.LogLevel)
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// Validate checks if all required configuration values are set
func (c *Config) Validate() error {
	var missing []string

	if c.Server.Port == "" {
		missing = append(missing, "server.port")
	}
	if c.Database.Type == "" {
		missing = append(missing, "database.type")
	}
	if len(c.Providers) == 0 {
		missing = append(missing, "providers")
	}
	if c.DefaultProvider != "" {
		if _, ok := c.Providers[c.DefaultProvider]; !ok {
			return fmt.Errorf("default_provider %q is not a configured provider", c.DefaultProvider)
		}
	}

	if len(missing) > 0 {
		return &ValidationError{MissingFields: missing}
	}

	return nil
}

// ValidationError represents configuration validation errors
type ValidationError struct {
	MissingFields []string
}

func (e *ValidationError) Error() string {
	return "missing required configuration fields: " + strings.Join(e.MissingFields, ", ")
}
