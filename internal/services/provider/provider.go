package provider

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/fortunelab/fortune-gateway/internal/models"
	"github.com/fortunelab/fortune-gateway/internal/utils/clientcache"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

// Client is the uniform streaming-completion interface over an upstream LLM
// backend. Implementations must deliver partial text incrementally, never
// buffering the full completion before yielding.
type Client interface {
	Name() string
	StreamComplete(ctx context.Context, messages []models.Turn) (Stream, error)
}

// Stream iterates incremental text deltas. Next reports whether another
// delta is available; after Next returns false, Err distinguishes normal
// provider EOS (nil) from transport or API failure.
type Stream interface {
	Next() bool
	Current() string
	Err() error
	Close() error
}

// Registry resolves configured provider entries to cached clients. Variants
// are a fixed set selected by the config kind, never a mutable lookup table.
type Registry struct {
	providers   map[string]models.ProviderConfig
	defaultName string
	clients     *clientcache.Cache[Client]
}

// NewRegistry creates a registry over the configured provider entries.
func NewRegistry(providers map[string]models.ProviderConfig, defaultName string) *Registry {
	return &Registry{
		providers:   providers,
		defaultName: defaultName,
		clients:     clientcache.NewCache[Client](),
	}
}

// Client returns the client for the named provider entry, building and
// caching it on first use. An empty name selects the default entry.
func (r *Registry) Client(name string) (Client, error) {
	if name == "" {
		name = r.defaultName
	}
	cfg, exists := r.providers[name]
	if !exists {
		return nil, models.NewValidationError(fmt.Sprintf("unsupported provider: %s", name), nil)
	}

	configHash, err := generateConfigHash(cfg)
	if err != nil {
		fiberlog.Warnf("Failed to generate config hash for %s: %v, creating new client without caching", name, err)
		return buildClient(name, cfg)
	}

	cacheKey := fmt.Sprintf("%s:%s", name, configHash)

	return r.clients.GetOrCreate(cacheKey, func() (Client, error) {
		fiberlog.Debugf("Creating new %s client for %s (config hash: %s)", cfg.Kind, name, configHash[:8])
		return buildClient(name, cfg)
	})
}

func buildClient(name string, cfg models.ProviderConfig) (Client, error) {
	if cfg.APIKey == "" {
		return nil, models.NewProviderError(name, "API key not configured", nil)
	}
	if cfg.Model == "" {
		return nil, models.NewProviderError(name, "model not configured", nil)
	}

	switch cfg.Kind {
	case models.ProviderKindOpenAI, "":
		return newOpenAIClient(name, cfg), nil
	case models.ProviderKindAnthropic:
		return newAnthropicClient(name, cfg), nil
	case models.ProviderKindGemini:
		return newGeminiClient(name, cfg)
	default:
		return nil, models.NewValidationError(fmt.Sprintf("unsupported provider kind: %s", cfg.Kind), nil)
	}
}

// generateConfigHash creates a hash of the provider config to detect changes
func generateConfigHash(cfg models.ProviderConfig) (string, error) {
	type configForHash struct {
		Kind       models.ProviderKind
		BaseURL    string
		Model      string
		TimeoutMs  int
		Headers    map[string]string
		APIKeyHash string
	}

	apiKeyHash := sha256.Sum256([]byte(cfg.APIKey))

	hashConfig := configForHash{
		Kind:       cfg.Kind,
		BaseURL:    cfg.BaseURL,
		Model:      cfg.Model,
		TimeoutMs:  cfg.TimeoutMs,
		Headers:    cfg.Headers,
		APIKeyHash: fmt.Sprintf("%x", apiKeyHash[:8]),
	}

	configJSON, err := json.Marshal(hashConfig)
	if err != nil {
		return "", err
	}

	hash := sha256.Sum256(configJSON)
	return fmt.Sprintf("%x", hash[:16]), nil
}
