package models

// ProviderKind selects which upstream SDK a provider entry is served by.
type ProviderKind string

const (
	// ProviderKindOpenAI covers any OpenAI-compatible backend (OpenAI,
	// DeepSeek, and others reachable through a custom base_url).
	ProviderKindOpenAI    ProviderKind = "openai"
	ProviderKindAnthropic ProviderKind = "anthropic"
	ProviderKindGemini    ProviderKind = "gemini"
)

// ProviderConfig holds configuration for a single LLM provider entry
type ProviderConfig struct {
	Kind      ProviderKind      `yaml:"kind" json:"kind"`
	APIKey    string            `yaml:"api_key" json:"api_key,omitzero"`
	BaseURL   string            `yaml:"base_url" json:"base_url,omitzero"` // Optional custom base URL
	Model     string            `yaml:"model" json:"model"`
	MaxTokens int64             `yaml:"max_tokens,omitempty" json:"max_tokens,omitzero"` // Required by Anthropic, optional elsewhere
	TimeoutMs int               `yaml:"timeout_ms" json:"timeout_ms,omitzero"`
	Headers   map[string]string `yaml:"headers" json:"headers,omitzero"` // Optional custom headers
}
