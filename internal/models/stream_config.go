package models

import "time"

// ReplayConfig controls how a cached reading is re-streamed to the client.
// The values are UX pacing knobs, not part of the wire contract.
type ReplayConfig struct {
	ChunkSize    int `yaml:"chunk_size" json:"chunk_size"`         // code points per chunk
	ChunkDelayMs int `yaml:"chunk_delay_ms" json:"chunk_delay_ms"` // pause between chunks
}

// ChunkDelay returns the inter-chunk pause as a duration.
func (c ReplayConfig) ChunkDelay() time.Duration {
	return time.Duration(c.ChunkDelayMs) * time.Millisecond
}

// ConversationConfig bounds follow-up chat turns.
type ConversationConfig struct {
	// MaxTurns counts every stored turn including the hidden priming
	// turns. Once the stored history reaches this length, Continue
	// answers with CapMessage instead of calling the provider.
	MaxTurns   int    `yaml:"max_turns" json:"max_turns"`
	CapMessage string `yaml:"cap_message" json:"cap_message,omitzero"`
}

const (
	DefaultReplayChunkSize    = 100
	DefaultReplayChunkDelayMs = 100
	DefaultMaxTurns           = 30
	// DefaultCapMessage is the soft rate-limit reply ("come back tomorrow").
	DefaultCapMessage = "明天再来"
)

// WithDefaults fills unset replay knobs.
func (c ReplayConfig) WithDefaults() ReplayConfig {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultReplayChunkSize
	}
	if c.ChunkDelayMs <= 0 {
		c.ChunkDelayMs = DefaultReplayChunkDelayMs
	}
	return c
}

// WithDefaults fills unset conversation knobs.
func (c ConversationConfig) WithDefaults() ConversationConfig {
	if c.MaxTurns <= 0 {
		c.MaxTurns = DefaultMaxTurns
	}
	if c.CapMessage == "" {
		c.CapMessage = DefaultCapMessage
	}
	return c
}
