package provider

import (
	"context"
	"errors"
	"io"

	"github.com/fortunelab/fortune-gateway/internal/models"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicOption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

const defaultAnthropicMaxTokens = 4096

type anthropicClient struct {
	name      string
	client    anthropic.Client
	model     string
	maxTokens int64
}

func newAnthropicClient(name string, cfg models.ProviderConfig) *anthropicClient {
	opts := []anthropicOption.RequestOption{
		anthropicOption.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, anthropicOption.WithBaseURL(cfg.BaseURL))
	}
	for key, value := range cfg.Headers {
		opts = append(opts, anthropicOption.WithHeader(key, value))
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	return &anthropicClient{
		name:      name,
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: maxTokens,
	}
}

func (c *anthropicClient) Name() string {
	return c.name
}

func (c *anthropicClient) StreamComplete(ctx context.Context, messages []models.Turn) (Stream, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
	}

	// Anthropic carries the system prompt outside the message list.
	for _, turn := range messages {
		switch turn.Role {
		case models.RoleSystem:
			params.System = append(params.System, anthropic.TextBlockParam{Text: turn.Content})
		case models.RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(turn.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Content)))
		}
	}

	raw := c.client.Messages.NewStreaming(ctx, params)
	if err := raw.Err(); err != nil {
		return nil, models.NewProviderError(c.name, "failed to open stream", err)
	}

	return &anthropicStream{stream: raw}, nil
}

type anthropicStream struct {
	stream  *ssestream.Stream[anthropic.MessageStreamEventUnion]
	current string
}

// Next advances to the next text delta, skipping message/content block
// bookkeeping events.
func (s *anthropicStream) Next() bool {
	for s.stream.Next() {
		event := s.stream.Current()
		if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if delta.Delta.Text != "" {
				s.current = delta.Delta.Text
				return true
			}
		}
	}
	return false
}

func (s *anthropicStream) Current() string {
	return s.current
}

func (s *anthropicStream) Err() error {
	err := s.stream.Err()
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *anthropicStream) Close() error {
	return s.stream.Close()
}
