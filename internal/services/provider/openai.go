package provider

import (
	"context"
	"errors"
	"io"

	"github.com/fortunelab/fortune-gateway/internal/models"

	"github.com/openai/openai-go/v2"
	openaiOption "github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/ssestream"
	"github.com/openai/openai-go/v2/shared"
)

// openaiClient serves any OpenAI-compatible backend, including DeepSeek via
// a custom base URL.
type openaiClient struct {
	name   string
	client openai.Client
	model  string
}

func newOpenAIClient(name string, cfg models.ProviderConfig) *openaiClient {
	opts := []openaiOption.RequestOption{
		openaiOption.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openaiOption.WithBaseURL(cfg.BaseURL))
	}
	for key, value := range cfg.Headers {
		opts = append(opts, openaiOption.WithHeader(key, value))
	}

	return &openaiClient{
		name:   name,
		client: openai.NewClient(opts...),
		model:  cfg.Model,
	}
}

func (c *openaiClient) Name() string {
	return c.name
}

func (c *openaiClient) StreamComplete(ctx context.Context, messages []models.Turn) (Stream, error) {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: convertTurns(messages),
	}

	raw := c.client.Chat.Completions.NewStreaming(ctx, params)
	if err := raw.Err(); err != nil {
		return nil, models.NewProviderError(c.name, "failed to open stream", err)
	}

	return &openaiStream{stream: raw}, nil
}

func convertTurns(turns []models.Turn) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case models.RoleSystem:
			messages = append(messages, openai.SystemMessage(turn.Content))
		case models.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Content))
		default:
			messages = append(messages, openai.UserMessage(turn.Content))
		}
	}
	return messages
}

type openaiStream struct {
	stream  *ssestream.Stream[openai.ChatCompletionChunk]
	current string
}

// Next advances to the next non-empty content delta, skipping role-only and
// usage chunks.
func (s *openaiStream) Next() bool {
	for s.stream.Next() {
		chunk := s.stream.Current()
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			s.current = chunk.Choices[0].Delta.Content
			return true
		}
	}
	return false
}

func (s *openaiStream) Current() string {
	return s.current
}

func (s *openaiStream) Err() error {
	err := s.stream.Err()
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *openaiStream) Close() error {
	return s.stream.Close()
}
