package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/fortunelab/fortune-gateway/internal/models"

	"google.golang.org/genai"
)

type geminiClient struct {
	name   string
	client *genai.Client
	model  string
}

func newGeminiClient(name string, cfg models.ProviderConfig) (*geminiClient, error) {
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &geminiClient{
		name:   name,
		client: client,
		model:  cfg.Model,
	}, nil
}

func (c *geminiClient) Name() string {
	return c.name
}

func (c *geminiClient) StreamComplete(ctx context.Context, messages []models.Turn) (Stream, error) {
	config := &genai.GenerateContentConfig{}
	var contents []*genai.Content

	for _, turn := range messages {
		switch turn.Role {
		case models.RoleSystem:
			config.SystemInstruction = genai.NewContentFromText(turn.Content, genai.RoleUser)
		case models.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(turn.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(turn.Content, genai.RoleUser))
		}
	}

	streamIter := c.client.Models.GenerateContentStream(ctx, c.model, contents, config)
	return newGeminiStream(streamIter), nil
}

type geminiStream struct {
	next    func() (*genai.GenerateContentResponse, error, bool)
	stop    func()
	current string
	err     error
}

func newGeminiStream(streamIter iter.Seq2[*genai.GenerateContentResponse, error]) *geminiStream {
	nextFunc, stopFunc := iter.Pull2(streamIter)
	return &geminiStream{
		next: func() (*genai.GenerateContentResponse, error, bool) {
			resp, err, more := nextFunc()
			if !more {
				return nil, io.EOF, false
			}
			if err != nil {
				return nil, err, false
			}
			return resp, nil, true
		},
		stop: stopFunc,
	}
}

// Next advances to the next non-empty text delta.
func (s *geminiStream) Next() bool {
	if s.err != nil {
		return false
	}
	for {
		resp, err, more := s.next()
		if !more {
			if err != nil && !errors.Is(err, io.EOF) {
				s.err = err
			}
			return false
		}
		if text := geminiDelta(resp); text != "" {
			s.current = text
			return true
		}
	}
}

func (s *geminiStream) Current() string {
	return s.current
}

func (s *geminiStream) Err() error {
	return s.err
}

func (s *geminiStream) Close() error {
	if s.stop != nil {
		s.stop()
	}
	return nil
}

func geminiDelta(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}
