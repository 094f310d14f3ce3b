package api

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fortunelab/fortune-gateway/internal/models"
	"github.com/fortunelab/fortune-gateway/internal/services/conversation"
	"github.com/fortunelab/fortune-gateway/internal/services/provider"
	"github.com/fortunelab/fortune-gateway/internal/services/request"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedStore struct {
	entry *models.FortuneCacheEntry
}

func (s *fixedStore) FindByFingerprint(ctx context.Context, fingerprint string) (*models.FortuneCacheEntry, error) {
	if s.entry != nil && s.entry.Fingerprint == fingerprint {
		clone := *s.entry
		return &clone, nil
	}
	return nil, nil
}

func (s *fixedStore) FindByConversationID(ctx context.Context, conversationID string) (*models.FortuneCacheEntry, error) {
	if s.entry != nil && s.entry.ConversationID == conversationID {
		clone := *s.entry
		return &clone, nil
	}
	return nil, nil
}

func (s *fixedStore) CreateIfAbsent(ctx context.Context, entry *models.FortuneCacheEntry) (bool, error) {
	return false, nil
}

func (s *fixedStore) AppendHistory(ctx context.Context, conversationID string, turns ...models.Turn) error {
	return nil
}

type singleTokenStream struct {
	done bool
}

func (s *singleTokenStream) Next() bool {
	if s.done {
		return false
	}
	s.done = true
	return true
}

func (s *singleTokenStream) Current() string { return "ok" }

func (s *singleTokenStream) Err() error { return nil }

func (s *singleTokenStream) Close() error { return nil }

type stubClient struct{}

func (stubClient) Name() string { return "stub" }

func (stubClient) StreamComplete(ctx context.Context, messages []models.Turn) (provider.Stream, error) {
	return &singleTokenStream{}, nil
}

type recordingResolver struct {
	requested []string
}

func (r *recordingResolver) Client(name string) (provider.Client, error) {
	r.requested = append(r.requested, name)
	return stubClient{}, nil
}

func storedEntry() *models.FortuneCacheEntry {
	return &models.FortuneCacheEntry{
		Fingerprint:    "/api/v1/fortune?fortune_telling_uid=uid-1",
		ConversationID: "conv-1",
		History: models.ConversationHistory{
			{Role: models.RoleSystem, Content: "s"},
			{Role: models.RoleUser, Content: "u"},
			{Role: models.RoleAssistant, Content: "reading"},
		},
		PrimingTurns: 2,
	}
}

func newConversationApp(store *fixedStore, resolver *recordingResolver) *fiber.App {
	svc := conversation.NewService(store, resolver, models.ConversationConfig{
		MaxTurns:   30,
		CapMessage: "明天再来",
	})
	h := NewConversationHandler(request.NewBaseService(), svc)

	app := fiber.New()
	app.Post("/api/v1/fortune/conversation", h.Continue)
	return app
}

func postContinue(t *testing.T, app *fiber.App, target, body string) string {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, target, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(payload)
}

func TestContinueBodyProviderOverridesQuery(t *testing.T) {
	store := &fixedStore{entry: storedEntry()}
	resolver := &recordingResolver{}
	app := newConversationApp(store, resolver)

	payload := postContinue(t, app, "/api/v1/fortune/conversation?provider=openai",
		`{"conversationId":"conv-1","prompt":"q","provider":"gemini"}`)

	assert.Contains(t, payload, `data: {"content":"ok"}`)
	assert.Contains(t, payload, "data: [DONE]")
	require.Len(t, resolver.requested, 1)
	assert.Equal(t, "gemini", resolver.requested[0])
}

func TestContinueProviderFallsBackToQuery(t *testing.T) {
	store := &fixedStore{entry: storedEntry()}
	resolver := &recordingResolver{}
	app := newConversationApp(store, resolver)

	postContinue(t, app, "/api/v1/fortune/conversation?provider=openai",
		`{"conversationId":"conv-1","prompt":"q"}`)

	require.Len(t, resolver.requested, 1)
	assert.Equal(t, "openai", resolver.requested[0])
}

func TestContinueRejectsMissingFields(t *testing.T) {
	store := &fixedStore{entry: storedEntry()}
	resolver := &recordingResolver{}
	app := newConversationApp(store, resolver)

	req := httptest.NewRequest(fiber.MethodPost, "/api/v1/fortune/conversation",
		strings.NewReader(`{"prompt":"q"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, resolver.requested)
}
