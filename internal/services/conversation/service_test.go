package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/fortunelab/fortune-gateway/internal/models"
	"github.com/fortunelab/fortune-gateway/internal/services/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu               sync.Mutex
	byFingerprint    map[string]*models.FortuneCacheEntry
	byConversationID map[string]*models.FortuneCacheEntry
	appendErr        error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		byFingerprint:    make(map[string]*models.FortuneCacheEntry),
		byConversationID: make(map[string]*models.FortuneCacheEntry),
	}
}

func (m *memoryStore) FindByFingerprint(ctx context.Context, fingerprint string) (*models.FortuneCacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.byFingerprint[fingerprint]; ok {
		clone := *entry
		return &clone, nil
	}
	return nil, nil
}

func (m *memoryStore) FindByConversationID(ctx context.Context, conversationID string) (*models.FortuneCacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.byConversationID[conversationID]; ok {
		clone := *entry
		return &clone, nil
	}
	return nil, nil
}

func (m *memoryStore) CreateIfAbsent(ctx context.Context, entry *models.FortuneCacheEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byFingerprint[entry.Fingerprint]; ok {
		return false, nil
	}
	clone := *entry
	m.byFingerprint[entry.Fingerprint] = &clone
	m.byConversationID[entry.ConversationID] = &clone
	return true, nil
}

func (m *memoryStore) AppendHistory(ctx context.Context, conversationID string, turns ...models.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	entry, ok := m.byConversationID[conversationID]
	if !ok {
		return errors.New("conversation not found")
	}
	entry.History = append(entry.History, turns...)
	return nil
}

func (m *memoryStore) historyLen(conversationID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byConversationID[conversationID].History)
}

type sliceStream struct {
	deltas  []string
	pos     int
	current string
	err     error
}

func (s *sliceStream) Next() bool {
	if s.pos >= len(s.deltas) {
		return false
	}
	s.current = s.deltas[s.pos]
	s.pos++
	return true
}

func (s *sliceStream) Current() string { return s.current }

func (s *sliceStream) Err() error { return s.err }

func (s *sliceStream) Close() error { return nil }

type stubClient struct {
	deltas   []string
	err      error
	calls    int
	lastSent []models.Turn
}

func (c *stubClient) Name() string { return "stub" }

func (c *stubClient) StreamComplete(ctx context.Context, messages []models.Turn) (provider.Stream, error) {
	c.calls++
	c.lastSent = messages
	return &sliceStream{deltas: c.deltas, err: c.err}, nil
}

type stubResolver struct {
	client *stubClient
}

func (r *stubResolver) Client(name string) (provider.Client, error) {
	return r.client, nil
}

type recordingSink struct {
	contents []string
	errs     []string
	closed   int
}

func (s *recordingSink) WriteContent(text string) error {
	s.contents = append(s.contents, text)
	return nil
}

func (s *recordingSink) WriteError(message string) error {
	s.errs = append(s.errs, message)
	return nil
}

func (s *recordingSink) Close() error {
	s.closed++
	return nil
}

func seedEntry(t *testing.T, store *memoryStore, history ...models.Turn) *models.FortuneCacheEntry {
	t.Helper()
	entry := &models.FortuneCacheEntry{
		Fingerprint:    "/api/v1/fortune?fortune_telling_uid=uid-1",
		ConversationID: "conv-1",
		History:        history,
		FinalText:      "reading",
		PrimingTurns:   2,
	}
	created, err := store.CreateIfAbsent(context.Background(), entry)
	require.NoError(t, err)
	require.True(t, created)
	return entry
}

func baseHistory() []models.Turn {
	return []models.Turn{
		{Role: models.RoleSystem, Content: "system"},
		{Role: models.RoleUser, Content: "prompt"},
		{Role: models.RoleAssistant, Content: "reading"},
	}
}

func newTestService(store *memoryStore, client *stubClient) *Service {
	return NewService(store, &stubResolver{client: client}, models.ConversationConfig{
		MaxTurns:   30,
		CapMessage: "明天再来",
	})
}

func TestContinueAppendsUserAndAssistantTurns(t *testing.T) {
	store := newMemoryStore()
	seedEntry(t, store, baseHistory()...)
	client := &stubClient{deltas: []string{"follow ", "up"}}
	svc := newTestService(store, client)
	sink := &recordingSink{}

	err := svc.Continue(context.Background(), "conv-1", "我的财运呢?", "", "req_test", sink)
	require.NoError(t, err)

	assert.Equal(t, "follow up", strings.Join(sink.contents, ""))
	assert.Empty(t, sink.errs)
	assert.Equal(t, 1, sink.closed)

	assert.Equal(t, 5, store.historyLen("conv-1"))
	entry, _ := store.FindByConversationID(context.Background(), "conv-1")
	assert.Equal(t, models.Turn{Role: models.RoleUser, Content: "我的财运呢?"}, entry.History[3])
	assert.Equal(t, models.Turn{Role: models.RoleAssistant, Content: "follow up"}, entry.History[4])

	// The provider sees the full stored history plus the new user turn.
	require.Len(t, client.lastSent, 4)
	assert.Equal(t, "我的财运呢?", client.lastSent[3].Content)
}

func TestContinueUnknownConversation(t *testing.T) {
	store := newMemoryStore()
	client := &stubClient{deltas: []string{"never"}}
	svc := newTestService(store, client)
	sink := &recordingSink{}

	err := svc.Continue(context.Background(), "missing", "hello", "", "req_test", sink)
	require.NoError(t, err)

	require.Len(t, sink.errs, 1)
	assert.Equal(t, "会话不存在", sink.errs[0])
	assert.Equal(t, 1, sink.closed)
	assert.Equal(t, 0, client.calls)
}

func TestContinueTurnCapServesCapMessage(t *testing.T) {
	store := newMemoryStore()
	history := baseHistory()
	for len(history) < 30 {
		history = append(history,
			models.Turn{Role: models.RoleUser, Content: "q"},
			models.Turn{Role: models.RoleAssistant, Content: "a"},
		)
	}
	seedEntry(t, store, history...)
	client := &stubClient{deltas: []string{"never"}}
	svc := newTestService(store, client)
	sink := &recordingSink{}

	err := svc.Continue(context.Background(), "conv-1", "one more", "", "req_test", sink)
	require.NoError(t, err)

	// The cap reply is ordinary content, not an error event, and the
	// stored history does not grow.
	assert.Equal(t, []string{"明天再来"}, sink.contents)
	assert.Empty(t, sink.errs)
	assert.Equal(t, 1, sink.closed)
	assert.Equal(t, 0, client.calls)
	assert.Equal(t, len(history), store.historyLen("conv-1"))
}

func TestContinueProviderFailureDoesNotMutateHistory(t *testing.T) {
	store := newMemoryStore()
	seedEntry(t, store, baseHistory()...)
	client := &stubClient{deltas: []string{"partial"}, err: errors.New("upstream 500")}
	svc := newTestService(store, client)
	sink := &recordingSink{}

	err := svc.Continue(context.Background(), "conv-1", "q", "", "req_test", sink)
	require.NoError(t, err)

	require.Len(t, sink.errs, 1)
	assert.Contains(t, sink.errs[0], "upstream 500")
	assert.Equal(t, 1, sink.closed)
	assert.Equal(t, 3, store.historyLen("conv-1"))
}

func TestContinueAppendFailureEmitsErrorAndKeepsHistory(t *testing.T) {
	store := newMemoryStore()
	seedEntry(t, store, baseHistory()...)
	store.appendErr = errors.New("disk full")
	client := &stubClient{deltas: []string{"follow ", "up"}}
	svc := newTestService(store, client)
	sink := &recordingSink{}

	err := svc.Continue(context.Background(), "conv-1", "q", "", "req_test", sink)
	require.NoError(t, err)

	// The reply streamed in full, so the client gets the error event and
	// the sentinel; the stored history stays untouched.
	assert.Equal(t, "follow up", strings.Join(sink.contents, ""))
	require.Len(t, sink.errs, 1)
	assert.Equal(t, "failed to save conversation turn", sink.errs[0])
	assert.Equal(t, 1, sink.closed)
	assert.Equal(t, 3, store.historyLen("conv-1"))
}

func TestGetConversationStripsPrimingTurns(t *testing.T) {
	store := newMemoryStore()
	history := append(baseHistory(),
		models.Turn{Role: models.RoleUser, Content: "q1"},
		models.Turn{Role: models.RoleAssistant, Content: "a1"},
	)
	seedEntry(t, store, history...)
	svc := newTestService(store, &stubClient{})

	view, err := svc.GetConversation(context.Background(), "/api/v1/fortune?fortune_telling_uid=uid-1")
	require.NoError(t, err)

	assert.Equal(t, "conv-1", view.ConversationID)
	require.Len(t, view.History, 2)
	assert.Equal(t, "q1", view.History[0].Content)
	assert.Equal(t, "a1", view.History[1].Content)
}

func TestGetConversationOnlyPrimingTurnsYieldsEmptyHistory(t *testing.T) {
	store := newMemoryStore()
	seedEntry(t, store, baseHistory()...)
	svc := newTestService(store, &stubClient{})

	view, err := svc.GetConversation(context.Background(), "/api/v1/fortune?fortune_telling_uid=uid-1")
	require.NoError(t, err)

	assert.Empty(t, view.History)
}

func TestGetConversationUnknownFingerprint(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store, &stubClient{})

	_, err := svc.GetConversation(context.Background(), "/missing")
	require.Error(t, err)

	var appErr *models.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, 404, appErr.GetStatusCode())
}

func TestDeskDecorExtractsTipsAndKeyword(t *testing.T) {
	store := newMemoryStore()
	reading := `## 总结
 <img class="desk-decor" src="/api/random-desk-decor?keyword=貔貅" />
<div class="fortune-tip">佩戴银饰增强气场</div>
<div class="fortune-tip">午餐加一份绿色蔬菜</div>`
	history := baseHistory()
	history[2].Content = reading
	seedEntry(t, store, history...)
	svc := newTestService(store, &stubClient{})

	view, err := svc.DeskDecor(context.Background(), "/api/v1/fortune?fortune_telling_uid=uid-1")
	require.NoError(t, err)

	assert.Equal(t, []string{"佩戴银饰增强气场", "午餐加一份绿色蔬菜"}, view.Tips)
	assert.Equal(t, "貔貅", view.DeskDecor)
}

func TestDeskDecorLegacyRowReadsFirstReply(t *testing.T) {
	store := newMemoryStore()
	reading := `<div class="fortune-tip">保持早睡</div>
<img class="desk-decor" src="/api/random-desk-decor?keyword=金蟾" />`
	history := baseHistory()
	history[2].Content = reading
	// Rows written before priming turns were recorded have the zero value.
	created, err := store.CreateIfAbsent(context.Background(), &models.FortuneCacheEntry{
		Fingerprint:    "/legacy",
		ConversationID: "conv-legacy",
		History:        history,
	})
	require.NoError(t, err)
	require.True(t, created)
	svc := newTestService(store, &stubClient{})

	view, err := svc.DeskDecor(context.Background(), "/legacy")
	require.NoError(t, err)

	assert.Equal(t, []string{"保持早睡"}, view.Tips)
	assert.Equal(t, "金蟾", view.DeskDecor)
}

func TestDeskDecorFallbackWhenNoReading(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store, &stubClient{})

	view, err := svc.DeskDecor(context.Background(), "/missing")
	require.NoError(t, err)

	assert.Equal(t, []string{"今天是个好日子"}, view.Tips)
	assert.Equal(t, "貔貅", view.DeskDecor)
}
