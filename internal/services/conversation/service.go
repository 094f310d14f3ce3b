package conversation

import (
	"context"
	"fmt"
	"regexp"

	"github.com/fortunelab/fortune-gateway/internal/models"
	"github.com/fortunelab/fortune-gateway/internal/services/cache"
	"github.com/fortunelab/fortune-gateway/internal/services/fortune"
	"github.com/fortunelab/fortune-gateway/internal/services/stream/contracts"
	"github.com/fortunelab/fortune-gateway/internal/utils"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

// Service manages bounded conversation continuation on top of the cache
// store: it resolves a conversation id to its stored history, streams the
// follow-up reply, and appends the (user, assistant) pair atomically.
type Service struct {
	store     cache.Store
	providers fortune.ProviderResolver
	cfg       models.ConversationConfig
}

// NewService wires up the continuation manager.
func NewService(store cache.Store, providers fortune.ProviderResolver, cfg models.ConversationConfig) *Service {
	return &Service{
		store:     store,
		providers: providers,
		cfg:       cfg.WithDefaults(),
	}
}

// Continue streams the reply for one follow-up turn to sink. An unknown
// conversation id is rejected with an SSE error event; a history at the turn
// cap gets the fixed soft-limit message as ordinary content. Both paths end
// with the [DONE] sentinel, as do provider and store failures.
func (s *Service) Continue(ctx context.Context, conversationID, userText, providerName, requestID string, sink contracts.EventSink) error {
	entry, err := s.store.FindByConversationID(ctx, conversationID)
	if err != nil {
		fiberlog.Errorf("[%s] conversation lookup failed: %v", requestID, err)
		return s.fail(sink, "conversation lookup failed")
	}
	if entry == nil {
		fiberlog.Infof("[%s] unknown conversation id %s", requestID, conversationID)
		return s.fail(sink, "会话不存在")
	}

	// Soft rate limit, delivered as ordinary content so clients need no
	// special error handling for an expected condition.
	if len(entry.History) >= s.cfg.MaxTurns {
		fiberlog.Infof("[%s] conversation %s reached turn cap (%d)", requestID, conversationID, s.cfg.MaxTurns)
		if err := sink.WriteContent(s.cfg.CapMessage); err != nil {
			return err
		}
		return sink.Close()
	}

	client, err := s.providers.Client(providerName)
	if err != nil {
		fiberlog.Errorf("[%s] provider resolution failed: %v", requestID, err)
		return s.fail(sink, err.Error())
	}

	userTurn := models.Turn{Role: models.RoleUser, Content: userText}
	messages := make([]models.Turn, 0, len(entry.History)+1)
	messages = append(messages, entry.History...)
	messages = append(messages, userTurn)

	fiberlog.Infof("[%s] continuing conversation %s via %s (%d stored turns)",
		requestID, conversationID, client.Name(), len(entry.History))

	tokens, err := client.StreamComplete(ctx, messages)
	if err != nil {
		fiberlog.Errorf("[%s] provider stream open failed: %v", requestID, err)
		return s.fail(sink, err.Error())
	}
	defer func() {
		if closeErr := tokens.Close(); closeErr != nil {
			fiberlog.Debugf("[%s] provider stream close: %v", requestID, closeErr)
		}
	}()

	buf := utils.Get()
	defer utils.Put(buf)

	for tokens.Next() {
		delta := tokens.Current()
		buf.B = append(buf.B, delta...)
		if err := sink.WriteContent(delta); err != nil {
			// No partial history is persisted; the pair append below
			// only happens once the full reply is known.
			return err
		}
	}
	if err := tokens.Err(); err != nil {
		fiberlog.Errorf("[%s] provider stream failed: %v", requestID, err)
		return s.fail(sink, fmt.Sprintf("provider %s error: %v", client.Name(), err))
	}

	assistantTurn := models.Turn{Role: models.RoleAssistant, Content: string(buf.B)}
	if err := s.store.AppendHistory(context.WithoutCancel(ctx), conversationID, userTurn, assistantTurn); err != nil {
		fiberlog.Errorf("[%s] history append failed: %v", requestID, err)
		return s.fail(sink, "failed to save conversation turn")
	}

	return sink.Close()
}

// GetConversation returns the user-visible projection of the entry for a
// fingerprint: the conversation id plus the history with the priming turns
// and first synthetic reply stripped.
func (s *Service) GetConversation(ctx context.Context, fingerprint string) (*models.ConversationView, error) {
	entry, err := s.store.FindByFingerprint(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, models.NewNotFoundError("conversation not found")
	}

	return &models.ConversationView{
		ConversationID: entry.ConversationID,
		History:        entry.VisibleHistory(),
	}, nil
}

var (
	fortuneTipRe = regexp.MustCompile(`<div class="fortune-tip">([^<]+)</div>`)
	deskDecorRe  = regexp.MustCompile(`<img class="desk-decor" src="([^"]+)" />`)
	keywordRe    = regexp.MustCompile(`keyword=([^&"]+)`)
)

// deskDecorFallback is served when no reading exists yet for the fingerprint.
var deskDecorFallback = models.DeskDecorView{
	Tips:      []string{"今天是个好日子"},
	DeskDecor: "貔貅",
}

// DeskDecor extracts the rotating tips and desk decoration keyword from the
// first generated reading for a fingerprint.
func (s *Service) DeskDecor(ctx context.Context, fingerprint string) (*models.DeskDecorView, error) {
	entry, err := s.store.FindByFingerprint(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	if entry == nil || len(entry.History) <= entry.FirstReplyIndex() {
		fallback := deskDecorFallback
		return &fallback, nil
	}

	reading := entry.History[entry.FirstReplyIndex()].Content

	view := &models.DeskDecorView{Tips: []string{}}
	for _, match := range fortuneTipRe.FindAllStringSubmatch(reading, -1) {
		view.Tips = append(view.Tips, match[1])
	}
	if decorMatch := deskDecorRe.FindStringSubmatch(reading); decorMatch != nil {
		if keywordMatch := keywordRe.FindStringSubmatch(decorMatch[1]); keywordMatch != nil {
			view.DeskDecor = keywordMatch[1]
		}
	}

	return view, nil
}

// fail emits the SSE error event and still terminates with the sentinel.
func (s *Service) fail(sink contracts.EventSink, message string) error {
	if err := sink.WriteError(message); err != nil {
		return err
	}
	return sink.Close()
}
