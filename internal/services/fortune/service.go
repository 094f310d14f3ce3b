package fortune

import (
	"context"
	"fmt"
	"time"

	"github.com/fortunelab/fortune-gateway/internal/models"
	"github.com/fortunelab/fortune-gateway/internal/services/cache"
	"github.com/fortunelab/fortune-gateway/internal/services/prompt"
	"github.com/fortunelab/fortune-gateway/internal/services/provider"
	"github.com/fortunelab/fortune-gateway/internal/services/stream"
	"github.com/fortunelab/fortune-gateway/internal/services/stream/contracts"
	"github.com/fortunelab/fortune-gateway/internal/utils"
	"github.com/fortunelab/fortune-gateway/internal/utils/keylock"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
)

// ProviderResolver resolves a provider name to a streaming client.
type ProviderResolver interface {
	Client(name string) (provider.Client, error)
}

// ProfileFinder resolves a fortune telling uid to a stored profile.
type ProfileFinder interface {
	FindByUID(ctx context.Context, uid string) (*models.FortuneUser, error)
}

// Service is the generation dispatcher: it reconciles each request
// fingerprint against the cache and serves either a replayed or a live
// stream, persisting live results for idempotent repeats.
type Service struct {
	store     cache.Store
	providers ProviderResolver
	users     ProfileFinder
	replay    models.ReplayConfig
	locks     *keylock.KeyLock
	now       func() time.Time
}

// NewService wires up the dispatcher.
func NewService(store cache.Store, providers ProviderResolver, users ProfileFinder, replay models.ReplayConfig) *Service {
	return &Service{
		store:     store,
		providers: providers,
		users:     users,
		replay:    replay.WithDefaults(),
		locks:     keylock.New(),
		now:       time.Now,
	}
}

// Generate streams the reading for fingerprint to sink. A cache hit replays
// the stored text with no provider call; a miss runs a live generation and
// persists the finished result. The sink always ends with the [DONE]
// sentinel, error paths included.
func (s *Service) Generate(ctx context.Context, fingerprint, uid, providerName, requestID string, sink contracts.EventSink) error {
	entry, err := s.store.FindByFingerprint(ctx, fingerprint)
	if err != nil {
		fiberlog.Errorf("[%s] cache lookup failed: %v", requestID, err)
		return s.fail(sink, "cache lookup failed")
	}
	if entry != nil {
		fiberlog.Infof("[%s] cache hit for fingerprint %s", requestID, fingerprint)
		return s.replayEntry(ctx, entry.FinalText, sink)
	}

	// Serialize live generations per fingerprint so two identical requests
	// in the miss window cause at most one provider call.
	unlock := s.locks.Lock(fingerprint)
	defer unlock()

	entry, err = s.store.FindByFingerprint(ctx, fingerprint)
	if err != nil {
		fiberlog.Errorf("[%s] cache lookup failed: %v", requestID, err)
		return s.fail(sink, "cache lookup failed")
	}
	if entry != nil {
		fiberlog.Infof("[%s] cache hit after lock for fingerprint %s", requestID, fingerprint)
		return s.replayEntry(ctx, entry.FinalText, sink)
	}

	return s.generateLive(ctx, fingerprint, uid, providerName, requestID, sink)
}

func (s *Service) generateLive(ctx context.Context, fingerprint, uid, providerName, requestID string, sink contracts.EventSink) error {
	user, err := s.users.FindByUID(ctx, uid)
	if err != nil {
		fiberlog.Errorf("[%s] profile lookup failed for uid %s: %v", requestID, uid, err)
		return s.fail(sink, err.Error())
	}

	client, err := s.providers.Client(providerName)
	if err != nil {
		fiberlog.Errorf("[%s] provider resolution failed: %v", requestID, err)
		return s.fail(sink, err.Error())
	}

	priming := prompt.PrimingTurns(user, s.now())

	fiberlog.Infof("[%s] live generation via %s for fingerprint %s", requestID, client.Name(), fingerprint)

	tokens, err := client.StreamComplete(ctx, priming)
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
			if contracts.IsClientDisconnect(err) {
				// Abandon an unfinished generation; no entry is created.
				fiberlog.Infof("[%s] client disconnected mid-generation, discarding partial result", requestID)
				return err
			}
			fiberlog.Errorf("[%s] chunk write failed: %v", requestID, err)
			return err
		}
	}
	if err := tokens.Err(); err != nil {
		fiberlog.Errorf("[%s] provider stream failed: %v", requestID, err)
		return s.fail(sink, fmt.Sprintf("provider %s error: %v", client.Name(), err))
	}

	finalText := string(buf.B)
	entry := &models.FortuneCacheEntry{
		Fingerprint:    fingerprint,
		ConversationID: NewConversationID(s.now()),
		History: append(models.ConversationHistory(priming), models.Turn{
			Role:    models.RoleAssistant,
			Content: finalText,
		}),
		FinalText:    finalText,
		PrimingTurns: len(priming),
		Provider:     client.Name(),
	}

	// The generation finished, so persist even if the client walks away
	// while the row is being written.
	created, err := s.store.CreateIfAbsent(context.WithoutCancel(ctx), entry)
	if err != nil {
		fiberlog.Errorf("[%s] cache entry write failed: %v", requestID, err)
		return s.fail(sink, "failed to save reading")
	}
	if !created {
		fiberlog.Warnf("[%s] lost create race for fingerprint %s, keeping stored entry", requestID, fingerprint)
	}

	return sink.Close()
}

// replayEntry re-streams a cached reading in fixed-size chunks with a timed
// pause after each, giving the client the same typing feel as a live run.
func (s *Service) replayEntry(ctx context.Context, finalText string, sink contracts.EventSink) error {
	chunks := stream.SplitChunks(finalText, s.replay.ChunkSize)

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for i, chunk := range chunks {
		if i > 0 {
			timer.Reset(s.replay.ChunkDelay())
			select {
			case <-ctx.Done():
				return contracts.NewClientDisconnectError("")
			case <-timer.C:
			}
		}
		if err := sink.WriteContent(chunk); err != nil {
			return err
		}
	}

	return sink.Close()
}

// fail emits the SSE error event and still terminates with the sentinel.
func (s *Service) fail(sink contracts.EventSink, message string) error {
	if err := sink.WriteError(message); err != nil {
		return err
	}
	return sink.Close()
}

// NewConversationID builds the `<uuid>_<timestamp>` conversation key.
func NewConversationID(now time.Time) string {
	return fmt.Sprintf("%s_%s", uuid.NewString(), now.Format("20060102150405"))
}
