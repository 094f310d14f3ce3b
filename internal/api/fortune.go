package api

import (
	"bufio"

	"github.com/fortunelab/fortune-gateway/internal/services/fortune"
	"github.com/fortunelab/fortune-gateway/internal/services/request"
	"github.com/fortunelab/fortune-gateway/internal/services/stream/contracts"
	"github.com/fortunelab/fortune-gateway/internal/services/stream/writers"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/valyala/fasthttp"
)

// FortuneHandler handles fortune generation requests end-to-end. The full
// request URI acts as the idempotency fingerprint: repeated requests with the
// same path and query replay the stored reading instead of calling a provider.
type FortuneHandler struct {
	reqSvc     *request.BaseService
	fortuneSvc *fortune.Service
}

// NewFortuneHandler wires up dependencies and initializes the fortune handler.
func NewFortuneHandler(reqSvc *request.BaseService, fortuneSvc *fortune.Service) *FortuneHandler {
	return &FortuneHandler{
		reqSvc:     reqSvc,
		fortuneSvc: fortuneSvc,
	}
}

// Generate streams a fortune reading over SSE. Cache hits and live provider
// calls are indistinguishable on the wire.
func (h *FortuneHandler) Generate(c *fiber.Ctx) error {
	reqID := h.reqSvc.GetRequestID(c)

	fingerprint := c.OriginalURL()
	uid := c.Query("fortune_telling_uid")
	provider := c.Query("provider")

	fiberlog.Infof("[%s] starting fortune generation for fingerprint %s", reqID, fingerprint)

	setSSEHeaders(c)

	fasthttpCtx := c.Context()
	fasthttpCtx.SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		connState := writers.NewFastHTTPConnectionState(fasthttpCtx)
		sink := writers.NewSSEWriter(w, connState, reqID)

		if err := h.fortuneSvc.Generate(fasthttpCtx, fingerprint, uid, provider, reqID, sink); err != nil {
			if contracts.IsExpectedError(err) {
				fiberlog.Infof("[%s] stream ended: %v", reqID, err)
			} else {
				fiberlog.Errorf("[%s] stream error: %v", reqID, err)
			}
		}
	}))

	return nil
}

// setSSEHeaders applies the standard event-stream response headers.
func setSSEHeaders(c *fiber.Ctx) {
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("Access-Control-Allow-Origin", "*")
	// Disables proxy-side buffering so chunks reach the client as written.
	c.Set("X-Accel-Buffering", "no")
}
