package api

import (
	"bufio"
	"errors"
	"strings"

	"github.com/fortunelab/fortune-gateway/internal/models"
	"github.com/fortunelab/fortune-gateway/internal/services/conversation"
	"github.com/fortunelab/fortune-gateway/internal/services/request"
	"github.com/fortunelab/fortune-gateway/internal/services/stream/contracts"
	"github.com/fortunelab/fortune-gateway/internal/services/stream/writers"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/valyala/fasthttp"
)

// ConversationHandler serves conversation lookup, continuation, and the
// desk-decor projection of a stored reading.
type ConversationHandler struct {
	reqSvc  *request.BaseService
	convSvc *conversation.Service
}

// NewConversationHandler wires up dependencies and initializes the handler.
func NewConversationHandler(reqSvc *request.BaseService, convSvc *conversation.Service) *ConversationHandler {
	return &ConversationHandler{
		reqSvc:  reqSvc,
		convSvc: convSvc,
	}
}

// GetConversation returns the conversation id and user-visible history for
// the reading identified by this request's query parameters. The stored
// fingerprint is the generation URI, so the lookup path is rewritten back to
// it before querying.
func (h *ConversationHandler) GetConversation(c *fiber.Ctx) error {
	reqID := h.reqSvc.GetRequestID(c)

	fingerprint := strings.Replace(c.OriginalURL(), "/fortune/conversation", "/fortune", 1)

	view, err := h.convSvc.GetConversation(c.UserContext(), fingerprint)
	if err != nil {
		return h.handleError(c, err, reqID)
	}

	return c.JSON(view)
}

// Continue streams one follow-up turn over SSE and records the exchange.
func (h *ConversationHandler) Continue(c *fiber.Ctx) error {
	reqID := h.reqSvc.GetRequestID(c)

	var req models.ContinueRequest
	if err := c.BodyParser(&req); err != nil {
		fiberlog.Warnf("[%s] invalid continuation body: %v", reqID, err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.ConversationID == "" || req.Prompt == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "conversationId and prompt are required",
		})
	}

	provider := req.Provider
	if provider == "" {
		provider = c.Query("provider")
	}

	fiberlog.Infof("[%s] continuing conversation %s", reqID, req.ConversationID)

	setSSEHeaders(c)

	fasthttpCtx := c.Context()
	fasthttpCtx.SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		connState := writers.NewFastHTTPConnectionState(fasthttpCtx)
		sink := writers.NewSSEWriter(w, connState, reqID)

		if err := h.convSvc.Continue(fasthttpCtx, req.ConversationID, req.Prompt, provider, reqID, sink); err != nil {
			if contracts.IsExpectedError(err) {
				fiberlog.Infof("[%s] stream ended: %v", reqID, err)
			} else {
				fiberlog.Errorf("[%s] stream error: %v", reqID, err)
			}
		}
	}))

	return nil
}

// DeskDecor returns the tips and decoration keyword extracted from the first
// generated reading for this request's fingerprint.
func (h *ConversationHandler) DeskDecor(c *fiber.Ctx) error {
	reqID := h.reqSvc.GetRequestID(c)

	fingerprint := strings.Replace(c.OriginalURL(), "/fortune/decor", "/fortune", 1)

	view, err := h.convSvc.DeskDecor(c.UserContext(), fingerprint)
	if err != nil {
		return h.handleError(c, err, reqID)
	}

	return c.JSON(view)
}

func (h *ConversationHandler) handleError(c *fiber.Ctx, err error, reqID string) error {
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		fiberlog.Infof("[%s] request failed: %v", reqID, appErr)
		return c.Status(appErr.GetStatusCode()).JSON(fiber.Map{
			"error": appErr.Message,
		})
	}
	fiberlog.Errorf("[%s] internal error: %v", reqID, err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "internal server error",
	})
}
