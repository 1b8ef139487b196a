package websocket

import (
	"context"

	"ai-assistant-be/internal/dto"
	"ai-assistant-be/internal/pkg/logger"
	"ai-assistant-be/internal/service"
	"ai-assistant-be/pkg/rag/stream"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

// ChatHandler upgrades /assistant/v1/stream to a websocket and runs one
// streamed query per connection. The websocket.Conn satisfies
// stream.Conn directly, so the emitter writes frames without adapters.
type ChatHandler struct {
	assistant service.IAssistantService
	log       logger.ILogger
}

func NewChatHandler(assistant service.IAssistantService, log logger.ILogger) *ChatHandler {
	return &ChatHandler{
		assistant: assistant,
		log:       log,
	}
}

func (h *ChatHandler) RegisterRoutes(r fiber.Router, jwtMiddleware fiber.Handler) {
	grp := r.Group("/assistant/v1")
	grp.Use("/stream", jwtMiddleware, func(ctx *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(ctx) {
			return ctx.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	grp.Get("/stream", websocket.New(h.handle))
}

func (h *ChatHandler) handle(c *websocket.Conn) {
	defer c.Close()

	userIdStr, _ := c.Locals("user_id").(string)
	userId, err := uuid.Parse(userIdStr)
	if err != nil {
		h.log.Warn("ChatStream", "Rejected stream with invalid user id", map[string]interface{}{
			"user_id": userIdStr,
		})
		return
	}
	accessLevel, _ := c.Locals("access_level").(int)

	// One query per connection: read the single request frame, then the
	// channel is outbound-only until the terminal event.
	var req dto.AskRequest
	if err := c.ReadJSON(&req); err != nil {
		h.log.Warn("ChatStream", "Failed to read query frame", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if req.Query == "" {
		h.log.Warn("ChatStream", "Rejected empty query", map[string]interface{}{
			"user_id": userId.String(),
		})
		return
	}

	emitter := stream.NewEmitter(c)
	defer emitter.Close()

	if err := h.assistant.AskStream(context.Background(), userId, accessLevel, &req, emitter); err != nil {
		// AskStream already emitted the terminal error event; this is
		// bookkeeping only.
		h.log.Warn("ChatStream", "Stream finished with error", map[string]interface{}{
			"user_id": userId.String(),
			"error":   err.Error(),
		})
	}
}
