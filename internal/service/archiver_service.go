package service

import (
	"context"
	"encoding/json"

	"ai-assistant-be/internal/constant"
	"ai-assistant-be/internal/dto"
	"ai-assistant-be/internal/entity"
	"ai-assistant-be/internal/pkg/logger"
	"ai-assistant-be/internal/repository/unitofwork"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
)

// ArchiveExchangeTopic carries finished exchanges from the streaming
// path to the persistence consumer.
const ArchiveExchangeTopic = "ARCHIVE_EXCHANGE"

type IArchiverService interface {
	Publish(ctx context.Context, msg *dto.ArchiveExchangeMessage) error
	Consume(ctx context.Context) error
}

// archiverService persists finished streamed exchanges. Failures here
// never reach the user: the answer was already delivered, so a lost
// archive write is a log line, not an error response.
type archiverService struct {
	pubSub     *gochannel.GoChannel
	uowFactory unitofwork.RepositoryFactory
	log        logger.ILogger
}

func NewArchiverService(
	pubSub *gochannel.GoChannel,
	uowFactory unitofwork.RepositoryFactory,
	log logger.ILogger,
) IArchiverService {
	return &archiverService{
		pubSub:     pubSub,
		uowFactory: uowFactory,
		log:        log,
	}
}

func (as *archiverService) Publish(ctx context.Context, msg *dto.ArchiveExchangeMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return as.pubSub.Publish(ArchiveExchangeTopic, message.NewMessage(watermill.NewUUID(), payload))
}

func (as *archiverService) Consume(ctx context.Context) error {
	messages, err := as.pubSub.Subscribe(ctx, ArchiveExchangeTopic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			as.processMessage(ctx, msg)
		}
	}()

	return nil
}

func (as *archiverService) processMessage(ctx context.Context, msg *message.Message) {
	// Always Ack: redelivery cannot help a payload that failed to
	// persist, and the user-visible exchange already completed.
	defer msg.Ack()

	var payload dto.ArchiveExchangeMessage
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		as.log.Error("Archiver", "Failed to unmarshal archive message", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	uow := as.uowFactory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		as.log.Error("Archiver", "Failed to begin archive transaction", map[string]interface{}{
			"correlation_id": payload.CorrelationId,
			"session_id":     payload.ChatSessionId.String(),
			"error":          err.Error(),
		})
		return
	}
	defer uow.Rollback()

	userMessage := &entity.ChatMessage{
		Id:            uuid.New(),
		Chat:          payload.Query,
		Role:          constant.ChatMessageRoleUser,
		ChatSessionId: payload.ChatSessionId,
	}
	if err := uow.ChatMessageRepository().Create(ctx, userMessage); err != nil {
		as.log.Error("Archiver", "Failed to persist user message", map[string]interface{}{
			"correlation_id": payload.CorrelationId,
			"session_id":     payload.ChatSessionId.String(),
			"error":          err.Error(),
		})
		return
	}

	modelMessage := &entity.ChatMessage{
		Id:            uuid.New(),
		Chat:          payload.Answer,
		Role:          constant.ChatMessageRoleModel,
		ChatSessionId: payload.ChatSessionId,
		Metadata:      payload.Metadata,
	}
	if err := uow.ChatMessageRepository().Create(ctx, modelMessage); err != nil {
		as.log.Error("Archiver", "Failed to persist model message", map[string]interface{}{
			"correlation_id": payload.CorrelationId,
			"session_id":     payload.ChatSessionId.String(),
			"error":          err.Error(),
		})
		return
	}

	if err := uow.Commit(); err != nil {
		as.log.Error("Archiver", "Failed to commit archive transaction", map[string]interface{}{
			"correlation_id": payload.CorrelationId,
			"session_id":     payload.ChatSessionId.String(),
			"error":          err.Error(),
		})
		return
	}

	as.log.Info("Archiver", "Exchange archived", map[string]interface{}{
		"correlation_id": payload.CorrelationId,
		"session_id":     payload.ChatSessionId.String(),
	})
}
