package bootstrap

import (
	"context"
	"log"
	"time"

	"ai-assistant-be/internal/config"
	"ai-assistant-be/internal/controller"
	"ai-assistant-be/internal/pkg/logger"
	"ai-assistant-be/internal/repository/memory"
	"ai-assistant-be/internal/repository/unitofwork"
	"ai-assistant-be/internal/service"
	"ai-assistant-be/internal/websocket"
	"ai-assistant-be/pkg/calendar"
	"ai-assistant-be/pkg/llm/factory"
	"ai-assistant-be/pkg/taskq"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Container struct {
	// Controllers
	AssistantController controller.IAssistantController

	// WebSockets
	ChatHandler *websocket.ChatHandler

	// Background Services (Exposed for main.go to run)
	ArchiverService service.IArchiverService

	// Infrastructure owned by the container
	SearchClient *taskq.Client
	SysLogger    logger.ILogger
}

func NewContainer(db *gorm.DB, cfg *config.Config) *Container {
	// 1. Core Facades
	uowFactory := unitofwork.NewRepositoryFactory(db)
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")

	// 2. Event Bus
	watermillLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{},
		watermillLogger,
	)

	// 3. LLM Provider
	llmProvider, err := factory.NewLLMProvider(
		cfg.Ai.LLMProvider,
		cfg.Ai.LLMModel,
		cfg.Ai.OllamaBaseURL,
	)
	if err != nil {
		log.Fatalf("[FATAL] Failed to initialize LLM Provider: %v", err)
	}
	log.Printf("[INFO] Using LLM Provider: %s (%s)", cfg.Ai.LLMProvider, cfg.Ai.LLMModel)

	// 4. In-Memory Session Storage
	sessionRepo := memory.NewSessionRepository()

	// 5. Result Store (Redis)
	opt, err := redis.ParseURL(cfg.App.RedisURL)
	if err != nil {
		log.Printf("[WARN] Failed to parse Redis URL: %v. Using direct Addr", err)
		opt = &redis.Options{
			Addr: cfg.App.RedisURL,
		}
	}
	rdb := redis.NewClient(opt)
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		log.Printf("[WARN] Failed to connect to Redis: %v", err)
	}
	resultStore := taskq.NewRedisResultStore(rdb)

	// 6. Task Queue Client (NATS JetStream)
	taskqCfg := taskq.DefaultConfig()
	taskqCfg.StreamName = cfg.TaskQ.StreamName
	taskqCfg.QueueName = cfg.TaskQ.QueueName
	taskqCfg.TaskName = cfg.TaskQ.TaskName
	taskqCfg.PollInterval = time.Duration(cfg.TaskQ.PollIntervalMs) * time.Millisecond
	taskqCfg.PollAttempts = cfg.TaskQ.PollAttempts
	taskqCfg.CandidatePool = cfg.TaskQ.CandidatePoolSize
	taskqCfg.RerankPool = cfg.TaskQ.RerankPoolSize

	searchClient, err := taskq.NewClient(cfg.App.NatsURL, resultStore, taskqCfg, sysLogger)
	if err != nil {
		log.Fatalf("[FATAL] Failed to initialize task queue client: %v", err)
	}

	// 7. Calendar Sub-Agent
	calendarAgent := calendar.NewHTTPAgent(cfg.Calendar.AgentURL)

	// 8. Services
	archiverService := service.NewArchiverService(
		pubSub,
		uowFactory,
		logger.NewIsolatedLogger("logs/archiver.log"),
	)

	assistantService := service.NewAssistantService(
		uowFactory,
		llmProvider,
		searchClient,
		calendarAgent,
		sessionRepo,
		archiverService,
		sysLogger,
		cfg,
	)

	// 9. WebSocket Streaming
	chatHandler := websocket.NewChatHandler(
		assistantService,
		logger.NewIsolatedLogger("logs/chat_stream.log"),
	)

	return &Container{
		AssistantController: controller.NewAssistantController(assistantService),
		ChatHandler:         chatHandler,
		ArchiverService:     archiverService,
		SearchClient:        searchClient,
		SysLogger:           sysLogger,
	}
}
