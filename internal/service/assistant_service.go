package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"ai-assistant-be/internal/config"
	"ai-assistant-be/internal/constant"
	"ai-assistant-be/internal/dto"
	"ai-assistant-be/internal/entity"
	"ai-assistant-be/internal/pkg/logger"
	"ai-assistant-be/internal/repository/memory"
	"ai-assistant-be/internal/repository/specification"
	"ai-assistant-be/internal/repository/unitofwork"
	"ai-assistant-be/pkg/calendar"
	"ai-assistant-be/pkg/llm"
	"ai-assistant-be/pkg/rag/answer"
	"ai-assistant-be/pkg/rag/assemble"
	"ai-assistant-be/pkg/rag/classify"
	"ai-assistant-be/pkg/rag/history"
	"ai-assistant-be/pkg/rag/metrics"
	"ai-assistant-be/pkg/rag/stream"
	"ai-assistant-be/pkg/store"
	"ai-assistant-be/pkg/taskq"

	"github.com/google/uuid"
)

// NoKnowledgeMessage is the honest reply when retrieval finds nothing
// usable. It is never dressed up as a grounded answer.
const NoKnowledgeMessage = "I could not find anything about that in the knowledge base. Try rephrasing, or check whether the topic is covered by documents you have access to."

// Pipeline modes reported back to the client.
const (
	ModeKnowledge = "knowledge"
	ModeCalendar  = "calendar"
	ModeTrivial   = "trivial"
)

const sessionTitleMaxRunes = 80

// IAssistantService is the orchestration surface: one blocking and one
// streaming entrypoint, plus session lifecycle management. accessLevel
// is the caller's verified clearance from the token; it is the search
// ceiling for every query and the level recorded on created sessions.
type IAssistantService interface {
	Ask(ctx context.Context, userId uuid.UUID, accessLevel int, request *dto.AskRequest) (*dto.AskResponse, error)
	AskStream(ctx context.Context, userId uuid.UUID, accessLevel int, request *dto.AskRequest, emitter *stream.Emitter) error
	CreateSession(ctx context.Context, userId uuid.UUID, accessLevel int, request *dto.CreateSessionRequest) (*dto.CreateSessionResponse, error)
	GetAllSessions(ctx context.Context, userId uuid.UUID) ([]*dto.GetAllSessionsResponse, error)
	GetChatHistory(ctx context.Context, userId uuid.UUID, sessionId uuid.UUID) ([]*dto.GetChatHistoryResponse, error)
	DeleteSession(ctx context.Context, userId uuid.UUID, request *dto.DeleteSessionRequest) error
}

// SearchClient is the slice of the task queue client the orchestrator
// needs. Tests substitute fakes; production wires *taskq.Client.
type SearchClient interface {
	DispatchSearch(ctx context.Context, req taskq.SearchRequest) (*taskq.TaskHandle, error)
	AwaitResult(ctx context.Context, handle *taskq.TaskHandle) (*taskq.SearchOutcome, error)
}

type assistantService struct {
	uowFactory    unitofwork.RepositoryFactory
	sessionRepo   *memory.SessionRepository
	searchClient  SearchClient
	calendarAgent calendar.Agent
	archiver      IArchiverService
	appLogger     logger.ILogger
	cfg           *config.Config

	classifier *classify.Classifier
	assembler  *assemble.Assembler
	generator  *answer.Generator
}

func NewAssistantService(
	uowFactory unitofwork.RepositoryFactory,
	llmProvider llm.LLMProvider,
	searchClient SearchClient,
	calendarAgent calendar.Agent,
	sessionRepo *memory.SessionRepository,
	archiver IArchiverService,
	appLogger logger.ILogger,
	cfg *config.Config,
) IAssistantService {
	llmLogger := initLLMLogger()

	assembleCfg := assemble.DefaultConfig()
	assembleCfg.MinScore = cfg.Rag.MinScore
	assembleCfg.MaxGroups = cfg.Rag.MaxGroups
	assembleCfg.MaxContextLength = cfg.Rag.MaxContextLength
	assembleCfg.GroupCharBudget = cfg.Rag.GroupCharBudget

	generatorCfg := answer.DefaultConfig()
	generatorCfg.HistoryLimit = cfg.Rag.HistoryLimit
	generatorCfg.MinAnswerLength = cfg.Rag.MinAnswerLength

	return &assistantService{
		uowFactory:    uowFactory,
		sessionRepo:   sessionRepo,
		searchClient:  searchClient,
		calendarAgent: calendarAgent,
		archiver:      archiver,
		appLogger:     appLogger,
		cfg:           cfg,
		classifier:    classify.NewClassifier(llmProvider, time.Duration(cfg.Rag.ClassifyTimeoutMs)*time.Millisecond, llmLogger),
		assembler:     assemble.NewAssembler(assembleCfg, llmLogger),
		generator:     answer.NewGenerator(llmProvider, generatorCfg, llmLogger),
	}
}

func initLLMLogger() *log.Logger {
	logPath := filepath.Join(".", "logs", "llm_pipeline.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		log.Printf("Failed to create logs directory: %v", err)
	}
	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return log.New(os.Stdout, "[LLM] ", log.LstdFlags)
	}
	return log.New(file, "", log.LstdFlags)
}

// --- Session lifecycle ---

func (s *assistantService) CreateSession(ctx context.Context, userId uuid.UUID, accessLevel int, request *dto.CreateSessionRequest) (*dto.CreateSessionResponse, error) {
	title := request.Title
	if title == "" {
		title = constant.ChatSessionDefaultTitle
	}

	session := &entity.ChatSession{
		Id:          uuid.New(),
		UserId:      userId,
		Title:       title,
		AccessLevel: accessLevel,
		CreatedAt:   time.Now(),
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	if err := uow.ChatSessionRepository().Create(ctx, session); err != nil {
		return nil, err
	}

	s.sessionRepo.Save(&store.Session{
		ID:          session.Id.String(),
		UserID:      userId.String(),
		Title:       session.Title,
		AccessLevel: session.AccessLevel,
	})

	return &dto.CreateSessionResponse{Id: session.Id}, nil
}

func (s *assistantService) GetAllSessions(ctx context.Context, userId uuid.UUID) ([]*dto.GetAllSessionsResponse, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	sessions, err := uow.ChatSessionRepository().FindAll(ctx,
		specification.UserOwnedBy{UserID: userId},
		specification.OrderBy{Field: "updated_at", Desc: true},
	)
	if err != nil {
		return nil, err
	}

	result := make([]*dto.GetAllSessionsResponse, len(sessions))
	for i, session := range sessions {
		result[i] = &dto.GetAllSessionsResponse{
			Id:        session.Id,
			Title:     session.Title,
			CreatedAt: session.CreatedAt,
			UpdatedAt: session.UpdatedAt,
		}
	}
	return result, nil
}

func (s *assistantService) GetChatHistory(ctx context.Context, userId uuid.UUID, sessionId uuid.UUID) ([]*dto.GetChatHistoryResponse, error) {
	session, err := s.loadOwnedSession(ctx, userId, sessionId)
	if err != nil {
		return nil, err
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	messages, err := uow.ChatMessageRepository().FindAll(ctx,
		specification.ByChatSessionID{ChatSessionID: session.Id},
		specification.OrderBy{Field: "created_at", Desc: false},
	)
	if err != nil {
		return nil, err
	}

	result := make([]*dto.GetChatHistoryResponse, len(messages))
	for i, msg := range messages {
		result[i] = &dto.GetChatHistoryResponse{
			Id:        msg.Id,
			Role:      msg.Role,
			Chat:      msg.Chat,
			CreatedAt: msg.CreatedAt,
			Citations: citationsFromMetadata(msg.Metadata),
			Metadata:  msg.Metadata,
		}
	}
	return result, nil
}

func (s *assistantService) DeleteSession(ctx context.Context, userId uuid.UUID, request *dto.DeleteSessionRequest) error {
	session, err := s.loadOwnedSession(ctx, userId, request.ChatSessionId)
	if err != nil {
		return err
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return err
	}
	defer uow.Rollback()

	if err := uow.ChatMessageRepository().DeleteByChatSessionId(ctx, session.Id); err != nil {
		return err
	}
	if err := uow.ChatSessionRepository().Delete(ctx, session.Id); err != nil {
		return err
	}
	if err := uow.Commit(); err != nil {
		return err
	}

	s.sessionRepo.Delete(session.Id.String())
	return nil
}

// --- Blocking orchestration ---

func (s *assistantService) Ask(ctx context.Context, userId uuid.UUID, accessLevel int, request *dto.AskRequest) (*dto.AskResponse, error) {
	correlationId := uuid.New().String()
	total := metrics.StartStopwatch()

	session, _, err := s.bootstrapSession(ctx, userId, accessLevel, request)
	if err != nil {
		s.logPhaseError(correlationId, request.ChatSessionId.String(), "session", err)
		return nil, err
	}

	chatHistory, err := s.loadHistory(ctx, session.Id)
	if err != nil {
		s.logPhaseError(correlationId, session.Id.String(), "history", err)
		return nil, err
	}

	gen := &metrics.Generation{}

	classifySw := metrics.StartStopwatch()
	cls := s.classifier.Classify(ctx, request.Query, chatHistory)
	gen.ClassifyMs = classifySw.ElapsedMs()

	var (
		answerText string
		mode       string
		citations  []dto.CitationDTO
	)

	switch {
	case cls.Kind == classify.KindCalendar:
		mode = ModeCalendar
		answerText, err = s.runCalendar(ctx, session, accessLevel, request.Query, chatHistory)
		if err != nil {
			s.logPhaseError(correlationId, session.Id.String(), "calendar", err)
			return nil, err
		}

	case cls.Kind == classify.KindTrivial && cls.CannedResponse != "":
		mode = ModeTrivial
		answerText = cls.CannedResponse

	default:
		mode = ModeKnowledge
		var result *answer.Result
		var assembled *assemble.AssembledContext
		result, assembled, err = s.runKnowledge(ctx, correlationId, session, accessLevel, request.Query, chatHistory, gen, nil)
		if err != nil {
			return nil, err
		}
		answerText = result.Answer
		if assembled != nil {
			citations = toCitations(assembled)
		}
	}

	gen.TotalMs = total.ElapsedMs()

	userMessage, modelMessage, err := s.persistExchange(ctx, correlationId, session, request.Query, answerText, mode, citations, gen)
	if err != nil {
		s.logPhaseError(correlationId, session.Id.String(), "persist", err)
		return nil, err
	}

	s.rememberSession(session, request.Query)

	s.appLogger.Info("Assistant", "Query answered", map[string]interface{}{
		"correlation_id": correlationId,
		"session_id":     session.Id.String(),
		"mode":           mode,
		"total_ms":       gen.TotalMs,
	})

	return &dto.AskResponse{
		ChatSessionId:    session.Id,
		ChatSessionTitle: session.Title,
		Sent: &dto.AskResponseChat{
			Id:        userMessage.Id,
			Chat:      userMessage.Chat,
			Role:      userMessage.Role,
			CreatedAt: userMessage.CreatedAt,
		},
		Reply: &dto.AskResponseChat{
			Id:        modelMessage.Id,
			Chat:      modelMessage.Chat,
			Role:      modelMessage.Role,
			CreatedAt: modelMessage.CreatedAt,
			Citations: citations,
		},
		Mode:    mode,
		Metrics: metricsToDTO(gen),
	}, nil
}

// --- Streaming orchestration ---

func (s *assistantService) AskStream(ctx context.Context, userId uuid.UUID, accessLevel int, request *dto.AskRequest, emitter *stream.Emitter) error {
	correlationId := uuid.New().String()
	total := metrics.StartStopwatch()

	session, created, err := s.bootstrapSession(ctx, userId, accessLevel, request)
	if err != nil {
		return s.failStream(emitter, correlationId, request.ChatSessionId.String(), "session", err,
			"Could not prepare the conversation session.")
	}

	// Session identity goes out before anything else on a new
	// conversation, so the client can tag every later event.
	if created {
		if err := emitter.Session(session.Id.String()); err != nil {
			return err
		}
	}

	chatHistory, err := s.loadHistory(ctx, session.Id)
	if err != nil {
		return s.failStream(emitter, correlationId, session.Id.String(), "history", err,
			"Could not load the conversation history.")
	}

	gen := &metrics.Generation{}

	_ = emitter.Status("classifying", "Reading your question")
	classifySw := metrics.StartStopwatch()
	cls := s.classifier.Classify(ctx, request.Query, chatHistory)
	gen.ClassifyMs = classifySw.ElapsedMs()

	var (
		answerText string
		mode       string
		citations  []dto.CitationDTO
	)

	switch {
	case cls.Kind == classify.KindCalendar:
		mode = ModeCalendar
		_ = emitter.Status("calendar", "Working on your calendar request")
		answerText, err = s.runCalendar(ctx, session, accessLevel, request.Query, chatHistory)
		if err != nil {
			return s.failStream(emitter, correlationId, session.Id.String(), "calendar", err,
				"The calendar assistant is unavailable right now.")
		}
		_ = emitter.Answer(answerText, false)

	case cls.Kind == classify.KindTrivial && cls.CannedResponse != "":
		mode = ModeTrivial
		answerText = cls.CannedResponse
		_ = emitter.Answer(answerText, false)

	default:
		mode = ModeKnowledge
		var result *answer.Result
		var assembled *assemble.AssembledContext
		result, assembled, err = s.runKnowledge(ctx, correlationId, session, accessLevel, request.Query, chatHistory, gen, emitter)
		if err != nil {
			publicMsg := "Something went wrong while answering. Please try again."
			if errors.Is(err, taskq.ErrSearchTimeout) {
				publicMsg = "The knowledge search took too long. Please try again."
			}
			return s.failStream(emitter, correlationId, session.Id.String(), "knowledge", err, publicMsg)
		}
		answerText = result.Answer
		if assembled != nil {
			citations = toCitations(assembled)
		}
	}

	_ = emitter.Answer("", true)

	gen.TotalMs = total.ElapsedMs()
	var debugPayload interface{}
	if request.Debug {
		debugPayload = map[string]interface{}{
			"correlation_id": correlationId,
			"mode":           mode,
			"classification": string(cls.Kind),
			"confidence":     cls.Confidence,
		}
	}
	_ = emitter.Metrics(metricsToDTO(gen), debugPayload)
	if request.Debug {
		_ = emitter.Debug(debugPayload)
	}
	_ = emitter.End()
	emitter.Close()

	s.rememberSession(session, request.Query)

	// Persistence happens after the transport is closed; a failure here
	// is logged by the consumer and never surfaces to the user.
	if err := s.archiver.Publish(context.WithoutCancel(ctx), &dto.ArchiveExchangeMessage{
		CorrelationId: correlationId,
		ChatSessionId: session.Id,
		UserId:        userId,
		Query:         request.Query,
		Answer:        answerText,
		Metadata:      replyMetadata(correlationId, mode, citations, gen),
	}); err != nil {
		s.appLogger.Error("Assistant", "Failed to publish archive message", map[string]interface{}{
			"correlation_id": correlationId,
			"session_id":     session.Id.String(),
			"error":          err.Error(),
		})
	}

	s.appLogger.Info("Assistant", "Streamed query answered", map[string]interface{}{
		"correlation_id": correlationId,
		"session_id":     session.Id.String(),
		"mode":           mode,
		"total_ms":       gen.TotalMs,
		"first_token_ms": gen.FirstTokenMs,
	})

	return nil
}

// --- Pipeline stages ---

// runKnowledge executes dispatch -> await -> assemble -> generate. With a
// nil emitter it generates blocking; otherwise tokens stream out as they
// arrive and the sources event precedes the first one.
func (s *assistantService) runKnowledge(
	ctx context.Context,
	correlationId string,
	session *entity.ChatSession,
	accessLevel int,
	query string,
	chatHistory []llm.Message,
	gen *metrics.Generation,
	emitter *stream.Emitter,
) (*answer.Result, *assemble.AssembledContext, error) {
	if emitter != nil {
		_ = emitter.Status("searching", "Searching the knowledge base")
	}

	// The ceiling is the caller's current clearance, not whatever the
	// session recorded at creation: a revoked level applies immediately.
	handle, err := s.searchClient.DispatchSearch(ctx, taskq.SearchRequest{
		Query:         query,
		AccessCeiling: accessLevel,
		History:       lastQueries(chatHistory, 4),
	})
	if err != nil {
		s.logPhaseError(correlationId, session.Id.String(), "dispatch", err)
		return nil, nil, fmt.Errorf("search dispatch failed: %w", err)
	}

	outcome, err := s.searchClient.AwaitResult(ctx, handle)
	if err != nil {
		var workerErr *taskq.WorkerError
		if errors.As(err, &workerErr) {
			// Worker tracebacks go to logs in full; the user sees a
			// generic failure.
			s.appLogger.Error("Assistant", "Search worker failed", map[string]interface{}{
				"correlation_id": correlationId,
				"session_id":     session.Id.String(),
				"phase":          "search",
				"traceback":      workerErr.Traceback,
			})
		} else {
			s.logPhaseError(correlationId, session.Id.String(), "search", err)
		}
		return nil, nil, err
	}

	gen.EmbeddingMs = outcome.EmbeddingTimeMs
	gen.SearchMs = outcome.SearchTimeMs
	gen.CandidatesFound = outcome.TotalFound
	gen.RerankedCount = outcome.RerankedCount

	assembled := s.assembler.Assemble(outcome.Candidates, query, accessLevel)
	gen.ContextTruncated = assembled.Truncated

	if emitter != nil {
		_ = emitter.Sources(toCitations(assembled), outcome.TotalFound, outcome.RerankedCount)
	}

	if assembled.RenderedText == "" {
		// Nothing survived the relevance floor. Answer honestly instead
		// of letting the model improvise from thin air.
		if emitter != nil {
			_ = emitter.Answer(NoKnowledgeMessage, false)
		}
		return &answer.Result{Answer: NoKnowledgeMessage}, assembled, nil
	}

	if emitter == nil {
		result, err := s.generator.Generate(ctx, query, assembled, chatHistory)
		if err != nil {
			s.logPhaseError(correlationId, session.Id.String(), "generate", err)
			return nil, nil, err
		}
		gen.GenerationMs = result.GenerationMs
		gen.TokensIn = result.TokensIn
		gen.TokensOut = result.TokensOut
		return result, assembled, nil
	}

	_ = emitter.Status("generating", "Writing the answer")
	result, err := s.generator.GenerateStream(ctx, query, assembled, chatHistory, func(fragment string, first bool) error {
		if emitter.Broken() {
			return fmt.Errorf("client disconnected mid-stream")
		}
		return emitter.Answer(fragment, false)
	})
	if err != nil {
		s.logPhaseError(correlationId, session.Id.String(), "generate", err)
		return nil, nil, err
	}

	gen.GenerationMs = result.GenerationMs
	gen.FirstTokenMs = result.FirstTokenMs
	gen.TokensIn = result.TokensIn
	gen.TokensOut = result.TokensOut
	return result, assembled, nil
}

func (s *assistantService) runCalendar(ctx context.Context, session *entity.ChatSession, accessLevel int, query string, chatHistory []llm.Message) (string, error) {
	result, err := s.calendarAgent.Process(ctx, query, calendar.Identity{
		UserID: session.UserId.String(),
	}, accessLevel, chatHistory)
	if err != nil {
		return "", err
	}
	return result.Message, nil
}

// --- Support ---

// bootstrapSession resolves the target session, creating one when the
// request names none. The created flag drives the session event on the
// streaming path.
func (s *assistantService) bootstrapSession(ctx context.Context, userId uuid.UUID, accessLevel int, request *dto.AskRequest) (*entity.ChatSession, bool, error) {
	if request.ChatSessionId == uuid.Nil {
		created, err := s.CreateSession(ctx, userId, accessLevel, &dto.CreateSessionRequest{
			Title: truncateTitle(request.Query),
		})
		if err != nil {
			return nil, false, err
		}
		session, err := s.loadOwnedSession(ctx, userId, created.Id)
		if err != nil {
			return nil, false, err
		}
		return session, true, nil
	}

	session, err := s.loadOwnedSession(ctx, userId, request.ChatSessionId)
	if err != nil {
		return nil, false, err
	}
	return session, false, nil
}

func (s *assistantService) loadOwnedSession(ctx context.Context, userId uuid.UUID, sessionId uuid.UUID) (*entity.ChatSession, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	session, err := uow.ChatSessionRepository().FindOne(ctx,
		specification.ByID{ID: sessionId},
		specification.UserOwnedBy{UserID: userId},
	)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, fmt.Errorf("chat session %s not found", sessionId)
	}
	return session, nil
}

// loadHistory returns the last turns of the session in chronological
// order, converted to model messages.
func (s *assistantService) loadHistory(ctx context.Context, sessionId uuid.UUID) ([]llm.Message, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	messages, err := uow.ChatMessageRepository().FindAll(ctx,
		specification.ByChatSessionID{ChatSessionID: sessionId},
		specification.OrderBy{Field: "created_at", Desc: true},
		specification.Pagination{Limit: s.cfg.Rag.HistoryLimit * 2},
	)
	if err != nil {
		return nil, err
	}

	turns := make([]history.Turn, len(messages))
	for i, msg := range messages {
		turns[i] = history.Turn{Role: msg.Role, Content: msg.Chat}
	}
	return history.Tail(history.ToMessages(turns), s.cfg.Rag.HistoryLimit), nil
}

func (s *assistantService) persistExchange(
	ctx context.Context,
	correlationId string,
	session *entity.ChatSession,
	query, answerText, mode string,
	citations []dto.CitationDTO,
	gen *metrics.Generation,
) (*entity.ChatMessage, *entity.ChatMessage, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return nil, nil, err
	}
	defer uow.Rollback()

	userMessage := &entity.ChatMessage{
		Id:            uuid.New(),
		Chat:          query,
		Role:          constant.ChatMessageRoleUser,
		ChatSessionId: session.Id,
	}
	if err := uow.ChatMessageRepository().Create(ctx, userMessage); err != nil {
		return nil, nil, err
	}

	modelMessage := &entity.ChatMessage{
		Id:            uuid.New(),
		Chat:          answerText,
		Role:          constant.ChatMessageRoleModel,
		ChatSessionId: session.Id,
		Metadata:      replyMetadata(correlationId, mode, citations, gen),
	}
	if err := uow.ChatMessageRepository().Create(ctx, modelMessage); err != nil {
		return nil, nil, err
	}

	if err := uow.Commit(); err != nil {
		return nil, nil, err
	}
	return userMessage, modelMessage, nil
}

func (s *assistantService) rememberSession(session *entity.ChatSession, lastQuery string) {
	s.sessionRepo.Save(&store.Session{
		ID:          session.Id.String(),
		UserID:      session.UserId.String(),
		Title:       session.Title,
		AccessLevel: session.AccessLevel,
		LastQuery:   lastQuery,
	})
}

// failStream logs the failure, emits the single terminal error event and
// tears the transport down. The public message never carries internals.
func (s *assistantService) failStream(emitter *stream.Emitter, correlationId, sessionId, phase string, err error, publicMsg string) error {
	s.logPhaseError(correlationId, sessionId, phase, err)
	_ = emitter.Error(publicMsg)
	emitter.Close()
	return err
}

func (s *assistantService) logPhaseError(correlationId, sessionId, phase string, err error) {
	s.appLogger.Error("Assistant", "Pipeline phase failed", map[string]interface{}{
		"correlation_id": correlationId,
		"session_id":     sessionId,
		"phase":          phase,
		"error":          err.Error(),
	})
}

func toCitations(assembled *assemble.AssembledContext) []dto.CitationDTO {
	citations := make([]dto.CitationDTO, len(assembled.Sources))
	for i, src := range assembled.Sources {
		citations[i] = dto.CitationDTO{
			DocumentId: src.DocID,
			Title:      src.DocTitle,
			Score:      src.BestScore,
			Truncated:  assembled.Truncated,
		}
	}
	return citations
}

func citationsFromMetadata(metadata map[string]interface{}) []dto.CitationDTO {
	raw, ok := metadata["citations"].([]interface{})
	if !ok {
		return nil
	}
	citations := make([]dto.CitationDTO, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		c := dto.CitationDTO{}
		if v, ok := m["document_id"].(string); ok {
			c.DocumentId = v
		}
		if v, ok := m["title"].(string); ok {
			c.Title = v
		}
		if v, ok := m["score"].(float64); ok {
			c.Score = v
		}
		if v, ok := m["truncated"].(bool); ok {
			c.Truncated = v
		}
		citations = append(citations, c)
	}
	return citations
}

func replyMetadata(correlationId, mode string, citations []dto.CitationDTO, gen *metrics.Generation) map[string]interface{} {
	citationMaps := make([]interface{}, len(citations))
	for i, c := range citations {
		citationMaps[i] = map[string]interface{}{
			"document_id": c.DocumentId,
			"title":       c.Title,
			"score":       c.Score,
			"truncated":   c.Truncated,
		}
	}
	return map[string]interface{}{
		"correlation_id": correlationId,
		"mode":           mode,
		"citations":      citationMaps,
		"metrics":        metricsToDTO(gen),
	}
}

func metricsToDTO(gen *metrics.Generation) *dto.MetricsDTO {
	return &dto.MetricsDTO{
		ClassifyMs:      gen.ClassifyMs,
		EmbeddingMs:     gen.EmbeddingMs,
		SearchMs:        gen.SearchMs,
		GenerationMs:    gen.GenerationMs,
		FirstTokenMs:    gen.FirstTokenMs,
		TotalMs:         gen.TotalMs,
		TokensIn:        gen.TokensIn,
		TokensOut:       gen.TokensOut,
		CandidatesFound: gen.CandidatesFound,
		RerankedCount:   gen.RerankedCount,
	}
}

// lastQueries extracts the most recent user utterances for worker-side
// query expansion, oldest first.
func lastQueries(chatHistory []llm.Message, limit int) []string {
	var queries []string
	for _, m := range chatHistory {
		if m.Role == constant.ChatMessageRoleUser {
			queries = append(queries, m.Content)
		}
	}
	if len(queries) > limit {
		queries = queries[len(queries)-limit:]
	}
	return queries
}

func truncateTitle(query string) string {
	if utf8.RuneCountInString(query) <= sessionTitleMaxRunes {
		return query
	}
	runes := []rune(query)
	return string(runes[:sessionTitleMaxRunes]) + "…"
}
