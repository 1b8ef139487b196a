package service

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"ai-assistant-be/internal/config"
	"ai-assistant-be/internal/dto"
	"ai-assistant-be/internal/entity"
	"ai-assistant-be/internal/repository/contract"
	"ai-assistant-be/internal/repository/memory"
	"ai-assistant-be/internal/repository/specification"
	"ai-assistant-be/internal/repository/unitofwork"
	"ai-assistant-be/pkg/llm"
	"ai-assistant-be/pkg/rag/answer"
	"ai-assistant-be/pkg/rag/assemble"
	"ai-assistant-be/pkg/rag/classify"
	"ai-assistant-be/pkg/rag/stream"
	"ai-assistant-be/pkg/store"
	"ai-assistant-be/pkg/taskq"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Fakes ---

type nopAppLogger struct{}

func (nopAppLogger) Debug(module, message string, details map[string]interface{}) {}
func (nopAppLogger) Info(module, message string, details map[string]interface{})  {}
func (nopAppLogger) Warn(module, message string, details map[string]interface{})  {}
func (nopAppLogger) Error(module, message string, details map[string]interface{}) {}
func (nopAppLogger) Sync() error                                                  { return nil }

// scriptedLLM answers Chat with a fixed reply and replays fragments on
// ChatStream, stopping when the consumer aborts.
type scriptedLLM struct {
	reply     string
	fragments []string
	err       error
}

func (s *scriptedLLM) Chat(ctx context.Context, history []llm.Message, options ...llm.Option) (string, error) {
	return s.reply, s.err
}

func (s *scriptedLLM) ChatStream(ctx context.Context, history []llm.Message, onToken llm.TokenFunc, options ...llm.Option) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	var full strings.Builder
	for _, f := range s.fragments {
		if err := onToken(f); err != nil {
			return full.String(), err
		}
		full.WriteString(f)
	}
	return full.String(), nil
}

func (s *scriptedLLM) Generate(ctx context.Context, prompt string, options ...llm.Option) (string, error) {
	return s.reply, s.err
}

type memSessionRepo struct {
	sessions map[uuid.UUID]*entity.ChatSession
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: map[uuid.UUID]*entity.ChatSession{}}
}

func (r *memSessionRepo) Create(ctx context.Context, s *entity.ChatSession) error {
	r.sessions[s.Id] = s
	return nil
}

func (r *memSessionRepo) Update(ctx context.Context, s *entity.ChatSession) error {
	r.sessions[s.Id] = s
	return nil
}

func (r *memSessionRepo) Delete(ctx context.Context, id uuid.UUID) error {
	delete(r.sessions, id)
	return nil
}

func (r *memSessionRepo) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.ChatSession, error) {
	for _, s := range r.sessions {
		return s, nil
	}
	return nil, nil
}

func (r *memSessionRepo) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.ChatSession, error) {
	var all []*entity.ChatSession
	for _, s := range r.sessions {
		all = append(all, s)
	}
	return all, nil
}

func (r *memSessionRepo) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	return int64(len(r.sessions)), nil
}

type memMessageRepo struct {
	messages []*entity.ChatMessage
}

func (r *memMessageRepo) Create(ctx context.Context, m *entity.ChatMessage) error {
	r.messages = append(r.messages, m)
	return nil
}

func (r *memMessageRepo) Update(ctx context.Context, m *entity.ChatMessage) error { return nil }
func (r *memMessageRepo) Delete(ctx context.Context, id uuid.UUID) error          { return nil }
func (r *memMessageRepo) DeleteByChatSessionId(ctx context.Context, sessionId uuid.UUID) error {
	return nil
}

func (r *memMessageRepo) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.ChatMessage, error) {
	return nil, nil
}

func (r *memMessageRepo) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.ChatMessage, error) {
	return r.messages, nil
}

func (r *memMessageRepo) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	return int64(len(r.messages)), nil
}

type fakeUow struct {
	sessions *memSessionRepo
	msgs     *memMessageRepo
}

func (u *fakeUow) Begin(ctx context.Context) error { return nil }
func (u *fakeUow) Commit() error                   { return nil }
func (u *fakeUow) Rollback() error                 { return nil }
func (u *fakeUow) ChatSessionRepository() contract.ChatSessionRepository {
	return u.sessions
}
func (u *fakeUow) ChatMessageRepository() contract.ChatMessageRepository {
	return u.msgs
}

type fakeUowFactory struct {
	uow *fakeUow
}

func (f *fakeUowFactory) NewUnitOfWork(ctx context.Context) unitofwork.UnitOfWork {
	return f.uow
}

type fakeSearchClient struct {
	got      taskq.SearchRequest
	outcome  *taskq.SearchOutcome
	awaitErr error
}

func (f *fakeSearchClient) DispatchSearch(ctx context.Context, req taskq.SearchRequest) (*taskq.TaskHandle, error) {
	f.got = req
	return &taskq.TaskHandle{CorrelationID: "test-task", Queue: "search", DispatchedAt: time.Now()}, nil
}

func (f *fakeSearchClient) AwaitResult(ctx context.Context, handle *taskq.TaskHandle) (*taskq.SearchOutcome, error) {
	if f.awaitErr != nil {
		return nil, f.awaitErr
	}
	return f.outcome, nil
}

type fakeArchiver struct {
	published []*dto.ArchiveExchangeMessage
	onPublish func()
}

func (f *fakeArchiver) Publish(ctx context.Context, msg *dto.ArchiveExchangeMessage) error {
	if f.onPublish != nil {
		f.onPublish()
	}
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeArchiver) Consume(ctx context.Context) error { return nil }

// fakeStreamConn records frames; writes fail once allowWrites frames
// have been written (0 means never fail).
type fakeStreamConn struct {
	frames      []stream.Frame
	allowWrites int
	closed      int
}

func (c *fakeStreamConn) WriteJSON(v interface{}) error {
	if c.allowWrites > 0 && len(c.frames) >= c.allowWrites {
		return errors.New("broken pipe")
	}
	frame, ok := v.(stream.Frame)
	if !ok {
		return errors.New("unexpected write payload")
	}
	c.frames = append(c.frames, frame)
	return nil
}

func (c *fakeStreamConn) Close() error {
	c.closed++
	return nil
}

// --- Harness ---

func newStreamTestService(search SearchClient, archiver IArchiverService, classifyReply string, fragments []string) *assistantService {
	testLog := log.New(io.Discard, "", 0)
	return &assistantService{
		uowFactory:   &fakeUowFactory{uow: &fakeUow{sessions: newMemSessionRepo(), msgs: &memMessageRepo{}}},
		sessionRepo:  memory.NewSessionRepository(),
		searchClient: search,
		archiver:     archiver,
		appLogger:    nopAppLogger{},
		cfg:          &config.Config{Rag: config.RagConfig{HistoryLimit: 6}},
		classifier:   classify.NewClassifier(&scriptedLLM{reply: classifyReply}, time.Second, testLog),
		assembler:    assemble.NewAssembler(assemble.DefaultConfig(), testLog),
		generator:    answer.NewGenerator(&scriptedLLM{fragments: fragments}, answer.DefaultConfig(), testLog),
	}
}

func searchOutcome() *taskq.SearchOutcome {
	return &taskq.SearchOutcome{
		Candidates: []store.Candidate{
			{
				ID:          "c1",
				Text:        "Employees receive 28 paid vacation days per year.",
				SourceDocID: "doc-hr",
				SourceTitle: "HR Policy",
				RerankScore: 9.0,
				AccessLevel: 10,
			},
		},
		TotalFound:    1,
		RerankedCount: 1,
	}
}

const ragClassification = `{"type": "RAG", "confidence": 0.92}`

var answerFragments = []string{"Employees receive ", "28 paid vacation days ", "per year."}

func frameIndex(frames []stream.Frame, event stream.EventType) int {
	for i, f := range frames {
		if f.Event == event {
			return i
		}
	}
	return -1
}

func countTerminals(frames []stream.Frame) int {
	n := 0
	for _, f := range frames {
		if f.Event == stream.EventEnd || f.Event == stream.EventError {
			n++
		}
	}
	return n
}

// --- Tests ---

func TestAskStreamNewConversationOrdering(t *testing.T) {
	conn := &fakeStreamConn{}
	emitter := stream.NewEmitter(conn)
	search := &fakeSearchClient{outcome: searchOutcome()}
	archiver := &fakeArchiver{}
	var stateAtPublish stream.State
	archiver.onPublish = func() { stateAtPublish = emitter.State() }

	svc := newStreamTestService(search, archiver, ragClassification, answerFragments)

	err := svc.AskStream(context.Background(), uuid.New(), 50, &dto.AskRequest{
		Query: "How many vacation days do we get?",
	}, emitter)
	require.NoError(t, err)

	frames := conn.frames
	require.NotEmpty(t, frames)

	// Session identity leads on a fresh conversation.
	assert.Equal(t, stream.EventSession, frames[0].Event)

	// Exactly one terminal event, and it closes the stream.
	require.Equal(t, 1, countTerminals(frames))
	assert.Equal(t, stream.EventEnd, frames[len(frames)-1].Event)

	// Sources are announced before the first answer token.
	sourcesIdx := frameIndex(frames, stream.EventSources)
	answerIdx := frameIndex(frames, stream.EventAnswer)
	require.NotEqual(t, -1, sourcesIdx)
	require.NotEqual(t, -1, answerIdx)
	assert.Less(t, sourcesIdx, answerIdx)

	// The search ceiling is the caller's verified level, not a zero
	// value from session bootstrap.
	assert.Equal(t, 50, search.got.AccessCeiling)

	// Persistence fires once, only after the transport terminated.
	require.Len(t, archiver.published, 1)
	assert.Equal(t, stream.StateClosed, stateAtPublish)
	assert.Equal(t, 1, conn.closed)
}

func TestAskStreamExistingSessionSkipsSessionEvent(t *testing.T) {
	conn := &fakeStreamConn{}
	emitter := stream.NewEmitter(conn)
	search := &fakeSearchClient{outcome: searchOutcome()}
	svc := newStreamTestService(search, &fakeArchiver{}, ragClassification, answerFragments)

	userId := uuid.New()
	created, err := svc.CreateSession(context.Background(), userId, 50, &dto.CreateSessionRequest{Title: "Vacations"})
	require.NoError(t, err)

	err = svc.AskStream(context.Background(), userId, 50, &dto.AskRequest{
		ChatSessionId: created.Id,
		Query:         "And how do I request them?",
	}, emitter)
	require.NoError(t, err)

	assert.Equal(t, -1, frameIndex(conn.frames, stream.EventSession))
	assert.Equal(t, 1, countTerminals(conn.frames))
}

func TestAskStreamSearchFailureEmitsSingleError(t *testing.T) {
	conn := &fakeStreamConn{}
	emitter := stream.NewEmitter(conn)
	search := &fakeSearchClient{awaitErr: errors.New("worker pool unavailable")}
	archiver := &fakeArchiver{}
	svc := newStreamTestService(search, archiver, ragClassification, answerFragments)

	err := svc.AskStream(context.Background(), uuid.New(), 50, &dto.AskRequest{
		Query: "How many vacation days do we get?",
	}, emitter)
	require.Error(t, err)

	frames := conn.frames
	require.Equal(t, 1, countTerminals(frames))
	assert.Equal(t, stream.EventError, frames[len(frames)-1].Event)
	assert.Equal(t, -1, frameIndex(frames, stream.EventEnd))

	// A failed stream is never archived.
	assert.Empty(t, archiver.published)
	assert.Equal(t, 1, conn.closed)
}

func TestAskStreamDisconnectAbortsGeneration(t *testing.T) {
	// The peer dies after three frames; every later write is a no-op
	// and the generation loop must stop consuming tokens.
	conn := &fakeStreamConn{allowWrites: 3}
	emitter := stream.NewEmitter(conn)
	search := &fakeSearchClient{outcome: searchOutcome()}
	archiver := &fakeArchiver{}
	svc := newStreamTestService(search, archiver, ragClassification, answerFragments)

	err := svc.AskStream(context.Background(), uuid.New(), 50, &dto.AskRequest{
		Query: "How many vacation days do we get?",
	}, emitter)
	require.Error(t, err)

	assert.True(t, emitter.Broken())
	assert.LessOrEqual(t, len(conn.frames), 3)
	assert.Equal(t, 0, countTerminals(conn.frames))
	assert.Empty(t, archiver.published)
	assert.Equal(t, 1, conn.closed)
}

func TestAskUsesCallerAccessCeiling(t *testing.T) {
	search := &fakeSearchClient{outcome: searchOutcome()}
	svc := newStreamTestService(search, &fakeArchiver{}, ragClassification, nil)
	svc.generator = answer.NewGenerator(&scriptedLLM{reply: "Employees receive 28 paid vacation days per year."}, answer.DefaultConfig(), log.New(io.Discard, "", 0))

	res, err := svc.Ask(context.Background(), uuid.New(), 50, &dto.AskRequest{
		Query: "How many vacation days do we get?",
	})
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, 50, search.got.AccessCeiling)
	assert.Equal(t, ModeKnowledge, res.Mode)
}
