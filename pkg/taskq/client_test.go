package taskq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Debug(module, message string, details map[string]interface{}) {}
func (nopLogger) Info(module, message string, details map[string]interface{})  {}
func (nopLogger) Warn(module, message string, details map[string]interface{})  {}
func (nopLogger) Error(module, message string, details map[string]interface{}) {}
func (nopLogger) Sync() error                                                  { return nil }

// fakeStore serves a scripted sequence of poll responses.
type fakeStore struct {
	responses []fakeResponse
	calls     int
}

type fakeResponse struct {
	data  []byte
	found bool
	err   error
}

func (s *fakeStore) Get(ctx context.Context, correlationID string) ([]byte, bool, error) {
	idx := s.calls
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	s.calls++
	r := s.responses[idx]
	return r.data, r.found, r.err
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PollInterval = time.Millisecond
	cfg.PollAttempts = 5
	return cfg
}

func TestEnvelopePositionalArgs(t *testing.T) {
	req := SearchRequest{
		Query:             "quarterly targets",
		AccessCeiling:     3,
		CandidatePoolSize: 30,
		RerankPoolSize:    10,
		VectorWeight:      0.7,
		LexicalWeight:     0.3,
		History:           []string{"previous question"},
	}

	env := newEnvelope("corr-1", "search.execute", "search", req)

	require.Equal(t, "corr-1", env.ID)
	require.Equal(t, EnvelopeVersion, env.Version)
	require.Equal(t, []interface{}{"quarterly targets", 3, 30, 10, 0.7, 0.3}, env.Args)
	require.Equal(t, map[string]interface{}{"history": []string{"previous question"}}, env.Kwargs)

	// Round-trip through the wire format keeps the arg order.
	data, err := env.Marshal()
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	args := decoded["args"].([]interface{})
	require.Len(t, args, 6)
	assert.Equal(t, "quarterly targets", args[0])
}

func TestEnvelopeOmitsEmptyHistory(t *testing.T) {
	env := newEnvelope("corr-2", "search.execute", "search", SearchRequest{Query: "q"})
	assert.Nil(t, env.Kwargs)
}

func TestParseResultSuccess(t *testing.T) {
	payload := []byte(`{
		"status": "SUCCESS",
		"result": {
			"results": [
				{"id": "c1", "text": "passage", "source_doc_id": "d1", "source_title": "Doc", "vector_score": 0.8, "rerank_score": 7.5, "access_level": 1}
			],
			"total_found": 12,
			"reranked_count": 10,
			"search_time_ms": 120,
			"embedding_time_ms": 30
		}
	}`)

	outcome, err := parseResult("corr-3", payload)
	require.NoError(t, err)
	require.Len(t, outcome.Candidates, 1)
	assert.Equal(t, "c1", outcome.Candidates[0].ID)
	assert.Equal(t, 7.5, outcome.Candidates[0].Score())
	assert.Equal(t, 12, outcome.TotalFound)
	assert.Equal(t, 10, outcome.RerankedCount)
	assert.Equal(t, int64(120), outcome.SearchTimeMs)
	assert.Equal(t, int64(30), outcome.EmbeddingTimeMs)
}

func TestParseResultFailureSurfacesTraceback(t *testing.T) {
	payload := []byte(`{"status": "FAILURE", "traceback": "ValueError: bad query\n  at rank()"}`)

	_, err := parseResult("corr-4", payload)
	require.Error(t, err)

	var workerErr *WorkerError
	require.ErrorAs(t, err, &workerErr)
	assert.Equal(t, "corr-4", workerErr.CorrelationID)
	assert.Contains(t, workerErr.Traceback, "ValueError")
}

func TestParseResultRejectsUnknownStatus(t *testing.T) {
	_, err := parseResult("corr-5", []byte(`{"status": "PENDING"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PENDING")
}

func TestParseResultRejectsGarbage(t *testing.T) {
	_, err := parseResult("corr-6", []byte(`not json`))
	require.Error(t, err)
}

func TestAwaitResultReturnsOnArrival(t *testing.T) {
	success := []byte(`{"status": "SUCCESS", "result": {"results": [], "total_found": 0}}`)
	store := &fakeStore{responses: []fakeResponse{
		{found: false},
		{found: false},
		{data: success, found: true},
	}}

	client := NewClientWithConn(nil, store, testConfig(), nopLogger{})
	outcome, err := client.AwaitResult(context.Background(), &TaskHandle{CorrelationID: "corr-7"})

	require.NoError(t, err)
	assert.Equal(t, 0, outcome.TotalFound)
	assert.Equal(t, 3, store.calls)
}

func TestAwaitResultTimesOut(t *testing.T) {
	store := &fakeStore{responses: []fakeResponse{{found: false}}}

	client := NewClientWithConn(nil, store, testConfig(), nopLogger{})
	_, err := client.AwaitResult(context.Background(), &TaskHandle{CorrelationID: "corr-8"})

	require.ErrorIs(t, err, ErrSearchTimeout)
	assert.Equal(t, testConfig().PollAttempts, store.calls)
}

func TestAwaitResultStoreErrorsBurnAttempts(t *testing.T) {
	store := &fakeStore{responses: []fakeResponse{
		{err: errors.New("connection reset")},
	}}

	client := NewClientWithConn(nil, store, testConfig(), nopLogger{})
	_, err := client.AwaitResult(context.Background(), &TaskHandle{CorrelationID: "corr-9"})

	// Transient store errors never extend the budget.
	require.ErrorIs(t, err, ErrSearchTimeout)
	assert.Equal(t, testConfig().PollAttempts, store.calls)
}

func TestAwaitResultHonorsCancellation(t *testing.T) {
	store := &fakeStore{responses: []fakeResponse{{found: false}}}
	cfg := testConfig()
	cfg.PollInterval = time.Hour // only cancellation can end this

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	client := NewClientWithConn(nil, store, cfg, nopLogger{})
	_, err := client.AwaitResult(ctx, &TaskHandle{CorrelationID: "corr-10"})

	require.ErrorIs(t, err, context.Canceled)
}
