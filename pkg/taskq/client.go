package taskq

import (
	"context"
	"fmt"
	"time"

	"ai-assistant-be/internal/pkg/logger"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Config holds the task queue tunables. Poll interval and attempt budget
// bound AwaitResult to attempts x interval wall-clock time.
type Config struct {
	TaskName      string
	QueueName     string
	StreamName    string
	PollInterval  time.Duration
	PollAttempts  int
	CandidatePool int
	RerankPool    int
	VectorWeight  float64
	LexicalWeight float64
}

// DefaultConfig returns the production task queue configuration.
func DefaultConfig() Config {
	return Config{
		TaskName:      "search.execute",
		QueueName:     "search",
		StreamName:    "TASKS",
		PollInterval:  1 * time.Second,
		PollAttempts:  60,
		CandidatePool: 30,
		RerankPool:    10,
		VectorWeight:  0.7,
		LexicalWeight: 0.3,
	}
}

// TaskHandle identifies one dispatched task. The correlation id doubles
// as the result store lookup key.
type TaskHandle struct {
	CorrelationID string
	Queue         string
	DispatchedAt  time.Time
}

// ResultStore reads worker results keyed by correlation id. The redis
// implementation lives in redis_store.go; tests substitute fakes.
type ResultStore interface {
	// Get returns (payload, found). A transient store error is returned
	// as err and counts against the poll budget, never blocks it.
	Get(ctx context.Context, correlationID string) ([]byte, bool, error)
}

// Client dispatches search tasks over NATS and polls a result store for
// completion. The broker has no request/response semantics, so the
// worker writes its result under the client-generated correlation id.
type Client struct {
	nc    *nats.Conn
	js    jetstream.JetStream
	store ResultStore
	cfg   Config
	log   logger.ILogger
}

// NewClient connects to NATS and ensures the task stream exists.
func NewClient(natsURL string, store ResultStore, cfg Config, log logger.ILogger) (*Client, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.StreamName,
		Subjects:  []string{fmt.Sprintf("tasks.%s.>", cfg.QueueName)},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.WorkQueuePolicy,
	})
	if err != nil {
		// The worker pool usually owns the stream; don't fail hard here.
		log.Warn("TaskQueue", "Failed to ensure task stream", map[string]interface{}{
			"stream": cfg.StreamName,
			"error":  err.Error(),
		})
	}

	return &Client{nc: nc, js: js, store: store, cfg: cfg, log: log}, nil
}

// NewClientWithConn builds a client on an existing JetStream context.
// Used by tests and by callers that share one NATS connection.
func NewClientWithConn(js jetstream.JetStream, store ResultStore, cfg Config, log logger.ILogger) *Client {
	return &Client{js: js, store: store, cfg: cfg, log: log}
}

// DispatchSearch serializes the request into a task envelope and pushes
// it onto the named queue. The returned handle is the key AwaitResult
// polls under.
func (c *Client) DispatchSearch(ctx context.Context, req SearchRequest) (*TaskHandle, error) {
	if req.CandidatePoolSize == 0 {
		req.CandidatePoolSize = c.cfg.CandidatePool
	}
	if req.RerankPoolSize == 0 {
		req.RerankPoolSize = c.cfg.RerankPool
	}
	if req.VectorWeight == 0 && req.LexicalWeight == 0 {
		req.VectorWeight = c.cfg.VectorWeight
		req.LexicalWeight = c.cfg.LexicalWeight
	}

	correlationID := uuid.New().String()
	env := newEnvelope(correlationID, c.cfg.TaskName, c.cfg.QueueName, req)

	data, err := env.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task envelope: %w", err)
	}

	subject := fmt.Sprintf("tasks.%s.%s", c.cfg.QueueName, c.cfg.TaskName)
	if _, err := c.js.Publish(ctx, subject, data); err != nil {
		return nil, fmt.Errorf("failed to publish task to %s: %w", subject, err)
	}

	c.log.Info("TaskQueue", "Search task dispatched", map[string]interface{}{
		"correlation_id": correlationID,
		"queue":          c.cfg.QueueName,
		"query_len":      len(req.Query),
	})

	return &TaskHandle{
		CorrelationID: correlationID,
		Queue:         c.cfg.QueueName,
		DispatchedAt:  time.Now(),
	}, nil
}

// AwaitResult polls the result store until the worker writes a result,
// the attempt budget runs out, or ctx is cancelled. It returns within
// attempts x interval in all cases.
func (c *Client) AwaitResult(ctx context.Context, handle *TaskHandle) (*SearchOutcome, error) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= c.cfg.PollAttempts; attempt++ {
		data, found, err := c.store.Get(ctx, handle.CorrelationID)
		if err != nil {
			// Store connection may be flapping; the redis client reconnects
			// on its own. Burn the attempt and keep going.
			c.log.Warn("TaskQueue", "Result store poll failed", map[string]interface{}{
				"correlation_id": handle.CorrelationID,
				"attempt":        attempt,
				"error":          err.Error(),
			})
		} else if found {
			return parseResult(handle.CorrelationID, data)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	c.log.Error("TaskQueue", "Search task timed out", map[string]interface{}{
		"correlation_id": handle.CorrelationID,
		"attempts":       c.cfg.PollAttempts,
		"interval_ms":    c.cfg.PollInterval.Milliseconds(),
	})
	return nil, ErrSearchTimeout
}

// Close releases the broker connection.
func (c *Client) Close() {
	if c.nc != nil {
		c.nc.Close()
	}
}
