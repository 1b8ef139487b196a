package taskq

import (
	"encoding/json"
	"errors"
	"fmt"

	"ai-assistant-be/pkg/store"
)

// Worker result statuses as written to the result store.
const (
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
)

var (
	// ErrSearchTimeout is returned when the poll budget is exhausted
	// without the worker writing a result.
	ErrSearchTimeout = errors.New("search task timed out waiting for worker result")
)

// WorkerError carries a worker-side failure, including its traceback,
// so the failing stage can be reconstructed from logs alone.
type WorkerError struct {
	CorrelationID string
	Traceback     string
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("search worker reported failure (task %s): %s", e.CorrelationID, e.Traceback)
}

// SearchOutcome is the parsed SUCCESS payload from the result store.
type SearchOutcome struct {
	Candidates        []store.Candidate
	TotalFound        int
	RerankedCount     int
	SearchTimeMs      int64
	EmbeddingTimeMs   int64
	RelevanceFiltered bool
	Reason            string
}

// resultPayload mirrors the worker's wire format, keyed by correlation id.
type resultPayload struct {
	Status    string          `json:"status"`
	Result    *resultBody     `json:"result,omitempty"`
	Traceback string          `json:"traceback,omitempty"`
	Raw       json.RawMessage `json:"-"`
}

type resultBody struct {
	Results           []store.Candidate `json:"results"`
	TotalFound        int               `json:"total_found"`
	RerankedCount     int               `json:"reranked_count"`
	SearchTimeMs      int64             `json:"search_time_ms"`
	EmbeddingTimeMs   int64             `json:"embedding_time_ms"`
	RelevanceFiltered bool              `json:"relevance_filtered"`
	Reason            string            `json:"reason"`
}

// parseResult decodes a raw result store value. A FAILURE status becomes a
// *WorkerError; an unparseable payload is an error, never a silent nil.
func parseResult(correlationID string, data []byte) (*SearchOutcome, error) {
	var payload resultPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("unparseable worker payload (task %s): %w", correlationID, err)
	}

	switch payload.Status {
	case StatusSuccess:
		if payload.Result == nil {
			return nil, fmt.Errorf("worker reported SUCCESS without a result body (task %s)", correlationID)
		}
		return &SearchOutcome{
			Candidates:        payload.Result.Results,
			TotalFound:        payload.Result.TotalFound,
			RerankedCount:     payload.Result.RerankedCount,
			SearchTimeMs:      payload.Result.SearchTimeMs,
			EmbeddingTimeMs:   payload.Result.EmbeddingTimeMs,
			RelevanceFiltered: payload.Result.RelevanceFiltered,
			Reason:            payload.Result.Reason,
		}, nil
	case StatusFailure:
		return nil, &WorkerError{CorrelationID: correlationID, Traceback: payload.Traceback}
	default:
		return nil, fmt.Errorf("unknown worker result status %q (task %s)", payload.Status, correlationID)
	}
}
