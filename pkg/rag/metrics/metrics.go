package metrics

import "time"

// Generation accumulates timing and token counters across one
// orchestration pass. Phases that never ran stay at zero so downstream
// aggregation never has to distinguish "skipped" from "missing".
type Generation struct {
	ClassifyMs   int64 `json:"classify_ms"`
	EmbeddingMs  int64 `json:"embedding_ms"`
	SearchMs     int64 `json:"search_ms"`
	GenerationMs int64 `json:"generation_ms"`
	FirstTokenMs int64 `json:"first_token_ms"`
	TotalMs      int64 `json:"total_ms"`

	TokensIn  int `json:"tokens_in"`
	TokensOut int `json:"tokens_out"`

	CandidatesFound int  `json:"candidates_found"`
	RerankedCount   int  `json:"reranked_count"`
	ContextTruncated bool `json:"context_truncated"`
}

// Stopwatch measures one phase. Elapsed durations are clamped to zero so
// a skewed clock can never produce a negative phase time.
type Stopwatch struct {
	started time.Time
}

func StartStopwatch() *Stopwatch {
	return &Stopwatch{started: time.Now()}
}

func (s *Stopwatch) ElapsedMs() int64 {
	ms := time.Since(s.started).Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}
