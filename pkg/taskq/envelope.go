package taskq

import (
	"encoding/json"
	"time"
)

// EnvelopeVersion is the wire format version understood by the current
// search worker pool. Workers reject envelopes with a newer version.
const EnvelopeVersion = 2

// SearchRequest carries everything the orchestrator knows about one
// retrieval round trip.
type SearchRequest struct {
	Query             string
	AccessCeiling     int
	CandidatePoolSize int
	RerankPoolSize    int
	VectorWeight      float64
	LexicalWeight     float64

	// Recent conversation turns, oldest first. The worker may use them
	// for query expansion; they ride along as kwargs, not positional args.
	History []string
}

// Envelope is the versioned task envelope pushed onto the broker queue.
// Workers unpack Args positionally:
// (queryText, accessLevelCeiling, candidatePoolSize, rerankPoolSize, vectorWeight, lexicalWeight)
type Envelope struct {
	ID      string                 `json:"id"`
	Task    string                 `json:"task"`
	Queue   string                 `json:"queue"`
	Version int                    `json:"version"`
	Args    []interface{}          `json:"args"`
	Kwargs  map[string]interface{} `json:"kwargs,omitempty"`
	SentAt  time.Time              `json:"sent_at"`
}

func newEnvelope(correlationID, task, queue string, req SearchRequest) *Envelope {
	env := &Envelope{
		ID:      correlationID,
		Task:    task,
		Queue:   queue,
		Version: EnvelopeVersion,
		Args: []interface{}{
			req.Query,
			req.AccessCeiling,
			req.CandidatePoolSize,
			req.RerankPoolSize,
			req.VectorWeight,
			req.LexicalWeight,
		},
		SentAt: time.Now().UTC(),
	}
	if len(req.History) > 0 {
		env.Kwargs = map[string]interface{}{"history": req.History}
	}
	return env
}

func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
