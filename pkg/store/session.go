package store

// Candidate is one ranked passage returned by the search worker pool.
// The core treats it as read-only input.
type Candidate struct {
	ID          string  `json:"id"`
	Text        string  `json:"text"`
	SourceDocID string  `json:"source_doc_id"`
	SourceTitle string  `json:"source_title"`
	VectorScore float64 `json:"vector_score"`
	RerankScore float64 `json:"rerank_score"`
	AccessLevel int     `json:"access_level"`
}

// Score returns the ranking score used downstream: the rerank score when
// the worker produced one, otherwise the raw vector score.
func (c Candidate) Score() float64 {
	if c.RerankScore != 0 {
		return c.RerankScore
	}
	return c.VectorScore
}

// Session is the lightweight in-memory view of an active conversation.
// The durable record lives in Postgres; this cache only spares the hot
// path a lookup for title/access data between turns.
type Session struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Title       string `json:"title"`
	AccessLevel int    `json:"access_level"`
	LastQuery   string `json:"last_query"`
}
