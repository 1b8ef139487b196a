package dto

import (
	"time"

	"github.com/google/uuid"
)

// CreateSessionRequest carries the client-chosen title only. The access
// level comes from the verified token, never from the request body.
type CreateSessionRequest struct {
	Title string `json:"title"`
}

type CreateSessionResponse struct {
	Id uuid.UUID `json:"id"`
}

type GetAllSessionsResponse struct {
	Id        uuid.UUID  `json:"id"`
	Title     string     `json:"title"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at"`
}

type GetChatHistoryResponse struct {
	Id        uuid.UUID              `json:"id"`
	Role      string                 `json:"role"`
	Chat      string                 `json:"chat"`
	CreatedAt time.Time              `json:"created_at"`
	Citations []CitationDTO          `json:"citations,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

type CitationDTO struct {
	DocumentId string  `json:"document_id"`
	Title      string  `json:"title"`
	Score      float64 `json:"score"`
	Truncated  bool    `json:"truncated"`
}

type AskRequest struct {
	ChatSessionId uuid.UUID `json:"chat_session_id"`
	Query         string    `json:"query" validate:"required,min=1,max=4000"`
	Debug         bool      `json:"debug,omitempty"`
}

type AskResponseChat struct {
	Id        uuid.UUID     `json:"id"`
	Chat      string        `json:"chat"`
	Role      string        `json:"role"`
	CreatedAt time.Time     `json:"created_at"`
	Citations []CitationDTO `json:"citations,omitempty"`
}

type AskResponse struct {
	ChatSessionId    uuid.UUID        `json:"chat_session_id"`
	ChatSessionTitle string           `json:"title"`
	Sent             *AskResponseChat `json:"sent"`
	Reply            *AskResponseChat `json:"reply"`
	Mode             string           `json:"mode,omitempty"` // "knowledge" | "calendar" | "trivial"
	Metrics          *MetricsDTO      `json:"metrics,omitempty"`
}

type MetricsDTO struct {
	ClassifyMs      int64 `json:"classify_ms"`
	EmbeddingMs     int64 `json:"embedding_ms"`
	SearchMs        int64 `json:"search_ms"`
	GenerationMs    int64 `json:"generation_ms"`
	FirstTokenMs    int64 `json:"first_token_ms"`
	TotalMs         int64 `json:"total_ms"`
	TokensIn        int   `json:"tokens_in"`
	TokensOut       int   `json:"tokens_out"`
	CandidatesFound int   `json:"candidates_found"`
	RerankedCount   int   `json:"reranked_count"`
}

type DeleteSessionRequest struct {
	ChatSessionId uuid.UUID `json:"chat_session_id"`
}
