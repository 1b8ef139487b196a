package dto

import (
	"github.com/google/uuid"
)

// ArchiveExchangeMessage is the payload published after a streamed
// answer finishes. Persistence runs off the request path; the stream is
// already closed by the time a consumer sees this.
type ArchiveExchangeMessage struct {
	CorrelationId string                 `json:"correlation_id"`
	ChatSessionId uuid.UUID              `json:"chat_session_id"`
	UserId        uuid.UUID              `json:"user_id"`
	Query         string                 `json:"query"`
	Answer        string                 `json:"answer"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}
