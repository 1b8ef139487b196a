package entity

import (
	"time"

	"github.com/google/uuid"
)

// ChatMessage is one turn of a conversation. Metadata holds per-answer
// pipeline details (citations, timings, correlation id) for model turns.
type ChatMessage struct {
	Id            uuid.UUID
	Chat          string
	Role          string
	ChatSessionId uuid.UUID
	Metadata      map[string]interface{}
	CreatedAt     time.Time
	UpdatedAt     *time.Time
	DeletedAt     *time.Time
	IsDeleted     bool
}
