package history

import (
	"ai-assistant-be/pkg/llm"
)

// Turn is one persisted exchange fragment as loaded from storage.
type Turn struct {
	Role    string
	Content string
}

// ToMessages converts persisted turns, fetched most-recent-first, into
// chronological chat messages for the model.
func ToMessages(turns []Turn) []llm.Message {
	messages := make([]llm.Message, 0, len(turns))
	for i := len(turns) - 1; i >= 0; i-- {
		messages = append(messages, llm.Message{
			Role:    turns[i].Role,
			Content: turns[i].Content,
		})
	}
	return messages
}

// Tail keeps only the last limit messages of a chronological slice.
func Tail(messages []llm.Message, limit int) []llm.Message {
	if limit <= 0 || len(messages) <= limit {
		return messages
	}
	return messages[len(messages)-limit:]
}
