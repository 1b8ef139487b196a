package stream

// EventType names one outward stream event.
type EventType string

const (
	EventSession EventType = "session"
	EventStatus  EventType = "status"
	EventSources EventType = "sources"
	EventAnswer  EventType = "answer"
	EventMetrics EventType = "metrics"
	EventDebug   EventType = "debug"
	EventError   EventType = "error"
	EventEnd     EventType = "end"
)

// Frame is the wire shape of one event.
type Frame struct {
	Event EventType   `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// Payloads for the typed events. Kept as plain structs so any transport
// (websocket, SSE) can marshal them unchanged.

type SessionPayload struct {
	SessionID string `json:"session_id"`
}

type StatusPayload struct {
	Message string `json:"message"`
	Stage   string `json:"stage"`
}

type SourcesPayload struct {
	Sources       interface{} `json:"sources"`
	TotalFound    int         `json:"total_found"`
	RerankedCount int         `json:"reranked_count"`
}

type AnswerPayload struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}

type MetricsPayload struct {
	Performance interface{} `json:"performance"`
	Debug       interface{} `json:"debug,omitempty"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}
