package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"ai-assistant-be/pkg/llm"
)

// Kind is the resolved request category.
type Kind string

const (
	KindCalendar  Kind = "CALENDAR"
	KindKnowledge Kind = "KNOWLEDGE"
	KindTrivial   Kind = "TRIVIAL"
)

// Wire-level type names the model is asked to emit. "RAG" maps to
// KindKnowledge in this package's vocabulary.
const (
	wireCalendar = "CALENDAR"
	wireRAG      = "RAG"
	wireSimple   = "SIMPLE"
)

// fallbackConfidence is what a failed classification carries. It must
// stay at or below 0.5 so callers can tell a real decision from a
// fail-open default.
const fallbackConfidence = 0.3

// Result is the outcome of one classification. CannedResponse is only
// set for TRIVIAL turns, where the model already produced the reply.
type Result struct {
	Kind           Kind
	Confidence     float64
	CannedResponse string
}

// Classifier decides whether a turn is a calendar command, a trivial
// conversational reply, or a knowledge query needing retrieval.
//
// Any failure (call error, timeout, unparseable reply) fails open to
// KNOWLEDGE: misclassifying a knowledge query as trivial silently drops
// information, while the reverse only costs latency.
type Classifier struct {
	llmProvider llm.LLMProvider
	timeout     time.Duration
	logger      *log.Logger
}

func NewClassifier(llmProvider llm.LLMProvider, timeout time.Duration, logger *log.Logger) *Classifier {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Classifier{
		llmProvider: llmProvider,
		timeout:     timeout,
		logger:      logger,
	}
}

// Classify resolves the request kind from the utterance and recent turns.
// It never returns an error: the fallback result is the error path.
func (c *Classifier) Classify(ctx context.Context, utterance string, history []llm.Message) *Result {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	prompt := c.buildPrompt(utterance, history)

	response, err := c.llmProvider.Generate(ctx, prompt, llm.WithTemperature(0.0))
	if err != nil {
		c.logger.Printf("[CLASSIFY] Call failed, failing open to KNOWLEDGE: %v", err)
		return fallbackResult()
	}

	result, err := parseClassification(response)
	if err != nil {
		c.logger.Printf("[CLASSIFY] Parsing failed, failing open to KNOWLEDGE: %v", err)
		return fallbackResult()
	}

	c.logger.Printf("[CLASSIFY] Resolved: %s (Confidence: %.2f)", result.Kind, result.Confidence)
	return result
}

func (c *Classifier) buildPrompt(utterance string, history []llm.Message) string {
	var prompt strings.Builder

	prompt.WriteString("<system>\n")
	prompt.WriteString("You are a request classifier for a corporate knowledge assistant.\n")
	prompt.WriteString("You do NOT answer questions. You only classify the user's message.\n")
	prompt.WriteString("</system>\n\n")

	if len(history) > 0 {
		prompt.WriteString("<recent_turns>\n")
		start := len(history) - 4
		if start < 0 {
			start = 0
		}
		for _, msg := range history[start:] {
			prompt.WriteString(fmt.Sprintf("%s: %s\n", msg.Role, msg.Content))
		}
		prompt.WriteString("</recent_turns>\n\n")
	}

	prompt.WriteString("<user_message>\n")
	prompt.WriteString(utterance)
	prompt.WriteString("\n</user_message>\n\n")

	prompt.WriteString("<type_definitions>\n")
	prompt.WriteString("CALENDAR: The user wants to schedule, move, or cancel a meeting or check availability.\n")
	prompt.WriteString("RAG: The user asks something that requires looking up company documents or knowledge.\n")
	prompt.WriteString("SIMPLE: Small talk, thanks, greetings - anything answerable without any lookup.\n")
	prompt.WriteString("  For SIMPLE, also produce the short reply itself in the \"response\" field.\n")
	prompt.WriteString("When in doubt between RAG and SIMPLE, choose RAG.\n")
	prompt.WriteString("</type_definitions>\n\n")

	prompt.WriteString("<output_format>\n")
	prompt.WriteString("Respond with ONLY valid JSON:\n")
	prompt.WriteString("{\n")
	prompt.WriteString("  \"type\": \"CALENDAR|RAG|SIMPLE\",\n")
	prompt.WriteString("  \"confidence\": 0.95,\n")
	prompt.WriteString("  \"response\": \"reply text, only for SIMPLE\"\n")
	prompt.WriteString("}\n")
	prompt.WriteString("</output_format>")

	return prompt.String()
}

type wireClassification struct {
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
	Response   string  `json:"response"`
}

func parseClassification(response string) (*Result, error) {
	jsonContent := extractJSON(response)
	if jsonContent == "" {
		return nil, fmt.Errorf("no JSON object found in response")
	}

	var wire wireClassification
	if err := json.Unmarshal([]byte(jsonContent), &wire); err != nil {
		return nil, fmt.Errorf("JSON unmarshal failed: %w", err)
	}

	var kind Kind
	switch strings.ToUpper(strings.TrimSpace(wire.Type)) {
	case wireCalendar:
		kind = KindCalendar
	case wireRAG:
		kind = KindKnowledge
	case wireSimple:
		kind = KindTrivial
	default:
		return nil, fmt.Errorf("unknown classification type %q", wire.Type)
	}

	confidence := wire.Confidence
	if confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("confidence %v out of range", wire.Confidence)
	}

	return &Result{
		Kind:           kind,
		Confidence:     confidence,
		CannedResponse: wire.Response,
	}, nil
}

func fallbackResult() *Result {
	return &Result{
		Kind:       KindKnowledge,
		Confidence: fallbackConfidence,
	}
}

// extractJSON returns the first balanced JSON object in the reply.
// Models wrap their JSON in prose or code fences often enough that a
// plain Unmarshal of the whole reply is useless.
func extractJSON(response string) string {
	start := strings.Index(response, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(response); i++ {
		ch := response[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return response[start : i+1]
				}
			}
		}
	}
	return ""
}
