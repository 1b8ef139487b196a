package classify

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"ai-assistant-be/pkg/llm"
)

type stubProvider struct {
	response string
	err      error
}

func (s *stubProvider) Chat(ctx context.Context, history []llm.Message, options ...llm.Option) (string, error) {
	return s.response, s.err
}

func (s *stubProvider) ChatStream(ctx context.Context, history []llm.Message, onToken llm.TokenFunc, options ...llm.Option) (string, error) {
	return s.response, s.err
}

func (s *stubProvider) Generate(ctx context.Context, prompt string, options ...llm.Option) (string, error) {
	return s.response, s.err
}

func newTestClassifier(provider *stubProvider) *Classifier {
	return NewClassifier(provider, 0, log.New(io.Discard, "", 0))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name           string
		response       string
		err            error
		wantKind       Kind
		wantConfidence float64
		wantCanned     string
	}{
		{
			name:           "knowledge query",
			response:       `{"type": "RAG", "confidence": 0.92}`,
			wantKind:       KindKnowledge,
			wantConfidence: 0.92,
		},
		{
			name:           "calendar command",
			response:       `{"type": "CALENDAR", "confidence": 0.88}`,
			wantKind:       KindCalendar,
			wantConfidence: 0.88,
		},
		{
			name:           "trivial with canned reply",
			response:       `{"type": "SIMPLE", "confidence": 0.99, "response": "You're welcome!"}`,
			wantKind:       KindTrivial,
			wantConfidence: 0.99,
			wantCanned:     "You're welcome!",
		},
		{
			name:           "json wrapped in prose",
			response:       "Sure, here is my classification:\n```json\n{\"type\": \"RAG\", \"confidence\": 0.7}\n```\nHope that helps.",
			wantKind:       KindKnowledge,
			wantConfidence: 0.7,
		},
		{
			name:           "lowercase type accepted",
			response:       `{"type": "rag", "confidence": 0.6}`,
			wantKind:       KindKnowledge,
			wantConfidence: 0.6,
		},
		{
			name:           "provider error fails open",
			err:            errors.New("connection refused"),
			wantKind:       KindKnowledge,
			wantConfidence: fallbackConfidence,
		},
		{
			name:           "no json fails open",
			response:       "I think this is a knowledge question.",
			wantKind:       KindKnowledge,
			wantConfidence: fallbackConfidence,
		},
		{
			name:           "unknown type fails open",
			response:       `{"type": "BANANA", "confidence": 0.9}`,
			wantKind:       KindKnowledge,
			wantConfidence: fallbackConfidence,
		},
		{
			name:           "confidence out of range fails open",
			response:       `{"type": "RAG", "confidence": 7.5}`,
			wantKind:       KindKnowledge,
			wantConfidence: fallbackConfidence,
		},
		{
			name:           "malformed json fails open",
			response:       `{"type": "RAG", "confidence":`,
			wantKind:       KindKnowledge,
			wantConfidence: fallbackConfidence,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClassifier(&stubProvider{response: tt.response, err: tt.err})
			result := c.Classify(context.Background(), "query", nil)

			if result.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s", result.Kind, tt.wantKind)
			}
			if result.Confidence != tt.wantConfidence {
				t.Errorf("Confidence = %v, want %v", result.Confidence, tt.wantConfidence)
			}
			if result.CannedResponse != tt.wantCanned {
				t.Errorf("CannedResponse = %q, want %q", result.CannedResponse, tt.wantCanned)
			}
		})
	}
}

func TestClassifyFallbackConfidenceBounded(t *testing.T) {
	// A fail-open result must never look like a confident decision.
	c := newTestClassifier(&stubProvider{err: errors.New("down")})
	result := c.Classify(context.Background(), "query", nil)
	if result.Confidence > 0.5 {
		t.Errorf("fallback confidence %v exceeds 0.5", result.Confidence)
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "bare object",
			input:    `{"a": 1}`,
			expected: `{"a": 1}`,
		},
		{
			name:     "object in prose",
			input:    `The result is {"a": 1} as requested`,
			expected: `{"a": 1}`,
		},
		{
			name:     "nested objects balanced",
			input:    `{"a": {"b": 2}} trailing`,
			expected: `{"a": {"b": 2}}`,
		},
		{
			name:     "braces inside strings ignored",
			input:    `{"a": "curly } brace"} tail`,
			expected: `{"a": "curly } brace"}`,
		},
		{
			name:     "escaped quotes inside strings",
			input:    `{"a": "say \"}\" loud"}`,
			expected: `{"a": "say \"}\" loud"}`,
		},
		{
			name:     "no object",
			input:    "plain text only",
			expected: "",
		},
		{
			name:     "unbalanced object",
			input:    `{"a": 1`,
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractJSON(tt.input)
			if got != tt.expected {
				t.Errorf("extractJSON = %q, want %q", got, tt.expected)
			}
		})
	}
}
