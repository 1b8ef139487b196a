package answer

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"

	"ai-assistant-be/pkg/llm"
	"ai-assistant-be/pkg/rag/assemble"
)

// scriptedProvider replays canned fragments and records the message
// history it was called with.
type scriptedProvider struct {
	fragments []string
	err       error

	gotHistory []llm.Message
}

func (s *scriptedProvider) full() string {
	return strings.Join(s.fragments, "")
}

func (s *scriptedProvider) Chat(ctx context.Context, history []llm.Message, options ...llm.Option) (string, error) {
	s.gotHistory = history
	return s.full(), s.err
}

func (s *scriptedProvider) ChatStream(ctx context.Context, history []llm.Message, onToken llm.TokenFunc, options ...llm.Option) (string, error) {
	s.gotHistory = history
	if s.err != nil {
		return "", s.err
	}
	for _, fragment := range s.fragments {
		if err := onToken(fragment); err != nil {
			return "", err
		}
	}
	return s.full(), nil
}

func (s *scriptedProvider) Generate(ctx context.Context, prompt string, options ...llm.Option) (string, error) {
	return s.full(), s.err
}

func newTestGenerator(provider llm.LLMProvider) *Generator {
	return NewGenerator(provider, DefaultConfig(), log.New(io.Discard, "", 0))
}

func testContext() *assemble.AssembledContext {
	return &assemble.AssembledContext{
		RenderedText: "--- SOURCE: Handbook ---\nVacations are approved by the manager.\n--- END SOURCE ---\n\n",
	}
}

func TestGenerateCleansArtifacts(t *testing.T) {
	provider := &scriptedProvider{fragments: []string{
		"Assistant: Vacations are approved by the direct manager, per the handbook.",
	}}

	result, err := newTestGenerator(provider).Generate(context.Background(), "who approves vacations", testContext(), nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if strings.HasPrefix(result.Answer, "Assistant:") {
		t.Errorf("role header not stripped: %q", result.Answer)
	}
	if !strings.Contains(result.Answer, "direct manager") {
		t.Errorf("answer body lost in cleanup: %q", result.Answer)
	}
	if result.TokensIn == 0 || result.TokensOut == 0 {
		t.Errorf("token accounting missing: in=%d out=%d", result.TokensIn, result.TokensOut)
	}
}

func TestGenerateSubstitutesApology(t *testing.T) {
	provider := &scriptedProvider{fragments: []string{"Ok."}}

	result, err := newTestGenerator(provider).Generate(context.Background(), "q", testContext(), nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if result.Answer != ApologyMessage {
		t.Errorf("short answer not replaced by apology: %q", result.Answer)
	}
}

func TestGenerateTrimsHistory(t *testing.T) {
	provider := &scriptedProvider{fragments: []string{
		"A sufficiently long answer that clears the minimum length floor.",
	}}

	var history []llm.Message
	for i := 0; i < 10; i++ {
		history = append(history, llm.Message{Role: "user", Content: "turn"})
	}

	if _, err := newTestGenerator(provider).Generate(context.Background(), "q", testContext(), history); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	// Last K turns plus the grounded prompt message.
	want := DefaultConfig().HistoryLimit + 1
	if len(provider.gotHistory) != want {
		t.Errorf("got %d messages, want %d", len(provider.gotHistory), want)
	}
}

func TestGenerateStreamOrderAndFirstFlag(t *testing.T) {
	provider := &scriptedProvider{fragments: []string{"The answer ", "arrives in ", "three pieces, long enough."}}

	var gotFragments []string
	var firstFlags []bool
	result, err := newTestGenerator(provider).GenerateStream(context.Background(), "q", testContext(), nil,
		func(fragment string, first bool) error {
			gotFragments = append(gotFragments, fragment)
			firstFlags = append(firstFlags, first)
			return nil
		})
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}

	if len(gotFragments) != 3 {
		t.Fatalf("got %d fragments, want 3", len(gotFragments))
	}
	for i, fragment := range provider.fragments {
		if gotFragments[i] != fragment {
			t.Errorf("fragment %d = %q, want %q", i, gotFragments[i], fragment)
		}
	}
	if !firstFlags[0] || firstFlags[1] || firstFlags[2] {
		t.Errorf("first flags = %v, want [true false false]", firstFlags)
	}
	if result.Answer != "The answer arrives in three pieces, long enough." {
		t.Errorf("final answer = %q", result.Answer)
	}
	if result.FirstTokenMs < 0 {
		t.Errorf("negative first token time: %d", result.FirstTokenMs)
	}
}

func TestGenerateStreamConsumerAbort(t *testing.T) {
	provider := &scriptedProvider{fragments: []string{"one", "two", "three"}}
	abort := errors.New("client gone")

	calls := 0
	_, err := newTestGenerator(provider).GenerateStream(context.Background(), "q", testContext(), nil,
		func(fragment string, first bool) error {
			calls++
			if calls == 2 {
				return abort
			}
			return nil
		})

	if err == nil {
		t.Fatal("expected error after consumer abort")
	}
	if calls != 2 {
		t.Errorf("stream continued after abort: %d calls", calls)
	}
}

func TestCleanAnswer(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "role header",
			input:    "Assistant: the actual answer",
			expected: "the actual answer",
		},
		{
			name:     "russian role header",
			input:    "Ответ: по регламенту отпуск согласует руководитель",
			expected: "по регламенту отпуск согласует руководитель",
		},
		{
			name:     "greeting prefix",
			input:    "Hello, the fiscal year ends in March.",
			expected: "the fiscal year ends in March.",
		},
		{
			name:     "code fence wrapper",
			input:    "```\nplain answer\n```",
			expected: "plain answer",
		},
		{
			name:     "clean text untouched",
			input:    "Already clean.",
			expected: "Already clean.",
		},
		{
			name:     "interior content preserved",
			input:    "The assistant: role is documented here.",
			expected: "The assistant: role is documented here.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CleanAnswer(tt.input)
			if got != tt.expected {
				t.Errorf("CleanAnswer = %q, want %q", got, tt.expected)
			}
		})
	}
}
