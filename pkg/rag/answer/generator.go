package answer

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"ai-assistant-be/pkg/llm"
	"ai-assistant-be/pkg/rag/assemble"
	"ai-assistant-be/pkg/rag/prompt"
)

// ApologyMessage replaces degenerate answers that fall below the
// minimum length after cleanup.
const ApologyMessage = "Sorry, I could not produce a useful answer to that. Please try rephrasing your question."

// sourceHeaderMarker matches the assembler's rendering format; used to
// deduplicate repeated source blocks before prompt insertion.
const sourceHeaderMarker = "--- SOURCE: "

// Config holds the generator tunables.
type Config struct {
	// HistoryLimit keeps only the last K turns in the prompt.
	HistoryLimit int

	// MinAnswerLength is the cleanup floor below which the apology
	// message is substituted.
	MinAnswerLength int

	// Timeout bounds one generation call. Streaming answers run long,
	// so this is the loosest timeout in the pipeline.
	Timeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		HistoryLimit:    6,
		MinAnswerLength: 20,
		Timeout:         90 * time.Second,
	}
}

// Result is the outcome of one generation, with its token and timing
// accounting. Token counts are a character-based approximation; they
// feed metrics only and never gate correctness.
type Result struct {
	Answer       string
	TokensIn     int
	TokensOut    int
	GenerationMs int64
	FirstTokenMs int64
}

// TokenFunc receives incremental answer fragments in strict arrival
// order. The first invocation has first=true and marks time-to-first-token.
type TokenFunc func(fragment string, first bool) error

// Generator produces grounded answers, blocking or streamed.
type Generator struct {
	llmProvider llm.LLMProvider
	cfg         Config
	logger      *log.Logger
}

func NewGenerator(llmProvider llm.LLMProvider, cfg Config, logger *log.Logger) *Generator {
	return &Generator{
		llmProvider: llmProvider,
		cfg:         cfg,
		logger:      logger,
	}
}

// Generate produces the answer in one blocking call.
func (g *Generator) Generate(ctx context.Context, query string, assembled *assemble.AssembledContext, history []llm.Message) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	messages, tokensIn := g.buildMessages(query, assembled, history)

	started := time.Now()
	raw, err := g.llmProvider.Chat(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("answer generation failed: %w", err)
	}

	return g.finish(raw, tokensIn, started, 0), nil
}

// GenerateStream produces the answer incrementally. onToken is invoked
// for every fragment in arrival order; the first call is flagged so the
// caller can record time-to-first-token on its side too.
func (g *Generator) GenerateStream(ctx context.Context, query string, assembled *assemble.AssembledContext, history []llm.Message, onToken TokenFunc) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	messages, tokensIn := g.buildMessages(query, assembled, history)

	started := time.Now()
	var firstTokenMs int64
	first := true

	raw, err := g.llmProvider.ChatStream(ctx, messages, func(fragment string) error {
		if first {
			// Captured before the callback runs so backpressure in the
			// consumer cannot skew the metric.
			firstTokenMs = time.Since(started).Milliseconds()
		}
		tokenErr := onToken(fragment, first)
		first = false
		return tokenErr
	})
	if err != nil {
		return nil, fmt.Errorf("streaming generation failed: %w", err)
	}

	return g.finish(raw, tokensIn, started, firstTokenMs), nil
}

func (g *Generator) finish(raw string, tokensIn int, started time.Time, firstTokenMs int64) *Result {
	cleaned := CleanAnswer(raw)
	if utf8.RuneCountInString(cleaned) < g.cfg.MinAnswerLength {
		g.logger.Printf("[GENERATE] Answer below minimum length (%d runes), substituting apology",
			utf8.RuneCountInString(cleaned))
		cleaned = ApologyMessage
	}

	return &Result{
		Answer:       cleaned,
		TokensIn:     tokensIn,
		TokensOut:    approxTokens(cleaned),
		GenerationMs: time.Since(started).Milliseconds(),
		FirstTokenMs: firstTokenMs,
	}
}

// buildMessages trims history to the last K turns, deduplicates source
// blocks in the context, and appends the grounded prompt as the final
// user message. Returns the messages and the approximate input tokens.
func (g *Generator) buildMessages(query string, assembled *assemble.AssembledContext, history []llm.Message) ([]llm.Message, int) {
	trimmed := history
	if len(trimmed) > g.cfg.HistoryLimit {
		trimmed = trimmed[len(trimmed)-g.cfg.HistoryLimit:]
	}

	contextText := ""
	if assembled != nil {
		contextText = dedupeSourceBlocks(assembled.RenderedText)
	}

	promptText := prompt.NewGroundedBuilder(query, contextText).Build()

	messages := make([]llm.Message, 0, len(trimmed)+1)
	messages = append(messages, trimmed...)
	messages = append(messages, llm.Message{Role: "user", Content: promptText})

	tokensIn := approxTokens(promptText)
	for _, m := range trimmed {
		tokensIn += approxTokens(m.Content)
	}

	return messages, tokensIn
}

// dedupeSourceBlocks drops repeated source blocks from the rendered
// context. The assembler already dedupes chunk content; this guards the
// prompt when contexts get concatenated upstream.
func dedupeSourceBlocks(rendered string) string {
	if !strings.Contains(rendered, sourceHeaderMarker) {
		return rendered
	}

	blocks := strings.Split(rendered, sourceHeaderMarker)
	seen := make(map[string]bool)
	var out strings.Builder

	// blocks[0] is whatever precedes the first header (usually empty).
	out.WriteString(blocks[0])
	for _, block := range blocks[1:] {
		key := strings.TrimSpace(block)
		if seen[key] {
			continue
		}
		seen[key] = true
		out.WriteString(sourceHeaderMarker)
		out.WriteString(block)
	}

	return out.String()
}

// approxTokens estimates token count from character length. Good enough
// for metrics when no exact tokenizer is available.
func approxTokens(s string) int {
	return (utf8.RuneCountInString(s) + 3) / 4
}
