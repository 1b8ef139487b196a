package assemble

import (
	"io"
	"log"
	"strings"
	"testing"

	"ai-assistant-be/pkg/store"
)

func newTestAssembler(cfg Config) *Assembler {
	return NewAssembler(cfg, log.New(io.Discard, "", 0))
}

func candidate(id, doc, title, text string, score float64) store.Candidate {
	return store.Candidate{
		ID:          id,
		Text:        text,
		SourceDocID: doc,
		SourceTitle: title,
		RerankScore: score,
	}
}

func TestAssembleAdaptiveSelection(t *testing.T) {
	// One document with spread-out scores and one with a single strong
	// chunk. The tight window keeps the two leaders of the first group
	// and the safety floor drops the weak tail chunk.
	candidates := []store.Candidate{
		candidate("c1", "doc-hr", "Vacation policy", "Vacation requests go through the HR portal.", 9.1),
		candidate("c2", "doc-hr", "Vacation policy", "Approvals are handled by the direct manager.", 8.9),
		candidate("c3", "doc-hr", "Vacation policy", "Unrelated appendix about office plants.", 3.0),
		candidate("c4", "doc-fin", "Finance overview", "Finance handles expense claims.", 7.5),
	}

	result := newTestAssembler(DefaultConfig()).Assemble(candidates, "Кто отвечает за отпуска?", 10)

	if len(result.Sources) != 2 {
		t.Fatalf("got %d source groups, want 2", len(result.Sources))
	}
	if result.Sources[0].DocID != "doc-hr" {
		t.Errorf("first group = %s, want doc-hr", result.Sources[0].DocID)
	}
	if len(result.Sources[0].ChunkIDs) != 2 {
		t.Errorf("first group kept %d chunks, want 2", len(result.Sources[0].ChunkIDs))
	}
	if strings.Contains(result.RenderedText, "office plants") {
		t.Error("weak tail chunk survived the safety floor")
	}
	if len(result.Sources[1].ChunkIDs) != 1 {
		t.Errorf("second group kept %d chunks, want 1", len(result.Sources[1].ChunkIDs))
	}
	if result.Truncated {
		t.Error("Truncated set without any budget drop")
	}
}

func TestAssembleRelevanceFloor(t *testing.T) {
	candidates := []store.Candidate{
		candidate("c1", "doc-a", "Doc A", "Relevant text.", 5.0),
		candidate("c2", "doc-b", "Doc B", "Noise below the floor.", 0.5),
	}

	result := newTestAssembler(DefaultConfig()).Assemble(candidates, "q", 10)

	if len(result.Sources) != 1 {
		t.Fatalf("got %d source groups, want 1", len(result.Sources))
	}
	if strings.Contains(result.RenderedText, "Noise") {
		t.Error("candidate below the relevance floor was rendered")
	}
}

func TestAssembleAccessCeiling(t *testing.T) {
	privileged := candidate("c1", "doc-a", "Doc A", "Restricted content.", 8.0)
	privileged.AccessLevel = 5
	public := candidate("c2", "doc-b", "Doc B", "Public content.", 6.0)

	result := newTestAssembler(DefaultConfig()).Assemble([]store.Candidate{privileged, public}, "q", 2)

	if strings.Contains(result.RenderedText, "Restricted") {
		t.Error("candidate above the access ceiling was rendered")
	}
	if !strings.Contains(result.RenderedText, "Public") {
		t.Error("public candidate missing")
	}
}

func TestAssembleContentDedup(t *testing.T) {
	// The same passage surfaced by both ranking paths must render once.
	candidates := []store.Candidate{
		candidate("c1", "doc-a", "Doc A", "The office closes at 18:00.", 9.0),
		candidate("c2", "doc-a", "Doc A", "  The office closes at 18:00.  ", 8.8),
	}

	result := newTestAssembler(DefaultConfig()).Assemble(candidates, "q", 10)

	if got := strings.Count(result.RenderedText, "closes at 18:00"); got != 1 {
		t.Errorf("duplicate passage rendered %d times, want 1", got)
	}
	if result.Truncated {
		t.Error("dedup drop must not set Truncated")
	}
}

func TestAssembleDedupIdempotent(t *testing.T) {
	candidates := []store.Candidate{
		candidate("c1", "doc-a", "Doc A", "Alpha.", 9.0),
		candidate("c2", "doc-b", "Doc B", "Beta.", 8.0),
	}
	a := newTestAssembler(DefaultConfig())

	first := a.Assemble(candidates, "q", 10)
	second := a.Assemble(candidates, "q", 10)

	if first.RenderedText != second.RenderedText {
		t.Error("assembly is not deterministic over identical input")
	}
}

func TestAssembleBudgetInvariant(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GroupCharBudget = 120
	cfg.MaxContextLength = 200

	long := strings.Repeat("x", 100)
	candidates := []store.Candidate{
		candidate("c1", "doc-a", "Doc A", long, 9.0),
		candidate("c2", "doc-a", "Doc A", long+"y", 8.9),
		candidate("c3", "doc-b", "Doc B", long+"z", 8.0),
	}

	result := newTestAssembler(cfg).Assemble(candidates, "q", 10)

	if len(result.RenderedText) > cfg.MaxContextLength {
		t.Errorf("rendered length %d exceeds budget %d", len(result.RenderedText), cfg.MaxContextLength)
	}
	if !result.Truncated {
		t.Error("budget drop must set Truncated")
	}
}

func TestAssembleMaxGroups(t *testing.T) {
	candidates := []store.Candidate{
		candidate("c1", "doc-a", "Doc A", "Text A.", 9.0),
		candidate("c2", "doc-b", "Doc B", "Text B.", 8.0),
		candidate("c3", "doc-c", "Doc C", "Text C.", 7.0),
	}

	result := newTestAssembler(DefaultConfig()).Assemble(candidates, "q", 10)

	if len(result.Sources) != 2 {
		t.Fatalf("got %d source groups, want 2", len(result.Sources))
	}
	if strings.Contains(result.RenderedText, "Text C.") {
		t.Error("third-ranked document escaped the group cap")
	}
}

func TestAssembleEmptyInput(t *testing.T) {
	result := newTestAssembler(DefaultConfig()).Assemble(nil, "q", 10)

	if result.RenderedText != "" {
		t.Errorf("rendered = %q, want empty", result.RenderedText)
	}
	if len(result.Sources) != 0 {
		t.Errorf("got %d sources, want 0", len(result.Sources))
	}
	if result.Truncated {
		t.Error("empty input must not be Truncated")
	}
}

func TestAssembleSourcesMatchRendered(t *testing.T) {
	candidates := []store.Candidate{
		candidate("c1", "doc-a", "Doc A", "First passage.", 9.0),
		candidate("c2", "doc-b", "Doc B", "Second passage.", 8.0),
	}

	result := newTestAssembler(DefaultConfig()).Assemble(candidates, "q", 10)

	for _, src := range result.Sources {
		if !strings.Contains(result.RenderedText, src.CombinedText) {
			t.Errorf("group %s combined text missing from rendered context", src.DocID)
		}
	}
}
