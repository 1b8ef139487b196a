package assemble

import (
	"fmt"
	"log"
	"sort"
	"strings"

	"ai-assistant-be/pkg/store"
)

// SourceGroup is the citation view of one source document: which chunks
// were used, at what best score, and the exact text that entered the
// rendered context.
type SourceGroup struct {
	DocID        string   `json:"doc_id"`
	DocTitle     string   `json:"doc_title"`
	ChunkIDs     []string `json:"chunk_ids"`
	BestScore    float64  `json:"best_score"`
	CombinedText string   `json:"combined_text"`
}

// AssembledContext is the bounded, deduplicated context for one query.
// CombinedText of every source group is a substring of RenderedText, so
// the citation view and the prompt view never drift apart.
type AssembledContext struct {
	RenderedText string
	Sources      []SourceGroup
	Truncated    bool
}

// Assembler turns raw ranked candidates into a token-bounded context.
type Assembler struct {
	cfg    Config
	logger *log.Logger
}

func NewAssembler(cfg Config, logger *log.Logger) *Assembler {
	return &Assembler{cfg: cfg, logger: logger}
}

type group struct {
	docID    string
	docTitle string
	best     float64
	chunks   []store.Candidate
}

// Assemble runs the full pipeline: absolute floor, cap, group by source
// document, top-N groups, adaptive chunk selection, budgeted rendering
// with content-equality dedup.
func (a *Assembler) Assemble(candidates []store.Candidate, query string, accessCeiling int) *AssembledContext {
	// 1. Absolute relevance floor, plus the access ceiling as a backstop
	// in case the worker's own filter misbehaved.
	kept := make([]store.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Score() < a.cfg.MinScore {
			continue
		}
		if c.AccessLevel > accessCeiling {
			a.logger.Printf("[ASSEMBLE] Dropping candidate %s: access level %d above ceiling %d",
				c.ID, c.AccessLevel, accessCeiling)
			continue
		}
		kept = append(kept, c)
	}

	// 2. Cap the candidate list.
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score() > kept[j].Score() })
	if len(kept) > a.cfg.MaxCandidates {
		kept = kept[:a.cfg.MaxCandidates]
	}

	// 3. Group by source document.
	byDoc := make(map[string]*group)
	var order []string
	for _, c := range kept {
		g, ok := byDoc[c.SourceDocID]
		if !ok {
			g = &group{docID: c.SourceDocID, docTitle: c.SourceTitle}
			byDoc[c.SourceDocID] = g
			order = append(order, c.SourceDocID)
		}
		g.chunks = append(g.chunks, c)
		if c.Score() > g.best {
			g.best = c.Score()
		}
	}

	// 4. Sort groups by best score, keep the top N.
	groups := make([]*group, 0, len(order))
	for _, id := range order {
		groups = append(groups, byDoc[id])
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].best > groups[j].best })
	if len(groups) > a.cfg.MaxGroups {
		groups = groups[:a.cfg.MaxGroups]
	}

	// 5. Adaptive chunk selection per surviving group.
	for _, g := range groups {
		g.chunks = a.selectChunks(g)
	}

	// 6+7. Render with budgets, deduplicating by content equality.
	return a.render(groups, query)
}

// selectChunks applies the two-tier adaptive policy. A fixed threshold
// either over-includes noisy tail chunks when scores are spread out, or
// under-includes good chunks when they cluster; the window adapts to the
// per-group score range, with a safety floor underneath either way.
func (a *Assembler) selectChunks(g *group) []store.Candidate {
	chunks := make([]store.Candidate, len(g.chunks))
	copy(chunks, g.chunks)
	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].Score() > chunks[j].Score() })

	best := chunks[0].Score()
	worst := chunks[len(chunks)-1].Score()
	scoreRange := best - worst

	window := 0.0
	keep := a.cfg.FlatTopK
	spread := 0.0
	if best > 0 {
		spread = scoreRange / best
	}
	switch {
	case spread > a.cfg.WideSpread:
		window = a.cfg.TightWindow
		keep = a.cfg.TightCap
	case spread > a.cfg.ModerateSpread:
		window = a.cfg.ModerateWindow
		keep = a.cfg.ModerateCap
	default:
		// Scores are indistinguishable; a window is meaningless, keep a
		// fixed top-K.
		window = 1.0
	}

	floor := best * a.cfg.SafetyFloor
	windowFloor := best * (1.0 - window)

	selected := make([]store.Candidate, 0, keep)
	for _, c := range chunks {
		if len(selected) >= keep {
			break
		}
		if c.Score() < windowFloor || c.Score() < floor {
			break
		}
		selected = append(selected, c)
	}

	a.logger.Printf("[ASSEMBLE] Group %q: %d/%d chunks kept (spread=%.2f, window=%.2f, floor=%.2f)",
		g.docTitle, len(selected), len(chunks), spread, window, floor)

	return selected
}

func (a *Assembler) render(groups []*group, query string) *AssembledContext {
	var rendered strings.Builder
	seen := make(map[string]bool)
	truncated := false
	var sources []SourceGroup

	for _, g := range groups {
		header := fmt.Sprintf("--- SOURCE: %s ---\n", g.docTitle)
		const footer = "\n--- END SOURCE ---\n\n"

		var combined strings.Builder
		var chunkIDs []string

		for _, c := range g.chunks {
			key := strings.TrimSpace(c.Text)
			if key == "" || seen[key] {
				// Same passage returned twice by different ranking paths.
				continue
			}

			sep := ""
			if combined.Len() > 0 {
				sep = "\n\n"
			}
			if combined.Len()+len(sep)+len(c.Text) > a.cfg.GroupCharBudget {
				truncated = true
				break
			}
			if rendered.Len()+len(header)+combined.Len()+len(sep)+len(c.Text)+len(footer) > a.cfg.MaxContextLength {
				truncated = true
				break
			}

			combined.WriteString(sep)
			combined.WriteString(c.Text)
			chunkIDs = append(chunkIDs, c.ID)
			seen[key] = true
		}

		if combined.Len() == 0 {
			continue
		}

		rendered.WriteString(header)
		rendered.WriteString(combined.String())
		rendered.WriteString(footer)

		sources = append(sources, SourceGroup{
			DocID:        g.docID,
			DocTitle:     g.docTitle,
			ChunkIDs:     chunkIDs,
			BestScore:    g.best,
			CombinedText: combined.String(),
		})
	}

	if truncated {
		a.logger.Printf("[ASSEMBLE] Context truncated for query %q (budget %d)",
			truncate(query, 50), a.cfg.MaxContextLength)
	}

	return &AssembledContext{
		RenderedText: rendered.String(),
		Sources:      sources,
		Truncated:    truncated,
	}
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
