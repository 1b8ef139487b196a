package assemble

// Config carries the assembler's tuned constants. The adaptive window
// values were arrived at empirically against production query logs;
// override them through configuration, don't re-derive them.
type Config struct {
	// MinScore drops candidates below an absolute relevance floor before
	// any grouping happens.
	MinScore float64

	// MaxCandidates caps the list considered after the absolute floor.
	MaxCandidates int

	// MaxGroups bounds how many source documents make it into the prompt.
	MaxGroups int

	// Spread classification: scoreRange/bestScore above WideSpread means
	// scores are spread out, above ModerateSpread means moderately so,
	// anything below is treated as indistinguishable.
	WideSpread     float64
	ModerateSpread float64

	// TightWindow/TightCap apply when scores are spread out: keep only
	// chunks within TightWindow of the top score, at most TightCap.
	TightWindow float64
	TightCap    int

	// ModerateWindow/ModerateCap apply for moderate spreads.
	ModerateWindow float64
	ModerateCap    int

	// FlatTopK is the fixed keep count when scores cluster tightly.
	FlatTopK int

	// SafetyFloor discards any chunk scoring below this fraction of the
	// group's best score, independent of the adaptive window.
	SafetyFloor float64

	// GroupCharBudget caps the combined text of a single group.
	GroupCharBudget int

	// MaxContextLength caps the whole rendered context.
	MaxContextLength int
}

// DefaultConfig returns the production assembler configuration.
func DefaultConfig() Config {
	return Config{
		MinScore:         1.0,
		MaxCandidates:    20,
		MaxGroups:        2,
		WideSpread:       0.5,
		ModerateSpread:   0.2,
		TightWindow:      0.30,
		TightCap:         2,
		ModerateWindow:   0.50,
		ModerateCap:      3,
		FlatTopK:         3,
		SafetyFloor:      0.40,
		GroupCharBudget:  4000,
		MaxContextLength: 8000,
	}
}
