package prompt

import (
	"strings"
)

// GroundedBuilder renders the single instruction-bearing prompt for
// answer generation. The context text arrives already bounded and
// deduplicated by the assembler; the builder only frames it.
type GroundedBuilder struct {
	query       string
	contextText string
}

func NewGroundedBuilder(query, contextText string) *GroundedBuilder {
	return &GroundedBuilder{
		query:       query,
		contextText: contextText,
	}
}

// Build assembles the grounded prompt: reference material, task framing,
// grounding rules, then the user question.
func (b *GroundedBuilder) Build() string {
	var prompt strings.Builder

	b.writeReferenceMaterial(&prompt)
	b.writeTask(&prompt)
	b.writeGroundingRules(&prompt)
	b.writeUserQuery(&prompt)

	return prompt.String()
}

func (b *GroundedBuilder) writeReferenceMaterial(prompt *strings.Builder) {
	if b.contextText == "" {
		return
	}
	prompt.WriteString("<reference_material>\n")
	prompt.WriteString("This is the ONLY data source. Do NOT use outside knowledge.\n")
	prompt.WriteString("Each source is separated by headers. Treat them as distinct documents.\n\n")
	prompt.WriteString(b.contextText)
	prompt.WriteString("\n</reference_material>\n\n")
}

func (b *GroundedBuilder) writeTask(prompt *strings.Builder) {
	prompt.WriteString("<task>\n")
	prompt.WriteString("You are a corporate knowledge assistant answering employee questions from internal documents.\n")
	prompt.WriteString("Answer in the same language the user asked in.\n")
	prompt.WriteString("</task>\n\n")
}

func (b *GroundedBuilder) writeGroundingRules(prompt *strings.Builder) {
	prompt.WriteString("<grounding_rules>\n")
	prompt.WriteString("1. Answer ONLY using the text in <reference_material>.\n")
	prompt.WriteString("2. If the material does not answer the question, say so explicitly - do not guess.\n")
	prompt.WriteString("3. Be complete: extract all relevant details from all provided sources.\n")
	prompt.WriteString("4. Do NOT invent document names, dates, or numbers that are not in the material.\n")
	prompt.WriteString("5. Answer directly without greeting boilerplate or role prefixes.\n")
	prompt.WriteString("</grounding_rules>\n\n")
}

func (b *GroundedBuilder) writeUserQuery(prompt *strings.Builder) {
	prompt.WriteString("<user_question>\n")
	prompt.WriteString(b.query)
	prompt.WriteString("\n</user_question>\n\n")
	prompt.WriteString("Answer:")
}
