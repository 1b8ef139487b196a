package answer

import (
	"regexp"
	"strings"
)

// Models occasionally echo role headers or open with greeting
// boilerplate despite the prompt telling them not to. Strip the known
// artifacts before the answer leaves the pipeline.
var (
	roleHeaderPattern = regexp.MustCompile(`(?im)^(assistant|ai|bot|model|answer|ассистент|ответ)\s*:\s*`)
	greetingPattern   = regexp.MustCompile(`(?i)^(hello|hi there|hi|greetings|здравствуйте|привет)[,.!]?\s+`)
	fencePattern      = regexp.MustCompile("^```[a-z]*\n?|\n?```$")
)

// CleanAnswer strips model artifacts from the final text. It never
// touches the body of the answer, only known prefix/suffix noise.
func CleanAnswer(raw string) string {
	cleaned := strings.TrimSpace(raw)
	cleaned = fencePattern.ReplaceAllString(cleaned, "")
	cleaned = roleHeaderPattern.ReplaceAllString(cleaned, "")
	cleaned = greetingPattern.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned)
}
