// Package parse is the best-effort text contract with the language model.
// The model is asked to answer in a loose textual format; everything here
// extracts structure from that text without ever failing hard. Callers treat
// a missing match as "nothing to do" rather than an error.
package parse

import (
	"regexp"
	"strings"
)

// AnswerAction is the terminal action name that ends an episode.
const AnswerAction = "ANSWER"

// RetryAction asks the browser loop to decide again without acting.
const RetryAction = "retry"

const (
	actionMarker      = "Action: "
	actionInputPrefix = "Action Input:"
)

// Action is one discrete decision read from a model response.
type Action struct {
	Name string
	// Args holds the split argument list. ANSWER always has exactly one.
	Args []string
	// Raw is the argument block before splitting, for tools whose single
	// argument may itself contain semicolons.
	Raw string
}

// Arg returns the i-th argument or "".
func (a *Action) Arg(i int) string {
	if a == nil || i < 0 || i >= len(a.Args) {
		return ""
	}
	return a.Args[i]
}

// IsAnswer reports whether the action is terminal.
func (a *Action) IsAnswer() bool {
	return a != nil && a.Name == AnswerAction
}

// ParseAction extracts the trailing "Action: NAME args" block from text.
// It returns nil when no marker is present.
func ParseAction(text string) *Action {
	idx := lastMarker(text)
	if idx < 0 {
		return nil
	}
	block := strings.TrimSpace(text[idx+len(actionMarker):])
	if block == "" {
		return nil
	}
	name, rest := splitFirstField(block)
	rest = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rest), actionInputPrefix))
	// "ANSWER; text" and "Bash; ls" separate the name with a semicolon.
	rest = strings.TrimSpace(strings.TrimPrefix(rest, ";"))
	action := &Action{Name: name, Raw: rest}
	if name == AnswerAction {
		action.Args = []string{rest}
		return action
	}
	if rest == "" {
		return action
	}
	for _, piece := range strings.Split(rest, ";") {
		action.Args = append(action.Args, strings.Trim(strings.TrimSpace(piece), "[]"))
	}
	return action
}

// lastMarker prefers the last marker that starts a line, so an "Action: "
// quoted inside an argument does not hide the real one.
func lastMarker(text string) int {
	best := -1
	for offset := 0; ; {
		i := strings.Index(text[offset:], actionMarker)
		if i < 0 {
			break
		}
		pos := offset + i
		lineStart := strings.LastIndex(text[:pos], "\n") + 1
		if strings.TrimSpace(text[lineStart:pos]) == "" {
			best = pos
		}
		offset = pos + len(actionMarker)
	}
	if best >= 0 {
		return best
	}
	return strings.LastIndex(text, actionMarker)
}

// splitFirstField cuts the name at the first whitespace or semicolon. A
// semicolon stays at the head of the remainder.
func splitFirstField(block string) (string, string) {
	i := strings.IndexFunc(block, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == ';'
	})
	if i < 0 {
		return block, ""
	}
	if block[i] == ';' {
		return block[:i], block[i:]
	}
	return block[:i], block[i+1:]
}

var (
	constraintsPattern = regexp.MustCompile(`Constraints: ([^\n]*)`)
	tipsPattern        = regexp.MustCompile(`Tips: ([^\n]*)`)
)

// ExtractRevision pulls the new constraint and tip out of a meta-revision
// response. A missing line yields nil for that value.
func ExtractRevision(text string) (constraint, tip *string) {
	return extractLine(constraintsPattern, text, "Tips:"), extractLine(tipsPattern, text, "Constraints:")
}

func extractLine(re *regexp.Regexp, text, other string) *string {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	value := m[1]
	if i := strings.Index(value, other); i >= 0 {
		value = value[:i]
	}
	value = strings.TrimSpace(value)
	return &value
}

// ExtractResponse returns the text between <response> and </response>, or
// the whole trimmed text when the tags are absent.
func ExtractResponse(text string) string {
	start := strings.Index(text, "<response>")
	if start < 0 {
		return strings.TrimSpace(text)
	}
	body := text[start+len("<response>"):]
	if end := strings.Index(body, "</response>"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

// IsAffirmative implements the evaluator gate: the lowercased response
// contains "yes".
func IsAffirmative(text string) bool {
	return strings.Contains(strings.ToLower(strings.TrimSpace(text)), "yes")
}

// SplitStatements splits a graph query argument block into statements on
// semicolons, dropping fragments too short to be a query.
func SplitStatements(block string) []string {
	var out []string
	for _, s := range strings.Split(block, ";") {
		s = strings.TrimSpace(s)
		if len(s) <= 1 {
			continue
		}
		out = append(out, s)
	}
	return out
}
