package david

import (
	"strings"

	"github.com/lexcodex/codeanalysis/internal/parse"
)

// Transcript is the ordered text of one episode: raw model responses
// interleaved with the observations fed back to the model.
type Transcript []string

func (t Transcript) String() string { return strings.Join(t, "") }

// Step is one completed think/act turn.
type Step struct {
	// Thought is the raw model response that produced the action.
	Thought     string
	// Action is nil when the response carried no action.
	Action      *parse.Action
	Observation string
}

// Scratchpad renders completed steps the way the operating prompt expects
// them after "Goal:".
func Scratchpad(steps []Step) string {
	var b strings.Builder
	for _, step := range steps {
		b.WriteString(step.Thought)
		b.WriteString(observationLine(step.Observation))
	}
	return b.String()
}

func observationLine(observation string) string {
	return "\nObservation: " + observation + "\nThought: "
}
