package david

import (
	"context"
	"fmt"
	"strings"

	"github.com/lexcodex/codeanalysis/framework"
	"github.com/lexcodex/codeanalysis/internal/parse"
)

// ObservationStop keeps the model from inventing its own observations.
const ObservationStop = "\nObservation:"

// InvalidFormat is the observation for a response without an action.
const InvalidFormat = "Invalid Format: Missing 'Action:' after 'Thought:'"

// Input carries everything the operating prompt is rendered from.
type Input struct {
	Goal        string
	Prompt      string
	Constraints string
	Tips        string
	WorldState  string
	PwdOutput   string
	LsOutput    string
	Steps       []Step
}

// Decision is one model turn. Action is nil when the response carried no
// "Action:" marker.
type Decision struct {
	Raw    string
	Action *parse.Action
}

// Reasoner asks the model for the next action.
type Reasoner struct {
	Model       framework.LanguageModel
	Tools       *framework.ToolRegistry
	Temperature float64
	MaxTokens   int
}

// Render fills the operating prompt for in.
func (r *Reasoner) Render(in Input) string {
	prompt := in.Prompt
	if prompt == "" {
		prompt = DefaultOperatingPrompt
	}
	var descriptions, names string
	if r.Tools != nil {
		descriptions = r.Tools.Describe()
		names = strings.Join(r.Tools.Names(), ", ")
	}
	return render(prompt, map[string]string{
		SlotTools:       descriptions,
		SlotToolNames:   names,
		SlotConstraints: in.Constraints,
		SlotTips:        in.Tips,
		SlotWorldState:  in.WorldState,
		SlotPwdOutput:   in.PwdOutput,
		SlotLsOutput:    in.LsOutput,
		SlotInput:       in.Goal,
		SlotScratchpad:  Scratchpad(in.Steps),
	})
}

// Decide renders the prompt and parses the model's next action.
func (r *Reasoner) Decide(ctx context.Context, in Input) (Decision, error) {
	if r.Model == nil {
		return Decision{}, fmt.Errorf("reasoner missing language model")
	}
	resp, err := r.Model.Generate(ctx, r.Render(in), &framework.LLMOptions{
		Temperature: r.Temperature,
		MaxTokens:   r.MaxTokens,
		Stop:        []string{ObservationStop},
	})
	if err != nil {
		return Decision{}, fmt.Errorf("decide next action: %w", err)
	}
	raw := resp.Text
	if i := strings.Index(raw, ObservationStop); i >= 0 {
		raw = raw[:i]
	}
	return Decision{Raw: raw, Action: parse.ParseAction(raw)}, nil
}
