package david

import (
	"context"
	"fmt"

	"github.com/lexcodex/codeanalysis/framework"
	"github.com/lexcodex/codeanalysis/internal/parse"
)

// Revision is the constraints and tips for the next episode.
type Revision struct {
	Constraints string
	Tips        string
}

// Reviser asks the model for an improved constraint and tip.
type Reviser struct {
	Model       framework.LanguageModel
	Temperature float64
	MaxTokens   int
}

// Revise renders the meta prompt. A value missing from the response carries
// the current one forward.
func (r *Reviser) Revise(ctx context.Context, goal, worldState, priorPrompt string, transcript Transcript, current Revision) (Revision, error) {
	prompt := render(metaTemplate, map[string]string{
		"{goal}":                       goal,
		SlotWorldState:                 worldState,
		"{david_instantiation_prompt}": priorPrompt,
		"{david_execution}":            transcript.String(),
	})
	resp, err := r.Model.Generate(ctx, prompt, &framework.LLMOptions{
		Temperature: r.Temperature,
		MaxTokens:   r.MaxTokens,
	})
	if err != nil {
		return current, fmt.Errorf("revise prompt: %w", err)
	}
	next := current
	constraint, tip := parse.ExtractRevision(resp.Text)
	if constraint != nil {
		next.Constraints = *constraint
	}
	if tip != nil {
		next.Tips = *tip
	}
	return next, nil
}
