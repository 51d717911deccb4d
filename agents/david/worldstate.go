package david

import (
	"context"
	"fmt"
	"strings"

	"github.com/lexcodex/codeanalysis/framework"
)

// Synthesizer folds an episode transcript into a new world state.
type Synthesizer struct {
	Model       framework.LanguageModel
	Temperature float64
	MaxTokens   int
}

// Update returns the synthesized world state. An empty response keeps prior.
func (s *Synthesizer) Update(ctx context.Context, goal, prior string, transcript Transcript) (string, error) {
	prompt := render(worldStateTemplate, map[string]string{
		SlotWorldState:      prior,
		"{david_execution}": transcript.String(),
		"{goal}":            goal,
	})
	resp, err := s.Model.Generate(ctx, prompt, &framework.LLMOptions{
		Temperature: s.Temperature,
		MaxTokens:   s.MaxTokens,
	})
	if err != nil {
		return prior, fmt.Errorf("synthesize world state: %w", err)
	}
	next := strings.TrimSpace(resp.Text)
	if next == "" {
		return prior, nil
	}
	return next, nil
}
