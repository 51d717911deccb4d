package david

import (
	"context"
	"fmt"

	"github.com/lexcodex/codeanalysis/framework"
	"github.com/lexcodex/codeanalysis/internal/parse"
)

// Evaluator judges whether a transcript accomplished the goal.
type Evaluator struct {
	Model     framework.LanguageModel
	MaxTokens int
}

// Evaluate returns true when the model's verdict contains "yes".
func (e *Evaluator) Evaluate(ctx context.Context, goal string, transcript Transcript) (bool, string, error) {
	prompt := render(evaluationTemplate, map[string]string{
		"{execution_output}": transcript.String(),
		"{goal}":             goal,
	})
	resp, err := e.Model.Generate(ctx, prompt, &framework.LLMOptions{
		Temperature: 0,
		MaxTokens:   e.MaxTokens,
	})
	if err != nil {
		return false, "", fmt.Errorf("evaluate episode: %w", err)
	}
	return parse.IsAffirmative(resp.Text), resp.Text, nil
}
