package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/codeanalysis/framework"
)

type scriptedModel struct {
	err error
}

func (s scriptedModel) Generate(ctx context.Context, prompt string, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &framework.LLMResponse{Text: "echo: " + prompt}, nil
}

func (s scriptedModel) Chat(ctx context.Context, messages []framework.Message, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	return s.Generate(ctx, messages[len(messages)-1].Content, options)
}

type eventRecorder struct {
	events []framework.Event
}

func (r *eventRecorder) Emit(event framework.Event) { r.events = append(r.events, event) }

func TestInstrumentedModelRecordsCalls(t *testing.T) {
	metrics, err := framework.NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	recorder := &eventRecorder{}
	model := NewInstrumentedModel(scriptedModel{}, "ollama", recorder, metrics, nil)

	resp, err := model.Chat(context.Background(), []framework.Message{{Role: "user", Content: "ping"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "echo: ping", resp.Text)
	require.Len(t, recorder.events, 2)
	assert.Equal(t, framework.EventLLMPrompt, recorder.events[0].Type)
	assert.Equal(t, framework.EventLLMResponse, recorder.events[1].Type)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ModelCalls.WithLabelValues("ollama", "success")))

	failing := NewInstrumentedModel(scriptedModel{err: errors.New("throttled")}, "bedrock", nil, metrics, nil)
	_, err = failing.Generate(context.Background(), "x", nil)
	assert.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ModelCalls.WithLabelValues("bedrock", "failure")))
}

func TestInstrumentedModelCapturesPromptsOnlyInDebug(t *testing.T) {
	recorder := &eventRecorder{}
	model := NewInstrumentedModel(scriptedModel{}, "openai", recorder, nil, nil)

	_, err := model.Generate(context.Background(), "list the files", nil)
	require.NoError(t, err)
	assert.NotContains(t, recorder.events[0].Metadata, "prompt")
	assert.Equal(t, "list the files", recorder.events[0].Metadata["prompt_preview"])

	model.Debug = true
	_, err = model.Generate(context.Background(), "list the files", nil)
	require.NoError(t, err)
	assert.Equal(t, "list the files", recorder.events[2].Metadata["prompt"])
}
