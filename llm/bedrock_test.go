package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/codeanalysis/framework"
)

type fakeBedrock struct {
	converse *bedrockruntime.ConverseInput
	invoke   *bedrockruntime.InvokeModelInput
	text     string
}

func (f *fakeBedrock) Converse(ctx context.Context, in *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.converse = in
	return &bedrockruntime.ConverseOutput{
		Output: &types.ConverseOutputMemberMessage{Value: types.Message{
			Role:    types.ConversationRoleAssistant,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: f.text}},
		}},
		StopReason: types.StopReasonStopSequence,
		Usage:      &types.TokenUsage{InputTokens: aws.Int32(10), OutputTokens: aws.Int32(4)},
	}, nil
}

func (f *fakeBedrock) InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.invoke = in
	return &bedrockruntime.InvokeModelOutput{Body: []byte(`{"embedding":[0.1,0.2,0.3],"inputTextTokenCount":4}`)}, nil
}

func TestBedrockChatSplitsSystemAndMergesTurns(t *testing.T) {
	fake := &fakeBedrock{text: "Yes"}
	client := NewBedrockClient(fake, "", nil)
	png := base64.StdEncoding.EncodeToString([]byte("png-bytes"))

	resp, err := client.Chat(context.Background(), []framework.Message{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "look"},
		{Role: "user", Content: "", Images: []string{png}},
	}, &framework.LLMOptions{Temperature: 0.7, MaxTokens: 100, Stop: []string{"\nObservation:"}})
	require.NoError(t, err)
	assert.Equal(t, "Yes", resp.Text)
	assert.Equal(t, "stop_sequence", resp.FinishReason)
	assert.Equal(t, 10, resp.Usage["prompt_tokens"])

	in := fake.converse
	assert.Equal(t, DefaultBedrockModel, aws.ToString(in.ModelId))
	require.Len(t, in.System, 1)
	require.Len(t, in.Messages, 1)
	require.Len(t, in.Messages[0].Content, 2)
	img, ok := in.Messages[0].Content[1].(*types.ContentBlockMemberImage)
	require.True(t, ok)
	assert.Equal(t, []byte("png-bytes"), img.Value.Source.(*types.ImageSourceMemberBytes).Value)
	assert.Equal(t, []string{"\nObservation:"}, in.InferenceConfig.StopSequences)
	assert.InDelta(t, 0.7, float64(aws.ToFloat32(in.InferenceConfig.Temperature)), 1e-6)
}

func TestTitanEmbedder(t *testing.T) {
	fake := &fakeBedrock{}
	embedder := &TitanEmbedder{Client: fake}

	vec, err := embedder.Embed(context.Background(), "CREATE (a:File)")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, DefaultTitanEmbeddingModel, aws.ToString(fake.invoke.ModelId))
	var body map[string]string
	require.NoError(t, json.Unmarshal(fake.invoke.Body, &body))
	assert.Equal(t, "CREATE (a:File)", body["inputText"])
}
