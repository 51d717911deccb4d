package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"go.uber.org/zap"

	"github.com/lexcodex/codeanalysis/framework"
)

const (
	// DefaultBedrockModel is the Claude model the agent was tuned against.
	DefaultBedrockModel = "anthropic.claude-3-5-sonnet-20240620-v1:0"
	// DefaultTitanEmbeddingModel produces graph node embeddings.
	DefaultTitanEmbeddingModel = "amazon.titan-embed-text-v2:0"
)

// BedrockAPI is the subset of the Bedrock runtime client used here.
type BedrockAPI interface {
	Converse(ctx context.Context, in *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockClient implements framework.LanguageModel with the Converse API.
type BedrockClient struct {
	Client  BedrockAPI
	ModelID string
	Logger  *zap.Logger
}

// NewBedrockClient wraps a runtime client.
func NewBedrockClient(client BedrockAPI, modelID string, logger *zap.Logger) *BedrockClient {
	if modelID == "" {
		modelID = DefaultBedrockModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BedrockClient{Client: client, ModelID: modelID, Logger: logger}
}

func (b *BedrockClient) model(options *framework.LLMOptions) string {
	if options != nil && options.Model != "" {
		return options.Model
	}
	return b.ModelID
}

func inferenceConfig(options *framework.LLMOptions) *types.InferenceConfiguration {
	if options == nil {
		return nil
	}
	cfg := &types.InferenceConfiguration{}
	if options.Temperature != 0 {
		cfg.Temperature = aws.Float32(float32(options.Temperature))
	}
	if options.MaxTokens != 0 {
		cfg.MaxTokens = aws.Int32(int32(options.MaxTokens))
	}
	if options.TopP != 0 {
		cfg.TopP = aws.Float32(float32(options.TopP))
	}
	if len(options.Stop) > 0 {
		cfg.StopSequences = options.Stop
	}
	return cfg
}

// Generate sends prompt as a single user turn.
func (b *BedrockClient) Generate(ctx context.Context, prompt string, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	return b.Chat(ctx, []framework.Message{{Role: "user", Content: prompt}}, options)
}

// Chat runs one Converse call.
func (b *BedrockClient) Chat(ctx context.Context, messages []framework.Message, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	return b.converse(ctx, messages, options)
}

func (b *BedrockClient) converse(ctx context.Context, messages []framework.Message, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	system, converted, err := toBedrockMessages(messages)
	if err != nil {
		return nil, err
	}
	out, err := b.Client.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId:         aws.String(b.model(options)),
		Messages:        converted,
		System:          system,
		InferenceConfig: inferenceConfig(options),
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock converse: %w", err)
	}
	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return nil, errors.New("bedrock returned no message")
	}
	resp := &framework.LLMResponse{FinishReason: string(out.StopReason)}
	if out.Usage != nil {
		resp.Usage = map[string]int{
			"prompt_tokens":     int(aws.ToInt32(out.Usage.InputTokens)),
			"completion_tokens": int(aws.ToInt32(out.Usage.OutputTokens)),
		}
	}
	for _, block := range msg.Value.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			resp.Text += text.Value
		}
	}
	b.Logger.Debug("bedrock converse", zap.String("model", b.model(options)), zap.String("stop_reason", resp.FinishReason))
	return resp, nil
}

// toBedrockMessages splits out system prompts and merges consecutive turns
// of the same role, which Converse rejects.
func toBedrockMessages(messages []framework.Message) ([]types.SystemContentBlock, []types.Message, error) {
	var system []types.SystemContentBlock
	var out []types.Message
	for _, msg := range messages {
		if msg.Role == "system" {
			system = append(system, &types.SystemContentBlockMemberText{Value: msg.Content})
			continue
		}
		role := types.ConversationRoleUser
		if msg.Role == "assistant" {
			role = types.ConversationRoleAssistant
		}
		var blocks []types.ContentBlock
		if msg.Content != "" {
			blocks = append(blocks, &types.ContentBlockMemberText{Value: msg.Content})
		}
		for _, img := range msg.Images {
			raw, err := base64.StdEncoding.DecodeString(img)
			if err != nil {
				return nil, nil, fmt.Errorf("decode image: %w", err)
			}
			blocks = append(blocks, &types.ContentBlockMemberImage{Value: types.ImageBlock{
				Format: types.ImageFormatPng,
				Source: &types.ImageSourceMemberBytes{Value: raw},
			}})
		}
		if len(blocks) == 0 {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			continue
		}
		out = append(out, types.Message{Role: role, Content: blocks})
	}
	return system, out, nil
}

// TitanEmbedder embeds text with a Bedrock Titan embedding model.
type TitanEmbedder struct {
	Client  BedrockAPI
	ModelID string
}

type titanRequest struct {
	InputText string `json:"inputText"`
}

type titanResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed invokes the model with {"inputText": text}.
func (t *TitanEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	modelID := t.ModelID
	if modelID == "" {
		modelID = DefaultTitanEmbeddingModel
	}
	body, err := json.Marshal(titanRequest{InputText: text})
	if err != nil {
		return nil, err
	}
	out, err := t.Client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", modelID, err)
	}
	var resp titanResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, fmt.Errorf("decode titan embedding: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, errors.New("titan returned an empty embedding")
	}
	return resp.Embedding, nil
}
