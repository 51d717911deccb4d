package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/lexcodex/codeanalysis/framework"
)

// OpenAIClient implements framework.LanguageModel and Embedder against the
// OpenAI chat completions API or any compatible endpoint.
type OpenAIClient struct {
	client         *openai.Client
	Model          string
	EmbeddingModel string
	Logger         *zap.Logger
}

// NewOpenAIClient builds a client. baseURL may be empty for the public API;
// httpClient may be nil.
func NewOpenAIClient(apiKey, baseURL, model string, httpClient *http.Client) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIClient{
		client:         openai.NewClientWithConfig(cfg),
		Model:          model,
		EmbeddingModel: string(openai.SmallEmbedding3),
		Logger:         zap.NewNop(),
	}
}

func (o *OpenAIClient) model(options *framework.LLMOptions) string {
	if options != nil && options.Model != "" {
		return options.Model
	}
	return o.Model
}

func (o *OpenAIClient) request(messages []framework.Message, options *framework.LLMOptions) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:    o.model(options),
		Messages: toOpenAIMessages(messages),
	}
	if options != nil {
		req.Temperature = float32(options.Temperature)
		req.TopP = float32(options.TopP)
		req.MaxCompletionTokens = options.MaxTokens
		if len(options.Stop) > 0 {
			req.Stop = options.Stop
		}
	}
	return req
}

// Generate sends prompt as a single user message.
func (o *OpenAIClient) Generate(ctx context.Context, prompt string, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	return o.Chat(ctx, []framework.Message{{Role: "user", Content: prompt}}, options)
}

// Chat runs a chat completion.
func (o *OpenAIClient) Chat(ctx context.Context, messages []framework.Message, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	return o.complete(ctx, o.request(messages, options))
}

func (o *OpenAIClient) complete(ctx context.Context, req openai.ChatCompletionRequest) (*framework.LLMResponse, error) {
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai returned no choices")
	}
	choice := resp.Choices[0]
	out := &framework.LLMResponse{
		Text:         choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: map[string]int{
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
		},
	}
	o.Logger.Debug("openai completion", zap.String("model", req.Model), zap.String("finish_reason", out.FinishReason))
	return out, nil
}

// Embed returns the embedding of text.
func (o *OpenAIClient) Embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(o.EmbeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("openai returned no embedding")
	}
	vec := make([]float64, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float64(v)
	}
	return vec, nil
}

func toOpenAIMessages(messages []framework.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		m := openai.ChatCompletionMessage{
			Role: msg.Role,
			Name: msg.Name,
		}
		if len(msg.Images) > 0 {
			m.MultiContent = append(m.MultiContent, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: msg.Content,
			})
			for _, img := range msg.Images {
				m.MultiContent = append(m.MultiContent, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    "data:image/png;base64," + img,
						Detail: openai.ImageURLDetailAuto,
					},
				})
			}
		} else {
			m.Content = msg.Content
		}
		out = append(out, m)
	}
	return out
}
