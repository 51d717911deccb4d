package llm

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"go.uber.org/zap"

	"github.com/lexcodex/codeanalysis/framework"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// ProviderConfig selects and configures a model backend.
type ProviderConfig struct {
	Provider string
	Model    string
	Endpoint string
	APIKey   string
}

// NewModel builds the language model named by cfg.Provider. awsCfg is only
// read for the bedrock provider.
func NewModel(cfg ProviderConfig, awsCfg aws.Config, logger *zap.Logger) (framework.LanguageModel, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Provider {
	case "", "bedrock":
		return NewBedrockClient(bedrockruntime.NewFromConfig(awsCfg), cfg.Model, logger), nil
	case "ollama":
		client := NewClient(cfg.Endpoint, cfg.Model)
		client.Logger = logger
		return client, nil
	case "openai":
		client := NewOpenAIClient(cfg.APIKey, cfg.Endpoint, cfg.Model, nil)
		client.Logger = logger
		return client, nil
	}
	return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
}

// NewEmbedder builds the embedder named by cfg.Provider.
func NewEmbedder(cfg ProviderConfig, awsCfg aws.Config) (Embedder, error) {
	switch cfg.Provider {
	case "", "bedrock":
		return &TitanEmbedder{Client: bedrockruntime.NewFromConfig(awsCfg), ModelID: cfg.Model}, nil
	case "ollama":
		client := NewClient(cfg.Endpoint, "")
		if cfg.Model != "" {
			client.EmbeddingModel = cfg.Model
		}
		return client, nil
	case "openai":
		client := NewOpenAIClient(cfg.APIKey, cfg.Endpoint, "", nil)
		if cfg.Model != "" {
			client.EmbeddingModel = cfg.Model
		}
		return client, nil
	}
	return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
}
