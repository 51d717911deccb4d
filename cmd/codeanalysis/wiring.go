package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/neptunegraph"
	"github.com/aws/aws-sdk-go-v2/service/qbusiness"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/lexcodex/codeanalysis/agents"
	"github.com/lexcodex/codeanalysis/framework"
	"github.com/lexcodex/codeanalysis/knowledge"
	"github.com/lexcodex/codeanalysis/llm"
	"github.com/lexcodex/codeanalysis/persistence"
)

// deps holds everything a command builds from the configuration. close
// releases files and stores in reverse order.
type deps struct {
	aws       aws.Config
	model     framework.LanguageModel
	connector *knowledge.Connector
	telemetry framework.Telemetry
	metrics   *framework.Metrics
	logger    *zap.Logger
	closers   []func() error
}

func (d *deps) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.logger.Warn("close failed", zap.Error(err))
		}
	}
}

func loadAWS(ctx context.Context) (aws.Config, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}

// buildDeps wires telemetry, metrics, the model and the knowledge connector.
func (a *app) buildDeps(ctx context.Context, extra ...framework.Telemetry) (*deps, error) {
	cfg, logger := a.cfg, a.logger
	d := &deps{logger: logger}
	awsCfg, err := loadAWS(ctx)
	if err != nil {
		return nil, err
	}
	d.aws = awsCfg

	sinks := append([]framework.Telemetry{}, extra...)
	if cfg.Telemetry.LogEvents {
		sinks = append(sinks, framework.ZapTelemetry{Logger: logger})
	}
	if cfg.Telemetry.EventsFile != "" {
		file, err := framework.NewJSONFileTelemetry(cfg.Telemetry.EventsFile)
		if err != nil {
			return nil, fmt.Errorf("open events file: %w", err)
		}
		d.closers = append(d.closers, file.Close)
		sinks = append(sinks, file)
	}
	if len(sinks) > 0 {
		d.telemetry = framework.MultiplexTelemetry{Sinks: sinks}
	}

	metrics, err := framework.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		d.close()
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	d.metrics = metrics

	raw, err := llm.NewModel(llm.ProviderConfig{
		Provider: cfg.Model.Provider,
		Model:    cfg.Model.Name,
		Endpoint: cfg.Model.Endpoint,
		APIKey:   cfg.Model.APIKey,
	}, awsCfg, logger)
	if err != nil {
		d.close()
		return nil, err
	}
	instrumented := llm.NewInstrumentedModel(raw, cfg.Model.Provider, d.telemetry, d.metrics, logger)
	instrumented.Debug = cfg.Telemetry.CapturePrompts
	d.model = instrumented

	d.connector, err = buildConnector(ctx, cfg, awsCfg, d.model, logger)
	if err != nil {
		d.close()
		return nil, err
	}
	return d, nil
}

func buildConnector(ctx context.Context, cfg *agents.Config, awsCfg aws.Config, model framework.LanguageModel, logger *zap.Logger) (*knowledge.Connector, error) {
	kc := cfg.Knowledge
	var embedder knowledge.Embedder
	if kc.EnableGraph || kc.Backend == "weaviate" {
		e, err := llm.NewEmbedder(llm.ProviderConfig{
			Provider: cfg.Embedding.Provider,
			Model:    cfg.Embedding.Model,
			Endpoint: cfg.Model.Endpoint,
			APIKey:   cfg.Model.APIKey,
		}, awsCfg)
		if err != nil {
			return nil, err
		}
		embedder = e
	}

	var index knowledge.Index
	switch kc.Backend {
	case "qbusiness":
		index = &knowledge.QBusinessIndex{
			Client:        qbusiness.NewFromConfig(awsCfg),
			ApplicationID: kc.AppID,
			IndexID:       kc.IndexID,
			RoleArn:       kc.RoleARN,
			UserID:        kc.UserID,
			DataSourceID:  kc.DataSourceID,
		}
	case "weaviate":
		client, err := knowledge.NewWeaviateClient(kc.WeaviateHost, kc.WeaviateScheme)
		if err != nil {
			return nil, err
		}
		w := &knowledge.WeaviateIndex{
			Client:    client,
			ClassName: kc.WeaviateClass,
			Embedder:  embedder,
			Model:     model,
		}
		if err := w.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		index = w
	default:
		index = knowledge.NewMemoryIndex()
	}

	var graph knowledge.GraphStore
	if kc.EnableGraph {
		graph = &knowledge.NeptuneGraph{Client: neptunegraph.NewFromConfig(awsCfg), GraphID: kc.GraphID}
	} else {
		embedder = nil
	}
	return knowledge.NewConnector(index, graph, embedder, model, logger), nil
}

// openStores opens the success table and, when configured, the episode
// journal. A sqlite success table doubles as the journal.
func openStores(cfg agents.AgentConfig) (persistence.SuccessTable, persistence.EpisodeJournal, func() error, error) {
	var closers []func() error
	closeAll := func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		return errors.Join(errs...)
	}
	var table persistence.SuccessTable
	var journal persistence.EpisodeJournal
	switch cfg.SuccessTableKind {
	case "sqlite":
		store, err := persistence.NewSQLiteStore(cfg.SuccessTable)
		if err != nil {
			return nil, nil, nil, err
		}
		closers = append(closers, store.Close)
		table, journal = store, store
	default:
		csvTable, err := persistence.OpenCSVSuccessTable(cfg.SuccessTable)
		if err != nil {
			return nil, nil, nil, err
		}
		closers = append(closers, csvTable.Close)
		table = csvTable
	}
	if cfg.JournalPath != "" && journal == nil {
		store, err := persistence.NewSQLiteStore(cfg.JournalPath)
		if err != nil {
			_ = closeAll()
			return nil, nil, nil, err
		}
		closers = append(closers, store.Close)
		journal = store
	}
	return table, journal, closeAll, nil
}

// resolveGoal reads the goal from a file when the argument names a .txt
// file.
func resolveGoal(goal string) (string, error) {
	goal = strings.TrimSpace(goal)
	if !strings.HasSuffix(goal, ".txt") {
		return goal, nil
	}
	data, err := os.ReadFile(goal)
	if err != nil {
		return "", fmt.Errorf("read goal file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// jobEnv is the environment forwarded to submitted jobs.
func jobEnv(cfg *agents.Config) map[string]string {
	env := map[string]string{
		"REPO_URL":               cfg.Ingest.RepoURL,
		"SSH_URL":                cfg.Ingest.SSHURL,
		"SSH_KEY_NAME":           cfg.Batch.SSHKeyName,
		"AMAZON_Q_APP_ID":        cfg.Knowledge.AppID,
		"Q_APP_INDEX":            cfg.Knowledge.IndexID,
		"Q_APP_ROLE_ARN":         cfg.Knowledge.RoleARN,
		"Q_APP_DATA_SOURCE_ID":   cfg.Knowledge.DataSourceID,
		"Q_APP_NAME":             cfg.Batch.AppName,
		"ENABLE_GRAPH":           fmt.Sprint(cfg.Knowledge.EnableGraph),
		"S3_BUCKET":              cfg.Batch.S3Bucket,
		"AGENT_KNOWLEDGE_BUCKET": cfg.Batch.KnowledgeBucket,
	}
	if cfg.Knowledge.EnableGraph {
		env["NEPTUNE_GRAPH_ID"] = cfg.Knowledge.GraphID
	}
	for k, v := range env {
		if v == "" {
			delete(env, k)
		}
	}
	return env
}
