package agents

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is read when no --config flag is given.
const DefaultConfigPath = "codeanalysis.yaml"

// Config is the whole process configuration. It is built once at start-up
// and handed to constructors by pointer.
type Config struct {
	Model     ModelConfig     `yaml:"model"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Agent     AgentConfig     `yaml:"agent"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Browser   BrowserConfig   `yaml:"browser"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Server    ServerConfig    `yaml:"server"`
	Batch     BatchConfig     `yaml:"batch"`
	Provision ProvisionConfig `yaml:"provision"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ModelConfig selects the reasoning model.
type ModelConfig struct {
	Provider    string  `yaml:"provider" validate:"oneof=bedrock ollama openai"`
	Name        string  `yaml:"name"`
	Endpoint    string  `yaml:"endpoint"`
	APIKey      string  `yaml:"api_key"`
	Temperature float64 `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int     `yaml:"max_tokens" validate:"gt=0"`
}

// EmbeddingConfig selects the embedder used by the graph and the
// self-hosted index.
type EmbeddingConfig struct {
	Provider string `yaml:"provider" validate:"oneof=bedrock ollama openai"`
	Model    string `yaml:"model"`
}

// AgentConfig bounds the episode loop and names its on-disk state.
type AgentConfig struct {
	MaxEpisodes      int           `yaml:"max_episodes" validate:"gt=0"`
	MaxSteps         int           `yaml:"max_steps" validate:"gt=0"`
	Workspace        string        `yaml:"workspace" validate:"required"`
	SuccessTable     string        `yaml:"success_table" validate:"required"`
	SuccessTableKind string        `yaml:"success_table_kind" validate:"oneof=csv sqlite"`
	JournalPath      string        `yaml:"journal_path"`
	PromptTimeout    time.Duration `yaml:"prompt_timeout" validate:"gt=0"`
	MaxOutput        int           `yaml:"max_output" validate:"gt=0"`
}

// KnowledgeConfig wires the index and the optional graph.
type KnowledgeConfig struct {
	Backend        string `yaml:"backend" validate:"oneof=qbusiness weaviate memory"`
	AppID          string `yaml:"app_id" validate:"required_if=Backend qbusiness"`
	IndexID        string `yaml:"index_id" validate:"required_if=Backend qbusiness"`
	RoleARN        string `yaml:"role_arn"`
	UserID         string `yaml:"user_id"`
	DataSourceID   string `yaml:"data_source_id"`
	GraphID        string `yaml:"graph_id" validate:"required_if=EnableGraph true"`
	EnableGraph    bool   `yaml:"enable_graph"`
	WeaviateHost   string `yaml:"weaviate_host" validate:"required_if=Backend weaviate"`
	WeaviateScheme string `yaml:"weaviate_scheme"`
	WeaviateClass  string `yaml:"weaviate_class"`
}

// BrowserConfig configures the browsing variant.
type BrowserConfig struct {
	Headless       bool          `yaml:"headless"`
	ViewportWidth  int           `yaml:"viewport_width" validate:"gt=0"`
	ViewportHeight int           `yaml:"viewport_height" validate:"gt=0"`
	MaxSteps       int           `yaml:"max_steps" validate:"gt=0"`
	StartURL       string        `yaml:"start_url" validate:"url"`
	Timeout        time.Duration `yaml:"timeout"`
}

// IngestConfig drives repository documentation and upload.
type IngestConfig struct {
	RepoURL          string        `yaml:"repo_url"`
	SSHURL           string        `yaml:"ssh_url"`
	Destination      string        `yaml:"destination" validate:"required"`
	DocumentationDir string        `yaml:"documentation_dir" validate:"required"`
	Attempts         int           `yaml:"attempts" validate:"gt=0"`
	Backoff          time.Duration `yaml:"backoff"`
	RatePerSecond    float64       `yaml:"rate_per_second" validate:"gte=0"`
}

// ServerConfig configures the job API and the worker.
type ServerConfig struct {
	Addr      string `yaml:"addr" validate:"required"`
	Submitter string `yaml:"submitter" validate:"oneof=batch queue"`
	RedisAddr string `yaml:"redis_addr" validate:"required_if=Submitter queue"`
	Queue     string `yaml:"queue"`
	Bootstrap string `yaml:"bootstrap"`
}

// BatchConfig names the AWS Batch resources jobs are submitted to.
type BatchConfig struct {
	JobQueue      string `yaml:"job_queue"`
	JobDefinition string `yaml:"job_definition"`
	S3Bucket      string `yaml:"s3_bucket"`
	AppName       string `yaml:"app_name"`
	SSHKeyName    string `yaml:"ssh_key_name"`
	// KnowledgeBucket is forwarded to jobs as AGENT_KNOWLEDGE_BUCKET.
	KnowledgeBucket string `yaml:"knowledge_bucket"`
}

// ProvisionConfig holds what the provision command needs beyond the
// application name and role.
type ProvisionConfig struct {
	WebExperienceRoleARN string        `yaml:"web_experience_role_arn"`
	IdentityCenterARN    string        `yaml:"identity_center_arn"`
	PollInterval         time.Duration `yaml:"poll_interval" validate:"gt=0"`
	PollAttempts         int           `yaml:"poll_attempts" validate:"gt=0"`
}

// LoggingConfig describes log output.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
	// File replaces stderr as the log destination when set.
	File string `yaml:"file"`
}

// TelemetryConfig controls event and metric sinks.
type TelemetryConfig struct {
	// EventsFile receives newline-delimited JSON events when set.
	EventsFile string `yaml:"events_file"`
	LogEvents  bool   `yaml:"log_events"`
	// CapturePrompts adds full prompts and messages to model events.
	CapturePrompts bool `yaml:"capture_prompts"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Provider:    "bedrock",
			Name:        "anthropic.claude-3-5-sonnet-20240620-v1:0",
			Temperature: 0.7,
			MaxTokens:   4096,
		},
		Embedding: EmbeddingConfig{Provider: "bedrock", Model: "amazon.titan-embed-text-v2:0"},
		Agent: AgentConfig{
			MaxEpisodes:      5,
			MaxSteps:         15,
			Workspace:        ".",
			SuccessTable:     "successful_invocations.csv",
			SuccessTableKind: "csv",
			PromptTimeout:    1800 * time.Second,
			MaxOutput:        10_000_000,
		},
		Knowledge: KnowledgeConfig{Backend: "memory", WeaviateScheme: "http"},
		Browser: BrowserConfig{
			Headless:       true,
			ViewportWidth:  1280,
			ViewportHeight: 1024,
			MaxSteps:       150,
			StartURL:       "https://www.google.com/",
		},
		Ingest: IngestConfig{
			Destination:      "repositories",
			DocumentationDir: "documentation",
			Attempts:         3,
			Backoff:          15 * time.Second,
			RatePerSecond:    1,
		},
		Provision: ProvisionConfig{PollInterval: 10 * time.Second, PollAttempts: 60},
		Server:    ServerConfig{Addr: ":8080", Submitter: "queue", RedisAddr: "localhost:6379", Queue: "codeanalysis:jobs"},
		Logging:   LoggingConfig{Level: "info", Format: "console"},
	}
}

// envOverrides lists the variables the deployment sets. Pointers stay nil
// when a variable is absent so it does not clobber the file value.
type envOverrides struct {
	AppID         *string  `envconfig:"AMAZON_Q_APP_ID"`
	IndexID       *string  `envconfig:"INDEX_ID"`
	AppIndex      *string  `envconfig:"Q_APP_INDEX"`
	RoleARN       *string  `envconfig:"ROLE_ARN"`
	AppRoleARN    *string  `envconfig:"Q_APP_ROLE_ARN"`
	UserID        *string  `envconfig:"AMAZON_Q_USER_ID"`
	DataSourceID  *string  `envconfig:"Q_APP_DATA_SOURCE_ID"`
	GraphID       *string  `envconfig:"NEPTUNE_GRAPH_ID"`
	EnableGraph   *bool    `envconfig:"ENABLE_GRAPH"`
	AppName       *string  `envconfig:"Q_APP_NAME"`
	RepoURL       *string  `envconfig:"REPO_URL"`
	SSHURL        *string  `envconfig:"SSH_URL"`
	SSHKeyName    *string  `envconfig:"SSH_KEY_NAME"`
	JobQueue      *string  `envconfig:"BATCH_JOB_QUEUE"`
	JobDefinition *string  `envconfig:"BATCH_JOB_DEFINITION"`
	S3Bucket      *string  `envconfig:"S3_BUCKET"`
	ModelProvider *string  `envconfig:"MODEL_PROVIDER"`
	ModelName     *string  `envconfig:"MODEL_NAME"`
	ModelEndpoint *string  `envconfig:"MODEL_ENDPOINT"`
	Temperature   *float64 `envconfig:"MODEL_TEMPERATURE"`
	OpenAIKey     *string  `envconfig:"OPENAI_API_KEY"`
	WeaviateHost  *string  `envconfig:"WEAVIATE_HOST"`
	RedisAddr     *string  `envconfig:"REDIS_ADDR"`
	ServerAddr    *string  `envconfig:"SERVER_ADDR"`
	LogLevel      *string  `envconfig:"LOG_LEVEL"`
	WebExpRoleARN *string  `envconfig:"Q_WEB_EXP_ROLE_ARN"`
	IDCARN        *string  `envconfig:"IDC_ARN"`
	KnowledgeBkt  *string  `envconfig:"AGENT_KNOWLEDGE_BUCKET"`
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func (e envOverrides) apply(cfg *Config) {
	setString(&cfg.Knowledge.AppID, e.AppID)
	setString(&cfg.Knowledge.IndexID, e.AppIndex)
	setString(&cfg.Knowledge.IndexID, e.IndexID)
	setString(&cfg.Knowledge.RoleARN, e.AppRoleARN)
	setString(&cfg.Knowledge.RoleARN, e.RoleARN)
	setString(&cfg.Knowledge.UserID, e.UserID)
	setString(&cfg.Knowledge.DataSourceID, e.DataSourceID)
	setString(&cfg.Knowledge.GraphID, e.GraphID)
	if e.EnableGraph != nil {
		cfg.Knowledge.EnableGraph = *e.EnableGraph
	}
	setString(&cfg.Knowledge.WeaviateHost, e.WeaviateHost)
	setString(&cfg.Batch.AppName, e.AppName)
	setString(&cfg.Batch.SSHKeyName, e.SSHKeyName)
	setString(&cfg.Batch.JobQueue, e.JobQueue)
	setString(&cfg.Batch.JobDefinition, e.JobDefinition)
	setString(&cfg.Batch.S3Bucket, e.S3Bucket)
	setString(&cfg.Ingest.RepoURL, e.RepoURL)
	setString(&cfg.Ingest.SSHURL, e.SSHURL)
	setString(&cfg.Model.Provider, e.ModelProvider)
	setString(&cfg.Model.Name, e.ModelName)
	setString(&cfg.Model.Endpoint, e.ModelEndpoint)
	if e.Temperature != nil {
		cfg.Model.Temperature = *e.Temperature
	}
	setString(&cfg.Model.APIKey, e.OpenAIKey)
	setString(&cfg.Server.RedisAddr, e.RedisAddr)
	setString(&cfg.Server.Addr, e.ServerAddr)
	setString(&cfg.Logging.Level, e.LogLevel)
	setString(&cfg.Provision.WebExperienceRoleARN, e.WebExpRoleARN)
	setString(&cfg.Provision.IdentityCenterARN, e.IDCARN)
	setString(&cfg.Batch.KnowledgeBucket, e.KnowledgeBkt)
}

// LoadConfig builds the configuration: defaults, then the YAML file at path
// (a missing file keeps the defaults), then .env, then the environment, and
// finally validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = DefaultConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	envFile := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}
	env.apply(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks the struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// SaveConfig writes cfg as YAML.
func SaveConfig(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("config missing")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
