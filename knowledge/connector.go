// Package knowledge connects the agent to the knowledge index (documents and
// chat) and the optional knowledge graph (openCypher statements with vector
// embeddings attached to newly created nodes).
package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lexcodex/codeanalysis/framework"
	"github.com/lexcodex/codeanalysis/internal/parse"
)

// Document is one entry pushed into the index.
type Document struct {
	ID        string
	Title     string
	Body      []byte
	SourceURI string
}

// Attachment is a file sent along with a chat message.
type Attachment struct {
	Name string
	Data []byte
}

// ChatAnswer is the index's reply to a chat message.
type ChatAnswer struct {
	Text    string
	Sources []string
}

// Index stores documents and answers questions about them.
type Index interface {
	PutDocument(ctx context.Context, doc Document) error
	Chat(ctx context.Context, message string, attachments []Attachment) (ChatAnswer, error)
}

// Syncer is implemented by indexes backed by a crawled data source.
type Syncer interface {
	StartSync(ctx context.Context) (string, error)
}

// ErrSyncUnsupported is returned by Sync when the index has no data source.
var ErrSyncUnsupported = errors.New("index does not support data source sync")

// GraphStore executes a single openCypher statement and returns the raw
// JSON payload.
type GraphStore interface {
	ExecuteQuery(ctx context.Context, query string) ([]byte, error)
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// GraphResult is the decoded openCypher payload.
type GraphResult struct {
	Results []map[string]any `json:"results"`
}

var (
	// ErrIndexNotConfigured is returned when no index backend is wired.
	ErrIndexNotConfigured = errors.New("knowledge index not configured")
	// ErrGraphNotConfigured is returned when the graph is disabled.
	ErrGraphNotConfigured = errors.New("knowledge graph not configured")
)

// StatementError reports a failed statement inside a batch, together with
// the statements that were already applied.
type StatementError struct {
	Statement string
	Applied   []string
	Err       error
}

func (e *StatementError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Executed OpenCypher queries until this one: %s with error: %v", e.Statement, e.Err)
	if len(e.Applied) > 0 {
		fmt.Fprintf(&b, "\nAlready applied: %s", strings.Join(e.Applied, "; "))
	}
	b.WriteString("\n\nThere's no need to rerun the previous queries, only the one that failed and the ones after it.")
	return b.String()
}

func (e *StatementError) Unwrap() error { return e.Err }

// GraphSuccess is the observation for a fully applied batch.
const GraphSuccess = "Successfully executed OpenCypher queries"

const summarizeSystemPrompt = `Use the graph context to get an answer to the original question.
The context is not necessarily relevant to the question, we're just doing a semantic search.
If you are unable to answer from the context that is ok.
Write your response between <response> and </response>.`

// Connector is the agent-facing facade over index, graph and embeddings.
type Connector struct {
	Index    Index
	Graph    GraphStore
	Embedder Embedder
	Model    framework.LanguageModel
	Logger   *zap.Logger
	NewID    func() string
}

// NewConnector wires the collaborators. graph, embedder and model may be nil
// when the graph is disabled.
func NewConnector(index Index, graph GraphStore, embedder Embedder, model framework.LanguageModel, logger *zap.Logger) *Connector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connector{
		Index:    index,
		Graph:    graph,
		Embedder: embedder,
		Model:    model,
		Logger:   logger.With(zap.String("component", "knowledge")),
		NewID:    uuid.NewString,
	}
}

// GraphEnabled reports whether graph tools can be offered.
func (c *Connector) GraphEnabled() bool {
	return c != nil && c.Graph != nil && c.Embedder != nil
}

// Upload stores body under a fresh id. Repeated uploads of the same title
// create distinct entries.
func (c *Connector) Upload(ctx context.Context, title string, body []byte, sourceURI string) (string, error) {
	if c.Index == nil {
		return "", ErrIndexNotConfigured
	}
	id := c.NewID()
	if title == "" {
		title = id
	}
	if sourceURI == "" {
		sourceURI = "AI Generated" + id
	}
	doc := Document{ID: id, Title: title, Body: body, SourceURI: sourceURI}
	if err := c.Index.PutDocument(ctx, doc); err != nil {
		return "", fmt.Errorf("put document %s: %w", title, err)
	}
	c.Logger.Debug("uploaded document", zap.String("id", id), zap.String("title", title))
	return id, nil
}

// Ask chats with the index, optionally attaching a file.
func (c *Connector) Ask(ctx context.Context, prompt string, attachment *Attachment) (ChatAnswer, error) {
	if c.Index == nil {
		return ChatAnswer{}, ErrIndexNotConfigured
	}
	var attachments []Attachment
	if attachment != nil {
		attachments = append(attachments, *attachment)
	}
	return c.Index.Chat(ctx, prompt, attachments)
}

// Sync starts a data source sync on the index and returns the execution id.
func (c *Connector) Sync(ctx context.Context) (string, error) {
	s, ok := c.Index.(Syncer)
	if !ok {
		return "", ErrSyncUnsupported
	}
	return s.StartSync(ctx)
}

// QueryGraph executes statements in order. Every statement containing CREATE
// that returns a row gets an embedding upserted onto the returned node id
// before the next statement runs. The first failing statement stops the batch
// with a *StatementError.
func (c *Connector) QueryGraph(ctx context.Context, statements []string) (string, error) {
	if !c.GraphEnabled() {
		return "", ErrGraphNotConfigured
	}
	var applied []string
	for _, stmt := range statements {
		if len(strings.TrimSpace(stmt)) <= 1 {
			continue
		}
		payload, err := c.Graph.ExecuteQuery(ctx, stmt)
		if err != nil {
			return "", &StatementError{Statement: stmt, Applied: applied, Err: err}
		}
		applied = append(applied, stmt)
		if strings.Contains(stmt, "CREATE") {
			c.attachEmbedding(ctx, stmt, payload)
		}
	}
	return GraphSuccess, nil
}

func (c *Connector) attachEmbedding(ctx context.Context, stmt string, payload []byte) {
	var result GraphResult
	if err := json.Unmarshal(payload, &result); err != nil {
		c.Logger.Warn("decode create result", zap.String("statement", stmt), zap.Error(err))
		return
	}
	if len(result.Results) == 0 {
		return
	}
	rawID, ok := result.Results[0]["id"]
	if !ok || rawID == nil {
		c.Logger.Warn("create returned no id", zap.String("statement", stmt))
		return
	}
	nodeID := fmt.Sprint(rawID)
	embedding, err := c.Embedder.Embed(ctx, stmt)
	if err != nil {
		c.Logger.Warn("embed statement", zap.String("node", nodeID), zap.Error(err))
		return
	}
	if _, err := c.Graph.ExecuteQuery(ctx, UpsertEmbeddingQuery(nodeID, embedding)); err != nil {
		c.Logger.Warn("upsert embedding", zap.String("node", nodeID), zap.Error(err))
	}
}

// UpsertEmbeddingQuery renders the vector upsert for one node.
func UpsertEmbeddingQuery(nodeID string, embedding []float64) string {
	return fmt.Sprintf("MATCH (n{`~id`: %q}) CALL neptune.algo.vectors.upsert(n, %s) YIELD node, embedding, success RETURN node, embedding, success",
		nodeID, FormatVector(embedding))
}

// TopKQuery renders the nearest-neighbour lookup.
func TopKQuery(embedding []float64, k int) string {
	return fmt.Sprintf("CALL neptune.algo.vectors.topKByEmbedding(%s, {topK: %d}) YIELD node, score RETURN node, score",
		FormatVector(embedding), k)
}

// FormatVector renders a vector as an openCypher list literal.
func FormatVector(v []float64) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// TopK returns the raw payload of the k nodes nearest to query.
func (c *Connector) TopK(ctx context.Context, query string, k int) (string, error) {
	if !c.GraphEnabled() {
		return "", ErrGraphNotConfigured
	}
	if k <= 0 {
		k = 5
	}
	embedding, err := c.Embedder.Embed(ctx, query)
	if err != nil {
		return "", fmt.Errorf("embed query: %w", err)
	}
	payload, err := c.Graph.ExecuteQuery(ctx, TopKQuery(embedding, k))
	if err != nil {
		return "", fmt.Errorf("top-k lookup: %w", err)
	}
	return string(payload), nil
}

// ChatGraph answers question from the five nearest graph nodes.
func (c *Connector) ChatGraph(ctx context.Context, question string) (string, error) {
	if c.Model == nil {
		return "", errors.New("graph chat requires a language model")
	}
	graphContext, err := c.TopK(ctx, question, 5)
	if err != nil {
		return "", err
	}
	resp, err := c.Model.Chat(ctx, []framework.Message{
		{Role: "system", Content: summarizeSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Question: %s\nGraph Response: %s", question, graphContext)},
	}, &framework.LLMOptions{Temperature: 0, MaxTokens: 4096})
	if err != nil {
		return "", fmt.Errorf("summarize graph context: %w", err)
	}
	return parse.ExtractResponse(resp.Text), nil
}
