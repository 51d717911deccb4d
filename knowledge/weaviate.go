package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/lexcodex/codeanalysis/framework"
)

// DefaultWeaviateClass is the class documents are stored under.
const DefaultWeaviateClass = "CodeDocument"

// WeaviateIndex is a self-hosted index: documents are embedded locally and
// stored with their vector; chat retrieves the nearest documents and asks the
// model to answer from them.
type WeaviateIndex struct {
	Client    *weaviate.Client
	ClassName string
	Embedder  Embedder
	Model     framework.LanguageModel
	Limit     int
}

// NewWeaviateClient builds a client for host (host:port) and scheme.
func NewWeaviateClient(host, scheme string) (*weaviate.Client, error) {
	if scheme == "" {
		scheme = "http"
	}
	client, err := weaviate.NewClient(weaviate.Config{Host: host, Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return client, nil
}

func (w *WeaviateIndex) className() string {
	if w.ClassName == "" {
		return DefaultWeaviateClass
	}
	return w.ClassName
}

// EnsureSchema creates the document class when it does not exist yet.
func (w *WeaviateIndex) EnsureSchema(ctx context.Context) error {
	exists, err := w.Client.Schema().ClassExistenceChecker().WithClassName(w.className()).Do(ctx)
	if err != nil {
		return fmt.Errorf("check class %s: %w", w.className(), err)
	}
	if exists {
		return nil
	}
	class := &models.Class{
		Class:       w.className(),
		Description: "A source file summary or agent-written note.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{Name: "title", DataType: []string{"text"}},
			{Name: "content", DataType: []string{"text"}},
			{Name: "url", DataType: []string{"text"}},
		},
	}
	if err := w.Client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("create class %s: %w", w.className(), err)
	}
	return nil
}

// PutDocument embeds and stores doc under its id.
func (w *WeaviateIndex) PutDocument(ctx context.Context, doc Document) error {
	vector, err := w.embed(ctx, doc.Title+"\n"+string(doc.Body))
	if err != nil {
		return err
	}
	_, err = w.Client.Data().Creator().
		WithClassName(w.className()).
		WithID(doc.ID).
		WithProperties(map[string]interface{}{
			"title":   doc.Title,
			"content": string(doc.Body),
			"url":     doc.SourceURI,
		}).
		WithVector(vector).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("store document %s: %w", doc.ID, err)
	}
	return nil
}

// Chat answers message from the nearest stored documents.
func (w *WeaviateIndex) Chat(ctx context.Context, message string, attachments []Attachment) (ChatAnswer, error) {
	if w.Model == nil {
		return ChatAnswer{}, errors.New("weaviate chat requires a language model")
	}
	docs, err := w.Search(ctx, message)
	if err != nil {
		return ChatAnswer{}, err
	}
	resp, err := w.Model.Chat(ctx, []framework.Message{
		{Role: "system", Content: "Answer the question using the context documents and any attached file. Be dense with information."},
		{Role: "user", Content: renderChatPrompt(message, docs, attachments)},
	}, &framework.LLMOptions{Temperature: 0})
	if err != nil {
		return ChatAnswer{}, err
	}
	answer := ChatAnswer{Text: resp.Text}
	for _, d := range docs {
		answer.Sources = append(answer.Sources, d.SourceURI)
	}
	return answer, nil
}

// Search returns the documents nearest to query.
func (w *WeaviateIndex) Search(ctx context.Context, query string) ([]Document, error) {
	vector, err := w.embed(ctx, query)
	if err != nil {
		return nil, err
	}
	limit := w.Limit
	if limit <= 0 {
		limit = 5
	}
	result, err := w.Client.GraphQL().Get().
		WithClassName(w.className()).
		WithFields(
			graphql.Field{Name: "title"},
			graphql.Field{Name: "content"},
			graphql.Field{Name: "url"},
			graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "id"}}},
		).
		WithNearVector(w.Client.GraphQL().NearVectorArgBuilder().WithVector(vector)).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate search: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("weaviate search: %s", result.Errors[0].Message)
	}
	get, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	objects, _ := get[w.className()].([]interface{})
	docs := make([]Document, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		doc := Document{
			Title:     stringField(m, "title"),
			Body:      []byte(stringField(m, "content")),
			SourceURI: stringField(m, "url"),
		}
		if extra, ok := m["_additional"].(map[string]interface{}); ok {
			doc.ID = stringField(extra, "id")
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (w *WeaviateIndex) embed(ctx context.Context, text string) ([]float32, error) {
	if w.Embedder == nil {
		return nil, errors.New("weaviate index requires an embedder")
	}
	vec, err := w.Embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(v)
	}
	return out, nil
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func renderChatPrompt(question string, docs []Document, attachments []Attachment) string {
	var b strings.Builder
	for i, d := range docs {
		fmt.Fprintf(&b, "Context %d (%s):\n%s\n\n", i+1, d.Title, d.Body)
	}
	for _, a := range attachments {
		fmt.Fprintf(&b, "Attached file %s:\n%s\n\n", a.Name, a.Data)
	}
	fmt.Fprintf(&b, "Question: %s", question)
	return b.String()
}
