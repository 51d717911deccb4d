package knowledge

import (
	"context"
	"fmt"
	"strings"

	"github.com/lexcodex/codeanalysis/persistence"
)

// MemoryIndex keeps documents in process. It is meant for local development
// and tests; chat answers with the best matching documents verbatim.
type MemoryIndex struct {
	Store persistence.VectorStore
	Limit int
}

// NewMemoryIndex builds an index over a fresh in-memory store.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{Store: persistence.NewInMemoryVectorStore(), Limit: 3}
}

// PutDocument stores doc.
func (m *MemoryIndex) PutDocument(ctx context.Context, doc Document) error {
	return m.Store.Upsert(ctx, persistence.Document{
		ID:        doc.ID,
		Title:     doc.Title,
		Content:   string(doc.Body),
		SourceURI: doc.SourceURI,
	})
}

// Chat returns the closest documents to message and the attachment names.
func (m *MemoryIndex) Chat(ctx context.Context, message string, attachments []Attachment) (ChatAnswer, error) {
	query := message
	for _, a := range attachments {
		query += " " + a.Name + " " + string(a.Data)
	}
	results, err := m.Store.Query(ctx, query, m.Limit)
	if err != nil {
		return ChatAnswer{}, err
	}
	if len(results) == 0 {
		return ChatAnswer{Text: "No matching knowledge found."}, nil
	}
	var b strings.Builder
	answer := ChatAnswer{}
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%s: %s", r.Document.Title, r.Document.Content)
		answer.Sources = append(answer.Sources, r.Document.SourceURI)
	}
	answer.Text = b.String()
	return answer, nil
}
