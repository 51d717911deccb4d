package persistence

import (
	"context"
	"testing"
)

// TestInMemoryVectorStore exercises insert/query/delete on the term-frequency
// model.
func TestInMemoryVectorStore(t *testing.T) {
	store := NewInMemoryVectorStore()
	ctx := context.Background()

	docs := []Document{
		{ID: "1", Title: "api/handler.go", Content: "function handles http requests"},
		{ID: "2", Title: "db/tx.go", Content: "database transaction rollback"},
		{ID: "3", Title: "api/middleware.go", Content: "http server middleware logging"},
	}
	for _, doc := range docs {
		if err := store.Upsert(ctx, doc); err != nil {
			t.Fatalf("upsert doc %s: %v", doc.ID, err)
		}
	}

	results, err := store.Query(ctx, "http logging", 2)
	if err != nil {
		t.Fatalf("query error: %v", err)
	}
	if len(results) == 0 {
		t.Fatalf("expected at least one result")
	}
	if results[0].Document.ID != "3" {
		t.Fatalf("expected doc 3 to rank first, got %+v", results[0])
	}

	if err := store.Delete(ctx, "1"); err != nil {
		t.Fatalf("delete error: %v", err)
	}
	if store.Len() != 2 {
		t.Fatalf("expected 2 documents after delete, got %d", store.Len())
	}
}

func TestInMemoryVectorStoreRequiresID(t *testing.T) {
	store := NewInMemoryVectorStore()
	if err := store.Upsert(context.Background(), Document{Content: "x"}); err == nil {
		t.Fatalf("expected error for missing id")
	}
}
