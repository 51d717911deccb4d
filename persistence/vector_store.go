package persistence

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"sync"
)

// Document is a knowledge entry kept for local retrieval.
type Document struct {
	ID        string
	Title     string
	Content   string
	SourceURI string
}

// SearchResult contains similarity info.
type SearchResult struct {
	Document Document
	Score    float64
}

// VectorStore provides semantic recall by text similarity.
type VectorStore interface {
	Upsert(ctx context.Context, doc Document) error
	Query(ctx context.Context, query string, limit int) ([]SearchResult, error)
	Delete(ctx context.Context, id string) error
	Len() int
}

// InMemoryVectorStore implements a term-frequency cosine similarity store.
// It backs the local knowledge index used in development and tests.
type InMemoryVectorStore struct {
	mu   sync.RWMutex
	data map[string]Document
	vecs map[string]map[string]float64
}

// NewInMemoryVectorStore returns a ready-to-use store.
func NewInMemoryVectorStore() *InMemoryVectorStore {
	return &InMemoryVectorStore{
		data: make(map[string]Document),
		vecs: make(map[string]map[string]float64),
	}
}

// Upsert encodes and stores a document. Title and content are both indexed.
func (s *InMemoryVectorStore) Upsert(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if doc.ID == "" {
		return errors.New("document id required")
	}
	vector := termVector(doc.Title + " " + doc.Content)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[doc.ID] = doc
	s.vecs[doc.ID] = vector
	return nil
}

// Query searches the store using cosine similarity, best match first.
func (s *InMemoryVectorStore) Query(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 5
	}
	qVec := termVector(query)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var results []SearchResult
	for id, vec := range s.vecs {
		score := cosineSimilarity(qVec, vec)
		if score == 0 {
			continue
		}
		results = append(results, SearchResult{Document: s.data[id], Score: score})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].Document.ID < results[j].Document.ID
		}
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Delete removes a document by id.
func (s *InMemoryVectorStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, id)
	delete(s.vecs, id)
	return nil
}

// Len reports the number of stored documents.
func (s *InMemoryVectorStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func termVector(text string) map[string]float64 {
	vector := make(map[string]float64)
	for _, token := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_')
	}) {
		vector[token]++
	}
	return vector
}

func cosineSimilarity(a, b map[string]float64) float64 {
	var dot, normA, normB float64
	for term, weight := range a {
		dot += weight * b[term]
		normA += weight * weight
	}
	for _, weight := range b {
		normB += weight * weight
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
