package rag

import (
	"math"
	"sort"
	"sync"
)

// Chunk is an indexed piece of a document.
type Chunk struct {
	DocumentID string
	Title      string
	Text       string
	Vector     []float64
}

// Match is a retrieval result with its cosine similarity score.
type Match struct {
	Chunk Chunk
	Score float64
}

// VectorStore is an in-memory index of embedded chunks.
type VectorStore struct {
	mu     sync.RWMutex
	chunks []Chunk
}

// NewVectorStore creates an empty store.
func NewVectorStore() *VectorStore {
	return &VectorStore{}
}

// Add appends chunks to the index.
func (s *VectorStore) Add(chunks ...Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, chunks...)
}

// RemoveDocument drops all chunks belonging to a document.
func (s *VectorStore) RemoveDocument(documentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.chunks[:0]
	for _, c := range s.chunks {
		if c.DocumentID != documentID {
			kept = append(kept, c)
		}
	}
	s.chunks = kept
}

// Len returns the number of indexed chunks.
func (s *VectorStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// Search returns the top-k chunks by cosine similarity to the query vector,
// highest first.
func (s *VectorStore) Search(query []float64, k int) []Match {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]Match, 0, len(s.chunks))
	for _, c := range s.chunks {
		score := cosineSimilarity(query, c.Vector)
		matches = append(matches, Match{Chunk: c, Score: score})
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
