package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mjv57/medical-doc-processor/internal/observability/metrics"
)

// stubEmbedder maps exact texts to fixed vectors so similarity is
// controlled by the test.
type stubEmbedder struct {
	vectors map[string][]float64
	err     error
}

func (s *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float64, len(texts))
	for i, text := range texts {
		v, ok := s.vectors[text]
		if !ok {
			v = []float64{0, 0, 1}
		}
		out[i] = v
	}
	return out, nil
}

type stubCompleter struct {
	answer string
	err    error
	calls  int
	prompt string
}

func (s *stubCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	s.calls++
	s.prompt = prompt
	return s.answer, s.err
}

func TestIndexDocumentReplacesPreviousChunks(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float64{}}
	svc := NewService(embedder, &stubCompleter{}, nil, nil)

	doc := IndexableDocument{ID: "doc-1", Title: "SOAP Note 01", Content: "short note"}
	if err := svc.IndexDocument(context.Background(), doc); err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}
	if svc.ChunkCount() != 1 {
		t.Fatalf("chunk count = %d, want 1", svc.ChunkCount())
	}

	doc.Content = "revised note"
	if err := svc.IndexDocument(context.Background(), doc); err != nil {
		t.Fatalf("reindex: %v", err)
	}
	if svc.ChunkCount() != 1 {
		t.Errorf("chunk count after reindex = %d, want 1", svc.ChunkCount())
	}
}

func TestIndexDocumentEmptyContent(t *testing.T) {
	svc := NewService(&stubEmbedder{}, &stubCompleter{}, nil, nil)
	err := svc.IndexDocument(context.Background(), IndexableDocument{ID: "d", Content: "  "})
	if err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}
	if svc.ChunkCount() != 0 {
		t.Errorf("chunk count = %d, want 0", svc.ChunkCount())
	}
}

func TestIndexDocumentEmbedFailure(t *testing.T) {
	embedder := &stubEmbedder{err: errors.New("quota exceeded")}
	svc := NewService(embedder, &stubCompleter{}, nil, nil)
	err := svc.IndexDocument(context.Background(), IndexableDocument{ID: "d", Content: "text"})
	if err == nil {
		t.Fatal("IndexDocument returned nil error when embedding failed")
	}
}

func TestIndexDocumentsConcurrently(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float64{}}
	svc := NewService(embedder, &stubCompleter{}, nil, nil)

	docs := []IndexableDocument{
		{ID: "doc-1", Title: "One", Content: "first note"},
		{ID: "doc-2", Title: "Two", Content: "second note"},
		{ID: "doc-3", Title: "Three", Content: "third note"},
	}
	if err := svc.IndexDocuments(context.Background(), docs); err != nil {
		t.Fatalf("IndexDocuments: %v", err)
	}
	if svc.ChunkCount() != 3 {
		t.Errorf("chunk count = %d, want 3", svc.ChunkCount())
	}
}

func TestAnswerQuestionUsesRelevantChunks(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float64{
		"Patient has type 2 diabetes managed with metformin.": {1, 0, 0},
		"what medication treats the diabetes":                 {1, 0, 0},
	}}
	model := &stubCompleter{answer: "Metformin."}
	svc := NewService(embedder, model, nil, nil)

	err := svc.IndexDocument(context.Background(), IndexableDocument{
		ID:      "doc-1",
		Title:   "SOAP Note 01",
		Content: "Patient has type 2 diabetes managed with metformin.",
	})
	if err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}

	answer, err := svc.AnswerQuestion(context.Background(), "what medication treats the diabetes")
	if err != nil {
		t.Fatalf("AnswerQuestion: %v", err)
	}
	if answer.Answer != "Metformin." {
		t.Errorf("answer = %q", answer.Answer)
	}
	if len(answer.Sources) != 1 {
		t.Fatalf("sources = %d, want 1", len(answer.Sources))
	}
	src := answer.Sources[0]
	if src.DocumentID != "doc-1" || src.Title != "SOAP Note 01" {
		t.Errorf("source = %+v", src)
	}
	if src.RelevanceScore <= 0.7 {
		t.Errorf("relevance = %v, want above floor", src.RelevanceScore)
	}
	if model.calls != 1 {
		t.Errorf("model calls = %d, want 1", model.calls)
	}
	if !strings.Contains(model.prompt, "metformin") {
		t.Errorf("prompt missing retrieved context: %q", model.prompt)
	}
	if !strings.Contains(model.prompt, "Question: what medication treats the diabetes") {
		t.Errorf("prompt missing question: %q", model.prompt)
	}
}

func TestAnswerQuestionBelowFloorSkipsModel(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float64{
		"Patient has type 2 diabetes managed with metformin.": {1, 0, 0},
		"how do I reset my password":                          {0, 1, 0},
	}}
	model := &stubCompleter{answer: "should not be used"}
	svc := NewService(embedder, model, nil, nil)

	err := svc.IndexDocument(context.Background(), IndexableDocument{
		ID:      "doc-1",
		Title:   "SOAP Note 01",
		Content: "Patient has type 2 diabetes managed with metformin.",
	})
	if err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}

	answer, err := svc.AnswerQuestion(context.Background(), "how do I reset my password")
	if err != nil {
		t.Fatalf("AnswerQuestion: %v", err)
	}
	if answer.Answer != noAnswerText {
		t.Errorf("answer = %q, want no-answer text", answer.Answer)
	}
	if len(answer.Sources) != 0 {
		t.Errorf("sources = %+v, want none", answer.Sources)
	}
	if model.calls != 0 {
		t.Errorf("model calls = %d, want 0 when nothing qualifies", model.calls)
	}
}

func TestAnswerQuestionEmptyIndex(t *testing.T) {
	model := &stubCompleter{}
	svc := NewService(&stubEmbedder{}, model, nil, nil)

	answer, err := svc.AnswerQuestion(context.Background(), "anything")
	if err != nil {
		t.Fatalf("AnswerQuestion: %v", err)
	}
	if answer.Answer != noAnswerText {
		t.Errorf("answer = %q, want no-answer text", answer.Answer)
	}
	if model.calls != 0 {
		t.Errorf("model calls = %d, want 0", model.calls)
	}
}

func TestVectorStoreSearchRanksBySimilarity(t *testing.T) {
	store := NewVectorStore()
	store.Add(
		Chunk{DocumentID: "a", Text: "far", Vector: []float64{0, 1}},
		Chunk{DocumentID: "b", Text: "near", Vector: []float64{1, 0.1}},
		Chunk{DocumentID: "c", Text: "exact", Vector: []float64{1, 0}},
	)

	matches := store.Search([]float64{1, 0}, 2)
	if len(matches) != 2 {
		t.Fatalf("matches = %d, want 2", len(matches))
	}
	if matches[0].Chunk.DocumentID != "c" {
		t.Errorf("best match = %s, want c", matches[0].Chunk.DocumentID)
	}
	if matches[1].Chunk.DocumentID != "b" {
		t.Errorf("second match = %s, want b", matches[1].Chunk.DocumentID)
	}
	if matches[0].Score < matches[1].Score {
		t.Error("matches not sorted by descending score")
	}
}

func TestVectorStoreRemoveDocument(t *testing.T) {
	store := NewVectorStore()
	store.Add(
		Chunk{DocumentID: "a", Vector: []float64{1, 0}},
		Chunk{DocumentID: "a", Vector: []float64{0, 1}},
		Chunk{DocumentID: "b", Vector: []float64{1, 1}},
	)
	store.RemoveDocument("a")
	if store.Len() != 1 {
		t.Errorf("len = %d, want 1", store.Len())
	}
	matches := store.Search([]float64{1, 1}, 0)
	if len(matches) != 1 || matches[0].Chunk.DocumentID != "b" {
		t.Errorf("matches = %+v, want only document b", matches)
	}
}

func TestSnippetTruncation(t *testing.T) {
	long := strings.Repeat("a", 250)
	got := snippet(long, 200)
	if len(got) != 203 || !strings.HasSuffix(got, "...") {
		t.Errorf("snippet length = %d, want 200 plus ellipsis", len(got))
	}
	if snippet("short", 200) != "short" {
		t.Error("short text should be returned unchanged")
	}
}

func TestAnswerQuestionCountsQuestions(t *testing.T) {
	m := &metrics.Metrics{
		QuestionsAnswered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "questions_answered_total",
		}),
	}
	svc := NewService(&stubEmbedder{}, &stubCompleter{}, m, nil)

	// Counted even when the index is empty and the answer is the
	// no-answer text.
	if _, err := svc.AnswerQuestion(context.Background(), "anything"); err != nil {
		t.Fatalf("AnswerQuestion: %v", err)
	}
	if got := testutil.ToFloat64(m.QuestionsAnswered); got != 1 {
		t.Errorf("questions answered = %v, want 1", got)
	}
}
