package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mjv57/medical-doc-processor/internal/observability/metrics"
	"github.com/mjv57/medical-doc-processor/pkg/workerpool"
)

// relevanceFloor is the minimum similarity score for a chunk to be used
// as answer context.
const relevanceFloor = 0.7

// topK is the number of chunks retrieved per question.
const topK = 3

const noAnswerText = "I couldn't find relevant information to answer this question."

// Embedder produces embedding vectors for texts.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Completer generates an answer from a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Source describes a chunk that supported an answer.
type Source struct {
	DocumentID     string  `json:"id"`
	Title          string  `json:"title"`
	RelevanceScore float64 `json:"relevance_score"`
	Snippet        string  `json:"snippet"`
}

// Answer is the result of a question.
type Answer struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}

// IndexableDocument is a document to add to the retrieval index.
type IndexableDocument struct {
	ID      string
	Title   string
	Content string
}

// Service answers questions over indexed documents.
type Service struct {
	embedder Embedder
	model    Completer
	store    *VectorStore
	splitter *Splitter
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewService creates a service with default chunking. Metrics may be nil.
func NewService(embedder Embedder, model Completer, m *metrics.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		embedder: embedder,
		model:    model,
		store:    NewVectorStore(),
		splitter: NewSplitter(1000, 200),
		metrics:  m,
		logger:   logger,
	}
}

// IndexDocument splits, embeds, and indexes a single document, replacing
// any previous chunks for the same ID.
func (s *Service) IndexDocument(ctx context.Context, doc IndexableDocument) error {
	texts := s.splitter.Split(doc.Content)
	if len(texts) == 0 {
		return nil
	}

	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed document %s: %w", doc.ID, err)
	}

	s.store.RemoveDocument(doc.ID)
	chunks := make([]Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = Chunk{
			DocumentID: doc.ID,
			Title:      doc.Title,
			Text:       text,
			Vector:     vectors[i],
		}
	}
	s.store.Add(chunks...)

	s.logger.Debug("document indexed",
		zap.String("id", doc.ID),
		zap.Int("chunks", len(chunks)))
	return nil
}

// IndexDocuments embeds documents concurrently through a worker pool.
// Failed documents are logged and skipped; the rest are indexed.
func (s *Service) IndexDocuments(ctx context.Context, docs []IndexableDocument) error {
	if len(docs) == 0 {
		return nil
	}

	cfg := workerpool.DefaultConfig()
	cfg.Workers = 4
	pool, err := workerpool.New(cfg, func(ctx context.Context, task *workerpool.Task) *workerpool.Result {
		if err := s.IndexDocument(ctx, task.Payload.(IndexableDocument)); err != nil {
			return &workerpool.Result{TaskID: task.ID, Success: false, Error: err}
		}
		return &workerpool.Result{TaskID: task.ID, Success: true}
	}, s.logger)
	if err != nil {
		return err
	}

	pool.Start()
	for _, doc := range docs {
		if err := pool.Submit(&workerpool.Task{ID: doc.ID, Payload: doc, Context: ctx}); err != nil {
			pool.Stop()
			return fmt.Errorf("submit document %s: %w", doc.ID, err)
		}
	}

	var failed int
	for range docs {
		result, ok := <-pool.Results()
		if !ok {
			break
		}
		if !result.Success {
			failed++
			s.logger.Warn("document indexing failed",
				zap.String("id", result.TaskID),
				zap.Error(result.Error))
		}
	}
	pool.Stop()

	s.logger.Info("document index built",
		zap.Int("documents", len(docs)-failed),
		zap.Int("failed", failed),
		zap.Int("chunks", s.store.Len()))
	return nil
}

// RemoveDocument drops a document's chunks from the index.
func (s *Service) RemoveDocument(documentID string) {
	s.store.RemoveDocument(documentID)
}

// ChunkCount returns the size of the retrieval index.
func (s *Service) ChunkCount() int {
	return s.store.Len()
}

// AnswerQuestion retrieves relevant chunks and asks the model to answer
// from them. Chunks below the relevance floor are discarded; with no
// qualifying chunk the service answers that it found nothing, without
// calling the model.
func (s *Service) AnswerQuestion(ctx context.Context, question string) (*Answer, error) {
	start := time.Now()

	queryVectors, err := s.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	matches := s.store.Search(queryVectors[0], topK)
	if len(matches) == 0 {
		s.countAnswered()
		return &Answer{Answer: noAnswerText, Sources: []Source{}}, nil
	}

	var contexts []string
	var sources []Source
	for _, m := range matches {
		if m.Score <= relevanceFloor {
			continue
		}
		contexts = append(contexts, m.Chunk.Text)
		sources = append(sources, Source{
			DocumentID:     m.Chunk.DocumentID,
			Title:          m.Chunk.Title,
			RelevanceScore: round4(m.Score),
			Snippet:        snippet(m.Chunk.Text, 200),
		})
	}

	if len(contexts) == 0 {
		s.countAnswered()
		return &Answer{Answer: noAnswerText, Sources: []Source{}}, nil
	}

	prompt := buildAnswerPrompt(strings.Join(contexts, "\n\n"), question)
	answer, err := s.model.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	s.countAnswered()
	s.logger.Info("question answered",
		zap.Int("sources", len(sources)),
		zap.Duration("elapsed", time.Since(start)))
	return &Answer{Answer: strings.TrimSpace(answer), Sources: sources}, nil
}

func (s *Service) countAnswered() {
	if s.metrics != nil {
		s.metrics.QuestionsAnswered.Inc()
	}
}

func buildAnswerPrompt(context, question string) string {
	var b strings.Builder
	b.WriteString("You are a medical assistant that answers questions based on the provided context.\n")
	b.WriteString("Use only the information from the context to answer the question.\n")
	b.WriteString(`If the context doesn't contain the answer, say "I don't have enough information to answer this question based on the provided context."`)
	b.WriteString("\n\nContext:\n")
	b.WriteString(context)
	b.WriteString("\n\nQuestion: ")
	b.WriteString(question)
	b.WriteString("\n\nAnswer:")
	return b.String()
}

func snippet(text string, max int) string {
	if len(text) <= max {
		return text
	}
	return text[:max] + "..."
}

func round4(f float64) float64 {
	return float64(int(f*10000+0.5)) / 10000
}
