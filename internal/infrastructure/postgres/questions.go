package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Question is a stored question with its answer and supporting sources.
type Question struct {
	ID        string          `json:"id"`
	Question  string          `json:"question"`
	Answer    string          `json:"answer"`
	Sources   json.RawMessage `json:"sources,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// SaveQuestion records an answered question.
func (s *Store) SaveQuestion(ctx context.Context, question, answer string, sources json.RawMessage) (*Question, error) {
	q := &Question{ID: uuid.NewString(), Question: question, Answer: answer, Sources: sources}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO questions (id, question, answer, sources)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, q.ID, q.Question, q.Answer, q.Sources).Scan(&q.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert question: %w", err)
	}
	return q, nil
}

// ListQuestions returns the question history, newest first.
func (s *Store) ListQuestions(ctx context.Context, limit int) ([]*Question, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, question, answer, sources, created_at
		FROM questions
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	var questions []*Question
	for rows.Next() {
		q := &Question{}
		if err := rows.Scan(&q.ID, &q.Question, &q.Answer, &q.Sources, &q.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}
