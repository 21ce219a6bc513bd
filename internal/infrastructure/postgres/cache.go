package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ResponseCache stores model responses keyed by input fingerprint and
// operation, so identical inputs are served without a model call.
type ResponseCache struct {
	pool *pgxpool.Pool
}

// NewResponseCache creates a cache backed by the llm_responses table.
func NewResponseCache(pool *pgxpool.Pool) *ResponseCache {
	return &ResponseCache{pool: pool}
}

// Get returns the cached response for (operation, fingerprint), with ok
// false on a miss.
func (c *ResponseCache) Get(ctx context.Context, operation, fingerprint string) ([]byte, bool, error) {
	var response []byte
	err := c.pool.QueryRow(ctx,
		"SELECT response FROM llm_responses WHERE input_hash = $1 AND operation = $2",
		fingerprint, operation,
	).Scan(&response)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache lookup: %w", err)
	}
	return response, true, nil
}

// Put stores a response, replacing any previous entry for the same key.
func (c *ResponseCache) Put(ctx context.Context, operation, fingerprint string, response []byte) error {
	_, err := c.pool.Exec(ctx, `
		INSERT INTO llm_responses (input_hash, operation, response)
		VALUES ($1, $2, $3)
		ON CONFLICT (input_hash, operation)
		DO UPDATE SET response = EXCLUDED.response, created_at = NOW()
	`, fingerprint, operation, response)
	if err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	return nil
}
