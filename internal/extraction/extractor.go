// Package extraction turns free-text clinical notes into structured JSON
// using a language model, then normalizes the output into the canonical
// record shape.
package extraction

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/mjv57/medical-doc-processor/internal/clinical"
	"github.com/mjv57/medical-doc-processor/internal/llm"
)

// Extractor produces a raw structured extraction from note text. The
// returned bytes are expected to be a JSON object but may be malformed;
// callers normalize and validate downstream.
type Extractor interface {
	Extract(ctx context.Context, noteText string) ([]byte, error)
}

const extractionPrompt = `Extract structured medical information from the clinical note below.

Return ONLY a JSON object with these fields:
- patient: object with id (string or null), gender (string or null), age (integer or null)
- encounter_date: string in YYYY-MM-DD format, or null
- vital_signs: object with blood_pressure, heart_rate, temperature, weight, height, bmi (all strings or null)
- diagnoses: array of objects with description (string) and status (string, e.g. "active", "resolved")
- medications: array of objects with name, dosage, route, frequency (strings or null)
- treatments: array of objects with description (string)
- lab_results: object mapping test names to result values
- follow_up: array of objects with description and timeframe (strings)

Use null for information not present in the note. Do not invent values.
Do not include any text outside the JSON object.

Clinical note:
`

// ModelExtractor implements Extractor against a chat completion model.
type ModelExtractor struct {
	client *llm.Client
	logger *zap.Logger
}

// NewModelExtractor creates a model-backed extractor.
func NewModelExtractor(client *llm.Client, logger *zap.Logger) *ModelExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModelExtractor{client: client, logger: logger}
}

// Extract prompts the model and returns its raw JSON response. Markdown
// code fences around the JSON are stripped when present.
func (e *ModelExtractor) Extract(ctx context.Context, noteText string) ([]byte, error) {
	response, err := e.client.Complete(ctx, extractionPrompt+noteText)
	if err != nil {
		return nil, err
	}

	cleaned := stripCodeFence(response)
	e.logger.Debug("extraction complete",
		zap.Int("note_chars", len(noteText)),
		zap.Int("response_chars", len(cleaned)))
	return []byte(cleaned), nil
}

// stripCodeFence removes a leading ```json / ``` fence pair if the model
// wrapped its output in one.
func stripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}

// NormalizeExtraction is a convenience wrapper binding extraction output to
// the record normalizer.
func NormalizeExtraction(raw []byte, noteText string) (*clinical.Record, error) {
	return clinical.Normalize(raw, noteText)
}
