// Package pipeline orchestrates the document processing flow: extraction,
// normalization, terminology enrichment, and FHIR bundle construction.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/mjv57/medical-doc-processor/internal/clinical"
	"github.com/mjv57/medical-doc-processor/internal/extraction"
	"github.com/mjv57/medical-doc-processor/internal/fhir/builder"
	"github.com/mjv57/medical-doc-processor/internal/observability/metrics"
	"github.com/mjv57/medical-doc-processor/internal/terminology"
)

// ErrValidationFailed indicates the built bundle did not pass structural
// validation.
var ErrValidationFailed = errors.New("fhir bundle failed validation")

// Cache stores model responses keyed by input fingerprint so repeated
// processing of identical text skips the model call.
type Cache interface {
	Get(ctx context.Context, operation, fingerprint string) ([]byte, bool, error)
	Put(ctx context.Context, operation, fingerprint string, response []byte) error
}

// Fingerprint returns the cache key for an input text.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

const cacheOpExtract = "extract"

// Pipeline wires the processing stages together. Resolver and cache are
// optional; nil disables enrichment or caching respectively.
type Pipeline struct {
	extractor extraction.Extractor
	resolver  *terminology.Resolver
	builder   *builder.Builder
	cache     Cache
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// New creates a pipeline.
func New(extractor extraction.Extractor, resolver *terminology.Resolver, cache Cache, m *metrics.Metrics, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		extractor: extractor,
		resolver:  resolver,
		builder:   builder.New(),
		cache:     cache,
		metrics:   m,
		logger:    logger,
	}
}

// Process extracts and normalizes a clinical note, then enriches diagnoses
// and medications with terminology codes. Extraction and normalization
// failures abort processing; enrichment failures leave items uncoded.
func (p *Pipeline) Process(ctx context.Context, rawText string) (*clinical.Record, error) {
	tracer := otel.Tracer("pipeline")
	ctx, span := tracer.Start(ctx, "pipeline.Process")
	defer span.End()

	raw, err := p.extract(ctx, rawText)
	if err != nil {
		if p.metrics != nil {
			p.metrics.ExtractionsFailed.Inc()
		}
		return nil, fmt.Errorf("extract: %w", err)
	}

	record, err := clinical.Normalize(raw, rawText)
	if err != nil {
		if p.metrics != nil {
			p.metrics.ExtractionsFailed.Inc()
		}
		return nil, err
	}

	if p.resolver != nil {
		record.Diagnoses = p.resolver.EnrichDiagnoses(ctx, record.Diagnoses)
		record.Medications = p.resolver.EnrichMedications(ctx, record.Medications)
	}

	if p.metrics != nil {
		p.metrics.DocumentsProcessed.Inc()
	}
	span.SetAttributes(
		attribute.Int("diagnoses", len(record.Diagnoses)),
		attribute.Int("medications", len(record.Medications)),
	)
	p.logger.Info("document processed",
		zap.Int("diagnoses", len(record.Diagnoses)),
		zap.Int("medications", len(record.Medications)),
		zap.Int("treatments", len(record.Treatments)))
	return record, nil
}

// ProcessToFHIR runs Process and builds a validated FHIR bundle from the
// result.
func (p *Pipeline) ProcessToFHIR(ctx context.Context, rawText string) (*clinical.Record, *builder.Bundle, error) {
	record, err := p.Process(ctx, rawText)
	if err != nil {
		return nil, nil, err
	}
	bundle, err := p.BuildBundle(ctx, record)
	if err != nil {
		return nil, nil, err
	}
	return record, bundle, nil
}

// BuildBundle constructs and validates a FHIR bundle from an already
// processed record.
func (p *Pipeline) BuildBundle(ctx context.Context, record *clinical.Record) (*builder.Bundle, error) {
	_, span := otel.Tracer("pipeline").Start(ctx, "pipeline.BuildBundle")
	defer span.End()

	bundle := p.builder.Build(record)
	if p.metrics != nil {
		p.metrics.BundlesBuilt.Inc()
	}
	if !builder.Validate(bundle) {
		if p.metrics != nil {
			p.metrics.ValidationFailures.Inc()
		}
		return nil, ErrValidationFailed
	}
	return bundle, nil
}

// extract calls the model through the cache when one is configured. Cache
// read or write failures are logged and ignored.
func (p *Pipeline) extract(ctx context.Context, rawText string) ([]byte, error) {
	if p.cache == nil {
		return p.extractor.Extract(ctx, rawText)
	}

	key := Fingerprint(rawText)
	if cached, ok, err := p.cache.Get(ctx, cacheOpExtract, key); err != nil {
		p.logger.Warn("cache read failed", zap.Error(err))
	} else if ok {
		if p.metrics != nil {
			p.metrics.CacheHits.Inc()
		}
		p.logger.Debug("extraction cache hit", zap.String("fingerprint", key[:12]))
		return cached, nil
	}
	if p.metrics != nil {
		p.metrics.CacheMisses.Inc()
	}

	raw, err := p.extractor.Extract(ctx, rawText)
	if err != nil {
		return nil, err
	}
	if err := p.cache.Put(ctx, cacheOpExtract, key, raw); err != nil {
		p.logger.Warn("cache write failed", zap.Error(err))
	}
	return raw, nil
}
