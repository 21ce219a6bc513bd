package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/mjv57/medical-doc-processor/internal/api/middleware"
	"github.com/mjv57/medical-doc-processor/internal/clinical"
	"github.com/mjv57/medical-doc-processor/internal/infrastructure/kafka"
	"github.com/mjv57/medical-doc-processor/internal/infrastructure/postgres"
	"github.com/mjv57/medical-doc-processor/internal/pipeline"
	"github.com/mjv57/medical-doc-processor/internal/rag"
)

// ProcessHandler handles extraction, FHIR conversion, and question endpoints.
type ProcessHandler struct {
	pipeline *pipeline.Pipeline
	store    *postgres.Store
	answers  *rag.Service
	logger   *zap.Logger
}

// NewProcessHandler creates a new handler. Store and answer service are
// optional; endpoints that need a missing dependency return 503.
func NewProcessHandler(p *pipeline.Pipeline, store *postgres.Store, answers *rag.Service, logger *zap.Logger) *ProcessHandler {
	return &ProcessHandler{pipeline: p, store: store, answers: answers, logger: logger}
}

// Routes returns the handler routes
func (h *ProcessHandler) Routes(r chi.Router) {
	r.Post("/process", h.ProcessText)
	r.Post("/fhir", h.ConvertText)
	r.Post("/documents/{id}/process", h.ProcessDocument)
	r.Get("/documents/{id}/fhir", h.GetDocumentBundle)
	r.Post("/ask", h.Ask)
	r.Get("/questions", h.ListQuestions)
}

// ProcessTextRequest is the request body for ad hoc processing
type ProcessTextRequest struct {
	Text string `json:"text"`
}

// ProcessText handles POST /process: extract a structured record from raw
// note text without persisting anything.
func (h *ProcessHandler) ProcessText(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	text, ok := h.decodeText(w, r)
	if !ok {
		return
	}

	record, err := h.pipeline.Process(ctx, text)
	if err != nil {
		h.processingError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// ConvertText handles POST /fhir: extract and return a FHIR bundle.
func (h *ProcessHandler) ConvertText(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	text, ok := h.decodeText(w, r)
	if !ok {
		return
	}

	_, bundle, err := h.pipeline.ProcessToFHIR(ctx, text)
	if err != nil {
		h.processingError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, bundle)
}

// ProcessDocument handles POST /documents/{id}/process: process a stored
// document, persist the results, and emit a processed event.
func (h *ProcessHandler) ProcessDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("process-handler")
	ctx, span := tracer.Start(ctx, "process_document")
	defer span.End()

	if h.store == nil {
		jsonError(w, "persistence is not configured", http.StatusServiceUnavailable)
		return
	}

	id := chi.URLParam(r, "id")
	span.SetAttributes(attribute.String("document_id", id))

	doc, err := h.store.GetDocument(ctx, id)
	if errors.Is(err, postgres.ErrNotFound) {
		jsonError(w, "document not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("get document failed", zap.String("id", id), zap.Error(err))
		jsonError(w, "failed to get document", http.StatusInternalServerError)
		return
	}

	record, bundle, err := h.pipeline.ProcessToFHIR(ctx, doc.Content)
	if err != nil {
		h.processingError(w, err)
		return
	}

	recordJSON, err := json.Marshal(record)
	if err != nil {
		jsonError(w, "failed to encode record", http.StatusInternalServerError)
		return
	}
	bundleJSON, err := json.Marshal(bundle)
	if err != nil {
		jsonError(w, "failed to encode bundle", http.StatusInternalServerError)
		return
	}

	events := []*postgres.OutboxEntry{
		{
			DocumentID: doc.ID,
			EventType:  kafka.EventDocumentProcessed,
			Payload:    recordJSON,
			KafkaTopic: kafka.TopicDocumentProcessed,
			KafkaKey:   doc.ID,
		},
		{
			DocumentID: doc.ID,
			EventType:  kafka.EventBundleBuilt,
			Payload:    bundleJSON,
			KafkaTopic: kafka.TopicBundleBuilt,
			KafkaKey:   doc.ID,
		},
	}
	if err := h.store.SaveResults(ctx, doc.ID, recordJSON, bundleJSON, events...); err != nil {
		h.logger.Error("save results failed", zap.String("id", id), zap.Error(err))
		jsonError(w, "failed to save results", http.StatusInternalServerError)
		return
	}

	h.logger.Info("document processed",
		zap.String("id", doc.ID),
		zap.String("request_id", middleware.GetRequestID(ctx)))

	writeJSON(w, http.StatusOK, map[string]any{
		"id":                doc.ID,
		"structured_record": record,
		"fhir_bundle":       bundle,
	})
}

// GetDocumentBundle handles GET /documents/{id}/fhir: return the stored
// bundle, building it on demand when the document was processed but not
// yet converted.
func (h *ProcessHandler) GetDocumentBundle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.store == nil {
		jsonError(w, "persistence is not configured", http.StatusServiceUnavailable)
		return
	}

	id := chi.URLParam(r, "id")
	doc, err := h.store.GetDocument(ctx, id)
	if errors.Is(err, postgres.ErrNotFound) {
		jsonError(w, "document not found", http.StatusNotFound)
		return
	}
	if err != nil {
		jsonError(w, "failed to get document", http.StatusInternalServerError)
		return
	}

	if len(doc.FHIRBundle) > 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(doc.FHIRBundle)
		return
	}

	if len(doc.StructuredRec) == 0 {
		jsonError(w, "document has not been processed", http.StatusConflict)
		return
	}

	var record clinical.Record
	if err := json.Unmarshal(doc.StructuredRec, &record); err != nil {
		jsonError(w, "stored record is unreadable", http.StatusInternalServerError)
		return
	}

	bundle, err := h.pipeline.BuildBundle(ctx, &record)
	if err != nil {
		h.processingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

// AskRequest is the request body for a question
type AskRequest struct {
	Text string `json:"text"`
}

// Ask handles POST /ask: answer a question over the indexed documents.
func (h *ProcessHandler) Ask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.answers == nil {
		jsonError(w, "question answering is not configured", http.StatusServiceUnavailable)
		return
	}

	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		jsonError(w, "text is required", http.StatusBadRequest)
		return
	}

	answer, err := h.answers.AnswerQuestion(ctx, req.Text)
	if err != nil {
		h.logger.Error("answer question failed", zap.Error(err),
			zap.String("request_id", middleware.GetRequestID(ctx)))
		jsonError(w, "failed to answer question", http.StatusInternalServerError)
		return
	}

	if h.store != nil {
		sources, _ := json.Marshal(answer.Sources)
		if _, err := h.store.SaveQuestion(ctx, req.Text, answer.Answer, sources); err != nil {
			h.logger.Warn("failed to save question", zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, answer)
}

// ListQuestions handles GET /questions
func (h *ProcessHandler) ListQuestions(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		jsonError(w, "persistence is not configured", http.StatusServiceUnavailable)
		return
	}

	questions, err := h.store.ListQuestions(r.Context(), 100)
	if err != nil {
		h.logger.Error("list questions failed", zap.Error(err))
		jsonError(w, "failed to list questions", http.StatusInternalServerError)
		return
	}
	if questions == nil {
		questions = []*postgres.Question{}
	}
	writeJSON(w, http.StatusOK, questions)
}

func (h *ProcessHandler) decodeText(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req ProcessTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		jsonError(w, "text is required", http.StatusBadRequest)
		return "", false
	}
	return req.Text, true
}

func (h *ProcessHandler) processingError(w http.ResponseWriter, err error) {
	var malformed *clinical.MalformedExtractionError
	switch {
	case errors.As(err, &malformed):
		jsonError(w, "extraction produced malformed output: "+malformed.Reason, http.StatusUnprocessableEntity)
	case errors.Is(err, pipeline.ErrValidationFailed):
		jsonError(w, "generated bundle failed validation", http.StatusInternalServerError)
	default:
		h.logger.Error("processing failed", zap.Error(err))
		jsonError(w, "processing failed", http.StatusInternalServerError)
	}
}
