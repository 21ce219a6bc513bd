// Package handlers provides HTTP handlers for the document processing API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mjv57/medical-doc-processor/internal/api/middleware"
	"github.com/mjv57/medical-doc-processor/internal/infrastructure/postgres"
	"github.com/mjv57/medical-doc-processor/internal/rag"
)

// DocumentHandler handles document CRUD endpoints.
type DocumentHandler struct {
	store  *postgres.Store
	index  *rag.Service
	logger *zap.Logger
}

// NewDocumentHandler creates a new handler. The retrieval index is optional;
// when set, created documents are indexed and deleted documents removed.
func NewDocumentHandler(store *postgres.Store, index *rag.Service, logger *zap.Logger) *DocumentHandler {
	return &DocumentHandler{store: store, index: index, logger: logger}
}

// Routes returns the handler routes
func (h *DocumentHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Delete("/{id}", h.Delete)
	return r
}

// CreateDocumentRequest is the request body for creating a document
type CreateDocumentRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Create handles POST /documents
func (h *DocumentHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Content == "" {
		jsonError(w, "content is required", http.StatusBadRequest)
		return
	}
	if req.Title == "" {
		req.Title = "Untitled document"
	}

	doc, err := h.store.CreateDocument(ctx, req.Title, req.Content)
	if err != nil {
		h.logger.Error("create document failed", zap.Error(err),
			zap.String("request_id", middleware.GetRequestID(ctx)))
		jsonError(w, "failed to create document", http.StatusInternalServerError)
		return
	}

	if h.index != nil {
		if err := h.index.IndexDocument(ctx, rag.IndexableDocument{
			ID:      doc.ID,
			Title:   doc.Title,
			Content: doc.Content,
		}); err != nil {
			// Indexing is best effort; the document is already stored
			h.logger.Warn("document indexing failed", zap.String("id", doc.ID), zap.Error(err))
		}
	}

	writeJSON(w, http.StatusCreated, doc)
}

// List handles GET /documents
func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	docs, err := h.store.ListDocuments(r.Context())
	if err != nil {
		h.logger.Error("list documents failed", zap.Error(err))
		jsonError(w, "failed to list documents", http.StatusInternalServerError)
		return
	}
	if docs == nil {
		docs = []*postgres.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

// Get handles GET /documents/{id}
func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	doc, err := h.store.GetDocument(r.Context(), id)
	if errors.Is(err, postgres.ErrNotFound) {
		jsonError(w, "document not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("get document failed", zap.String("id", id), zap.Error(err))
		jsonError(w, "failed to get document", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// Delete handles DELETE /documents/{id}
func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := h.store.DeleteDocument(r.Context(), id)
	if errors.Is(err, postgres.ErrNotFound) {
		jsonError(w, "document not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("delete document failed", zap.String("id", id), zap.Error(err))
		jsonError(w, "failed to delete document", http.StatusInternalServerError)
		return
	}

	if h.index != nil {
		h.index.RemoveDocument(id)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}
