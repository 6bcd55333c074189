package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/contaflow/invoice-pipeline/internal/auth"
	"github.com/contaflow/invoice-pipeline/internal/health"
	"github.com/contaflow/invoice-pipeline/internal/models"
	"github.com/contaflow/invoice-pipeline/internal/monitor"
	"github.com/contaflow/invoice-pipeline/internal/pipeline"
	"github.com/contaflow/invoice-pipeline/internal/rules"
	"github.com/contaflow/invoice-pipeline/internal/storage"
	"github.com/contaflow/invoice-pipeline/internal/store"
)

const (
	MaxUploadSize = 10 * 1024 * 1024 // 10MB
	Version       = "1.0.0"
)

// Handler handles HTTP requests for document processing
type Handler struct {
	config   *models.Config
	pipeline *pipeline.Pipeline
	store    store.Store
	storage  *storage.Storage
	health   *health.Registry
	stats    *monitor.Stats
}

// NewHandler creates a new API handler
func NewHandler(config *models.Config, p *pipeline.Pipeline, st store.Store,
	objects *storage.Storage, hr *health.Registry, stats *monitor.Stats) *Handler {
	return &Handler{
		config:   config,
		pipeline: p,
		store:    st,
		storage:  objects,
		health:   hr,
		stats:    stats,
	}
}

// SetupRoutes configures the HTTP routes
func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()

	// Processing
	router.HandleFunc("/api/process-invoice", h.ProcessInvoice).Methods("POST")
	router.HandleFunc("/api/documents/{id}/reprocess", h.ReprocessDocument).Methods("POST")

	// Documents
	router.HandleFunc("/api/documents", h.ListDocuments).Methods("GET")
	router.HandleFunc("/api/documents/{id}", h.GetDocument).Methods("GET")
	router.HandleFunc("/api/documents/{id}/entry", h.GetEntry).Methods("GET")
	router.HandleFunc("/api/documents/{id}/audit", h.GetAudit).Methods("GET")

	// Queues
	router.HandleFunc("/api/reviews", h.ListReviews).Methods("GET")
	router.HandleFunc("/api/retries", h.ListRetries).Methods("GET")

	// Health check
	router.HandleFunc("/health", h.Health).Methods("GET")

	return router
}

// HealthResponse represents the health check response structure
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Timestamp string                 `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Memory    MemoryStats            `json:"memory"`
	Providers []health.ProviderState `json:"providers"`
	OCR       monitor.Snapshot       `json:"ocr"`
	Database  ServiceStatus          `json:"database"`
	Storage   ServiceStatus          `json:"storage"`
}

// MemoryStats represents memory usage statistics
type MemoryStats struct {
	Allocated string `json:"allocated"`
	Total     string `json:"total"`
	System    string `json:"system"`
}

// ServiceStatus represents the status of a service dependency
type ServiceStatus struct {
	Available bool `json:"available"`
}

var startTime = time.Now()

// Health reports provider breaker state and gateway statistics
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	status := "healthy"
	providers := h.health.Snapshot()
	for _, p := range providers {
		if p.Degraded {
			status = "degraded"
		}
	}

	response := HealthResponse{
		Status:    status,
		Version:   Version,
		Timestamp: time.Now().Format(time.RFC3339),
		Uptime:    time.Since(startTime).String(),
		Memory: MemoryStats{
			Allocated: fmt.Sprintf("%.2f MB", float64(m.Alloc)/1024/1024),
			Total:     fmt.Sprintf("%.2f MB", float64(m.TotalAlloc)/1024/1024),
			System:    fmt.Sprintf("%.2f MB", float64(m.Sys)/1024/1024),
		},
		Providers: providers,
		OCR:       h.stats.Snapshot(false),
		Database:  ServiceStatus{Available: h.store != nil},
		Storage:   ServiceStatus{Available: h.storage != nil},
	}

	json.NewEncoder(w).Encode(response)
}

// ProcessInvoice ingests one uploaded file and runs the full pipeline
func (h *Handler) ProcessInvoice(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	requestStart := time.Now()

	claims, ok := auth.GetClaimsFromContext(r.Context())
	if !ok {
		h.sendError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)
	if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
		h.sendError(w, http.StatusBadRequest, "File too large or invalid form data")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "No file provided (use 'file' field)")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, "Failed to read file")
		return
	}

	meta := models.Metadata{
		Category: r.FormValue("category"),
		DocType:  r.FormValue("doc_type"),
		Flow:     r.FormValue("flow"),
	}
	if v := r.FormValue("withholding"); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			meta.Withholding = d
		}
	}
	if v := r.FormValue("suplidos"); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			meta.Suplidos = d
		}
	}
	force := r.FormValue("force") == "true"

	doc, err := h.pipeline.ProcessBytes(r.Context(), data, header.Filename, claims.Tenant, meta, force)
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, fmt.Sprintf("processing failed: %v", err))
		return
	}

	json.NewEncoder(w).Encode(models.ProcessResponse{
		Success:       doc.Status != models.StatusError,
		DocumentID:    doc.ID,
		Status:        doc.Status,
		Issues:        doc.Issues,
		Error:         doc.ErrorMessage,
		TotalDuration: time.Since(requestStart).Seconds(),
	})
}

// ReprocessDocument re-runs rules and routing from the stored OCR output
func (h *Handler) ReprocessDocument(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	doc, ok := h.tenantDocument(w, r)
	if !ok {
		return
	}

	var body struct {
		Category    string  `json:"category"`
		DocType     string  `json:"docType"`
		Flow        string  `json:"flow"`
		Withholding float64 `json:"withholding"`
		Suplidos    float64 `json:"suplidos"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		h.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	meta := models.Metadata{
		Category:    body.Category,
		DocType:     body.DocType,
		Flow:        body.Flow,
		Withholding: decimal.NewFromFloat(body.Withholding),
		Suplidos:    decimal.NewFromFloat(body.Suplidos),
	}

	redone, err := h.pipeline.Reprocess(r.Context(), doc.ID, meta)
	if err != nil {
		h.sendError(w, http.StatusUnprocessableEntity, fmt.Sprintf("reprocess failed: %v", err))
		return
	}

	json.NewEncoder(w).Encode(models.ProcessResponse{
		Success:    redone.Status != models.StatusError,
		DocumentID: redone.ID,
		Status:     redone.Status,
		Issues:     redone.Issues,
		Error:      redone.ErrorMessage,
	})
}

// DocumentResponse is a document plus its issue labels and file URL
type DocumentResponse struct {
	*models.Document
	IssueLabels []string `json:"issueLabels,omitempty"`
	FileURL     string   `json:"fileUrl,omitempty"`
}

// GetDocument returns one document with human-readable issue labels
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	doc, ok := h.tenantDocument(w, r)
	if !ok {
		return
	}

	resp := DocumentResponse{
		Document:    doc,
		IssueLabels: rules.IssuesToMessages(doc.Issues),
	}
	if h.storage != nil && doc.ObjectKey != "" {
		if url, err := h.storage.PresignedURL(r.Context(), doc.ObjectKey); err == nil {
			resp.FileURL = url
		}
	}

	json.NewEncoder(w).Encode(resp)
}

// ListDocuments returns the tenant's documents in one status
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	claims, ok := auth.GetClaimsFromContext(r.Context())
	if !ok {
		h.sendError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	status := models.DocStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = models.StatusReviewPending
	}

	docs, err := h.store.ListDocumentsByStatus(r.Context(), claims.Tenant, status)
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list documents: %v", err))
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"documents": docs,
		"count":     len(docs),
	})
}

// GetEntry returns the proposed journal entry of one document
func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	doc, ok := h.tenantDocument(w, r)
	if !ok {
		return
	}

	entry, err := h.store.GetEntry(r.Context(), doc.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.sendError(w, http.StatusNotFound, "document has no entry yet")
			return
		}
		h.sendError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load entry: %v", err))
		return
	}

	json.NewEncoder(w).Encode(entry)
}

// GetAudit returns the audit trail of one document
func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	doc, ok := h.tenantDocument(w, r)
	if !ok {
		return
	}

	events, err := h.store.ListAudit(r.Context(), doc.ID)
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load audit trail: %v", err))
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

// ListReviews returns the tenant's pending review queue
func (h *Handler) ListReviews(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	claims, ok := auth.GetClaimsFromContext(r.Context())
	if !ok {
		h.sendError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	items, err := h.store.ListReviews(r.Context(), claims.Tenant, limit, offset)
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list reviews: %v", err))
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"reviews": items,
		"count":   len(items),
	})
}

// ListRetries returns queued transient OCR failures
func (h *Handler) ListRetries(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if _, ok := auth.GetClaimsFromContext(r.Context()); !ok {
		h.sendError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	items, err := h.store.ListRetries(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list retries: %v", err))
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"retries": items,
		"count":   len(items),
	})
}

// tenantDocument loads the {id} document and enforces tenant scoping.
func (h *Handler) tenantDocument(w http.ResponseWriter, r *http.Request) (*models.Document, bool) {
	claims, ok := auth.GetClaimsFromContext(r.Context())
	if !ok {
		h.sendError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}

	id := mux.Vars(r)["id"]
	doc, err := h.store.GetDocument(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.sendError(w, http.StatusNotFound, "document not found")
			return nil, false
		}
		h.sendError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load document: %v", err))
		return nil, false
	}
	if doc.Tenant != claims.Tenant {
		h.sendError(w, http.StatusForbidden, "document belongs to another tenant")
		return nil, false
	}
	return doc, true
}

func (h *Handler) sendError(w http.ResponseWriter, statusCode int, message string) {
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}
