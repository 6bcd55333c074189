package models

import "time"

// DocStatus is the lifecycle state of a processed document.
type DocStatus string

const (
	StatusReceived      DocStatus = "RECEIVED"
	StatusOCROK         DocStatus = "OCR_OK"
	StatusEntryReady    DocStatus = "ENTRY_READY"
	StatusReviewPending DocStatus = "REVIEW_PENDING"
	StatusPosted        DocStatus = "POSTED"
	StatusError         DocStatus = "ERROR"
)

// Terminal reports whether a document in this status is done for good.
// REVIEW_PENDING and ERROR documents can be reprocessed.
func (s DocStatus) Terminal() bool {
	return s == StatusPosted
}

// Document is the persisted lifecycle record of one uploaded file,
// keyed by the sha256 of its bytes.
type Document struct {
	ID       string    `json:"id"` // sha256 hex of the content
	Tenant   string    `json:"tenant"`
	Filename string    `json:"filename,omitempty"`
	ObjectKey string   `json:"objectKey,omitempty"`
	Status   DocStatus `json:"status"`

	DocType       string `json:"docType,omitempty"`
	SupplierNIF   string `json:"supplierNif,omitempty"`
	InvoiceNumber string `json:"invoiceNumber,omitempty"`

	OCRProvider  string `json:"ocrProvider,omitempty"`
	OCRLatencyMS int64  `json:"ocrLatencyMs,omitempty"`
	LLMProvider  string `json:"llmProvider,omitempty"`
	LLMModel     string `json:"llmModel,omitempty"`

	ConfidenceOCR    float64 `json:"confidenceOcr,omitempty"`
	ConfidenceEntry  float64 `json:"confidenceEntry,omitempty"`
	ConfidenceLLM    float64 `json:"confidenceLlm,omitempty"`
	ConfidenceGlobal float64 `json:"confidenceGlobal,omitempty"`

	Issues       []string `json:"issues,omitempty"`
	ErrorMessage string   `json:"errorMessage,omitempty"`

	ReceivedAt time.Time  `json:"receivedAt"`
	OCRAt      *time.Time `json:"ocrAt,omitempty"`
	RuledAt    *time.Time `json:"ruledAt,omitempty"`
	PostedAt   *time.Time `json:"postedAt,omitempty"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}
