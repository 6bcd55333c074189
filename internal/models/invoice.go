package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExtractionResult is the canonical output of an OCR provider call,
// independent of which backend produced it. Dates stay as strings in
// ISO format (yyyy-mm-dd) so malformed provider output survives until
// the rules engine can flag it.
type ExtractionResult struct {
	SupplierName  string `json:"supplierName,omitempty"`
	SupplierNIF   string `json:"supplierNif,omitempty"`
	CustomerNIF   string `json:"customerNif,omitempty"`
	InvoiceNumber string `json:"invoiceNumber,omitempty"`
	InvoiceDate   string `json:"invoiceDate,omitempty"`
	DueDate       string `json:"dueDate,omitempty"`
	Currency      string `json:"currency,omitempty"`

	Base  decimal.Decimal `json:"base"`
	VAT   decimal.Decimal `json:"vat"`
	Gross decimal.Decimal `json:"gross"`

	Lines []ExtractedLine `json:"lines,omitempty"`

	Confidence float64 `json:"confidence"`
	PageCount  int     `json:"pageCount"`
	RawText    string  `json:"rawText,omitempty"`

	Provider   string `json:"provider,omitempty"`
	DurationMS int64  `json:"durationMs,omitempty"`
}

// ExtractedLine is a single invoice line as read by the provider.
type ExtractedLine struct {
	Description string          `json:"description,omitempty"`
	Quantity    decimal.Decimal `json:"quantity,omitempty"`
	UnitPrice   decimal.Decimal `json:"unitPrice,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	VATRate     decimal.Decimal `json:"vatRate"`
}

// Invoice is the normalized view the accounting rules operate on:
// the extraction result plus tenant context and operator metadata.
type Invoice struct {
	Tenant string `json:"tenant"`

	SupplierName  string `json:"supplierName,omitempty"`
	SupplierNIF   string `json:"supplierNif,omitempty"`
	InvoiceNumber string `json:"invoiceNumber,omitempty"`
	InvoiceDate   string `json:"invoiceDate,omitempty"`
	DueDate       string `json:"dueDate,omitempty"`
	Currency      string `json:"currency,omitempty"`

	Base  decimal.Decimal `json:"base"`
	VAT   decimal.Decimal `json:"vat"`
	Gross decimal.Decimal `json:"gross"`

	Lines []InvoiceLine `json:"lines,omitempty"`

	Metadata Metadata `json:"metadata"`

	ConfidenceOCR float64 `json:"confidenceOcr"`
	PageCount     int     `json:"pageCount"`
}

// InvoiceLine is a line as the rules engine sees it.
type InvoiceLine struct {
	Description string          `json:"description,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	VATRate     decimal.Decimal `json:"vatRate"`
}

// Metadata carries hints that do not come from the document image:
// the tenant's category for the supplier, the document-type heuristic,
// the AR/AP flow hint and the Spanish fiscal extras (IRPF withholding
// and suplidos).
type Metadata struct {
	Category     string          `json:"category,omitempty"`
	DocType      string          `json:"docType,omitempty"`
	Flow         string          `json:"flow,omitempty"` // "AR" or "AP"
	Withholding  decimal.Decimal `json:"withholding"`
	Suplidos     decimal.Decimal `json:"suplidos"`
	ForcedIssues []string        `json:"forcedIssues,omitempty"`

	// PremiumGross overrides the tenant's premium review threshold
	// when positive.
	PremiumGross decimal.Decimal `json:"premiumGross,omitempty"`
}

// FromExtraction builds the rules-engine invoice from an OCR result.
func FromExtraction(tenant string, ex *ExtractionResult, meta Metadata) *Invoice {
	inv := &Invoice{
		Tenant:        tenant,
		SupplierName:  ex.SupplierName,
		SupplierNIF:   ex.SupplierNIF,
		InvoiceNumber: ex.InvoiceNumber,
		InvoiceDate:   ex.InvoiceDate,
		DueDate:       ex.DueDate,
		Currency:      ex.Currency,
		Base:          ex.Base,
		VAT:           ex.VAT,
		Gross:         ex.Gross,
		Metadata:      meta,
		ConfidenceOCR: ex.Confidence,
		PageCount:     ex.PageCount,
	}
	for _, l := range ex.Lines {
		inv.Lines = append(inv.Lines, InvoiceLine{
			Description: l.Description,
			Amount:      l.Amount,
			VATRate:     l.VATRate,
		})
	}
	return inv
}

// ProcessResponse is returned by the process endpoint.
type ProcessResponse struct {
	Success    bool      `json:"success"`
	DocumentID string    `json:"documentId,omitempty"`
	Status     DocStatus `json:"status,omitempty"`
	Issues     []string  `json:"issues,omitempty"`
	Error      string    `json:"error,omitempty"`

	TotalDuration float64 `json:"totalDuration,omitempty"` // seconds
}

// ReviewItem is one pending row of the human review queue.
type ReviewItem struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"documentId"`
	Tenant     string    `json:"tenant"`
	Reasons    []string  `json:"reasons"`
	Labels     []string  `json:"labels,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// RetryItem is a transient OCR failure queued for a later attempt.
type RetryItem struct {
	DocumentID string    `json:"documentId"`
	Tenant     string    `json:"tenant"`
	Reason     string    `json:"reason"`
	Attempts   int       `json:"attempts"`
	NextTry    time.Time `json:"nextTry"`
}

// AuditEvent is one append-only audit trail row.
type AuditEvent struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"documentId"`
	Step       string    `json:"step"`
	Actor      string    `json:"actor"`
	Before     string    `json:"before,omitempty"`
	After      string    `json:"after,omitempty"`
	At         time.Time `json:"at"`
}
