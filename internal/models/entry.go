package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Entry is a proposed double-entry journal entry for one document.
type Entry struct {
	DocumentID string `json:"documentId"`
	Tenant     string `json:"tenant"`
	Flow       string `json:"flow"` // "AR" or "AP"
	Journal    string `json:"journal"`
	Account    string `json:"account"`

	SupplierName  string `json:"supplierName,omitempty"`
	SupplierNIF   string `json:"supplierNif,omitempty"`
	InvoiceNumber string `json:"invoiceNumber,omitempty"`
	InvoiceDate   string `json:"invoiceDate,omitempty"`
	DueDate       string `json:"dueDate,omitempty"`
	Currency      string `json:"currency,omitempty"`

	Lines []EntryLine `json:"lines"`

	Confidence    float64  `json:"confidence"`
	Issues        []string `json:"issues,omitempty"`
	MappingSource string   `json:"mappingSource,omitempty"`
	Rationale     string   `json:"rationale,omitempty"`
	Duplicate     bool     `json:"duplicate,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// EntryLine is one ledger line. Exactly one of Debit/Credit is set.
type EntryLine struct {
	Account     string          `json:"account"`
	Description string          `json:"description,omitempty"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	VATRate     decimal.Decimal `json:"vatRate,omitempty"`
}

// Balanced reports whether debits equal credits within a cent.
func (e *Entry) Balanced() bool {
	debit := decimal.Zero
	credit := decimal.Zero
	for _, l := range e.Lines {
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
	}
	return debit.Sub(credit).Abs().LessThanOrEqual(decimal.NewFromFloat(0.01))
}
