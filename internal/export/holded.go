package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/contaflow/invoice-pipeline/internal/models"
)

// HoldedAdapter renders entries as offline Holded JSON imports.
type HoldedAdapter struct {
	uploader Uploader
}

func (h *HoldedAdapter) Name() string { return "holded" }

type holdedLine struct {
	Account     string  `json:"account"`
	Description string  `json:"description"`
	Debit       float64 `json:"debit"`
	Credit      float64 `json:"credit"`
}

type holdedContact struct {
	Name  string `json:"name"`
	TaxID string `json:"tax_id"`
}

type holdedPayload struct {
	Date           string        `json:"date"`
	DueDate        string        `json:"dueDate,omitempty"`
	Journal        string        `json:"journal"`
	DocumentNumber string        `json:"documentNumber"`
	Contact        holdedContact `json:"contact"`
	Currency       string        `json:"currency"`
	Lines          []holdedLine  `json:"lines"`
}

func (h *HoldedAdapter) ExportEntry(ctx context.Context, docID string, entry *models.Entry) (string, error) {
	payload := holdedPayload{
		Date:           entry.InvoiceDate,
		DueDate:        entry.DueDate,
		Journal:        entry.Journal,
		DocumentNumber: entry.InvoiceNumber,
		Contact:        holdedContact{Name: entry.SupplierName, TaxID: entry.SupplierNIF},
		Currency:       entry.Currency,
	}
	if payload.Currency == "" {
		payload.Currency = "EUR"
	}
	for _, line := range entry.Lines {
		debit, _ := line.Debit.Float64()
		credit, _ := line.Credit.Float64()
		payload.Lines = append(payload.Lines, holdedLine{
			Account:     line.Account,
			Description: line.Description,
			Debit:       debit,
			Credit:      credit,
		})
	}

	if errs := validateHoldedPayload(&payload); len(errs) > 0 {
		log.Printf("holded payload for %s has %d validation errors: %v", docID, len(errs), errs)
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", err
	}
	objectName := fmt.Sprintf("%s/holded/%s.json", entry.Tenant, docID)
	return h.uploader.UploadExport(ctx, objectName, data, "application/json")
}

func validateHoldedPayload(p *holdedPayload) []string {
	var errs []string
	if p.Date == "" {
		errs = append(errs, "date: required")
	}
	if p.DocumentNumber == "" {
		errs = append(errs, "documentNumber: required")
	}
	if p.Contact.Name == "" {
		errs = append(errs, "contact.name: required")
	}
	if len(p.Lines) == 0 {
		errs = append(errs, "lines: at least one line is required")
	}
	var debit, credit float64
	for _, l := range p.Lines {
		if l.Account == "" {
			errs = append(errs, "lines.account: required")
		}
		debit += l.Debit
		credit += l.Credit
	}
	if diff := debit - credit; diff > 0.01 || diff < -0.01 {
		errs = append(errs, fmt.Sprintf("lines: debit %.2f and credit %.2f do not balance", debit, credit))
	}
	return errs
}
