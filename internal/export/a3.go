package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"

	"github.com/contaflow/invoice-pipeline/internal/models"
)

var a3Columns = []string{"Fecha", "Diario", "Documento", "Cuenta", "Debe", "Haber", "Concepto", "NIF"}

// A3Adapter renders entries as A3innuva CSV imports.
type A3Adapter struct {
	uploader Uploader
}

func (a *A3Adapter) Name() string { return "a3innuva" }

func (a *A3Adapter) ExportEntry(ctx context.Context, docID string, entry *models.Entry) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(a3Columns); err != nil {
		return "", err
	}
	for _, line := range entry.Lines {
		concept := line.Description
		if concept == "" {
			concept = entry.SupplierName
		}
		record := []string{
			entry.InvoiceDate,
			entry.Journal,
			entry.InvoiceNumber,
			line.Account,
			line.Debit.StringFixed(2),
			line.Credit.StringFixed(2),
			concept,
			entry.SupplierNIF,
		}
		if err := w.Write(record); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}

	objectName := fmt.Sprintf("%s/csv/%s.csv", entry.Tenant, docID)
	return a.uploader.UploadExport(ctx, objectName, buf.Bytes(), "text/csv")
}
