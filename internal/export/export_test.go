package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contaflow/invoice-pipeline/internal/models"
)

type fakeUploader struct {
	objectName  string
	contentType string
	data        []byte
}

func (f *fakeUploader) UploadExport(_ context.Context, objectName string, data []byte, contentType string) (string, error) {
	f.objectName = objectName
	f.contentType = contentType
	f.data = data
	return "exports/" + objectName, nil
}

func sampleEntry() *models.Entry {
	return &models.Entry{
		DocumentID:    "doc1",
		Tenant:        "acme",
		Flow:          "AP",
		Journal:       "COMPRAS",
		SupplierName:  "Telefonica",
		SupplierNIF:   "A58818501",
		InvoiceNumber: "F-2025-100",
		InvoiceDate:   "2025-08-01",
		Currency:      "EUR",
		Lines: []models.EntryLine{
			{Account: "628100", Description: "F-2025-100 (21.00%)", Debit: decimal.NewFromFloat(16.53)},
			{Account: "472000", Description: "IVA SOPORTADO 21.00%", Debit: decimal.NewFromFloat(3.47)},
			{Account: "410000", Description: "Telefonica", Credit: decimal.NewFromFloat(20)},
		},
	}
}

func TestA3AdapterWritesCSV(t *testing.T) {
	up := &fakeUploader{}
	a, err := NewAdapter("a3csv", up)
	require.NoError(t, err)
	assert.Equal(t, "a3innuva", a.Name())

	location, err := a.ExportEntry(context.Background(), "doc1", sampleEntry())
	require.NoError(t, err)
	assert.Equal(t, "exports/acme/csv/doc1.csv", location)
	assert.Equal(t, "text/csv", up.contentType)

	records, err := csv.NewReader(strings.NewReader(string(up.data))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, a3Columns, records[0])
	assert.Equal(t, []string{"2025-08-01", "COMPRAS", "F-2025-100", "628100", "16.53", "0.00", "F-2025-100 (21.00%)", "A58818501"}, records[1])
	assert.Equal(t, "20.00", records[3][5])
}

func TestHoldedAdapterWritesJSON(t *testing.T) {
	up := &fakeUploader{}
	a, err := NewAdapter("holded", up)
	require.NoError(t, err)

	location, err := a.ExportEntry(context.Background(), "doc1", sampleEntry())
	require.NoError(t, err)
	assert.Equal(t, "exports/acme/holded/doc1.json", location)
	assert.Equal(t, "application/json", up.contentType)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(up.data, &payload))
	assert.Equal(t, "F-2025-100", payload["documentNumber"])
	assert.Equal(t, "EUR", payload["currency"])
	assert.Len(t, payload["lines"], 3)
}

func TestHoldedValidation(t *testing.T) {
	p := &holdedPayload{
		Lines: []holdedLine{{Account: "628100", Debit: 10}},
	}
	errs := validateHoldedPayload(p)
	assert.Contains(t, errs, "date: required")
	assert.Contains(t, errs, "documentNumber: required")
	assert.Contains(t, errs, "contact.name: required")
	assert.Contains(t, errs, "lines: debit 10.00 and credit 0.00 do not balance")
}

func TestContasolNotImplemented(t *testing.T) {
	_, err := NewAdapter("contasol", &fakeUploader{})
	assert.Error(t, err)
}

func TestUnknownFormat(t *testing.T) {
	_, err := NewAdapter("oracle", &fakeUploader{})
	assert.Error(t, err)
}
