package rules

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/contaflow/invoice-pipeline/internal/models"
)

func TestClassifyDocType(t *testing.T) {
	cases := []struct {
		name     string
		category string
		flow     string
		nif      string
		gross    float64
		vat      float64
		want     string
	}{
		{"plain purchase", "", "", "A58818501", 121, 21, "invoice"},
		{"credit note by category", "abono", "", "A58818501", 121, 21, "credit_note"},
		{"credit note by sign", "", "", "A58818501", -50, -8.68, "credit_note"},
		{"intracom by category", "intracomunitaria", "", "DE811128135", 100, 0, "intracom_invoice"},
		{"intracom by nif", "", "", "EU826010755", 100, 0, "intracom_invoice"},
		{"expense ticket", "hosteleria", "", "B12345674", 18.50, 1.68, "expense_ticket"},
		{"large hosteleria is not a ticket", "hosteleria", "", "B12345674", 300, 52.07, "invoice"},
		{"service invoice", "marketing", "", "B12345674", 400, 69.42, "service_invoice"},
		{"large marketing is plain", "marketing", "", "B12345674", 900, 156.20, "invoice"},
		{"sales by flow", "", "AR", "A58818501", 121, 21, "sales_invoice"},
		{"sales by category prefix", "ventas_servicios", "", "A58818501", 121, 21, "sales_invoice"},
		{"sales credit note", "ventas_abono", "AR", "A58818501", 121, 21, "sales_credit_note"},
		{"sales credit note by sign", "ventas", "", "A58818501", -121, -21, "sales_credit_note"},
		{"sales intracom", "ventas_intracom", "AR", "DE811128135", 100, 0, "sales_intracom_invoice"},
		{"sales intracom by nif", "ventas", "", "EU826010755", 100, 0, "sales_intracom_invoice"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			inv := &models.Invoice{
				SupplierNIF: tc.nif,
				Gross:       decimal.NewFromFloat(tc.gross),
				VAT:         decimal.NewFromFloat(tc.vat),
				Metadata: models.Metadata{
					Category: tc.category,
					Flow:     tc.flow,
				},
			}
			assert.Equal(t, tc.want, ClassifyDocType(inv))
		})
	}
}
