package rules

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/contaflow/invoice-pipeline/internal/models"
)

// ClassifyDocType derives the document type from category, flow, NIF
// and amounts when the operator gave no explicit type.
func ClassifyDocType(inv *models.Invoice) string {
	category := strings.ToLower(strings.TrimSpace(inv.Metadata.Category))
	flow := strings.ToUpper(strings.TrimSpace(inv.Metadata.Flow))
	nif := strings.ToUpper(strings.TrimSpace(inv.SupplierNIF))
	gross := inv.Gross

	isAR := flow == "AR" || strings.HasPrefix(category, "ventas")
	if isAR {
		if gross.IsNegative() || category == "ventas_abono" {
			return "sales_credit_note"
		}
		if category == "ventas_intracom" || (strings.HasPrefix(nif, "EU") && inv.VAT.IsZero()) {
			return "sales_intracom_invoice"
		}
		return "sales_invoice"
	}

	switch {
	case category == "abono" || gross.IsNegative():
		return "credit_note"
	case category == "intracomunitaria" || strings.HasPrefix(nif, "EU"):
		return "intracom_invoice"
	}
	switch category {
	case "hosteleria", "viajes", "telefonia":
		if gross.Abs().LessThan(decimal.NewFromInt(250)) {
			return "expense_ticket"
		}
	case "marketing", "formacion":
		if gross.Abs().LessThan(decimal.NewFromInt(500)) {
			return "service_invoice"
		}
	}
	return "invoice"
}
