package advisor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/contaflow/invoice-pipeline/internal/models"
)

// buildMappingPrompt asks for a Spanish PGC account proposal as bare
// JSON.
func buildMappingPrompt(inv *models.Invoice) string {
	var lines strings.Builder
	for i, l := range inv.Lines {
		if i >= 8 {
			lines.WriteString("  ...\n")
			break
		}
		fmt.Fprintf(&lines, "  - %s: %s (IVA %s%%)\n", l.Description, l.Amount.StringFixed(2), l.VATRate.String())
	}

	return fmt.Sprintf(`Eres un contable experto en el Plan General Contable español.
Propón la cuenta contable para esta factura.

Proveedor: %s
NIF: %s
Categoría declarada: %s
Flujo: %s
Número: %s
Fecha: %s
Base: %s  IVA: %s  Total: %s %s
Líneas:
%s
Devuelve SOLO JSON válido (sin markdown, sin comentarios):
{
  "account": "cuenta PGC de 6 dígitos (6xxxxx para compras, 7xxxxx para ventas)",
  "iva_type": numero (tipo de IVA aplicable: 21, 10, 4 o 0),
  "confidence": numero entre 0 y 1,
  "rationale": "explicación breve en una frase"
}

REGLAS:
1. Usa cuentas del grupo 6 para facturas recibidas y del grupo 7 para emitidas
2. Si la factura es intracomunitaria con IVA 0, indícalo en rationale
3. NUNCA inventes una cuenta fuera del PGC
4. Si no estás seguro usa 629000 con confidence baja`,
		inv.SupplierName, inv.SupplierNIF, inv.Metadata.Category, inv.Metadata.Flow,
		inv.InvoiceNumber, inv.InvoiceDate,
		inv.Base.StringFixed(2), inv.VAT.StringFixed(2), inv.Gross.StringFixed(2), inv.Currency,
		lines.String())
}

// parseMapping converts a model response into a Mapping. Responses
// that are not parseable JSON come back as a low-confidence mapping
// flagged with LLM_PARSE_ERROR rather than an error: the call itself
// succeeded.
func parseMapping(response string) *Mapping {
	cleaned := strings.TrimSpace(response)
	cleaned = strings.ReplaceAll(cleaned, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	cleaned = strings.TrimSpace(cleaned)

	var raw struct {
		Account    string      `json:"account"`
		IVAType    json.Number `json:"iva_type"`
		Confidence float64     `json:"confidence"`
		Rationale  string      `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		snippet := cleaned
		if len(snippet) > 120 {
			snippet = snippet[:120]
		}
		return &Mapping{
			IssueCodes: []string{"LLM_PARSE_ERROR"},
			Confidence: 0.3,
			Rationale:  "respuesta no parseable: " + snippet,
		}
	}

	ivaType := 21.0
	if v, err := raw.IVAType.Float64(); err == nil {
		ivaType = v
	}
	return &Mapping{
		Account:    strings.TrimSpace(raw.Account),
		IVAType:    ivaType,
		Confidence: raw.Confidence,
		Rationale:  raw.Rationale,
	}
}
