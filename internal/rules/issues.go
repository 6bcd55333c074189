package rules

// Issue codes raised across the pipeline.
const (
	IssueAmountScaleSuspect      = "AMOUNT_SCALE_SUSPECT"
	IssueAmountMismatch          = "AMOUNT_MISMATCH"
	IssuePageCountZero           = "PAGECOUNT_ZERO"
	IssueRiskPremium             = "RISK_PREMIUM"
	IssueSecondOpinionDisagree   = "SECOND_OPINION_DISAGREE"
	IssueInvalidDate             = "INVALID_DATE"
	IssueFutureDate              = "FUTURE_DATE"
	IssueNoRule                  = "NO_RULE"
	IssueNIFSuspect              = "NIF_SUSPECT"
	IssueNonEURCurrency          = "NON_EUR_CURRENCY"
	IssueMissingSupplierNIF      = "MISSING_SUPPLIER_NIF"
	IssueMissingInvoiceNumber    = "MISSING_INVOICE_NUMBER"
	IssueDupNIFNumber            = "DUP_NIF_NUMBER"
	IssueDupNIFGross             = "DUP_NIF_GROSS"
	IssueCreditNote              = "CREDIT_NOTE"
	IssueIntracomIVA0            = "INTRACOM_IVA0"
	IssueLinesIncomplete         = "LINES_INCOMPLETE"
	IssueLLMError                = "LLM_ERROR"
	IssueLLMParseError           = "LLM_PARSE_ERROR"
	IssueLowConfidence           = "LOW_CONFIDENCE"
	IssueProviderDegraded        = "PROVIDER_DEGRADED"
	IssueOCRTempError            = "OCR_TEMP_ERROR"
	IssueLLMTempError            = "LLM_TEMP_ERROR"
	IssueProviderUnavailable     = "PROVIDER_UNAVAILABLE"
	IssueWithholdingPresent      = "WITHHOLDING_PRESENT"
	IssueWithholdingSalesUnsupported = "WITHHOLDING_SALES_UNSUPPORTED"
	IssueSuplidoPresent          = "SUPLIDO_PRESENT"
	IssuePolicyAutoreview        = "POLICY_AUTOREVIEW"
	IssueCategoryReview          = "CATEGORY_REVIEW"
	IssueCanarySample            = "CANARY_SAMPLE"
	IssueExportError             = "EXPORT_ERROR"
)

// IssueMessages maps codes to the labels shown in the review UI.
var IssueMessages = map[string]string{
	IssueAmountScaleSuspect:          "Importes sospechosos (posible coma/punto mal leído)",
	IssueAmountMismatch:              "Base + IVA no cuadra con el total",
	IssuePageCountZero:               "El PDF parece vacío (0 páginas)",
	IssueRiskPremium:                 "Importe alto/categoría sensible: requiere revisión",
	IssueSecondOpinionDisagree:       "La revisión LLM secundario difiere de la propuesta",
	IssueInvalidDate:                 "Fecha de factura inválida",
	IssueFutureDate:                  "Fecha futura fuera de tolerancia",
	IssueNoRule:                      "No existe mapping proveedor→cuenta",
	IssueNIFSuspect:                  "NIF/NIE/CIF no válido",
	IssueNonEURCurrency:              "Moneda distinta de EUR",
	IssueMissingSupplierNIF:          "Falta NIF del proveedor",
	IssueMissingInvoiceNumber:        "Falta número de factura",
	IssueDupNIFNumber:                "Posible duplicado por NIF+Número",
	IssueDupNIFGross:                 "Posible duplicado por NIF+Importe",
	IssueCreditNote:                  "Nota de crédito / abono",
	IssueIntracomIVA0:                "Operación intracomunitaria IVA 0%",
	IssueLinesIncomplete:             "Detalle de líneas incompleto",
	IssueLLMError:                    "Error en proveedor LLM",
	IssueLLMParseError:               "No se pudo parsear respuesta LLM",
	IssueLowConfidence:               "Confianza global insuficiente",
	IssueProviderDegraded:            "Proveedor degradado (circuit breaker)",
	IssueOCRTempError:                "OCR temporalmente no disponible",
	IssueLLMTempError:                "LLM temporalmente no disponible",
	IssueProviderUnavailable:         "Proveedor no disponible temporalmente",
	IssueWithholdingPresent:          "Factura con retención/IRPF",
	IssueWithholdingSalesUnsupported: "Retención en ventas requiere revisión manual",
	IssueSuplidoPresent:              "Factura con suplidos/partidas exentas",
	IssuePolicyAutoreview:            "Autocontabilización desactivada para el tenant",
	IssueCategoryReview:              "Categoría fuera de la lista segura",
	IssueCanarySample:                "Muestreo de control (canary)",
	IssueExportError:                 "Error exportando el asiento",
}

// ReviewAlways lists the codes that route a document to human review
// regardless of confidence.
var ReviewAlways = map[string]bool{
	IssueAmountMismatch:              true,
	IssuePageCountZero:               true,
	IssueInvalidDate:                 true,
	IssueFutureDate:                  true,
	IssueNoRule:                      true,
	IssueNIFSuspect:                  true,
	IssueNonEURCurrency:              true,
	IssueMissingSupplierNIF:          true,
	IssueMissingInvoiceNumber:        true,
	IssueDupNIFNumber:                true,
	IssueDupNIFGross:                 true,
	IssueLowConfidence:               true,
	IssueProviderDegraded:            true,
	IssueOCRTempError:                true,
	IssueLLMTempError:                true,
	IssueProviderUnavailable:         true,
	IssueAmountScaleSuspect:          true,
	IssueRiskPremium:                 true,
	IssueWithholdingPresent:          true,
	IssueWithholdingSalesUnsupported: true,
	IssueSuplidoPresent:              true,
}

// HardIssues lists the codes that block auto-posting outright.
var HardIssues = map[string]bool{
	IssueAmountMismatch:       true,
	IssueLinesIncomplete:      true,
	IssueMissingSupplierNIF:   true,
	IssueMissingInvoiceNumber: true,
	IssueInvalidDate:          true,
	IssueFutureDate:           true,
	IssueNIFSuspect:           true,
	IssueLLMError:             true,
	IssueLLMParseError:        true,
	IssueProviderDegraded:     true,
	IssueOCRTempError:         true,
	IssueLLMTempError:         true,
	IssueAmountScaleSuspect:   true,
	IssuePageCountZero:        true,
}

// AppendIssue adds a code once, keeping first-seen order.
func AppendIssue(issues []string, code string) []string {
	for _, c := range issues {
		if c == code {
			return issues
		}
	}
	return append(issues, code)
}

// HasIssue reports whether a code is present.
func HasIssue(issues []string, code string) bool {
	for _, c := range issues {
		if c == code {
			return true
		}
	}
	return false
}

// IssuesToMessages translates codes to labels, passing unknown codes
// through untouched.
func IssuesToMessages(codes []string) []string {
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		if msg, ok := IssueMessages[c]; ok {
			out = append(out, msg)
		} else {
			out = append(out, c)
		}
	}
	return out
}
