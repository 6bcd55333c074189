package rules

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/contaflow/invoice-pipeline/internal/advisor"
	"github.com/contaflow/invoice-pipeline/internal/models"
	"github.com/contaflow/invoice-pipeline/internal/store"
)

var amountTolerance = decimal.NewFromFloat(0.02)

const dedupeLookbackDays = 180

// CategoryAccountMap maps purchase categories to PGC expense accounts.
var CategoryAccountMap = map[string]string{
	"suministros":     "628000",
	"alquiler":        "621000",
	"software":        "629000",
	"it_support":      "629000",
	"hosteleria":      "629500",
	"intracomunitaria": "629000",
	"abono":           "700000",
	"marketing":       "627000",
	"telefonia":       "628100",
	"seguros":         "625000",
	"material_oficina": "602000",
	"mantenimiento":   "629300",
	"viajes":          "629200",
	"servicios_prof":  "623000",
	"formacion":       "649000",
}

// SalesCategoryAccountMap maps sales categories to revenue accounts.
var SalesCategoryAccountMap = map[string]string{
	"ventas_servicios": "705000",
	"ventas_productos": "700000",
	"ventas_intracom":  "705500",
	"ventas_abono":     "705000",
	"ventas_ticket":    "705200",
}

var sensitiveCategories = map[string]bool{
	"abono":           true,
	"ventas_abono":    true,
	"intracomunitaria": true,
	"ventas_intracom": true,
	"ventas_ticket":   true,
}

var mappingConfidence = map[string]float64{
	"rule_nif":  0.95,
	"rule_name": 0.90,
	"llm":       0.80,
	"category":  0.85,
	"fallback":  0.60,
}

// Accounts are the tenant's balance-sheet accounts and journals.
type Accounts struct {
	Supplier       string
	Customer       string
	DefaultJournal string
	SalesJournal   string
}

// EngineConfig tunes the rules engine.
type EngineConfig struct {
	PremiumGross decimal.Decimal
	Accounts     Accounts
}

// Evaluation is the outcome of running the rules over one invoice.
type Evaluation struct {
	Entry         *models.Entry
	Confidence    float64
	Issues        []string
	Duplicate     bool
	MappingSource string
	LLM           *advisor.Mapping
}

// Engine turns a normalized invoice into a proposed journal entry,
// accumulating issue codes along the way.
type Engine struct {
	store   store.Store
	advisor *advisor.Service
	rules   []VendorRule
	cfg     EngineConfig

	now func() time.Time
}

func NewEngine(st store.Store, adv *advisor.Service, rules []VendorRule, cfg EngineConfig) *Engine {
	if cfg.Accounts.Supplier == "" {
		cfg.Accounts.Supplier = "410000"
	}
	if cfg.Accounts.Customer == "" {
		cfg.Accounts.Customer = "430000"
	}
	if cfg.Accounts.DefaultJournal == "" {
		cfg.Accounts.DefaultJournal = "COMPRAS"
	}
	if cfg.Accounts.SalesJournal == "" {
		cfg.Accounts.SalesJournal = "VENTAS"
	}
	if cfg.PremiumGross.IsZero() {
		cfg.PremiumGross = decimal.NewFromInt(10000)
	}
	return &Engine{store: st, advisor: adv, rules: rules, cfg: cfg, now: time.Now}
}

// Evaluate runs classification, validation, duplicate detection, the
// mapping cascade and ledger-line construction for one invoice. The
// entry is persisted along with its dedupe-index row.
func (e *Engine) Evaluate(ctx context.Context, docID string, inv *models.Invoice) (*Evaluation, error) {
	category := strings.ToLower(strings.TrimSpace(inv.Metadata.Category))
	docType := strings.ToLower(inv.Metadata.DocType)
	flow := strings.ToUpper(inv.Metadata.Flow)
	if flow == "" {
		if strings.HasPrefix(docType, "sales") {
			flow = "AR"
		} else {
			flow = "AP"
		}
	}
	isSales := flow == "AR"

	supplierNIF := strings.ToUpper(strings.TrimSpace(inv.SupplierNIF))
	invoiceNumber := strings.TrimSpace(inv.InvoiceNumber)
	invoiceDate := NormalizeDate(inv.InvoiceDate)
	dueDate := NormalizeDate(inv.DueDate)
	currency := NormalizeCurrency(inv.Currency)
	baseAmount := quantize(inv.Base)
	vatAmount := quantize(inv.VAT)
	grossAmount := quantize(inv.Gross)

	premiumGross := e.cfg.PremiumGross
	if inv.Metadata.PremiumGross.IsPositive() {
		premiumGross = inv.Metadata.PremiumGross
	}

	var issues []string
	if grossAmount.GreaterThanOrEqual(premiumGross) {
		issues = AppendIssue(issues, IssueRiskPremium)
	}
	if sensitiveCategories[category] {
		issues = AppendIssue(issues, IssueRiskPremium)
	}
	for _, code := range inv.Metadata.ForcedIssues {
		issues = AppendIssue(issues, code)
	}
	if supplierNIF == "" {
		issues = AppendIssue(issues, IssueMissingSupplierNIF)
	}
	if invoiceNumber == "" {
		issues = AppendIssue(issues, IssueMissingInvoiceNumber)
	}

	withholding := quantize(inv.Metadata.Withholding.Abs())
	suplidos := quantize(inv.Metadata.Suplidos.Abs())
	issues = e.checkAmounts(issues, baseAmount, vatAmount, grossAmount, withholding, suplidos, inv.Lines)
	if linesIncomplete(grossAmount, inv.Lines) {
		issues = AppendIssue(issues, IssueLinesIncomplete)
	}

	today := e.now()
	if invoiceDate == "" {
		invoiceDate = today.Format("2006-01-02")
		issues = AppendIssue(issues, IssueInvalidDate)
	} else if parsed, err := time.Parse("2006-01-02", invoiceDate); err == nil {
		if parsed.After(today.AddDate(0, 0, 3)) {
			issues = AppendIssue(issues, IssueFutureDate)
		}
	}

	if currency != "EUR" {
		issues = AppendIssue(issues, IssueNonEURCurrency)
	}

	nifPenalty := 0.0
	switch ValidateNIF(supplierNIF) {
	case NIFInvalid:
		issues = AppendIssue(issues, IssueNIFSuspect)
	case NIFMaybe:
		nifPenalty = 0.03
	}

	duplicate := false
	hits, err := e.store.FindDuplicates(ctx, inv.Tenant, supplierNIF, invoiceNumber, grossAmount, dedupeLookbackDays)
	if err != nil {
		log.Printf("duplicate lookup failed for %s: %v", docID, err)
	}
	var others []store.DuplicateHit
	for _, hit := range hits {
		if hit.DocumentID != docID {
			others = append(others, hit)
		}
	}
	for _, hit := range others {
		if invoiceNumber != "" && hit.InvoiceNumber == invoiceNumber {
			duplicate = true
			issues = AppendIssue(issues, IssueDupNIFNumber)
			break
		}
	}
	if !duplicate && len(others) > 0 {
		duplicate = true
		issues = AppendIssue(issues, IssueDupNIFGross)
	}

	isCreditNote := false
	if category == "abono" || category == "ventas_abono" || grossAmount.IsNegative() {
		isCreditNote = true
		issues = AppendIssue(issues, IssueCreditNote)
		baseAmount = baseAmount.Abs()
		vatAmount = vatAmount.Abs()
		grossAmount = grossAmount.Abs()
	}

	if docType == "expense_ticket" && grossAmount.GreaterThan(decimal.NewFromInt(500)) {
		issues = AppendIssue(issues, IssueAmountScaleSuspect)
	}

	isIntracom := strings.HasPrefix(supplierNIF, "EU") || category == "intracomunitaria"
	if isIntracom && vatAmount.IsZero() {
		issues = AppendIssue(issues, IssueIntracomIVA0)
	}

	// mapping cascade
	account := ""
	ivaType := 21.0
	var llmMeta *advisor.Mapping
	rationale := ""
	rule, mappingSource := matchRule(e.rules, inv.Tenant, supplierNIF, inv.SupplierName)
	if rule != nil {
		account = rule.Account
		ivaType = rule.IVAType
	} else {
		mapping := e.advisor.Suggest(ctx, inv)
		mappingSource = "fallback"
		if mapping != nil {
			mappingSource = "llm"
			account = mapping.Account
			if mapping.IVAType != 0 {
				ivaType = mapping.IVAType
			}
			rationale = mapping.Rationale
			llmMeta = mapping
			for _, code := range mapping.IssueCodes {
				issues = AppendIssue(issues, code)
			}
		}
		issues = AppendIssue(issues, IssueNoRule)
		if account == "" {
			targetMap := CategoryAccountMap
			if isSales {
				targetMap = SalesCategoryAccountMap
			}
			if mapped, ok := targetMap[category]; ok {
				account = mapped
				mappingSource = "category"
			} else {
				if isSales {
					account = "705000"
				} else {
					account = "629000"
				}
				mappingSource = "fallback"
			}
		}
	}
	if mappingSource == "category" {
		issues = removeIssue(issues, IssueNoRule)
	}

	confidence := mappingConfidence[mappingSource]
	if confidence == 0 {
		confidence = 0.60
	}
	penalties := 0
	for _, code := range issues {
		if code == IssueNoRule || code == IssueDupNIFNumber || code == IssueDupNIFGross {
			continue
		}
		penalties++
	}
	confidence -= 0.05 * float64(penalties)
	confidence -= nifPenalty
	if confidence < 0.10 {
		confidence = 0.10
	}
	if confidence > 0.99 {
		confidence = 0.99
	}

	// group lines by VAT rate
	type vatGroup struct {
		base decimal.Decimal
		vat  decimal.Decimal
	}
	groups := map[string]*vatGroup{}
	var rateOrder []string
	for _, line := range inv.Lines {
		rate := line.VATRate
		if rate.IsZero() && !vatAmount.IsZero() {
			rate = decimal.NewFromFloat(ivaType)
		}
		key := rate.String()
		g, ok := groups[key]
		if !ok {
			g = &vatGroup{}
			groups[key] = g
			rateOrder = append(rateOrder, key)
		}
		baseVal := quantize(line.Amount.Abs())
		g.base = g.base.Add(baseVal)
		g.vat = g.vat.Add(quantize(baseVal.Mul(rate).Div(decimal.NewFromInt(100))))
	}
	if len(groups) == 0 {
		key := decimal.NewFromFloat(ivaType).String()
		groups[key] = &vatGroup{base: baseAmount, vat: vatAmount}
		rateOrder = append(rateOrder, key)
	}

	vatAccount := "472000"
	if isSales {
		vatAccount = "477000"
	}
	principalAccount := account
	if isSales && !strings.HasPrefix(account, "7") {
		principalAccount = "705000"
		if mapped, ok := SalesCategoryAccountMap[category]; ok {
			principalAccount = mapped
		}
	}
	if !isSales && !strings.HasPrefix(account, "6") {
		principalAccount = "600000"
		if mapped, ok := CategoryAccountMap[category]; ok {
			principalAccount = mapped
		}
	}

	// Polarity: purchases debit expense and credit the supplier; sales
	// mirror it. Credit notes invert both sides.
	principalDebit := !isCreditNote
	if isSales {
		principalDebit = isCreditNote
	}

	var entryLines []models.EntryLine
	for _, key := range rateOrder {
		g := groups[key]
		if !g.base.IsPositive() {
			continue
		}
		rate, _ := decimal.NewFromString(key)
		concept := invoiceNumber
		if concept == "" {
			concept = inv.SupplierName
		}
		entryLines = append(entryLines, buildLine(principalAccount,
			fmt.Sprintf("%s (%s%%)", concept, rate.StringFixed(2)), g.base, principalDebit, rate))
		if g.vat.IsPositive() {
			vatConcept := "IVA SOPORTADO"
			if isSales {
				vatConcept = "IVA REPERCUTIDO"
			}
			entryLines = append(entryLines, buildLine(vatAccount,
				fmt.Sprintf("%s %s%%", vatConcept, rate.StringFixed(2)), g.vat, principalDebit, rate))
		}
	}

	if withholding.IsPositive() {
		if isSales {
			entryLines = append(entryLines, buildLine("470800", "Retención ventas", withholding, !isCreditNote, decimal.Zero))
			issues = AppendIssue(issues, IssueWithholdingSalesUnsupported)
		} else {
			entryLines = append(entryLines, buildLine("475100", "Retención IRPF", withholding, isCreditNote, decimal.Zero))
		}
	}

	// counterpart for the gross amount
	if isSales {
		entryLines = append(entryLines, buildLine(e.cfg.Accounts.Customer, inv.SupplierName, grossAmount, !isCreditNote, decimal.Zero))
	} else {
		entryLines = append(entryLines, buildLine(e.cfg.Accounts.Supplier, inv.SupplierName, grossAmount, isCreditNote, decimal.Zero))
	}

	journal := e.cfg.Accounts.DefaultJournal
	if isSales {
		journal = e.cfg.Accounts.SalesJournal
	}
	entry := &models.Entry{
		DocumentID:    docID,
		Tenant:        inv.Tenant,
		Flow:          flow,
		Journal:       journal,
		Account:       principalAccount,
		SupplierName:  inv.SupplierName,
		SupplierNIF:   supplierNIF,
		InvoiceNumber: invoiceNumber,
		InvoiceDate:   invoiceDate,
		DueDate:       dueDate,
		Currency:      currency,
		Lines:         entryLines,
		Confidence:    confidence,
		Issues:        issues,
		MappingSource: mappingSource,
		Rationale:     rationale,
		Duplicate:     duplicate,
		CreatedAt:     time.Now().UTC(),
	}

	if err := e.store.SaveEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to persist entry for %s: %w", docID, err)
	}
	if err := e.store.UpsertDedupe(ctx, docID, inv.Tenant, supplierNIF, invoiceNumber, invoiceDate, grossAmount); err != nil {
		log.Printf("dedupe upsert failed for %s: %v", docID, err)
	}

	return &Evaluation{
		Entry:         entry,
		Confidence:    confidence,
		Issues:        issues,
		Duplicate:     duplicate,
		MappingSource: mappingSource,
		LLM:           llmMeta,
	}, nil
}

func (e *Engine) checkAmounts(issues []string, base, vat, gross, withholding, suplidos decimal.Decimal, lines []models.InvoiceLine) []string {
	if withholding.IsPositive() {
		issues = AppendIssue(issues, IssueWithholdingPresent)
	}
	if suplidos.IsPositive() {
		issues = AppendIssue(issues, IssueSuplidoPresent)
	}
	adjusted := base.Add(vat).Add(suplidos).Sub(withholding)
	if adjusted.Sub(gross).Abs().GreaterThan(amountTolerance) {
		issues = AppendIssue(issues, IssueAmountMismatch)
	}
	if len(lines) > 0 {
		lineTotal := decimal.Zero
		for _, l := range lines {
			lineTotal = lineTotal.Add(quantize(l.Amount).Abs())
		}
		if lineTotal.Add(suplidos).Sub(withholding).Sub(gross).Abs().GreaterThan(amountTolerance) {
			issues = AppendIssue(issues, IssueAmountMismatch)
		}
	}
	return issues
}

// linesIncomplete flags invoices over 20 EUR without a single
// meaningful line.
func linesIncomplete(gross decimal.Decimal, lines []models.InvoiceLine) bool {
	if gross.LessThanOrEqual(decimal.NewFromInt(20)) {
		return false
	}
	for _, l := range lines {
		if quantize(l.Amount).Abs().GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return false
		}
	}
	return true
}

func buildLine(account, description string, amount decimal.Decimal, debit bool, vatRate decimal.Decimal) models.EntryLine {
	line := models.EntryLine{
		Account:     account,
		Description: description,
		VATRate:     vatRate,
	}
	if debit {
		line.Debit = amount
	} else {
		line.Credit = amount
	}
	return line
}

func removeIssue(issues []string, code string) []string {
	out := issues[:0]
	for _, c := range issues {
		if c != code {
			out = append(out, c)
		}
	}
	return out
}
