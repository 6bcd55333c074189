package rules

import (
	"encoding/csv"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// VendorRule maps a known supplier to its ledger account, per tenant.
type VendorRule struct {
	Tenant       string
	SupplierName string
	NIF          string
	Account      string
	IVAType      float64
	Notes        string
}

// LoadVendorRules reads the tenant vendor map from CSV. A missing
// file is not an error: the service starts with an empty rule set.
func LoadVendorRules(path string) ([]VendorRule, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open vendor rules: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse vendor rules: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	col := map[string]int{}
	for i, name := range records[0] {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var rules []VendorRule
	for _, row := range records[1:] {
		rule := VendorRule{
			Tenant:       field(row, "tenant"),
			SupplierName: field(row, "supplier_name"),
			NIF:          field(row, "nif"),
			Account:      field(row, "account"),
			Notes:        field(row, "notes"),
			IVAType:      21,
		}
		if raw := field(row, "iva_type"); raw != "" {
			if v, err := strconv.ParseFloat(raw, 64); err == nil {
				rule.IVAType = v
			}
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

var spaceRe = regexp.MustCompile(`\s+`)

func normalizeName(name string) string {
	return spaceRe.ReplaceAllString(strings.ToUpper(strings.TrimSpace(name)), " ")
}

const nameMatchThreshold = 0.82

// matchRule finds the vendor rule for an invoice. An exact NIF match
// wins; otherwise the best fuzzy name match above the threshold.
// The second return names the match source ("rule_nif" or
// "rule_name"), empty when nothing matched.
func matchRule(rules []VendorRule, tenant, supplierNIF, supplierName string) (*VendorRule, string) {
	nif := strings.ToUpper(supplierNIF)
	name := normalizeName(supplierName)

	var best *VendorRule
	bestRatio := 0.0
	for i := range rules {
		rule := &rules[i]
		if rule.Tenant != "" && !strings.EqualFold(rule.Tenant, tenant) {
			continue
		}
		ruleNIF := strings.ToUpper(rule.NIF)
		if nif != "" && ruleNIF != "" && ruleNIF == nif {
			return rule, "rule_nif"
		}
		ruleName := normalizeName(rule.SupplierName)
		if name != "" && ruleName != "" {
			if ratio := similarityRatio(name, ruleName); ratio > bestRatio {
				bestRatio = ratio
				best = rule
			}
		}
	}
	if best != nil && bestRatio >= nameMatchThreshold {
		return best, "rule_name"
	}
	return nil, ""
}
