package policy

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/contaflow/invoice-pipeline/internal/rules"
)

// Policy is the per-tenant posting policy. A missing policy file means
// the tenant runs with defaults: autopost on, no safe-list, no canary.
type Policy struct {
	Tenant         string          `yaml:"tenant"`
	Autopost       *bool           `yaml:"autopost"`
	SafeCategories []string        `yaml:"safe_categories"`
	CanaryRate     float64         `yaml:"canary_rate"`
	PremiumGross   decimal.Decimal `yaml:"premium_gross"`
}

// AutopostEnabled defaults to true when the file does not say otherwise.
func (p *Policy) AutopostEnabled() bool {
	return p.Autopost == nil || *p.Autopost
}

// Loader reads tenant policy files from a directory, caching parsed
// policies for the process lifetime.
type Loader struct {
	dir string

	mu       sync.RWMutex
	policies map[string]*Policy

	// draw returns a uniform sample in [0,1); replaced in tests
	draw func() float64
}

func NewLoader(dir string) *Loader {
	return &Loader{dir: dir, policies: map[string]*Policy{}, draw: rand.Float64}
}

// Get returns the tenant's policy, loading it on first use. Tenants
// without a policy file get the default policy.
func (l *Loader) Get(tenant string) *Policy {
	l.mu.RLock()
	p, ok := l.policies[tenant]
	l.mu.RUnlock()
	if ok {
		return p
	}

	p = &Policy{Tenant: tenant}
	if l.dir != "" {
		if loaded, err := loadFile(filepath.Join(l.dir, tenant+".yaml")); err == nil {
			loaded.Tenant = tenant
			p = loaded
		}
	}

	l.mu.Lock()
	if existing, ok := l.policies[tenant]; ok {
		p = existing
	} else {
		l.policies[tenant] = p
	}
	l.mu.Unlock()
	return p
}

// Overrides returns the review-forcing issue codes the policy attaches
// to a document mapped to the given category. At most one code is
// produced: disabled autopost takes precedence over the safe-list
// check, and the canary draw runs only when neither forced review.
func (l *Loader) Overrides(tenant, category string) []string {
	p := l.Get(tenant)
	if !p.AutopostEnabled() {
		return []string{rules.IssuePolicyAutoreview}
	}
	if len(p.SafeCategories) > 0 && !containsFold(p.SafeCategories, category) {
		return []string{rules.IssueCategoryReview}
	}
	if p.CanaryRate > 0 && l.draw() < p.CanaryRate {
		return []string{rules.IssueCanarySample}
	}
	return nil
}

func loadFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse policy %s: %w", path, err)
	}
	return &p, nil
}

func containsFold(list []string, value string) bool {
	for _, item := range list {
		if strings.EqualFold(item, value) {
			return true
		}
	}
	return false
}
