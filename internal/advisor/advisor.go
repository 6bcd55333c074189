// Package advisor proposes supplier→account mappings with an LLM when
// no vendor rule covers an invoice.
package advisor

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/contaflow/invoice-pipeline/internal/health"
	"github.com/contaflow/invoice-pipeline/internal/models"
)

const breakerKind = "llm"

// fallbackAccount is proposed when the advisor cannot answer.
const fallbackAccount = "629000"

// Mapping is an advisor's account proposal for one invoice.
type Mapping struct {
	Account    string   `json:"account"`
	IVAType    float64  `json:"ivaType"`
	Confidence float64  `json:"confidence"`
	Rationale  string   `json:"rationale,omitempty"`
	IssueCodes []string `json:"issueCodes,omitempty"`

	Provider   string `json:"provider,omitempty"`
	Model      string `json:"model,omitempty"`
	DurationMS int64  `json:"durationMs,omitempty"`
}

// Provider is one concrete LLM backend.
type Provider interface {
	Name() string
	ProposeMapping(ctx context.Context, inv *models.Invoice) (*Mapping, error)
}

// Service wraps a provider with the llm circuit breaker and an
// optional second-opinion pass.
type Service struct {
	provider      Provider
	healthR       *health.Registry
	secondOpinion bool
}

func NewService(provider Provider, hr *health.Registry, secondOpinion bool) *Service {
	return &Service{provider: provider, healthR: hr, secondOpinion: secondOpinion}
}

// Suggest asks the provider for a mapping. It never fails hard:
// provider trouble comes back as a usable fallback mapping with the
// corresponding issue codes attached. A nil result means no provider
// is configured.
func (s *Service) Suggest(ctx context.Context, inv *models.Invoice) *Mapping {
	if s == nil || s.provider == nil {
		return nil
	}
	name := s.provider.Name()

	if s.healthR.IsDegraded(breakerKind, name) {
		return &Mapping{
			Account:    fallbackAccount,
			IVAType:    21,
			Rationale:  "Proveedor degradado",
			IssueCodes: []string{"PROVIDER_DEGRADED"},
			Provider:   name,
			Model:      name,
		}
	}

	start := time.Now()
	mapping, err := s.provider.ProposeMapping(ctx, inv)
	duration := time.Since(start).Milliseconds()
	if err != nil {
		log.Printf("llm provider %s failed for tenant %s: %v", name, inv.Tenant, err)
		degraded := s.healthR.RecordFailure(breakerKind, name)
		issues := errorIssueCodes(err)
		if degraded {
			issues = append(issues, "PROVIDER_DEGRADED")
		}
		return &Mapping{
			Account:    fallbackAccount,
			IVAType:    21,
			Rationale:  err.Error(),
			IssueCodes: issues,
			Provider:   name,
			Model:      name,
			DurationMS: duration,
		}
	}
	s.healthR.RecordSuccess(breakerKind, name)

	if mapping == nil {
		mapping = &Mapping{}
	}
	if mapping.Account == "" {
		mapping.Account = fallbackAccount
	}
	if mapping.IVAType == 0 {
		mapping.IVAType = 21
	}
	if mapping.Confidence == 0 {
		mapping.Confidence = 0.5
	}
	if mapping.Rationale == "" {
		mapping.Rationale = "LLM fallback"
	}
	if mapping.Provider == "" {
		mapping.Provider = name
	}
	if mapping.Model == "" {
		mapping.Model = name
	}
	mapping.DurationMS = duration

	if s.secondOpinion {
		if second, err := s.provider.ProposeMapping(ctx, inv); err != nil {
			log.Printf("second opinion call failed: %v", err)
		} else if second != nil {
			if second.Account != mapping.Account || second.IVAType != mapping.IVAType {
				mapping.IssueCodes = append(mapping.IssueCodes, "SECOND_OPINION_DISAGREE")
				mapping.Rationale += " | Second opinion difiere"
			}
		}
	}
	return mapping
}

// errorIssueCodes classifies a provider error. Throttling and
// availability failures additionally flag PROVIDER_UNAVAILABLE.
func errorIssueCodes(err error) []string {
	codes := []string{"LLM_TEMP_ERROR"}
	msg := strings.ToLower(err.Error())
	for _, token := range []string{"429", "timeout", "503", "unavailable"} {
		if strings.Contains(msg, token) {
			codes = append(codes, "PROVIDER_UNAVAILABLE")
			break
		}
	}
	return codes
}
