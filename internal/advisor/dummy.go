package advisor

import (
	"context"

	"github.com/contaflow/invoice-pipeline/internal/models"
)

// DummyProvider answers from a small fixed table. It keeps the
// pipeline usable without LLM credentials.
type DummyProvider struct{}

var dummyAccounts = map[string]string{
	"suministros": "628000",
	"alquiler":    "621000",
	"software":    "629000",
	"telefonia":   "628100",
	"seguros":     "625000",
	"viajes":      "629200",
}

func (DummyProvider) Name() string { return "dummy" }

func (DummyProvider) ProposeMapping(_ context.Context, inv *models.Invoice) (*Mapping, error) {
	account := "629000"
	if acc, ok := dummyAccounts[inv.Metadata.Category]; ok {
		account = acc
	}
	return &Mapping{
		Account:    account,
		IVAType:    21,
		Confidence: 0.5,
		Rationale:  "Propuesta heurística sin LLM",
	}, nil
}
