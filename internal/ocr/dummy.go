package ocr

import (
	"context"
	"encoding/json"

	"github.com/contaflow/invoice-pipeline/internal/models"
)

// DummyBackend interprets the uploaded bytes as an extraction payload
// in JSON. It exists for local development without provider
// credentials.
type DummyBackend struct{}

func (DummyBackend) Name() string { return "dummy" }

func (DummyBackend) Analyze(_ context.Context, data []byte) (*models.ExtractionResult, error) {
	var res models.ExtractionResult
	if err := json.Unmarshal(data, &res); err != nil {
		// Not JSON: return an empty low-confidence result so the
		// rules engine flags the missing fields.
		return &models.ExtractionResult{Confidence: 0.1, PageCount: 1}, nil
	}
	if res.Confidence == 0 {
		res.Confidence = 0.95
	}
	if res.PageCount == 0 {
		res.PageCount = 1
	}
	return &res, nil
}
