package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/contaflow/invoice-pipeline/internal/models"
)

// DocIntelBackend calls an HTTP document-intelligence endpoint that
// returns structured invoice fields for a binary payload.
type DocIntelBackend struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewDocIntelBackend(endpoint, apiKey string) *DocIntelBackend {
	return &DocIntelBackend{
		endpoint: endpoint,
		apiKey:   apiKey,
		// Per-call deadlines come from the gateway context.
		client: &http.Client{},
	}
}

func (b *DocIntelBackend) Name() string { return "docintel" }

// docintelPayload mirrors the provider's response JSON.
type docintelPayload struct {
	SupplierName  string `json:"supplier_name"`
	SupplierNIF   string `json:"supplier_nif"`
	CustomerNIF   string `json:"customer_nif"`
	InvoiceNumber string `json:"invoice_number"`
	InvoiceDate   string `json:"invoice_date"`
	DueDate       string `json:"due_date"`
	Currency      string `json:"currency"`
	Base          json.Number `json:"base"`
	VAT           json.Number `json:"vat"`
	Gross         json.Number `json:"gross"`
	Confidence    float64     `json:"confidence"`
	PageCount     int         `json:"page_count"`
	Text          string      `json:"text"`
	Lines         []struct {
		Description string      `json:"description"`
		Quantity    json.Number `json:"quantity"`
		UnitPrice   json.Number `json:"unit_price"`
		Amount      json.Number `json:"amount"`
		VATRate     json.Number `json:"vat_rate"`
	} `json:"lines"`
}

// Analyze sends the document and maps the provider payload to the
// canonical extraction result. Transport failures come back as
// *CallError so the gateway can decide whether to retry.
func (b *DocIntelBackend) Analyze(ctx context.Context, data []byte) (*models.ExtractionResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, &CallError{Err: err}
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Ocp-Apim-Subscription-Key", b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, &CallError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &CallError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        fmt.Errorf("provider response: %s", string(body)),
		}
	}

	// A 2xx answer that does not parse will not parse on a retry
	// either.
	var payload docintelPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &FatalError{Reason: "unparseable provider payload", Err: err}
	}
	return payload.toResult(), nil
}

func (p *docintelPayload) toResult() *models.ExtractionResult {
	res := &models.ExtractionResult{
		SupplierName:  p.SupplierName,
		SupplierNIF:   p.SupplierNIF,
		CustomerNIF:   p.CustomerNIF,
		InvoiceNumber: p.InvoiceNumber,
		InvoiceDate:   p.InvoiceDate,
		DueDate:       p.DueDate,
		Currency:      p.Currency,
		Base:          parseDecimal(p.Base),
		VAT:           parseDecimal(p.VAT),
		Gross:         parseDecimal(p.Gross),
		Confidence:    p.Confidence,
		PageCount:     p.PageCount,
		RawText:       p.Text,
	}
	for _, l := range p.Lines {
		res.Lines = append(res.Lines, models.ExtractedLine{
			Description: l.Description,
			Quantity:    parseDecimal(l.Quantity),
			UnitPrice:   parseDecimal(l.UnitPrice),
			Amount:      parseDecimal(l.Amount),
			VATRate:     parseDecimal(l.VATRate),
		})
	}
	return res
}

// parseDecimal tolerates empty and malformed numbers from the
// provider, treating them as zero.
func parseDecimal(n json.Number) decimal.Decimal {
	if n == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}

// parseRetryAfter handles the delta-seconds form of the header.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}
