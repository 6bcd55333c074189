// Package export turns approved journal entries into ERP import files
// and uploads them to the export bucket.
package export

import (
	"context"
	"fmt"
	"strings"

	"github.com/contaflow/invoice-pipeline/internal/models"
)

// Uploader stores an export file and returns its location. Satisfied
// by storage.Storage.
type Uploader interface {
	UploadExport(ctx context.Context, objectName string, data []byte, contentType string) (string, error)
}

// Adapter renders one journal entry in an ERP's import format.
type Adapter interface {
	Name() string
	ExportEntry(ctx context.Context, docID string, entry *models.Entry) (string, error)
}

// NewAdapter returns the adapter for the configured ERP format.
func NewAdapter(format string, uploader Uploader) (Adapter, error) {
	switch strings.ToLower(format) {
	case "", "a3csv", "a3innuva":
		return &A3Adapter{uploader: uploader}, nil
	case "holded":
		return &HoldedAdapter{uploader: uploader}, nil
	case "contasol":
		return nil, fmt.Errorf("the contasol adapter is not implemented; configure a3innuva or holded")
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}
