package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contaflow/invoice-pipeline/internal/models"
)

func TestUpsertDocumentOverwritesExisting(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.UpsertDocument(ctx, &models.Document{
		ID:     "doc-1",
		Tenant: "acme",
		Status: models.StatusError,
		Issues: []string{"OCR_TEMP_ERROR"},
	}))

	require.NoError(t, m.UpsertDocument(ctx, &models.Document{
		ID:     "doc-1",
		Tenant: "acme",
		Status: models.StatusReceived,
	}))

	doc, err := m.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusReceived, doc.Status)
	assert.Empty(t, doc.Issues)
}

func TestGetDocumentNotFound(t *testing.T) {
	m := NewMemory()
	_, err := m.GetDocument(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
