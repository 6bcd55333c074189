package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/contaflow/invoice-pipeline/internal/models"
)

func TestGetMissThenHit(t *testing.T) {
	c := New()

	_, ok := c.Get("abc")
	assert.False(t, ok)

	c.Put("abc", &models.ExtractionResult{InvoiceNumber: "F-1"})

	got, ok := c.Get("abc")
	assert.True(t, ok)
	assert.Equal(t, "F-1", got.InvoiceNumber)
	assert.Equal(t, 1, c.Len())
}

func TestFirstWriteWins(t *testing.T) {
	c := New()

	c.Put("abc", &models.ExtractionResult{InvoiceNumber: "F-1"})
	c.Put("abc", &models.ExtractionResult{InvoiceNumber: "F-2"})

	got, _ := c.Get("abc")
	assert.Equal(t, "F-1", got.InvoiceNumber)
}
