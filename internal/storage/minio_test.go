package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDocumentObjectName(t *testing.T) {
	now := time.Date(2026, time.March, 7, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, "acme/2026/03/abc123-factura.pdf",
		documentObjectName("acme", "abc123", "factura.pdf", "application/pdf", now))

	// extension derived from the content type when the filename has none
	assert.Equal(t, "acme/2026/03/abc123-scan.jpg",
		documentObjectName("acme", "abc123", "scan", "image/jpeg", now))
	assert.Equal(t, "acme/2026/03/abc123-upload.bin",
		documentObjectName("acme", "abc123", "upload", "application/octet-stream", now))
}

func TestContentTypeExtension(t *testing.T) {
	assert.Equal(t, ".jpg", ContentTypeExtension("image/jpeg"))
	assert.Equal(t, ".png", ContentTypeExtension("image/png"))
	assert.Equal(t, ".webp", ContentTypeExtension("image/webp"))
	assert.Equal(t, ".pdf", ContentTypeExtension("application/pdf"))
	assert.Equal(t, ".bin", ContentTypeExtension("text/html"))
}
