// Package cache holds OCR extraction results in process memory,
// keyed by the sha256 of the document bytes. Entries are write-once
// and never expire: a given byte stream always extracts the same way.
package cache

import (
	"sync"

	"github.com/contaflow/invoice-pipeline/internal/models"
)

type Cache struct {
	mu      sync.RWMutex
	entries map[string]*models.ExtractionResult
}

func New() *Cache {
	return &Cache{entries: map[string]*models.ExtractionResult{}}
}

// Get returns the cached result for a content hash, if present.
func (c *Cache) Get(hash string) (*models.ExtractionResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.entries[hash]
	return r, ok
}

// Put stores a result. The first write wins.
func (c *Cache) Put(hash string, r *models.ExtractionResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[hash]; !ok {
		c.entries[hash] = r
	}
}

// Len returns the number of cached extractions.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
