package vector

import (
	"context"
	"fmt"
	"sync"

	"github.com/hyperjump/jinzai/internal/models"
)

// Loader reads every stored embedding record.
type Loader func(ctx context.Context) ([]*models.EmbeddingRecord, error)

// MemoryIndex is the in-process read view of embedding records, grouped by document.
// It never modifies the records it holds; writers replace a document's records wholesale.
type MemoryIndex struct {
	mu     sync.RWMutex
	byDoc  map[string][]*models.EmbeddingRecord
	size   int
	loaded bool
}

// NewMemoryIndex creates an empty, unloaded index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{byDoc: make(map[string][]*models.EmbeddingRecord)}
}

// Load replaces the index contents with the records returned by load. A failed load
// leaves the previous contents in place.
//
// The write lock is held while load runs, so a Replace or Remove issued concurrently is
// applied either before the read (and is visible to it) or after the new contents are in place.
func (m *MemoryIndex) Load(ctx context.Context, load Loader) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	records, err := load(ctx)
	if err != nil {
		return fmt.Errorf("load index: %w", err)
	}
	byDoc := make(map[string][]*models.EmbeddingRecord)
	size := 0
	for _, r := range records {
		if r == nil {
			continue
		}
		byDoc[r.DocumentID] = append(byDoc[r.DocumentID], r)
		size++
	}
	m.byDoc = byDoc
	m.size = size
	m.loaded = true
	return nil
}

// Loaded reports whether the index has been loaded from the record store.
func (m *MemoryIndex) Loaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loaded
}

// Replace sets the records of docID, dropping whatever the index held for it.
// An empty records slice removes the document.
func (m *MemoryIndex) Replace(docID string, records []*models.EmbeddingRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.size -= len(m.byDoc[docID])
	if len(records) == 0 {
		delete(m.byDoc, docID)
		return
	}
	m.byDoc[docID] = append([]*models.EmbeddingRecord(nil), records...)
	m.size += len(records)
}

// Remove drops every record of docID.
func (m *MemoryIndex) Remove(docID string) {
	m.Replace(docID, nil)
}

// Snapshot returns the current records, restricted to fieldTypes when any are given.
// The slice is a fresh copy; the records are shared and must be treated as read-only.
func (m *MemoryIndex) Snapshot(fieldTypes ...models.FieldType) []*models.EmbeddingRecord {
	allow := fieldSet(fieldTypes)
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.EmbeddingRecord, 0, m.size)
	for _, records := range m.byDoc {
		for _, r := range records {
			if allow == nil || allow[r.FieldType] {
				out = append(out, r)
			}
		}
	}
	return out
}

// Size returns the number of records in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

// Documents returns the number of documents with at least one record.
func (m *MemoryIndex) Documents() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byDoc)
}
