package search

import (
	"context"

	"go.uber.org/zap"

	"github.com/hyperjump/jinzai/internal/models"
)

// Status summarizes the stored documents and the search index.
type Status struct {
	Documents      map[models.Status]int64 `json:"documents"`
	TotalDocuments int64                   `json:"total_documents"`
	Embeddings     int64                   `json:"embeddings"`
	IndexLoaded    bool                    `json:"index_loaded"`
	IndexRecords   int                     `json:"index_records"`
	IndexDocuments int                     `json:"index_documents"`
	Dimensions     int                     `json:"dimensions"`
	ProviderReady  bool                    `json:"provider_ready"`
	DiskUsageBytes int64                   `json:"disk_usage_bytes"`
}

type diskUser interface {
	DiskUsage() (int64, error)
}

// Status reports document counts per status, the stored embedding count and index state.
// Disk usage is included when the store can report it.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	counts, err := e.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	embeddings, err := e.store.CountEmbeddings(ctx)
	if err != nil {
		return nil, err
	}
	st := &Status{
		Documents:      make(map[models.Status]int64, len(models.Statuses)),
		Embeddings:     embeddings,
		IndexLoaded:    e.index.Loaded(),
		IndexRecords:   e.index.Size(),
		IndexDocuments: e.index.Documents(),
		Dimensions:     e.provider.Dimensions(),
		ProviderReady:  e.provider.Ready(),
	}
	for _, s := range models.Statuses {
		st.Documents[s] = counts[s]
		st.TotalDocuments += counts[s]
	}
	if du, ok := e.store.(diskUser); ok {
		if n, err := du.DiskUsage(); err == nil {
			st.DiskUsageBytes = n
		} else {
			e.logger.Debug("disk usage unavailable", zap.Error(err))
		}
	}
	return st, nil
}
