// Package search answers similarity queries against the in-memory embedding index.
package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/jinzai/internal/config"
	"github.com/hyperjump/jinzai/internal/embedding"
	"github.com/hyperjump/jinzai/internal/metrics"
	"github.com/hyperjump/jinzai/internal/models"
	"github.com/hyperjump/jinzai/internal/storage"
	"github.com/hyperjump/jinzai/internal/vector"
	"github.com/hyperjump/jinzai/pkg/utils"
)

// Engine runs exhaustive cosine search over every stored embedding record.
type Engine struct {
	store         storage.Storage
	provider      *embedding.Provider
	index         *vector.MemoryIndex
	metrics       *metrics.Collector
	defaults      models.QueryDefaults
	workers       int
	recordQueries bool
	logger        *zap.Logger

	// refreshMu guards version, the store state the index was last loaded from.
	refreshMu sync.Mutex
	version   *storage.EmbeddingsVersion
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = utils.OrNop(l) }
}

// WithMetrics reports every search to m.
func WithMetrics(m *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates a search engine. The index is loaded from store on the first search;
// zero values in cfg take the configuration defaults.
func NewEngine(store storage.Storage, provider *embedding.Provider, index *vector.MemoryIndex, cfg config.SearchConfig, opts ...Option) *Engine {
	full := config.Config{Search: cfg}
	config.ApplyDefaults(&full)
	e := &Engine{
		store:    store,
		provider: provider,
		index:    index,
		defaults: models.QueryDefaults{
			TopK:      full.Search.DefaultTopK,
			MaxTopK:   full.Search.MaxTopK,
			Threshold: full.Search.Threshold(),
		},
		workers:       full.Search.Workers,
		recordQueries: full.Search.RecordQueriesOrDefault(),
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Index returns the engine's in-memory index.
func (e *Engine) Index() *vector.MemoryIndex {
	return e.index
}

// Search ranks stored records against query.
//
// An empty index yields an empty result list, and so does a query text the provider
// cannot embed; the response then carries the reason in Error. The only storage failure
// returned is the one that prevents loading the index; failing to record analytics is
// logged and ignored.
func (e *Engine) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	start := time.Now()
	if err := query.Validate(e.defaults); err != nil {
		return nil, err
	}
	vec, err := e.queryVector(ctx, query)
	if errors.Is(err, models.ErrInvalidInput) {
		return nil, err
	}
	if err != nil {
		return e.unanswered(query, err, start), nil
	}
	if err := e.load(ctx); err != nil {
		return nil, err
	}

	results, stats := vector.Rank(vec, e.index.Snapshot(query.FieldTypes...), e.options(query))
	return e.respond(ctx, query, vec, results, stats, start), nil
}

// BatchSearch runs every query against one snapshot of the index and returns one response
// per query, in order. A query that is invalid or cannot be embedded gets an empty result
// list with the reason in Error; the others are ranked as usual.
func (e *Engine) BatchSearch(ctx context.Context, queries []*models.SearchQuery) ([]*models.SearchResponse, error) {
	start := time.Now()
	out := make([]*models.SearchResponse, len(queries))
	batch := make([]vector.Query, 0, len(queries))
	pos := make([]int, 0, len(queries))
	for i, q := range queries {
		if q == nil {
			out[i] = e.unanswered(&models.SearchQuery{}, fmt.Errorf("%w: query is empty", models.ErrInvalidInput), start)
			continue
		}
		if err := q.Validate(e.defaults); err != nil {
			out[i] = e.unanswered(q, err, start)
			continue
		}
		vec, err := e.queryVector(ctx, q)
		if err != nil {
			out[i] = e.unanswered(q, err, start)
			continue
		}
		batch = append(batch, vector.Query{Vector: vec, Options: e.options(q)})
		pos = append(pos, i)
	}
	if len(batch) == 0 {
		return out, nil
	}
	if err := e.load(ctx); err != nil {
		return nil, err
	}

	ranked, err := vector.BatchRank(ctx, batch, e.index.Snapshot(), e.workers)
	if err != nil {
		return nil, err
	}
	for j, r := range ranked {
		i := pos[j]
		out[i] = e.respond(ctx, queries[i], batch[j].Vector, r.Results, r.Stats, start)
	}
	return out, nil
}

// unanswered is the empty response for a query that could not be ranked.
func (e *Engine) unanswered(q *models.SearchQuery, err error, start time.Time) *models.SearchResponse {
	elapsed := time.Since(start)
	e.metrics.ObserveSearch(elapsed, vector.Stats{Duration: elapsed})
	e.logger.Warn("search query not answered", zap.String("query", q.Query), zap.Error(err))
	return &models.SearchResponse{
		Query:     q.Query,
		Results:   []*models.ScoredRecord{},
		QueryTime: elapsed.Milliseconds(),
		Error:     err.Error(),
	}
}

// RecordFeedback stores a user's judgement of an earlier search.
func (e *Engine) RecordFeedback(ctx context.Context, queryID string, feedback models.Feedback, note string) error {
	if !feedback.Valid() {
		return fmt.Errorf("%w: unknown feedback %q", models.ErrInvalidInput, feedback)
	}
	return e.store.UpdateSearchQueryFeedback(ctx, queryID, feedback, note)
}

// Reload replaces the index contents with the records currently stored.
func (e *Engine) Reload(ctx context.Context) error {
	e.refreshMu.Lock()
	defer e.refreshMu.Unlock()
	v, err := e.store.EmbeddingsVersion(ctx)
	if err != nil {
		return storageFailure(err)
	}
	return e.reloadLocked(ctx, v)
}

// Refresh reloads a loaded index when the stored records changed since it was last read,
// for instance because another process ingested or deleted documents. It reports whether
// the index was reloaded. An index that was never loaded is left for the next search.
func (e *Engine) Refresh(ctx context.Context) (bool, error) {
	if !e.index.Loaded() {
		return false, nil
	}
	e.refreshMu.Lock()
	defer e.refreshMu.Unlock()
	v, err := e.store.EmbeddingsVersion(ctx)
	if err != nil {
		return false, storageFailure(err)
	}
	if e.version != nil && *e.version == v {
		return false, nil
	}
	if err := e.reloadLocked(ctx, v); err != nil {
		return false, err
	}
	return true, nil
}

// RunRefresh calls Refresh every interval until ctx is cancelled.
func (e *Engine) RunRefresh(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		reloaded, err := e.Refresh(ctx)
		if err != nil {
			e.logger.Warn("index refresh failed", zap.Error(err))
			continue
		}
		if reloaded {
			e.logger.Debug("index reloaded", zap.Int("records", e.index.Size()))
		}
	}
}

// reloadLocked loads the index and remembers v, read before the load, as its version. A
// write that lands during the load changes the stored version and triggers another reload.
func (e *Engine) reloadLocked(ctx context.Context, v storage.EmbeddingsVersion) error {
	if err := e.index.Load(ctx, e.loader); err != nil {
		return storageFailure(err)
	}
	e.version = &v
	return nil
}

func (e *Engine) load(ctx context.Context) error {
	if e.index.Loaded() {
		return nil
	}
	e.refreshMu.Lock()
	defer e.refreshMu.Unlock()
	if e.index.Loaded() {
		return nil
	}
	v, err := e.store.EmbeddingsVersion(ctx)
	if err != nil {
		return storageFailure(err)
	}
	return e.reloadLocked(ctx, v)
}

func (e *Engine) loader(ctx context.Context) ([]*models.EmbeddingRecord, error) {
	return e.store.ListEmbeddings(ctx, storage.EmbeddingFilter{})
}

func storageFailure(err error) error {
	if errors.Is(err, models.ErrStorage) {
		return err
	}
	return fmt.Errorf("%w: %w", models.ErrStorage, err)
}

// queryVector returns the caller's vector, or embeds the query text as is.
func (e *Engine) queryVector(ctx context.Context, q *models.SearchQuery) ([]float32, error) {
	if len(q.Vector) > 0 {
		if len(q.Vector) != e.provider.Dimensions() {
			return nil, fmt.Errorf("%w: %w: query has %d dimensions, index uses %d",
				models.ErrInvalidInput, models.ErrDimensionMismatch, len(q.Vector), e.provider.Dimensions())
		}
		return q.Vector, nil
	}
	vec, err := e.provider.Embed(ctx, q.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return vec, nil
}

func (e *Engine) options(q *models.SearchQuery) vector.Options {
	return vector.Options{
		TopK:       q.TopK,
		Threshold:  q.ThresholdValue(),
		FieldTypes: q.FieldTypes,
	}
}

func (e *Engine) respond(ctx context.Context, q *models.SearchQuery, vec []float32, results []*models.ScoredRecord, stats vector.Stats, start time.Time) *models.SearchResponse {
	elapsed := time.Since(start)
	e.metrics.ObserveSearch(elapsed, stats)

	resp := &models.SearchResponse{
		Query:      q.Query,
		Results:    results,
		Candidates: stats.Candidates,
		Excluded:   stats.Excluded,
		TopScore:   stats.TopScore,
		AvgScore:   stats.AvgScore,
		QueryTime:  elapsed.Milliseconds(),
	}
	if stats.Excluded > 0 {
		e.logger.Warn("candidates excluded from search",
			zap.Int("excluded", stats.Excluded), zap.Int("candidates", stats.Candidates))
	}
	if e.recordQueries {
		resp.QueryID = e.record(ctx, q, vec, stats, elapsed)
	}
	e.logger.Debug("search",
		zap.String("query", q.Query),
		zap.Int("candidates", stats.Candidates),
		zap.Int("results", stats.Results),
		zap.Float64("top_score", stats.TopScore),
		zap.Duration("duration", elapsed))
	return resp
}

// record stores the analytics entry for a search and returns its ID, or "" if it could not be stored.
func (e *Engine) record(ctx context.Context, q *models.SearchQuery, vec []float32, stats vector.Stats, elapsed time.Duration) string {
	rec := &models.SearchQueryRecord{
		ID:            uuid.New().String(),
		QueryText:     q.Query,
		QueryVector:   vec,
		ExecutionTime: elapsed,
		ResultCount:   stats.Results,
		TopScore:      stats.TopScore,
	}
	if err := e.store.CreateSearchQuery(ctx, rec); err != nil {
		e.logger.Warn("could not record search query", zap.Error(err))
		return ""
	}
	return rec.ID
}
