// Package ingest drives documents from pending text to persisted embedding records.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/jinzai/internal/config"
	"github.com/hyperjump/jinzai/internal/embedding"
	"github.com/hyperjump/jinzai/internal/metrics"
	"github.com/hyperjump/jinzai/internal/models"
	"github.com/hyperjump/jinzai/internal/segment"
	"github.com/hyperjump/jinzai/internal/storage"
	"github.com/hyperjump/jinzai/internal/vector"
	"github.com/hyperjump/jinzai/pkg/utils"
)

// releaseTimeout bounds the cleanup writes issued after the batch context is cancelled.
const releaseTimeout = 5 * time.Second

// Coordinator claims pending documents, embeds their segments and stores the results.
//
// Claiming goes through the store's compare-and-set, so several coordinators (or several
// Enqueue calls) never process the same document at once. Every final state is written
// together with the document's records in one transaction.
type Coordinator struct {
	store     storage.Storage
	provider  *embedding.Provider
	index     *vector.MemoryIndex
	segmenter *segment.Segmenter
	metrics   *metrics.Collector
	cfg       config.IngestionConfig
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = utils.OrNop(l) }
}

// WithMetrics reports every batch to m.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithIndex keeps idx in step with the records the coordinator writes.
func WithIndex(idx *vector.MemoryIndex) Option {
	return func(c *Coordinator) { c.index = idx }
}

// WithClock replaces time.Now for retry scheduling.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator creates a coordinator. Zero values in cfg take the configuration defaults.
func NewCoordinator(store storage.Storage, provider *embedding.Provider, cfg config.IngestionConfig, opts ...Option) *Coordinator {
	full := config.Config{Ingestion: cfg}
	config.ApplyDefaults(&full)
	c := &Coordinator{
		store:     store,
		provider:  provider,
		segmenter: segment.NewSegmenter(full.Ingestion.MaxSegmentLength),
		cfg:       full.Ingestion,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Recover returns documents left processing by an earlier run to pending.
func (c *Coordinator) Recover(ctx context.Context) (int64, error) {
	n, err := c.store.RecoverStale(ctx, c.staleBefore())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		c.logger.Info("recovered stale documents", zap.Int64("count", n))
	}
	return n, nil
}

func (c *Coordinator) staleBefore() time.Time {
	return c.now().Add(-c.cfg.ClaimTimeout.Std())
}

// Enqueue claims and processes one batch.
//
// With no ids, it takes up to BatchSize pending documents that are due, plus processing
// documents whose claim has timed out. With ids, it claims exactly those documents that
// are claimable; the others are listed in the report as skipped. Per-document failures
// are recorded in the report and never abort the batch; only a failure to list
// candidates is returned as an error.
func (c *Coordinator) Enqueue(ctx context.Context, ids ...string) (*BatchReport, error) {
	start := time.Now()
	report := &BatchReport{}

	candidates := ids
	if len(candidates) == 0 {
		var err error
		candidates, err = c.dueDocuments(ctx)
		if err != nil {
			return nil, fmt.Errorf("list pending documents: %w", err)
		}
	}

	claimed := make([]*models.Document, 0, len(candidates))
	staleBefore := c.staleBefore()
	for _, id := range candidates {
		if ctx.Err() != nil {
			break
		}
		doc, err := c.store.ClaimDocument(ctx, id, staleBefore)
		if err != nil {
			if !errors.Is(err, storage.ErrNotClaimable) && !errors.Is(err, models.ErrNotFound) {
				c.logger.Warn("claim failed", zap.String("doc_id", id), zap.Error(err))
			}
			report.Skipped = append(report.Skipped, id)
			continue
		}
		claimed = append(claimed, doc)
	}
	report.Claimed = len(claimed)
	if len(claimed) == 0 {
		report.Duration = time.Since(start)
		return report, nil
	}

	report.Results = make([]DocumentResult, len(claimed))
	if err := c.provider.Initialize(ctx); err != nil {
		c.logger.Error("embedding provider unavailable, requeueing batch",
			zap.Int("documents", len(claimed)), zap.Error(err))
		for i, doc := range claimed {
			if ctx.Err() != nil {
				report.Results[i] = c.release(ctx, doc)
				continue
			}
			report.Results[i] = c.retryOrFail(ctx, doc, err)
		}
		return c.finishBatch(report, start), nil
	}

	var g errgroup.Group
	g.SetLimit(c.cfg.Workers)
	for i, doc := range claimed {
		g.Go(func() error {
			if ctx.Err() != nil {
				report.Results[i] = c.release(ctx, doc)
				return nil
			}
			report.Results[i] = c.process(ctx, doc)
			return nil
		})
	}
	_ = g.Wait()

	return c.finishBatch(report, start), nil
}

func (c *Coordinator) dueDocuments(ctx context.Context) ([]string, error) {
	now := c.now()
	docs, err := c.store.ListDocuments(ctx, models.DocumentFilter{
		Statuses:  []models.Status{models.StatusPending},
		DueBefore: &now,
	}, 0, c.cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	if len(ids) >= c.cfg.BatchSize {
		return ids, nil
	}

	stale, err := c.store.ListDocuments(ctx, models.DocumentFilter{
		Statuses: []models.Status{models.StatusProcessing},
	}, 0, 0)
	if err != nil {
		return nil, err
	}
	cutoff := c.staleBefore()
	for _, d := range stale {
		if len(ids) >= c.cfg.BatchSize {
			break
		}
		if d.UpdatedAt.Before(cutoff) {
			ids = append(ids, d.ID)
		}
	}
	return ids, nil
}

func (c *Coordinator) finishBatch(report *BatchReport, start time.Time) *BatchReport {
	report.Duration = time.Since(start)
	summary := report.Summary()
	c.metrics.ObserveIngestion(summary)

	fields := []zap.Field{
		zap.Int("claimed", report.Claimed),
		zap.Int("completed", summary.Completed),
		zap.Int("deduplicated", summary.Deduplicated),
		zap.Int("failed", summary.Failed),
		zap.Int("requeued", summary.Requeued),
		zap.Int("released", summary.Released),
		zap.Int("records", summary.Records),
		zap.Duration("duration", report.Duration),
	}
	var failures []string
	for _, res := range report.Results {
		if res.Error != "" && res.Outcome != OutcomeCompleted {
			failures = append(failures, res.ID+": "+res.Error)
		}
	}
	if len(failures) > 0 {
		fields = append(fields, zap.Strings("errors", failures))
		c.logger.Warn("ingestion batch finished with errors", fields...)
	} else {
		c.logger.Info("ingestion batch finished", fields...)
	}
	return report
}

// process runs one claimed document to its final state.
func (c *Coordinator) process(ctx context.Context, doc *models.Document) DocumentResult {
	log := c.logger.With(zap.String("doc_id", doc.ID))

	if !doc.HasText() {
		err := fmt.Errorf("%w: all fields are empty", models.ErrValidation)
		log.Debug("document has no text", zap.Error(err))
		return c.fail(ctx, doc, err)
	}

	if res, ok := c.dedup(ctx, doc); ok {
		return res
	}

	records, chunkErrs := c.embed(ctx, doc)
	if ctx.Err() != nil {
		return c.release(ctx, doc)
	}

	if len(records) == 0 {
		err := errors.New("no segments produced")
		if len(chunkErrs) > 0 {
			err = errors.New(chunkNote(chunkErrs))
		}
		if allTransient(chunkErrs) {
			return c.retryOrFail(ctx, doc, err)
		}
		return c.fail(ctx, doc, err)
	}

	now := c.now().UTC()
	doc.ErrorMessage = chunkNote(chunkErrs)
	doc.Attempts = 0
	doc.NextAttemptAt = nil
	doc.EmbeddedAt = &now
	if err := doc.Transition(models.StatusCompleted); err != nil {
		return c.storeError(doc, err)
	}
	if err := c.store.CompleteDocument(ctx, doc, records); err != nil {
		return c.storeError(doc, err)
	}
	if c.index != nil {
		c.index.Replace(doc.ID, records)
	}
	if len(chunkErrs) > 0 {
		log.Warn("document completed with chunk errors",
			zap.Int("records", len(records)), zap.Int("chunk_errors", len(chunkErrs)))
	} else {
		log.Debug("document completed", zap.Int("records", len(records)))
	}
	return DocumentResult{
		ID:          doc.ID,
		Outcome:     OutcomeCompleted,
		Records:     len(records),
		ChunkErrors: len(chunkErrs),
		Error:       doc.ErrorMessage,
	}
}

// dedup completes doc without embedding when its text is unchanged since it was last
// embedded and those records are still stored.
func (c *Coordinator) dedup(ctx context.Context, doc *models.Document) (DocumentResult, bool) {
	if doc.EmbeddedAt == nil || doc.ContentHash != doc.ComputeContentHash() {
		return DocumentResult{}, false
	}
	existing, err := c.store.GetEmbeddingsByDocumentID(ctx, doc.ID)
	if err != nil || len(existing) == 0 {
		return DocumentResult{}, false
	}
	doc.ErrorMessage = ""
	doc.Attempts = 0
	doc.NextAttemptAt = nil
	if err := doc.Transition(models.StatusCompleted); err != nil {
		return c.storeError(doc, err), true
	}
	if err := c.store.CompleteDocument(ctx, doc, existing); err != nil {
		return c.storeError(doc, err), true
	}
	if c.index != nil {
		c.index.Replace(doc.ID, existing)
	}
	c.logger.Debug("document unchanged, kept existing records",
		zap.String("doc_id", doc.ID), zap.Int("records", len(existing)))
	return DocumentResult{ID: doc.ID, Outcome: OutcomeDeduplicated, Records: len(existing)}, true
}

// embed segments every non-empty field and embeds each chunk as "<field>: <chunk>".
// Failed chunks are skipped; ordinals keep their segmentation position.
func (c *Coordinator) embed(ctx context.Context, doc *models.Document) ([]*models.EmbeddingRecord, []*ChunkError) {
	var segments []segment.Segment
	for _, f := range doc.Fields() {
		segments = append(segments, c.segmenter.Segment(f.Text, f.Type)...)
	}
	texts := make([]string, len(segments))
	for i, s := range segments {
		texts[i] = string(s.FieldType) + ": " + s.Text
	}

	results := c.provider.EmbedBatch(ctx, texts)

	var (
		records   []*models.EmbeddingRecord
		chunkErrs []*ChunkError
	)
	for i, res := range results {
		s := segments[i]
		if res.Err != nil {
			chunkErrs = append(chunkErrs, &ChunkError{FieldType: s.FieldType, Ordinal: s.Ordinal, Err: res.Err})
			continue
		}
		records = append(records, models.NewEmbeddingRecord(doc.ID, s.FieldType, s.Ordinal, s.Text, res.Vector,
			confidence(s.Text, c.segmenter.MaxLen())))
	}
	return records, chunkErrs
}

// confidence is 1 for a chunk within the length bound and shrinks for an oversized sentence.
func confidence(text string, maxLen int) float64 {
	n := utils.RuneLen(text)
	if maxLen <= 0 || n <= maxLen {
		return 1
	}
	return float64(maxLen) / float64(n)
}

func allTransient(errs []*ChunkError) bool {
	if len(errs) == 0 {
		return false
	}
	for _, e := range errs {
		if !embedding.IsTransient(e.Err) {
			return false
		}
	}
	return true
}

// retryOrFail requeues doc with exponential backoff, or fails it once attempts are exhausted.
func (c *Coordinator) retryOrFail(ctx context.Context, doc *models.Document, cause error) DocumentResult {
	doc.Attempts++
	if doc.Attempts >= c.cfg.MaxRetryAttempts {
		return c.fail(ctx, doc, fmt.Errorf("giving up after %d attempts: %w", doc.Attempts, cause))
	}
	next := c.now().Add(RetryDelay(c.cfg.RetryBackoffBase.Std(), doc.Attempts)).UTC()
	doc.NextAttemptAt = &next
	doc.ErrorMessage = cause.Error()
	if err := doc.Transition(models.StatusPending); err != nil {
		return c.storeError(doc, err)
	}
	if err := c.store.RequeueDocument(ctx, doc); err != nil {
		return c.storeError(doc, err)
	}
	c.logger.Info("document requeued",
		zap.String("doc_id", doc.ID),
		zap.Int("attempts", doc.Attempts),
		zap.Time("next_attempt_at", next),
		zap.Error(cause))
	return DocumentResult{ID: doc.ID, Outcome: OutcomeRequeued, Attempts: doc.Attempts, Error: doc.ErrorMessage}
}

// RetryDelay returns base * 2^(attempts-1).
func RetryDelay(base time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := base
	for i := 1; i < attempts; i++ {
		if d > time.Duration(1<<62)/2 {
			return time.Duration(1 << 62)
		}
		d *= 2
	}
	return d
}

// fail stores doc as failed with cause as its note and drops its records.
func (c *Coordinator) fail(ctx context.Context, doc *models.Document, cause error) DocumentResult {
	doc.ErrorMessage = cause.Error()
	doc.NextAttemptAt = nil
	doc.EmbeddedAt = nil
	if err := doc.Transition(models.StatusFailed); err != nil {
		return c.storeError(doc, err)
	}
	if err := c.store.FailDocument(ctx, doc); err != nil {
		return c.storeError(doc, err)
	}
	if c.index != nil {
		c.index.Remove(doc.ID)
	}
	c.logger.Warn("document failed", zap.String("doc_id", doc.ID), zap.Error(cause))
	return DocumentResult{ID: doc.ID, Outcome: OutcomeFailed, Attempts: doc.Attempts, Error: doc.ErrorMessage}
}

// release hands an unprocessed document back to pending. The write runs detached from ctx;
// if it fails the document stays processing until its claim times out.
func (c *Coordinator) release(ctx context.Context, doc *models.Document) DocumentResult {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := c.store.ReleaseDocument(rctx, doc.ID); err != nil {
		c.logger.Warn("release failed, document stays processing", zap.String("doc_id", doc.ID), zap.Error(err))
		return DocumentResult{ID: doc.ID, Outcome: OutcomeError, Error: err.Error()}
	}
	return DocumentResult{ID: doc.ID, Outcome: OutcomeReleased}
}

// storeError reports a document whose final state could not be written. A document that
// changed while it was processing is left to the next batch.
func (c *Coordinator) storeError(doc *models.Document, err error) DocumentResult {
	if errors.Is(err, storage.ErrNotClaimable) {
		c.logger.Info("document changed while processing, leaving it for the next batch",
			zap.String("doc_id", doc.ID))
		return DocumentResult{ID: doc.ID, Outcome: OutcomeReleased, Error: err.Error()}
	}
	c.logger.Error("could not store document state", zap.String("doc_id", doc.ID), zap.Error(err))
	return DocumentResult{ID: doc.ID, Outcome: OutcomeError, Error: err.Error()}
}

// Upsert creates a document or replaces its text. A new document, or an existing one whose
// text changed, is pending afterwards. An unchanged document keeps its state.
// A missing ID is generated.
func (c *Coordinator) Upsert(ctx context.Context, input *models.DocumentInput) (*models.Document, error) {
	doc, _, err := c.Save(ctx, input)
	return doc, err
}

// Save is Upsert that also reports whether the document was created.
func (c *Coordinator) Save(ctx context.Context, input *models.DocumentInput) (*models.Document, bool, error) {
	if input == nil {
		return nil, false, fmt.Errorf("%w: document is required", models.ErrInvalidInput)
	}
	id := strings.TrimSpace(input.ID)
	if id == "" {
		id = uuid.New().String()
	}

	existing, err := c.store.GetDocument(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		doc := &models.Document{ID: id, Status: models.StatusPending}
		doc.SetFields(input)
		if err := c.store.CreateDocument(ctx, doc); err != nil {
			return nil, false, err
		}
		c.logger.Debug("document created", zap.String("doc_id", id))
		return doc, true, nil
	}
	if err != nil {
		return nil, false, err
	}

	if !existing.SetFields(input) {
		return existing, false, nil
	}
	if existing.Status != models.StatusPending {
		if err := existing.Transition(models.StatusPending); err != nil {
			return nil, false, err
		}
	}
	existing.ErrorMessage = ""
	existing.Attempts = 0
	existing.NextAttemptAt = nil
	existing.EmbeddedAt = nil
	if err := c.store.UpdateDocument(ctx, existing); err != nil {
		return nil, false, err
	}
	c.logger.Debug("document text changed, queued for ingestion", zap.String("doc_id", id))
	return existing, false, nil
}

// Regenerate is the manual reset of a completed or failed document to pending.
// With force, the stored records are re-embedded even if the text is unchanged;
// otherwise an unchanged completed document keeps its records on the next pass.
func (c *Coordinator) Regenerate(ctx context.Context, id string, force bool) (*models.Document, error) {
	doc, err := c.store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.Status != models.StatusCompleted && doc.Status != models.StatusFailed {
		return nil, fmt.Errorf("%w: %s is %s, only completed or failed documents can be regenerated",
			models.ErrInvalidTransition, id, doc.Status)
	}
	if err := doc.Transition(models.StatusPending); err != nil {
		return nil, err
	}
	doc.ErrorMessage = ""
	doc.Attempts = 0
	doc.NextAttemptAt = nil
	if force {
		doc.EmbeddedAt = nil
	}
	if err := c.store.UpdateDocument(ctx, doc); err != nil {
		return nil, err
	}
	c.logger.Info("document queued for regeneration", zap.String("doc_id", id), zap.Bool("force", force))
	return doc, nil
}

// Delete removes a document, its records and its index entries.
func (c *Coordinator) Delete(ctx context.Context, id string) error {
	if err := c.store.DeleteDocument(ctx, id); err != nil {
		return err
	}
	if c.index != nil {
		c.index.Remove(id)
	}
	c.logger.Debug("document deleted", zap.String("doc_id", id))
	return nil
}
