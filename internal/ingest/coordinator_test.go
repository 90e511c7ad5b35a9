package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/jinzai/internal/config"
	"github.com/hyperjump/jinzai/internal/embedding"
	"github.com/hyperjump/jinzai/internal/metrics"
	"github.com/hyperjump/jinzai/internal/models"
	"github.com/hyperjump/jinzai/internal/storage"
	"github.com/hyperjump/jinzai/internal/vector"
)

const testDims = 16

// stubEmbedder wraps MockEmbedder with a call counter and injectable failures.
type stubEmbedder struct {
	*embedding.MockEmbedder
	mu      sync.Mutex
	calls   int
	fail    func(text string) error
	onEmbed func()
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	s.mu.Lock()
	s.calls++
	fail, hook := s.fail, s.onEmbed
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	if fail != nil {
		if err := fail(text); err != nil {
			return nil, err
		}
	}
	return s.MockEmbedder.Embed(context.Background(), text)
}

// EmbedBatch fails the whole batch when any text fails, as a single model run would.
func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := s.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (s *stubEmbedder) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	store    *storage.SQLiteStorage
	embedder *stubEmbedder
	index    *vector.MemoryIndex
	metrics  *metrics.Collector
	clock    *clock
	coord    *Coordinator
}

func newFixture(t *testing.T, cfg config.IngestionConfig) *fixture {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{
		store:    store,
		embedder: &stubEmbedder{MockEmbedder: embedding.NewMockEmbedder(testDims)},
		index:    vector.NewMemoryIndex(),
		metrics:  metrics.NewCollector(),
		clock:    &clock{now: time.Now()},
	}
	provider := embedding.NewStaticProvider(f.embedder, embedding.WithCacheSize(0))
	f.coord = NewCoordinator(store, provider, cfg,
		WithIndex(f.index),
		WithMetrics(f.metrics),
		WithClock(f.clock.Now),
	)
	return f
}

func (f *fixture) upsert(t *testing.T, input *models.DocumentInput) *models.Document {
	t.Helper()
	doc, err := f.coord.Upsert(context.Background(), input)
	require.NoError(t, err)
	return doc
}

func (f *fixture) get(t *testing.T, id string) *models.Document {
	t.Helper()
	doc, err := f.store.GetDocument(context.Background(), id)
	require.NoError(t, err)
	return doc
}

func (f *fixture) records(t *testing.T, id string) []*models.EmbeddingRecord {
	t.Helper()
	recs, err := f.store.GetEmbeddingsByDocumentID(context.Background(), id)
	require.NoError(t, err)
	return recs
}

func resume(id string) *models.DocumentInput {
	return &models.DocumentInput{
		ID:      id,
		Summary: "Platform engineer with a focus on reliability.",
		Skills:  "Go, Kubernetes, PostgreSQL",
	}
}

func TestCoordinator_EnqueueCompletesDocument(t *testing.T) {
	f := newFixture(t, config.IngestionConfig{})
	ctx := context.Background()
	f.upsert(t, resume("doc1"))

	report, err := f.coord.Enqueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Claimed)
	res, ok := report.Result("doc1")
	require.True(t, ok)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 2, res.Records)

	doc := f.get(t, "doc1")
	assert.Equal(t, models.StatusCompleted, doc.Status)
	assert.Empty(t, doc.ErrorMessage)
	assert.NotNil(t, doc.EmbeddedAt)

	recs := f.records(t, "doc1")
	require.Len(t, recs, 2)
	ids := []string{recs[0].ID, recs[1].ID}
	assert.ElementsMatch(t, []string{"doc1#summary:0", "doc1#skills:0"}, ids)
	for _, r := range recs {
		assert.Len(t, r.Vector, testDims)
		assert.Equal(t, 1.0, r.Confidence)
		assert.False(t, strings.HasPrefix(r.Text, string(r.FieldType)+":"), "stored text is the raw chunk")
	}
	assert.Equal(t, 2, f.index.Size())
	assert.Equal(t, int64(1), f.metrics.Snapshot().Ingestion.Completed)
}

func TestCoordinator_EmbedsFieldPrefixedText(t *testing.T) {
	f := newFixture(t, config.IngestionConfig{})
	var mu sync.Mutex
	var seen []string
	f.embedder.fail = func(text string) error {
		mu.Lock()
		seen = append(seen, text)
		mu.Unlock()
		return nil
	}
	f.upsert(t, &models.DocumentInput{ID: "doc1", Experience: "Led the payments team."})

	_, err := f.coord.Enqueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"experience: Led the payments team."}, seen)
}

func TestCoordinator_LongFieldOrdinals(t *testing.T) {
	f := newFixture(t, config.IngestionConfig{MaxSegmentLength: 40})
	f.upsert(t, &models.DocumentInput{
		ID:         "doc1",
		Experience: "Built the search platform. Ran the on-call rotation. Mentored four engineers. Migrated billing to Go.",
	})

	_, err := f.coord.Enqueue(context.Background())
	require.NoError(t, err)

	recs := f.records(t, "doc1")
	require.GreaterOrEqual(t, len(recs), 2)
	seen := map[string]bool{}
	for _, r := range recs {
		assert.Equal(t, models.FieldExperience, r.FieldType)
		assert.LessOrEqual(t, len([]rune(r.Text)), 40)
		assert.False(t, seen[r.SegmentID], "duplicate segment id %s", r.SegmentID)
		seen[r.SegmentID] = true
	}
	for i := range recs {
		assert.True(t, seen[models.SegmentID(models.FieldExperience, i)], "ordinal %d missing", i)
	}
}

func TestCoordinator_IdempotentIngestion(t *testing.T) {
	f := newFixture(t, config.IngestionConfig{})
	ctx := context.Background()
	f.upsert(t, resume("doc1"))

	_, err := f.coord.Enqueue(ctx)
	require.NoError(t, err)
	first := f.records(t, "doc1")

	_, err = f.coord.Regenerate(ctx, "doc1", true)
	require.NoError(t, err)
	report, err := f.coord.Enqueue(ctx)
	require.NoError(t, err)
	res, _ := report.Result("doc1")
	assert.Equal(t, OutcomeCompleted, res.Outcome)

	second := f.records(t, "doc1")
	require.Len(t, second, len(first))
	for i := range first {
		assert.True(t, first[i].Equal(second[i]), "record %s differs after re-ingestion", first[i].ID)
	}
}

func TestCoordinator_DedupSkipsEmbedding(t *testing.T) {
	f := newFixture(t, config.IngestionConfig{})
	ctx := context.Background()
	f.upsert(t, resume("doc1"))

	_, err := f.coord.Enqueue(ctx)
	require.NoError(t, err)
	first := f.records(t, "doc1")
	calls := f.embedder.Calls()

	_, err = f.coord.Regenerate(ctx, "doc1", false)
	require.NoError(t, err)
	report, err := f.coord.Enqueue(ctx)
	require.NoError(t, err)

	res, _ := report.Result("doc1")
	assert.Equal(t, OutcomeDeduplicated, res.Outcome)
	assert.Equal(t, calls, f.embedder.Calls(), "unchanged document must not be re-embedded")
	assert.Equal(t, models.StatusCompleted, f.get(t, "doc1").Status)

	second := f.records(t, "doc1")
	require.Len(t, second, len(first))
	for i := range first {
		assert.True(t, first[i].Equal(second[i]))
	}
	assert.Equal(t, len(first), f.index.Size())
}

func TestCoordinator_EmptyDocumentFailsValidation(t *testing.T) {
	f := newFixture(t, config.IngestionConfig{})
	f.upsert(t, &models.DocumentInput{ID: "empty", Summary: "  ", Skills: "\n\t"})

	report, err := f.coord.Enqueue(context.Background())
	require.NoError(t, err)
	res, _ := report.Result("empty")
	assert.Equal(t, OutcomeFailed, res.Outcome)

	doc := f.get(t, "empty")
	assert.Equal(t, models.StatusFailed, doc.Status)
	assert.Contains(t, doc.ErrorMessage, models.ErrValidation.Error())
	assert.Equal(t, 0, doc.Attempts)
	assert.Nil(t, doc.NextAttemptAt)
	assert.Empty(t, f.records(t, "empty"))
	assert.Equal(t, 0, f.embedder.Calls())
}

func TestCoordinator_PartialChunkFailure(t *testing.T) {
	f := newFixture(t, config.IngestionConfig{})
	f.embedder.fail = func(text string) error {
		if strings.HasPrefix(text, "skills:") {
			return errors.New("model rejected input")
		}
		return nil
	}
	f.upsert(t, resume("doc1"))

	report, err := f.coord.Enqueue(context.Background())
	require.NoError(t, err)
	res, _ := report.Result("doc1")
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 1, res.ChunkErrors)

	doc := f.get(t, "doc1")
	assert.Equal(t, models.StatusCompleted, doc.Status)
	assert.Contains(t, doc.ErrorMessage, "skills:0")
	recs := f.records(t, "doc1")
	require.Len(t, recs, 1)
	assert.Equal(t, models.FieldSummary, recs[0].FieldType)
}

func TestCoordinator_AllChunksFailPermanently(t *testing.T) {
	f := newFixture(t, config.IngestionConfig{})
	f.embedder.fail = func(string) error { return errors.New("bad input") }
	f.upsert(t, resume("doc1"))

	_, err := f.coord.Enqueue(context.Background())
	require.NoError(t, err)

	doc := f.get(t, "doc1")
	assert.Equal(t, models.StatusFailed, doc.Status)
	assert.Contains(t, doc.ErrorMessage, "2 chunk(s) failed")
	assert.Empty(t, f.records(t, "doc1"))
}

func TestCoordinator_TransientChunkFailuresRequeue(t *testing.T) {
	f := newFixture(t, config.IngestionConfig{RetryBackoffBase: config.Duration(time.Minute)})
	f.embedder.fail = func(string) error { return context.DeadlineExceeded }
	f.upsert(t, resume("doc1"))

	report, err := f.coord.Enqueue(context.Background())
	require.NoError(t, err)
	res, _ := report.Result("doc1")
	assert.Equal(t, OutcomeRequeued, res.Outcome)

	doc := f.get(t, "doc1")
	assert.Equal(t, models.StatusPending, doc.Status)
	assert.Equal(t, 1, doc.Attempts)
	require.NotNil(t, doc.NextAttemptAt)
	assert.WithinDuration(t, f.clock.Now().Add(time.Minute), *doc.NextAttemptAt, time.Millisecond)

	// Not due yet.
	report, err = f.coord.Enqueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Claimed)

	f.embedder.fail = nil
	f.clock.Advance(2 * time.Minute)
	report, err = f.coord.Enqueue(context.Background())
	require.NoError(t, err)
	res, _ = report.Result("doc1")
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	doc = f.get(t, "doc1")
	assert.Equal(t, 0, doc.Attempts)
	assert.Nil(t, doc.NextAttemptAt)
}

func TestCoordinator_InitFailureRetriesThenFails(t *testing.T) {
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	clk := &clock{now: time.Now()}
	provider := embedding.NewProvider(func(context.Context) (embedding.Embedder, error) {
		return nil, errors.New("model file missing")
	}, testDims)
	coord := NewCoordinator(store, provider, config.IngestionConfig{
		MaxRetryAttempts: 2,
		RetryBackoffBase: config.Duration(time.Minute),
	}, WithClock(clk.Now))
	ctx := context.Background()

	_, err = coord.Upsert(ctx, resume("doc1"))
	require.NoError(t, err)

	report, err := coord.Enqueue(ctx)
	require.NoError(t, err)
	res, _ := report.Result("doc1")
	assert.Equal(t, OutcomeRequeued, res.Outcome)
	assert.Contains(t, res.Error, "initialization failed")

	clk.Advance(time.Hour)
	report, err = coord.Enqueue(ctx)
	require.NoError(t, err)
	res, _ = report.Result("doc1")
	assert.Equal(t, OutcomeFailed, res.Outcome)

	doc, err := store.GetDocument(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, doc.Status)
	assert.Equal(t, 2, doc.Attempts)
	assert.Contains(t, doc.ErrorMessage, "giving up after 2 attempts")
}

func TestCoordinator_CancelReleasesClaimedDocuments(t *testing.T) {
	f := newFixture(t, config.IngestionConfig{Workers: 1})
	for _, id := range []string{"a", "b", "c"} {
		f.upsert(t, resume(id))
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.embedder.onEmbed = cancel

	report, err := f.coord.Enqueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Claimed)
	assert.Equal(t, 3, report.Count(OutcomeReleased))

	for _, id := range []string{"a", "b", "c"} {
		assert.Equal(t, models.StatusPending, f.get(t, id).Status)
	}
	n, err := f.store.CountEmbeddings(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCoordinator_ReclaimsStaleProcessing(t *testing.T) {
	f := newFixture(t, config.IngestionConfig{ClaimTimeout: config.Duration(10 * time.Minute)})
	ctx := context.Background()
	f.upsert(t, resume("doc1"))
	_, err := f.store.ClaimDocument(ctx, "doc1", time.Now())
	require.NoError(t, err)

	report, err := f.coord.Enqueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Claimed, "fresh claims belong to another batch")

	f.clock.Advance(11 * time.Minute)
	report, err = f.coord.Enqueue(ctx)
	require.NoError(t, err)
	res, _ := report.Result("doc1")
	assert.Equal(t, OutcomeCompleted, res.Outcome)
}

func TestCoordinator_Recover(t *testing.T) {
	f := newFixture(t, config.IngestionConfig{ClaimTimeout: config.Duration(time.Minute)})
	ctx := context.Background()
	f.upsert(t, resume("doc1"))
	_, err := f.store.ClaimDocument(ctx, "doc1", time.Now())
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)
	n, err := f.coord.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, models.StatusPending, f.get(t, "doc1").Status)
}

func TestCoordinator_ExplicitSubset(t *testing.T) {
	f := newFixture(t, config.IngestionConfig{})
	for _, id := range []string{"a", "b", "c"} {
		f.upsert(t, resume(id))
	}

	report, err := f.coord.Enqueue(context.Background(), "b", "missing")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Claimed)
	assert.Equal(t, []string{"missing"}, report.Skipped)
	assert.Equal(t, models.StatusCompleted, f.get(t, "b").Status)
	assert.Equal(t, models.StatusPending, f.get(t, "a").Status)
}

func TestCoordinator_BatchSize(t *testing.T) {
	f := newFixture(t, config.IngestionConfig{BatchSize: 2})
	for _, id := range []string{"a", "b", "c"} {
		f.upsert(t, resume(id))
	}

	report, err := f.coord.Enqueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Claimed)

	report, err = f.coord.Enqueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Claimed)
}

func TestCoordinator_ConcurrentEnqueueClaimsOnce(t *testing.T) {
	f := newFixture(t, config.IngestionConfig{Workers: 4})
	const n = 20
	for i := 0; i < n; i++ {
		f.upsert(t, resume(string(rune('a'+i))))
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report, err := f.coord.Enqueue(context.Background())
			assert.NoError(t, err)
			mu.Lock()
			completed += report.Count(OutcomeCompleted)
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, n, completed)
	count, err := f.store.CountEmbeddings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2*n), count)
}

func TestCoordinator_Upsert(t *testing.T) {
	f := newFixture(t, config.IngestionConfig{})
	ctx := context.Background()

	created := f.upsert(t, &models.DocumentInput{Summary: "Data engineer."})
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, models.StatusPending, created.Status)

	_, err := f.coord.Enqueue(ctx)
	require.NoError(t, err)

	same := f.upsert(t, &models.DocumentInput{ID: created.ID, Summary: "  Data   engineer. "})
	assert.Equal(t, models.StatusCompleted, same.Status, "whitespace-only edits keep the document")

	changed := f.upsert(t, &models.DocumentInput{ID: created.ID, Summary: "Data engineer.", Skills: "Spark"})
	assert.Equal(t, models.StatusPending, changed.Status)
	assert.Nil(t, changed.EmbeddedAt)
	assert.Equal(t, models.StatusPending, f.get(t, created.ID).Status)

	_, err = f.coord.Upsert(ctx, nil)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestCoordinator_SaveReportsCreated(t *testing.T) {
	f := newFixture(t, config.IngestionConfig{})
	ctx := context.Background()

	_, created, err := f.coord.Save(ctx, resume("doc1"))
	require.NoError(t, err)
	assert.True(t, created)

	_, created, err = f.coord.Save(ctx, resume("doc1"))
	require.NoError(t, err)
	assert.False(t, created, "unchanged")

	_, created, err = f.coord.Save(ctx, &models.DocumentInput{ID: "doc1", Summary: "Moved to platform work."})
	require.NoError(t, err)
	assert.False(t, created, "updated")
}

func TestCoordinator_UpsertWhileProcessingIsNotOverwritten(t *testing.T) {
	f := newFixture(t, config.IngestionConfig{})
	ctx := context.Background()
	f.upsert(t, resume("doc1"))

	f.embedder.onEmbed = func() {
		f.embedder.mu.Lock()
		f.embedder.onEmbed = nil
		f.embedder.mu.Unlock()
		_, err := f.coord.Upsert(ctx, &models.DocumentInput{ID: "doc1", Summary: "Rewritten while embedding."})
		assert.NoError(t, err)
	}

	report, err := f.coord.Enqueue(ctx)
	require.NoError(t, err)
	res, _ := report.Result("doc1")
	assert.Equal(t, OutcomeReleased, res.Outcome)

	doc := f.get(t, "doc1")
	assert.Equal(t, models.StatusPending, doc.Status)
	assert.Equal(t, "Rewritten while embedding.", doc.Summary)
	assert.Empty(t, f.records(t, "doc1"))
}

func TestCoordinator_Regenerate(t *testing.T) {
	f := newFixture(t, config.IngestionConfig{})
	ctx := context.Background()
	f.upsert(t, resume("doc1"))

	_, err := f.coord.Regenerate(ctx, "doc1", false)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = f.coord.Regenerate(ctx, "missing", false)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = f.coord.Enqueue(ctx)
	require.NoError(t, err)
	doc, err := f.coord.Regenerate(ctx, "doc1", true)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, doc.Status)
	assert.Nil(t, doc.EmbeddedAt)
	assert.Len(t, f.records(t, "doc1"), 2, "records are kept until replaced")
}

func TestCoordinator_Delete(t *testing.T) {
	f := newFixture(t, config.IngestionConfig{})
	ctx := context.Background()
	f.upsert(t, resume("doc1"))
	_, err := f.coord.Enqueue(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, f.index.Size())

	require.NoError(t, f.coord.Delete(ctx, "doc1"))
	assert.Equal(t, 0, f.index.Size())
	assert.Empty(t, f.records(t, "doc1"))
	_, err = f.store.GetDocument(ctx, "doc1")
	assert.ErrorIs(t, err, models.ErrNotFound)

	assert.ErrorIs(t, f.coord.Delete(ctx, "doc1"), models.ErrNotFound)
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Minute},
		{1, time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{5, 16 * time.Minute},
	}
	for _, tt := range tests {
		if got := RetryDelay(time.Minute, tt.attempts); got != tt.want {
			t.Errorf("RetryDelay(1m, %d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
	if got := RetryDelay(time.Hour, 200); got <= 0 {
		t.Errorf("RetryDelay should not overflow, got %v", got)
	}
}

func TestConfidence(t *testing.T) {
	assert.Equal(t, 1.0, confidence("short", 10))
	assert.InDelta(t, 0.5, confidence(strings.Repeat("x", 20), 10), 1e-9)
	assert.Equal(t, 1.0, confidence("anything", 0))
}

func TestChunkNote(t *testing.T) {
	assert.Empty(t, chunkNote(nil))
	note := chunkNote([]*ChunkError{
		{FieldType: models.FieldSkills, Ordinal: 0, Err: errors.New("boom")},
		{FieldType: models.FieldEducation, Ordinal: 2, Err: errors.New("bang")},
	})
	assert.Equal(t, "2 chunk(s) failed: skills:0: boom; education:2: bang", note)
}
