// Package metrics collects execution-time and quality statistics for search and ingestion.
package metrics

import (
	"math"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/jinzai/internal/vector"
)

const (
	// DefaultSlowQuery is the latency above which a search is logged as slow.
	DefaultSlowQuery = 200 * time.Millisecond

	defaultWindow = 1024
)

// BatchSummary is what an ingestion batch reports to the collector.
type BatchSummary struct {
	Documents    int
	Completed    int
	Failed       int
	Requeued     int
	Deduplicated int
	Released     int
	Records      int
	ChunkErrors  int
	Duration     time.Duration
}

// SearchSummary aggregates every observed search.
type SearchSummary struct {
	Count         int64         `json:"count"`
	AvgLatency    time.Duration `json:"avg_latency_ns"`
	P95Latency    time.Duration `json:"p95_latency_ns"`
	MaxLatency    time.Duration `json:"max_latency_ns"`
	AvgCandidates float64       `json:"avg_candidates"`
	AvgResults    float64       `json:"avg_results"`
	AvgScore      float64       `json:"avg_score"`
	AvgTopScore   float64       `json:"avg_top_score"`
	EmptyResults  int64         `json:"empty_results"`
	Excluded      int64         `json:"excluded"`
	SlowQueries   int64         `json:"slow_queries"`
}

// IngestionSummary aggregates every observed ingestion batch.
type IngestionSummary struct {
	Batches       int64         `json:"batches"`
	Documents     int64         `json:"documents"`
	Completed     int64         `json:"completed"`
	Failed        int64         `json:"failed"`
	Requeued      int64         `json:"requeued"`
	Deduplicated  int64         `json:"deduplicated"`
	Released      int64         `json:"released"`
	Records       int64         `json:"records"`
	ChunkErrors   int64         `json:"chunk_errors"`
	AvgDocLatency time.Duration `json:"avg_doc_latency_ns"`
}

// Summary is a point-in-time copy of the collector's state.
type Summary struct {
	Search    SearchSummary    `json:"search"`
	Ingestion IngestionSummary `json:"ingestion"`
}

// Collector accumulates search and ingestion observations. It is safe for concurrent use.
type Collector struct {
	logger    *zap.Logger
	slowQuery time.Duration

	mu sync.Mutex

	searches      int64
	latencySum    time.Duration
	latencyMax    time.Duration
	window        []time.Duration
	next          int
	candidates    int64
	results       int64
	scoreSum      float64
	scored        int64
	topScoreSum   float64
	emptyResults  int64
	excluded      int64
	slowQueries   int64
	ingestion     IngestionSummary
	batchDuration time.Duration
}

// Option configures a Collector.
type Option func(*Collector)

// WithLogger sets the logger used for slow-query warnings.
func WithLogger(l *zap.Logger) Option {
	return func(c *Collector) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithSlowQueryThreshold sets the slow-query latency. Zero disables slow-query logging.
func WithSlowQueryThreshold(d time.Duration) Option {
	return func(c *Collector) { c.slowQuery = d }
}

// WithWindow sets how many recent search latencies are kept for the percentile.
func WithWindow(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.window = make([]time.Duration, 0, n)
		}
	}
}

// NewCollector returns an empty collector.
func NewCollector(opts ...Option) *Collector {
	c := &Collector{
		logger:    zap.NewNop(),
		slowQuery: DefaultSlowQuery,
		window:    make([]time.Duration, 0, defaultWindow),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ObserveSearch records one search that took latency end to end.
func (c *Collector) ObserveSearch(latency time.Duration, stats vector.Stats) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.searches++
	c.latencySum += latency
	if latency > c.latencyMax {
		c.latencyMax = latency
	}
	if len(c.window) < cap(c.window) {
		c.window = append(c.window, latency)
	} else {
		c.window[c.next] = latency
		c.next = (c.next + 1) % len(c.window)
	}
	c.candidates += int64(stats.Candidates)
	c.results += int64(stats.Results)
	c.excluded += int64(stats.Excluded)
	if stats.Results == 0 {
		c.emptyResults++
	} else {
		c.scoreSum += stats.AvgScore
		c.topScoreSum += stats.TopScore
		c.scored++
	}
	slow := c.slowQuery > 0 && latency > c.slowQuery
	if slow {
		c.slowQueries++
	}
	c.mu.Unlock()

	if slow {
		c.logger.Warn("slow search",
			zap.Duration("latency", latency),
			zap.Duration("threshold", c.slowQuery),
			zap.Int("candidates", stats.Candidates),
			zap.Int("results", stats.Results))
	}
}

// ObserveIngestion records one ingestion batch.
func (c *Collector) ObserveIngestion(b BatchSummary) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	in := &c.ingestion
	in.Batches++
	in.Documents += int64(b.Documents)
	in.Completed += int64(b.Completed)
	in.Failed += int64(b.Failed)
	in.Requeued += int64(b.Requeued)
	in.Deduplicated += int64(b.Deduplicated)
	in.Released += int64(b.Released)
	in.Records += int64(b.Records)
	in.ChunkErrors += int64(b.ChunkErrors)
	c.batchDuration += b.Duration
}

// Snapshot returns the current aggregates.
func (c *Collector) Snapshot() Summary {
	if c == nil {
		return Summary{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var s Summary
	s.Search = SearchSummary{
		Count:        c.searches,
		MaxLatency:   c.latencyMax,
		P95Latency:   percentile(c.window, 0.95),
		EmptyResults: c.emptyResults,
		Excluded:     c.excluded,
		SlowQueries:  c.slowQueries,
	}
	if c.searches > 0 {
		n := float64(c.searches)
		s.Search.AvgLatency = c.latencySum / time.Duration(c.searches)
		s.Search.AvgCandidates = float64(c.candidates) / n
		s.Search.AvgResults = float64(c.results) / n
	}
	if c.scored > 0 {
		s.Search.AvgScore = c.scoreSum / float64(c.scored)
		s.Search.AvgTopScore = c.topScoreSum / float64(c.scored)
	}
	s.Ingestion = c.ingestion
	if c.ingestion.Documents > 0 {
		s.Ingestion.AvgDocLatency = c.batchDuration / time.Duration(c.ingestion.Documents)
	}
	return s
}

// percentile returns the nearest-rank p-th percentile of samples.
func percentile(samples []time.Duration, p float64) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := slices.Clone(samples)
	slices.Sort(sorted)
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	rank = max(0, min(rank, len(sorted)-1))
	return sorted[rank]
}
