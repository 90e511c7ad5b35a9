package vector

import (
	"cmp"
	"context"
	"math"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/jinzai/internal/models"
	"github.com/hyperjump/jinzai/pkg/utils"
)

// Options control a single ranking pass.
type Options struct {
	// TopK caps the result length. Values <= 0 return every eligible candidate.
	TopK int
	// Threshold is the minimum score (inclusive) for a candidate to be eligible.
	Threshold float64
	// FieldTypes restricts candidates to these fields. Empty means all fields.
	FieldTypes []models.FieldType
}

// Stats describes one ranking pass.
type Stats struct {
	// Candidates is the number of records left after the field filter.
	Candidates int `json:"candidates"`
	// Scored is the number of candidates a score was computed for.
	Scored int `json:"scored"`
	// Excluded counts candidates skipped for a dimension mismatch or a non-finite score.
	Excluded int `json:"excluded"`
	// Eligible is the number of scored candidates at or above the threshold.
	Eligible int           `json:"eligible"`
	Results  int           `json:"results"`
	AvgScore float64       `json:"avg_score"`
	TopScore float64       `json:"top_score"`
	Duration time.Duration `json:"duration_ns"`
}

// Rank scores candidates against query and returns the eligible ones, best first.
//
// The query length is the reference dimension: a candidate whose vector has a different
// length is excluded and counted, it does not fail the pass. Ties are broken by ascending
// record ID so the order is deterministic. Candidates are never modified.
func Rank(query []float32, candidates []*models.EmbeddingRecord, opts Options) ([]*models.ScoredRecord, Stats) {
	start := time.Now()
	var stats Stats
	if len(query) == 0 || len(candidates) == 0 {
		stats.Duration = time.Since(start)
		return []*models.ScoredRecord{}, stats
	}

	allow := fieldSet(opts.FieldTypes)
	queryNorm := utils.Magnitude(query)
	eligible := make([]*models.ScoredRecord, 0, len(candidates)/4+1)

	for _, rec := range candidates {
		if rec == nil || (allow != nil && !allow[rec.FieldType]) {
			continue
		}
		stats.Candidates++
		if len(rec.Vector) != len(query) {
			stats.Excluded++
			continue
		}
		score := cosineWithNorm(query, queryNorm, rec.Vector)
		if math.IsNaN(score) || math.IsInf(score, 0) {
			stats.Excluded++
			continue
		}
		stats.Scored++
		if score >= opts.Threshold {
			eligible = append(eligible, &models.ScoredRecord{Record: rec, Score: score})
		}
	}
	stats.Eligible = len(eligible)

	slices.SortFunc(eligible, func(a, b *models.ScoredRecord) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Record.ID, b.Record.ID)
	})
	if opts.TopK > 0 && len(eligible) > opts.TopK {
		eligible = eligible[:opts.TopK]
	}

	var sum float64
	for i, r := range eligible {
		r.Rank = i + 1
		sum += r.Score
	}
	stats.Results = len(eligible)
	if len(eligible) > 0 {
		stats.TopScore = eligible[0].Score
		stats.AvgScore = sum / float64(len(eligible))
	}
	stats.Duration = time.Since(start)
	return eligible, stats
}

// Query is one entry of a batch ranking.
type Query struct {
	Vector  []float32
	Options Options
}

// Ranked is the outcome of ranking one Query.
type Ranked struct {
	Results []*models.ScoredRecord
	Stats   Stats
}

// BatchRank ranks every query against the same candidates on at most workers goroutines.
// The output has one entry per query in input order. It fails only if ctx is cancelled.
func BatchRank(ctx context.Context, queries []Query, candidates []*models.EmbeddingRecord, workers int) ([]Ranked, error) {
	out := make([]Ranked, len(queries))
	if workers <= 0 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, q := range queries {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results, stats := Rank(q.Vector, candidates, q.Options)
			out[i] = Ranked{Results: results, Stats: stats}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func fieldSet(fields []models.FieldType) map[models.FieldType]bool {
	if len(fields) == 0 {
		return nil
	}
	set := make(map[models.FieldType]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}
