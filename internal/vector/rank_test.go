package vector

import (
	"context"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/jinzai/internal/models"
	"github.com/hyperjump/jinzai/pkg/utils"
)

func record(doc string, f models.FieldType, ordinal int, vec []float32) *models.EmbeddingRecord {
	return models.NewEmbeddingRecord(doc, f, ordinal, "text", vec, 1)
}

func randomVector(rng *rand.Rand, dims int) []float32 {
	v := make([]float32, dims)
	for i := range v {
		v[i] = float32(rng.NormFloat64())
	}
	return v
}

func TestRank_EmptyCandidates(t *testing.T) {
	results, stats := Rank([]float32{1, 0, 0}, nil, Options{TopK: 10, Threshold: 0.3})
	assert.NotNil(t, results)
	assert.Empty(t, results)
	assert.Zero(t, stats.Candidates)
	assert.Zero(t, stats.Results)
}

func TestRank_IdenticalVectorScoresOneAndRanksFirst(t *testing.T) {
	q := []float32{3, 1, 2, 0.5}
	utils.NormalizeL2(q)
	same := append([]float32(nil), q...)

	candidates := []*models.EmbeddingRecord{
		record("doc-b", models.FieldSkills, 0, same),
		record("doc-c", models.FieldSkills, 0, []float32{1, 0, 0, 0}),
		record("doc-a", models.FieldSummary, 0, same),
	}
	results, stats := Rank(q, candidates, Options{TopK: 10, Threshold: 0.3})
	require.NotEmpty(t, results)
	assert.Equal(t, 1.0, results[0].Score)
	assert.Equal(t, 1.0, results[1].Score)
	assert.Equal(t, "doc-a#summary:0", results[0].Record.ID, "ties break by ascending ID")
	assert.Equal(t, "doc-b#skills:0", results[1].Record.ID)
	assert.Equal(t, 1, results[0].Rank)
	assert.Equal(t, 2, results[1].Rank)
	assert.Equal(t, 1.0, stats.TopScore)
}

func TestCosineSimilarity_EqualVectorsScoreExactlyOne(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 384))
	for i := 0; i < 2000; i++ {
		v := make([]float32, 384)
		for j := range v {
			v[j] = float32(rng.NormFloat64())
		}
		utils.NormalizeL2(v)
		same := append([]float32(nil), v...)
		if got := CosineSimilarity(v, same); got != 1.0 {
			t.Fatalf("iteration %d: CosineSimilarity = %.17g, want exactly 1", i, got)
		}
		results, _ := Rank(v, []*models.EmbeddingRecord{record("doc", models.FieldSkills, 0, same)}, Options{TopK: 1, Threshold: -1})
		if len(results) != 1 || results[0].Score != 1.0 {
			t.Fatalf("iteration %d: ranked score = %+v, want exactly 1", i, results)
		}
	}
}

func TestRank_OrthogonalExcludedAtDefaultThreshold(t *testing.T) {
	q := []float32{1, 1, 1, 1, 1, 0, 0, 0, 0, 0}
	ortho := []float32{0, 0, 0, 0, 0, 1, 1, 1, 1, 1}

	assert.Equal(t, 0.0, CosineSimilarity(q, ortho))

	results, stats := Rank(q, []*models.EmbeddingRecord{record("d", models.FieldSkills, 0, ortho)},
		Options{TopK: 10, Threshold: models.DefaultThreshold})
	assert.Empty(t, results)
	assert.Equal(t, 1, stats.Scored)
	assert.Zero(t, stats.Eligible)
}

func TestRank_ThresholdIsInclusive(t *testing.T) {
	q := []float32{1, 0}
	c := []float32{1, 1} // cosine = 1/sqrt(2)
	score := CosineSimilarity(q, c)
	results, _ := Rank(q, []*models.EmbeddingRecord{record("d", models.FieldSkills, 0, c)},
		Options{TopK: 5, Threshold: score})
	assert.Len(t, results, 1)
}

func TestRank_LengthIsMinOfTopKAndEligible(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for trial := 0; trial < 50; trial++ {
		dims := 8
		n := rng.IntN(40)
		candidates := make([]*models.EmbeddingRecord, n)
		for i := range candidates {
			candidates[i] = record(fmt.Sprintf("doc-%03d", i), models.FieldExperience, 0, randomVector(rng, dims))
		}
		q := randomVector(rng, dims)
		threshold := rng.Float64()*0.6 - 0.3
		topK := rng.IntN(15) + 1

		eligible := 0
		for _, c := range candidates {
			if CosineSimilarity(q, c.Vector) >= threshold {
				eligible++
			}
		}
		results, stats := Rank(q, candidates, Options{TopK: topK, Threshold: threshold})
		require.Len(t, results, min(topK, eligible), "trial %d", trial)
		assert.Equal(t, eligible, stats.Eligible)

		for i := 0; i+1 < len(results); i++ {
			assert.GreaterOrEqual(t, results[i].Score, results[i+1].Score, "trial %d pos %d", trial, i)
			if results[i].Score == results[i+1].Score {
				assert.Less(t, results[i].Record.ID, results[i+1].Record.ID)
			}
		}
		for _, r := range results {
			assert.GreaterOrEqual(t, r.Score, threshold)
			assert.LessOrEqual(t, r.Score, 1.0)
			assert.GreaterOrEqual(t, r.Score, -1.0)
		}
	}
}

func TestRank_DimensionMismatchedCandidateExcluded(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	q := randomVector(rng, 384)

	candidates := []*models.EmbeddingRecord{
		record("good-1", models.FieldSummary, 0, append([]float32(nil), q...)),
		record("bad", models.FieldSummary, 0, randomVector(rng, 512)),
		record("good-2", models.FieldSummary, 0, randomVector(rng, 384)),
	}
	results, stats := Rank(q, candidates, Options{TopK: 10, Threshold: -1})
	require.Len(t, results, 2)
	assert.Equal(t, 1, stats.Excluded)
	assert.Equal(t, 3, stats.Candidates)
	assert.Equal(t, 2, stats.Scored)
	assert.Equal(t, "good-1#summary:0", results[0].Record.ID)
	for _, r := range results {
		assert.NotEqual(t, "bad", r.Record.DocumentID)
	}
}

func TestRank_FieldFilterAppliedBeforeScoring(t *testing.T) {
	q := []float32{1, 0}
	candidates := []*models.EmbeddingRecord{
		record("d1", models.FieldSkills, 0, []float32{1, 0}),
		record("d1", models.FieldEducation, 0, []float32{1, 0}),
		record("d2", models.FieldEducation, 0, []float32{1, 0, 0}),
	}
	results, stats := Rank(q, candidates, Options{TopK: 10, Threshold: 0.3, FieldTypes: []models.FieldType{models.FieldSkills}})
	require.Len(t, results, 1)
	assert.Equal(t, models.FieldSkills, results[0].Record.FieldType)
	assert.Equal(t, 1, stats.Candidates)
	assert.Zero(t, stats.Excluded, "filtered-out records are not counted as excluded")
}

func TestRank_ZeroMagnitude(t *testing.T) {
	candidates := []*models.EmbeddingRecord{record("d", models.FieldSkills, 0, []float32{0, 0})}
	results, stats := Rank([]float32{1, 0}, candidates, Options{TopK: 10, Threshold: 0})
	require.Len(t, results, 1)
	assert.Equal(t, 0.0, results[0].Score)
	assert.Equal(t, 1, stats.Scored)

	results, _ = Rank([]float32{0, 0}, candidates, Options{TopK: 10, Threshold: 0.3})
	assert.Empty(t, results)
}

func TestRank_DoesNotMutateCandidates(t *testing.T) {
	vec := []float32{3, 4}
	c := record("d", models.FieldSkills, 0, vec)
	Rank([]float32{1, 0}, []*models.EmbeddingRecord{c}, Options{TopK: 1, Threshold: -1})
	assert.Equal(t, []float32{3, 4}, c.Vector)
}

func TestBatchRank_PreservesOrder(t *testing.T) {
	candidates := []*models.EmbeddingRecord{
		record("x", models.FieldSkills, 0, []float32{1, 0, 0}),
		record("y", models.FieldSkills, 0, []float32{0, 1, 0}),
		record("z", models.FieldSkills, 0, []float32{0, 0, 1}),
	}
	queries := []Query{
		{Vector: []float32{0, 0, 1}, Options: Options{TopK: 1, Threshold: 0.3}},
		{Vector: []float32{1, 0, 0}, Options: Options{TopK: 1, Threshold: 0.3}},
		{Vector: []float32{0, 1, 0}, Options: Options{TopK: 1, Threshold: 0.3}},
		{Vector: []float32{-1, 0, 0}, Options: Options{TopK: 1, Threshold: 0.3}},
	}
	out, err := BatchRank(context.Background(), queries, candidates, 2)
	require.NoError(t, err)
	require.Len(t, out, 4)
	assert.Equal(t, "x", out[1].Results[0].Record.DocumentID)
	assert.Equal(t, "z", out[0].Results[0].Record.DocumentID)
	assert.Equal(t, "y", out[2].Results[0].Record.DocumentID)
	assert.Empty(t, out[3].Results)
}

func TestBatchRank_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := BatchRank(ctx, []Query{{Vector: []float32{1}}}, nil, 1)
	assert.ErrorIs(t, err, context.Canceled)
}
