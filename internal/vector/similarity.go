// Package vector ranks embedding records by cosine similarity and keeps the in-process
// read view of stored records that search runs against.
//
// Search is exhaustive: every query scores every candidate that survives the field filter,
// so a query costs O(N·D) for N candidates of dimension D. That is fine for the low
// thousands of records this index is sized for; there is no approximate index.
package vector

import (
	"math"

	"github.com/hyperjump/jinzai/internal/models"
	"github.com/hyperjump/jinzai/pkg/utils"
)

// Dot returns the inner product of a and b accumulated in float64, or 0 if their lengths differ.
func Dot(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// CosineSimilarity returns (a·b)/(|a|·|b|) clamped to [-1, 1].
// Empty, zero-magnitude or length-mismatched inputs score 0. Equal vectors score exactly 1.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	return cosineWithNorm(a, utils.Magnitude(a), b)
}

// cosineWithNorm is CosineSimilarity with the query magnitude precomputed.
func cosineWithNorm(query []float32, queryNorm float64, v []float32) float64 {
	if queryNorm == 0 {
		return 0
	}
	if queryNorm > 0 && !math.IsInf(queryNorm, 0) && models.VectorsEqual(query, v) {
		return 1
	}
	nv := utils.Magnitude(v)
	if nv == 0 {
		return 0
	}
	return clamp(Dot(query, v) / (queryNorm * nv))
}

func clamp(s float64) float64 {
	if math.IsNaN(s) {
		return s
	}
	return math.Max(-1, math.Min(1, s))
}
