package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/jinzai/internal/metrics"
	"github.com/hyperjump/jinzai/internal/models"
)

// Outcome is what happened to one document in a batch.
type Outcome string

const (
	OutcomeCompleted    Outcome = "completed"
	OutcomeDeduplicated Outcome = "deduplicated"
	OutcomeFailed       Outcome = "failed"
	OutcomeRequeued     Outcome = "requeued"
	OutcomeReleased     Outcome = "released"
	// OutcomeError means the final state could not be stored; the document stays processing
	// and is re-claimable once the claim times out.
	OutcomeError Outcome = "error"
)

// ChunkError is the failure to embed one segment of a document.
type ChunkError struct {
	FieldType models.FieldType
	Ordinal   int
	Err       error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("%s: %v", models.SegmentID(e.FieldType, e.Ordinal), e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// chunkNote joins chunk failures into the note stored on the document.
func chunkNote(errs []*ChunkError) string {
	if len(errs) == 0 {
		return ""
	}
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.Error()
	}
	return fmt.Sprintf("%d chunk(s) failed: %s", len(errs), strings.Join(parts, "; "))
}

// DocumentResult is the outcome of processing one claimed document.
type DocumentResult struct {
	ID          string  `json:"id"`
	Outcome     Outcome `json:"outcome"`
	Records     int     `json:"records"`
	ChunkErrors int     `json:"chunk_errors,omitempty"`
	Attempts    int     `json:"attempts,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// BatchReport aggregates the outcomes of one Enqueue call.
type BatchReport struct {
	Claimed  int              `json:"claimed"`
	Skipped  []string         `json:"skipped,omitempty"`
	Results  []DocumentResult `json:"results"`
	Duration time.Duration    `json:"duration_ns"`
}

// Count returns how many documents ended with outcome o.
func (r *BatchReport) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Result returns the outcome for document id.
func (r *BatchReport) Result(id string) (DocumentResult, bool) {
	for _, res := range r.Results {
		if res.ID == id {
			return res, true
		}
	}
	return DocumentResult{}, false
}

// Summary converts the report into the form the metrics collector aggregates.
func (r *BatchReport) Summary() metrics.BatchSummary {
	s := metrics.BatchSummary{
		Documents: len(r.Results),
		Duration:  r.Duration,
	}
	for _, res := range r.Results {
		switch res.Outcome {
		case OutcomeCompleted:
			s.Completed++
		case OutcomeDeduplicated:
			s.Deduplicated++
		case OutcomeFailed:
			s.Failed++
		case OutcomeRequeued:
			s.Requeued++
		case OutcomeReleased:
			s.Released++
		}
		s.Records += res.Records
		s.ChunkErrors += res.ChunkErrors
	}
	return s
}
