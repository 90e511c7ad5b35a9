package models

import (
	"fmt"
	"strings"
	"time"
)

// Search defaults used when a query or the configuration leaves them unset.
const (
	DefaultTopK      = 10
	MaxTopK          = 100
	DefaultThreshold = 0.3
)

// QueryDefaults carries configured defaults into SearchQuery.Validate.
type QueryDefaults struct {
	TopK      int
	MaxTopK   int
	Threshold float64
}

// SearchQuery is a similarity search request. Exactly one of Query or Vector is used;
// Vector wins when both are set.
type SearchQuery struct {
	Query      string      `json:"query,omitempty"`
	Vector     []float32   `json:"vector,omitempty"`
	TopK       int         `json:"top_k,omitempty"`
	Threshold  *float64    `json:"threshold,omitempty"`
	FieldTypes []FieldType `json:"field_types,omitempty"`
}

// Validate checks the query and fills in defaults. A nil Threshold takes the default;
// an explicit threshold must lie in [-1, 1].
func (q *SearchQuery) Validate(d QueryDefaults) error {
	if d.TopK <= 0 {
		d.TopK = DefaultTopK
	}
	if d.MaxTopK <= 0 {
		d.MaxTopK = MaxTopK
	}
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" && len(q.Vector) == 0 {
		return fmt.Errorf("%w: query text or vector is required", ErrInvalidInput)
	}
	if q.TopK <= 0 {
		q.TopK = d.TopK
	}
	if q.TopK > d.MaxTopK {
		q.TopK = d.MaxTopK
	}
	if q.Threshold == nil {
		t := d.Threshold
		q.Threshold = &t
	}
	if *q.Threshold < -1 || *q.Threshold > 1 {
		return fmt.Errorf("%w: threshold %v outside [-1, 1]", ErrInvalidInput, *q.Threshold)
	}
	for _, f := range q.FieldTypes {
		if !f.Valid() {
			return fmt.Errorf("%w: unknown field type %q", ErrInvalidInput, f)
		}
	}
	return nil
}

// ThresholdValue returns the effective threshold (DefaultThreshold when unset).
func (q *SearchQuery) ThresholdValue() float64 {
	if q.Threshold == nil {
		return DefaultThreshold
	}
	return *q.Threshold
}

// Feedback is optional user judgement of a search.
type Feedback string

const (
	FeedbackHelpful    Feedback = "helpful"
	FeedbackNotHelpful Feedback = "not_helpful"
)

// Valid reports whether f is a known feedback value.
func (f Feedback) Valid() bool {
	return f == FeedbackHelpful || f == FeedbackNotHelpful
}

// SearchQueryRecord is an analytics entry for one executed search.
type SearchQueryRecord struct {
	ID            string        `json:"id" db:"id"`
	QueryText     string        `json:"query" db:"query_text"`
	QueryVector   []float32     `json:"-" db:"query_vector"`
	ExecutionTime time.Duration `json:"execution_time_ns" db:"execution_time_ns"`
	ResultCount   int           `json:"result_count" db:"result_count"`
	TopScore      float64       `json:"top_score" db:"top_score"`
	Feedback      Feedback      `json:"feedback,omitempty" db:"feedback"`
	FeedbackNote  string        `json:"feedback_note,omitempty" db:"feedback_note"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
}
