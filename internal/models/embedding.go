package models

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/cespare/xxhash/v2"
)

// EmbeddingRecord is one embedded segment of a document field.
type EmbeddingRecord struct {
	ID         string    `json:"id" db:"id"`
	DocumentID string    `json:"document_id" db:"document_id"`
	SegmentID  string    `json:"segment_id" db:"segment_id"`
	FieldType  FieldType `json:"field_type" db:"field_type"`
	Text       string    `json:"text" db:"text"`
	Vector     []float32 `json:"-" db:"vector"`
	Confidence float64   `json:"confidence" db:"confidence"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// SegmentID returns the stable segment identifier for the ordinal-th segment of field f.
func SegmentID(f FieldType, ordinal int) string {
	return fmt.Sprintf("%s:%d", f, ordinal)
}

// RecordID returns the record identifier, unique per (document, field, ordinal).
func RecordID(documentID, segmentID string) string {
	return documentID + "#" + segmentID
}

// NewEmbeddingRecord builds a record for the ordinal-th segment of field f in document docID.
func NewEmbeddingRecord(docID string, f FieldType, ordinal int, text string, vec []float32, confidence float64) *EmbeddingRecord {
	seg := SegmentID(f, ordinal)
	return &EmbeddingRecord{
		ID:         RecordID(docID, seg),
		DocumentID: docID,
		SegmentID:  seg,
		FieldType:  f,
		Text:       text,
		Vector:     vec,
		Confidence: confidence,
	}
}

// Equal compares two records by identity, text and element-wise vector content.
// CreatedAt is not compared.
func (r *EmbeddingRecord) Equal(o *EmbeddingRecord) bool {
	if r == nil || o == nil {
		return r == o
	}
	return r.ID == o.ID &&
		r.DocumentID == o.DocumentID &&
		r.SegmentID == o.SegmentID &&
		r.FieldType == o.FieldType &&
		r.Text == o.Text &&
		r.Confidence == o.Confidence &&
		VectorsEqual(r.Vector, o.Vector)
}

// VectorsEqual compares two vectors element by element on their bit patterns,
// so NaN payloads compare equal to themselves and +0 differs from -0.
func VectorsEqual(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Float32bits(a[i]) != math.Float32bits(b[i]) {
			return false
		}
	}
	return true
}

// VectorHash returns a content hash of v consistent with VectorsEqual.
func VectorHash(v []float32) uint64 {
	d := xxhash.New()
	var buf [4]byte
	for _, x := range v {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(x))
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}
