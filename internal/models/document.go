// Package models defines core data structures for documents, embedding records, and search.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/hyperjump/jinzai/pkg/utils"
)

// FieldType tags the document field a segment was taken from.
type FieldType string

const (
	FieldSummary        FieldType = "summary"
	FieldSkills         FieldType = "skills"
	FieldExperience     FieldType = "experience"
	FieldEducation      FieldType = "education"
	FieldCertifications FieldType = "certifications"
)

// FieldTypes lists the document fields in their canonical order.
var FieldTypes = []FieldType{FieldSummary, FieldSkills, FieldExperience, FieldEducation, FieldCertifications}

// Valid reports whether f is a known field type.
func (f FieldType) Valid() bool {
	for _, ft := range FieldTypes {
		if ft == f {
			return true
		}
	}
	return false
}

// ParseFieldType converts a string to a FieldType.
func ParseFieldType(s string) (FieldType, error) {
	f := FieldType(s)
	if !f.Valid() {
		return "", fmt.Errorf("%w: unknown field type %q", ErrInvalidInput, s)
	}
	return f, nil
}

// Document is a career-history record and its ingestion state.
type Document struct {
	ID             string     `json:"id" db:"id"`
	Summary        string     `json:"summary" db:"summary"`
	Skills         string     `json:"skills" db:"skills"`
	Experience     string     `json:"experience" db:"experience"`
	Education      string     `json:"education" db:"education"`
	Certifications string     `json:"certifications" db:"certifications"`
	ContentHash    string     `json:"content_hash" db:"content_hash"`
	Status         Status     `json:"status" db:"status"`
	ErrorMessage   string     `json:"error_message,omitempty" db:"error_message"`
	Attempts       int        `json:"attempts" db:"attempts"`
	NextAttemptAt  *time.Time `json:"next_attempt_at,omitempty" db:"next_attempt_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
	EmbeddedAt     *time.Time `json:"embedded_at,omitempty" db:"embedded_at"`
}

// FieldText pairs a field type with its raw text.
type FieldText struct {
	Type FieldType
	Text string
}

// Field returns the raw text of field f.
func (d *Document) Field(f FieldType) string {
	switch f {
	case FieldSummary:
		return d.Summary
	case FieldSkills:
		return d.Skills
	case FieldExperience:
		return d.Experience
	case FieldEducation:
		return d.Education
	case FieldCertifications:
		return d.Certifications
	}
	return ""
}

// Fields returns every field in canonical order, including empty ones.
func (d *Document) Fields() []FieldText {
	out := make([]FieldText, len(FieldTypes))
	for i, f := range FieldTypes {
		out[i] = FieldText{Type: f, Text: d.Field(f)}
	}
	return out
}

// HasText reports whether at least one field has non-whitespace text.
func (d *Document) HasText() bool {
	for _, f := range FieldTypes {
		if utils.NormalizeWhitespace(d.Field(f)) != "" {
			return true
		}
	}
	return false
}

// ComputeContentHash returns the digest of the document's normalized field texts.
func (d *Document) ComputeContentHash() string {
	h := sha256.New()
	for _, f := range FieldTypes {
		h.Write([]byte(f))
		h.Write([]byte{0})
		h.Write([]byte(utils.NormalizeWhitespace(d.Field(f))))
		h.Write([]byte{0x1e})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SetFields replaces the field texts from input and recomputes the content hash.
// It reports whether the hash changed.
func (d *Document) SetFields(input *DocumentInput) bool {
	d.Summary = input.Summary
	d.Skills = input.Skills
	d.Experience = input.Experience
	d.Education = input.Education
	d.Certifications = input.Certifications
	hash := d.ComputeContentHash()
	changed := hash != d.ContentHash
	d.ContentHash = hash
	return changed
}

// Transition moves the document to status to, rejecting changes outside the transition table.
func (d *Document) Transition(to Status) error {
	if !d.Status.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s (document %s)", ErrInvalidTransition, d.Status, to, d.ID)
	}
	d.Status = to
	return nil
}

// DocumentInput is the input for creating or updating a document.
type DocumentInput struct {
	ID             string `json:"id,omitempty"`
	Summary        string `json:"summary,omitempty"`
	Skills         string `json:"skills,omitempty"`
	Experience     string `json:"experience,omitempty"`
	Education      string `json:"education,omitempty"`
	Certifications string `json:"certifications,omitempty"`
}

// DocumentFilter selects documents for listing, counting and claiming.
// Zero values match everything.
type DocumentFilter struct {
	Statuses  []Status
	IDs       []string
	DueBefore *time.Time // only documents whose NextAttemptAt is unset or <= DueBefore
}
