package models

import (
	"testing"
)

func TestDocument_ContentHash(t *testing.T) {
	a := &Document{Summary: "Backend engineer.", Skills: "Go, SQL"}
	b := &Document{Summary: "  Backend   engineer. ", Skills: "Go,\nSQL"}
	if a.ComputeContentHash() != b.ComputeContentHash() {
		t.Error("whitespace differences should not change the hash")
	}
	c := &Document{Summary: "Go, SQL", Skills: "Backend engineer."}
	if a.ComputeContentHash() == c.ComputeContentHash() {
		t.Error("moving text between fields should change the hash")
	}
}

func TestDocument_SetFields(t *testing.T) {
	doc := &Document{ID: "d1"}
	if !doc.SetFields(&DocumentInput{Summary: "hello"}) {
		t.Error("first SetFields should report a change")
	}
	if doc.SetFields(&DocumentInput{Summary: "hello "}) {
		t.Error("whitespace-only edit should not report a change")
	}
	if !doc.SetFields(&DocumentInput{Summary: "hello", Skills: "go"}) {
		t.Error("new field text should report a change")
	}
	if doc.ContentHash == "" {
		t.Error("content hash should be set")
	}
}

func TestDocument_HasTextAndFields(t *testing.T) {
	doc := &Document{Education: " \n\t "}
	if doc.HasText() {
		t.Error("blank fields should not count as text")
	}
	doc.Certifications = "CKA"
	if !doc.HasText() {
		t.Error("expected text")
	}
	fields := doc.Fields()
	if len(fields) != len(FieldTypes) {
		t.Fatalf("Fields() len = %d", len(fields))
	}
	if fields[4].Type != FieldCertifications || fields[4].Text != "CKA" {
		t.Errorf("unexpected field %+v", fields[4])
	}
}

func TestParseFieldType(t *testing.T) {
	if f, err := ParseFieldType("experience"); err != nil || f != FieldExperience {
		t.Errorf("got %q, %v", f, err)
	}
	if _, err := ParseFieldType("hobbies"); err == nil {
		t.Error("expected error for unknown field type")
	}
}
