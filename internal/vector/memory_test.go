package vector

import (
	"context"
	"errors"
	"testing"

	"github.com/hyperjump/jinzai/internal/models"
)

func TestMemoryIndex_ReplaceSnapshot(t *testing.T) {
	idx := NewMemoryIndex()
	idx.Replace("a", []*models.EmbeddingRecord{
		record("a", models.FieldSkills, 0, []float32{1, 0}),
		record("a", models.FieldSummary, 0, []float32{0, 1}),
	})
	idx.Replace("b", []*models.EmbeddingRecord{record("b", models.FieldSkills, 0, []float32{1, 1})})
	if idx.Size() != 3 || idx.Documents() != 2 {
		t.Fatalf("Size=%d Documents=%d", idx.Size(), idx.Documents())
	}

	if got := len(idx.Snapshot()); got != 3 {
		t.Errorf("Snapshot() len = %d, want 3", got)
	}
	skills := idx.Snapshot(models.FieldSkills)
	if len(skills) != 2 {
		t.Fatalf("Snapshot(skills) len = %d, want 2", len(skills))
	}
	for _, r := range skills {
		if r.FieldType != models.FieldSkills {
			t.Errorf("unexpected field %s", r.FieldType)
		}
	}

	idx.Replace("a", []*models.EmbeddingRecord{record("a", models.FieldEducation, 0, []float32{1, 0})})
	if idx.Size() != 2 {
		t.Errorf("Size after replace = %d, want 2", idx.Size())
	}
}

func TestMemoryIndex_Remove(t *testing.T) {
	idx := NewMemoryIndex()
	idx.Replace("x", []*models.EmbeddingRecord{record("x", models.FieldSkills, 0, []float32{1, 0})})
	idx.Replace("y", []*models.EmbeddingRecord{record("y", models.FieldSkills, 0, []float32{0, 1})})
	idx.Remove("x")
	idx.Remove("missing")
	if idx.Size() != 1 || idx.Documents() != 1 {
		t.Errorf("Size=%d Documents=%d, want 1/1", idx.Size(), idx.Documents())
	}
}

func TestMemoryIndex_SnapshotIsIndependent(t *testing.T) {
	idx := NewMemoryIndex()
	recs := []*models.EmbeddingRecord{record("a", models.FieldSkills, 0, []float32{1, 0})}
	idx.Replace("a", recs)
	recs[0] = nil
	snap := idx.Snapshot()
	if len(snap) != 1 || snap[0] == nil {
		t.Fatal("index should keep its own slice")
	}
	snap[0] = nil
	if idx.Snapshot()[0] == nil {
		t.Error("modifying a snapshot should not affect the index")
	}
}

func TestMemoryIndex_Load(t *testing.T) {
	idx := NewMemoryIndex()
	idx.Replace("stale", []*models.EmbeddingRecord{record("stale", models.FieldSkills, 0, []float32{1})})

	calls := 0
	load := func(context.Context) ([]*models.EmbeddingRecord, error) {
		calls++
		return []*models.EmbeddingRecord{
			record("a", models.FieldSkills, 0, []float32{1, 0}),
			record("a", models.FieldSkills, 1, []float32{0, 1}),
			record("b", models.FieldSummary, 0, []float32{1, 1}),
		}, nil
	}
	if idx.Loaded() {
		t.Fatal("Replace alone should not mark the index loaded")
	}
	if err := idx.Load(context.Background(), load); err != nil {
		t.Fatal(err)
	}
	if err := idx.Load(context.Background(), load); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("loader called %d times, want 2", calls)
	}
	if !idx.Loaded() || idx.Size() != 3 || idx.Documents() != 2 {
		t.Errorf("Loaded=%v Size=%d Documents=%d", idx.Loaded(), idx.Size(), idx.Documents())
	}
	if got := idx.Snapshot(); len(got) != 3 {
		t.Errorf("stale records survived the load: %d records", len(got))
	}
}

func TestMemoryIndex_LoadFailureCanRetry(t *testing.T) {
	idx := NewMemoryIndex()
	boom := errors.New("db locked")
	err := idx.Load(context.Background(), func(context.Context) ([]*models.EmbeddingRecord, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if idx.Loaded() {
		t.Fatal("index should not be marked loaded after a failure")
	}
	err = idx.Load(context.Background(), func(context.Context) ([]*models.EmbeddingRecord, error) {
		return nil, nil
	})
	if err != nil || !idx.Loaded() {
		t.Errorf("retry: err=%v loaded=%v", err, idx.Loaded())
	}
}
