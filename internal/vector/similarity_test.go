package vector

import (
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"scaled", []float32{1, 2, 3}, []float32{2, 4, 6}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"orthogonal", []float32{1, 1, 1, 1, 1, 0, 0, 0, 0, 0}, []float32{0, 0, 0, 0, 0, 1, 1, 1, 1, 1}, 0},
		{"zero magnitude", []float32{0, 0, 0}, []float32{1, 2, 3}, 0},
		{"both zero", []float32{0, 0}, []float32{0, 0}, 0},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("CosineSimilarity = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCosineSimilarity_Clamped(t *testing.T) {
	a := []float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7}
	got := CosineSimilarity(a, a)
	if got > 1 || got < -1 {
		t.Errorf("score %v outside [-1, 1]", got)
	}
}

func TestDot(t *testing.T) {
	if got := Dot([]float32{1, 2}, []float32{3, 4}); got != 11 {
		t.Errorf("Dot = %v, want 11", got)
	}
	if got := Dot([]float32{1}, []float32{1, 2}); got != 0 {
		t.Errorf("Dot of mismatched lengths = %v, want 0", got)
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	v := []float32{0, -1.5, 3.25, float32(math.Inf(1)), math.SmallestNonzeroFloat32}
	b := Encode(v)
	if len(b) != len(v)*4 {
		t.Fatalf("encoded length %d", len(b))
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	for i := range v {
		if math.Float32bits(got[i]) != math.Float32bits(v[i]) {
			t.Errorf("element %d: got %v, want %v", i, got[i], v[i])
		}
	}
	if _, err := Decode([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}
