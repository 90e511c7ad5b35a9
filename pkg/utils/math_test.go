package utils

import (
	"math"
	"testing"
)

func TestNormalizeL2(t *testing.T) {
	v := []float32{3, 4}
	NormalizeL2(v)
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Errorf("got %v, want [0.6 0.8]", v)
	}
	if m := Magnitude(v); math.Abs(m-1) > 1e-6 {
		t.Errorf("magnitude after normalize = %f", m)
	}
}

func TestNormalizeL2_zero(t *testing.T) {
	v := []float32{0, 0, 0}
	NormalizeL2(v)
	for i, x := range v {
		if x != 0 {
			t.Errorf("v[%d] = %f, want 0", i, x)
		}
	}
}
