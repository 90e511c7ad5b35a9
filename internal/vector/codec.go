package vector

import (
	"encoding/binary"
	"fmt"
	"math"
)

const float32Size = 4

// Encode serializes v as little-endian float32 values, the BLOB layout used by the record store.
func Encode(v []float32) []byte {
	out := make([]byte, len(v)*float32Size)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*float32Size:], math.Float32bits(f))
	}
	return out
}

// Decode parses a BLOB written by Encode.
func Decode(b []byte) ([]float32, error) {
	if len(b)%float32Size != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of %d", len(b), float32Size)
	}
	out := make([]float32, len(b)/float32Size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*float32Size:]))
	}
	return out, nil
}
