//go:build !cgo
// +build !cgo

package embedding

import (
	"context"
	"errors"
)

var errNoCGO = errors.New("ONNX embedder requires CGO; build with CGO_ENABLED=1 and onnxruntime")

// ONNXEmbedder is unavailable without CGO (see onnx.go for the real implementation).
type ONNXEmbedder struct{}

// NewONNXEmbedder always fails when built without CGO.
func NewONNXEmbedder(ONNXConfig) (*ONNXEmbedder, error) {
	return nil, errNoCGO
}

// ONNXFactory returns a Factory that always fails when built without CGO.
func ONNXFactory(ONNXConfig) Factory {
	return func(context.Context) (Embedder, error) {
		return nil, errNoCGO
	}
}
