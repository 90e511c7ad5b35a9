package embedding

import "fmt"

// Embedder types accepted by NewFactory.
const (
	TypeONNX = "onnx"
	TypeMock = "mock"
)

// ONNXConfig describes an ONNX sentence-embedding model.
type ONNXConfig struct {
	ModelPath  string
	Dimensions int
	MaxTokens  int
}

// NewFactory returns the Factory for the named embedder type.
func NewFactory(kind string, cfg ONNXConfig) (Factory, error) {
	switch kind {
	case TypeONNX, "":
		return ONNXFactory(cfg), nil
	case TypeMock:
		return MockFactory(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding type %q", kind)
	}
}
