// Package embedding turns text into fixed-dimension vectors. It wraps an opaque model
// (ONNX or a deterministic mock) behind a shared Provider handle.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// Initializer is implemented by embedders that need a warm-up step before the first Embed.
type Initializer interface {
	Initialize(ctx context.Context) error
}

// Factory constructs the underlying embedder. It is called lazily by Provider.
type Factory func(ctx context.Context) (Embedder, error)

var (
	// ErrInitialization indicates the embedding model could not be loaded.
	ErrInitialization = errors.New("embedding provider initialization failed")

	// ErrEmbed indicates a single text could not be embedded.
	ErrEmbed = errors.New("embedding failed")
)

// EmbedError is the failure of a single embed call.
type EmbedError struct {
	Err error
	// Transient is set for failures worth retrying later, such as a timeout.
	Transient bool
}

func (e *EmbedError) Error() string {
	if e.Transient {
		return fmt.Sprintf("embedding failed (transient): %v", e.Err)
	}
	return fmt.Sprintf("embedding failed: %v", e.Err)
}

func (e *EmbedError) Unwrap() error { return e.Err }

// Is reports ErrEmbed as a match so callers can test with errors.Is.
func (e *EmbedError) Is(target error) bool { return target == ErrEmbed }

// IsTransient reports whether err is worth retrying on a later pass.
// Initialization failures and timeouts are transient; bad input and dimension mismatches are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInitialization) {
		return true
	}
	var ee *EmbedError
	if errors.As(err, &ee) {
		return ee.Transient
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// BatchResult is the outcome for one item of a batch. Exactly one of Vector and Err is set.
type BatchResult struct {
	Vector []float32
	Err    error
}
