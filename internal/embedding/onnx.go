//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyperjump/jinzai/pkg/utils"
)

var (
	runtimeMu    sync.Mutex
	runtimeReady bool
)

// initRuntime initializes the process-wide ONNX environment once. A failure can be retried.
func initRuntime() error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	if runtimeReady {
		return nil
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}
	runtimeReady = true
	return nil
}

// ONNXEmbedder runs a sentence-embedding model with ONNX Runtime. It requires CGO and the
// onnxruntime shared library. The session is created by Initialize, not by the constructor.
type ONNXEmbedder struct {
	cfg       ONNXConfig
	tokenizer Tokenizer

	// Tensors are allocated once; Embed copies inputs in and reads the output.
	session             *ort.AdvancedSession
	inputIDsTensor      *ort.Tensor[int64]
	attentionMaskTensor *ort.Tensor[int64]
	tokenTypeIDsTensor  *ort.Tensor[int64]
	outputTensor        *ort.Tensor[float32]
	mu                  sync.Mutex
}

// NewONNXEmbedder returns an uninitialized embedder for the model described by cfg.
func NewONNXEmbedder(cfg ONNXConfig) (*ONNXEmbedder, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("onnx model path is empty")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("invalid dimensions %d", cfg.Dimensions)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 256
	}
	return &ONNXEmbedder{cfg: cfg, tokenizer: &SimpleTokenizer{}}, nil
}

// ONNXFactory returns a Factory that builds and initializes an ONNXEmbedder.
func ONNXFactory(cfg ONNXConfig) Factory {
	return func(context.Context) (Embedder, error) {
		return NewONNXEmbedder(cfg)
	}
}

// Initialize loads the ONNX runtime and creates the inference session.
func (e *ONNXEmbedder) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := initRuntime(); err != nil {
		return err
	}

	maxTokens := int64(e.cfg.MaxTokens)
	inputIDs, attentionMask, tokenTypeIDs := e.tokenizer.Tokenize("", e.cfg.MaxTokens)

	var err error
	if e.inputIDsTensor, err = ort.NewTensor(ort.NewShape(1, maxTokens), inputIDs); err != nil {
		return fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	if e.attentionMaskTensor, err = ort.NewTensor(ort.NewShape(1, maxTokens), attentionMask); err != nil {
		e.destroy()
		return fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	if e.tokenTypeIDsTensor, err = ort.NewTensor(ort.NewShape(1, maxTokens), tokenTypeIDs); err != nil {
		e.destroy()
		return fmt.Errorf("failed to create token_type_ids tensor: %w", err)
	}
	if e.outputTensor, err = ort.NewTensor(ort.NewShape(1, int64(e.cfg.Dimensions)), make([]float32, e.cfg.Dimensions)); err != nil {
		e.destroy()
		return fmt.Errorf("failed to create output tensor: %w", err)
	}

	e.session, err = ort.NewAdvancedSession(
		e.cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"output"},
		[]ort.ArbitraryTensor{e.inputIDsTensor, e.attentionMaskTensor, e.tokenTypeIDsTensor},
		[]ort.ArbitraryTensor{e.outputTensor},
		nil,
	)
	if err != nil {
		e.destroy()
		return fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return nil
}

// Embed returns the L2-normalized embedding for text.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return nil, errors.New("onnx session not initialized")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inputIDs, attentionMask, tokenTypeIDs := e.tokenizer.Tokenize(text, e.cfg.MaxTokens)
	copy(e.inputIDsTensor.GetData(), inputIDs)
	copy(e.attentionMaskTensor.GetData(), attentionMask)
	copy(e.tokenTypeIDsTensor.GetData(), tokenTypeIDs)

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	embedding := make([]float32, e.cfg.Dimensions)
	copy(embedding, e.outputTensor.GetData())
	utils.NormalizeL2(embedding)
	return embedding, nil
}

// EmbedBatch calls Embed for each text.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *ONNXEmbedder) Dimensions() int {
	return e.cfg.Dimensions
}

// Close destroys the session and tensors.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.destroy()
}

func (e *ONNXEmbedder) destroy() error {
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	if e.inputIDsTensor != nil {
		_ = e.inputIDsTensor.Destroy()
	}
	if e.attentionMaskTensor != nil {
		_ = e.attentionMaskTensor.Destroy()
	}
	if e.tokenTypeIDsTensor != nil {
		_ = e.tokenTypeIDsTensor.Destroy()
	}
	if e.outputTensor != nil {
		_ = e.outputTensor.Destroy()
	}
	e.inputIDsTensor, e.attentionMaskTensor, e.tokenTypeIDsTensor, e.outputTensor = nil, nil, nil, nil
	return err
}
