package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hyperjump/jinzai/internal/models"
)

// Provider is the shared embedding handle used by ingestion and search.
//
// The underlying embedder is created lazily by the first caller that needs it; concurrent
// callers wait for that attempt and reuse its result. A failed initialization is not
// remembered, so a later call tries again. Every embed call is bounded by the configured
// timeout and its result is checked against the configured dimension.
type Provider struct {
	factory    Factory
	dimensions int
	timeout    time.Duration
	limiter    *rate.Limiter
	cache      *EmbeddingCache
	logger     *zap.Logger

	initTries    uint
	initInterval time.Duration

	// initMu serializes initialization and Close; readers only load current.
	initMu  sync.Mutex
	current atomic.Pointer[Embedder]
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithTimeout bounds each embed call. Zero disables the bound.
func WithTimeout(d time.Duration) ProviderOption {
	return func(p *Provider) { p.timeout = d }
}

// WithRateLimit limits embed calls to perSecond with the given burst. perSecond <= 0 disables limiting.
func WithRateLimit(perSecond float64, burst int) ProviderOption {
	return func(p *Provider) {
		if perSecond <= 0 {
			p.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithCacheSize sets the LRU cache capacity. Zero disables caching.
func WithCacheSize(n int) ProviderOption {
	return func(p *Provider) { p.cache = NewEmbeddingCache(n) }
}

// WithInitRetries sets how many times initialization is attempted per Initialize call
// and the first backoff interval between attempts.
func WithInitRetries(tries uint, interval time.Duration) ProviderOption {
	return func(p *Provider) {
		if tries == 0 {
			tries = 1
		}
		p.initTries = tries
		p.initInterval = interval
	}
}

// WithProviderLogger sets the logger.
func WithProviderLogger(l *zap.Logger) ProviderOption {
	return func(p *Provider) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewProvider returns a provider that builds its embedder with factory on first use.
func NewProvider(factory Factory, dimensions int, opts ...ProviderOption) *Provider {
	p := &Provider{
		factory:      factory,
		dimensions:   dimensions,
		timeout:      30 * time.Second,
		cache:        NewEmbeddingCache(10000),
		logger:       zap.NewNop(),
		initTries:    1,
		initInterval: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewStaticProvider wraps an already constructed embedder.
func NewStaticProvider(e Embedder, opts ...ProviderOption) *Provider {
	return NewProvider(func(context.Context) (Embedder, error) { return e, nil }, e.Dimensions(), opts...)
}

// Dimensions returns the configured vector dimension D.
func (p *Provider) Dimensions() int {
	return p.dimensions
}

// Ready reports whether the embedder has been initialized.
func (p *Provider) Ready() bool {
	return p.current.Load() != nil
}

// Cache returns the provider's embedding cache.
func (p *Provider) Cache() *EmbeddingCache {
	return p.cache
}

// Initialize creates the embedder if it does not exist yet. Errors wrap ErrInitialization.
func (p *Provider) Initialize(ctx context.Context) error {
	_, err := p.get(ctx)
	return err
}

func (p *Provider) get(ctx context.Context) (Embedder, error) {
	if e := p.current.Load(); e != nil {
		return *e, nil
	}
	p.initMu.Lock()
	defer p.initMu.Unlock()
	if e := p.current.Load(); e != nil {
		return *e, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.initInterval
	attempt := 0
	e, err := backoff.Retry(ctx, func() (Embedder, error) {
		attempt++
		return p.create(ctx)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(p.initTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			p.logger.Warn("embedding provider initialization failed, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("next", next),
				zap.Error(err))
		}),
	)
	if err != nil {
		if errors.Is(err, ErrInitialization) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrInitialization, err)
	}
	p.current.Store(&e)
	p.logger.Info("embedding provider initialized", zap.Int("dimensions", p.dimensions))
	return e, nil
}

func (p *Provider) create(ctx context.Context) (Embedder, error) {
	if p.factory == nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: no embedder configured", ErrInitialization))
	}
	e, err := p.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInitialization, err)
	}
	if in, ok := e.(Initializer); ok {
		if err := in.Initialize(ctx); err != nil {
			_ = e.Close()
			return nil, fmt.Errorf("%w: %w", ErrInitialization, err)
		}
	}
	if d := e.Dimensions(); d != p.dimensions {
		_ = e.Close()
		return nil, backoff.Permanent(fmt.Errorf("%w: %w: model produces %d, configured %d",
			ErrInitialization, models.ErrDimensionMismatch, d, p.dimensions))
	}
	return e, nil
}

// Embed returns the vector for text. Initialization failures wrap ErrInitialization;
// everything else is an *EmbedError.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := p.cache.Get(text); ok {
		return vec, nil
	}
	e, err := p.get(ctx)
	if err != nil {
		return nil, err
	}
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, &EmbedError{Err: err, Transient: true}
		}
	}

	vec, err := bounded(ctx, p.timeout, func(ctx context.Context) ([]float32, error) {
		return e.Embed(ctx, text)
	})
	if err != nil {
		return nil, embedErr(err)
	}
	if len(vec) != p.dimensions {
		return nil, p.dimensionErr(vec)
	}
	p.cache.Set(text, vec)
	return vec, nil
}

func embedErr(err error) *EmbedError {
	transient := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	return &EmbedError{Err: err, Transient: transient}
}

func (p *Provider) dimensionErr(vec []float32) *EmbedError {
	return &EmbedError{Err: fmt.Errorf("%w: got %d, want %d", models.ErrDimensionMismatch, len(vec), p.dimensions)}
}

// bounded runs fn with a timeout and returns once it expires, even if fn ignores its context.
func bounded[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(callCtx)
		ch <- result{v, err}
	}()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-callCtx.Done():
		var zero T
		return zero, callCtx.Err()
	}
}

// EmbedBatch embeds texts with one batch call to the embedder, serving cached texts from
// the cache. The result has one entry per input, in order; a failed item carries its error
// and a nil vector.
//
// When the batch call fails as a whole, each text is embedded on its own so that one bad
// item fails only itself. The batch call gets the per-call timeout once per text.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) []BatchResult {
	results := make([]BatchResult, len(texts))
	var missing []int
	for i, text := range texts {
		if vec, ok := p.cache.Get(text); ok {
			results[i].Vector = vec
			continue
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return results
	}

	e, err := p.get(ctx)
	if err != nil {
		for _, i := range missing {
			results[i].Err = err
		}
		return results
	}
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			for _, i := range missing {
				results[i].Err = &EmbedError{Err: err, Transient: true}
			}
			return results
		}
	}

	batch := make([]string, len(missing))
	for j, i := range missing {
		batch[j] = texts[i]
	}
	vecs, err := bounded(ctx, p.timeout*time.Duration(len(batch)), func(ctx context.Context) ([][]float32, error) {
		return e.EmbedBatch(ctx, batch)
	})
	if err == nil && len(vecs) != len(batch) {
		err = fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(batch))
	}
	if err == nil {
		for j, i := range missing {
			if len(vecs[j]) != p.dimensions {
				results[i].Err = p.dimensionErr(vecs[j])
				continue
			}
			p.cache.Set(texts[i], vecs[j])
			results[i].Vector = vecs[j]
		}
		return results
	}

	if ctx.Err() != nil {
		for _, i := range missing {
			results[i].Err = embedErr(ctx.Err())
		}
		return results
	}
	p.logger.Debug("batch embed failed, embedding texts one by one",
		zap.Int("texts", len(batch)), zap.Error(err))
	for _, i := range missing {
		vec, err := p.Embed(ctx, texts[i])
		results[i] = BatchResult{Vector: vec, Err: err}
	}
	return results
}

// Close releases the embedder. The provider can be initialized again afterwards.
func (p *Provider) Close() error {
	p.initMu.Lock()
	defer p.initMu.Unlock()
	e := p.current.Swap(nil)
	if e == nil {
		return nil
	}
	return (*e).Close()
}
