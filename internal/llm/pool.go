package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
)

var (
	// ErrTimeout is returned when a call does not finish within the pool's
	// per-call timeout.
	ErrTimeout = errors.New("oracle call timed out")
	// ErrNoProvider is returned when no language model is configured.
	ErrNoProvider = errors.New("no LLM provider configured")
)

// Pool runs provider calls on worker goroutines so a slow model never stalls
// the caller past its context. At most maxConcurrent calls are in flight.
type Pool struct {
	provider Provider
	sem      *semaphore.Weighted
	timeout  time.Duration
}

// NewPool wraps a provider. A non-positive maxConcurrent means one call at a
// time; a zero timeout disables the per-call deadline.
func NewPool(provider Provider, maxConcurrent int, timeout time.Duration) *Pool {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Pool{
		provider: provider,
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		timeout:  timeout,
	}
}

// IsConfigured reports whether the wrapped provider is usable.
func (p *Pool) IsConfigured() bool {
	return p.provider != nil && p.provider.IsConfigured()
}

// Generate hands the call to a worker and waits for it or for ctx.
func (p *Pool) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if p.provider == nil {
		return "", ErrNoProvider
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return "", ctxErr(ctx, err)
	}

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)

	go func() {
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("oracle panic: %v", r)}
			}
		}()
		text, err := p.provider.Generate(ctx, prompt, maxTokens)
		done <- result{text: text, err: err}
	}()

	select {
	case r := <-done:
		return r.text, r.err
	case <-ctx.Done():
		return "", ctxErr(ctx, ctx.Err())
	}
}

func ctxErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return err
}
