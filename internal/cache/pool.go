package cache

import (
	"context"
	"errors"
	"log/slog"
	gosync "sync"

	"golang.org/x/sync/semaphore"
)

// ErrPoolClosed is returned for work submitted after Close.
var ErrPoolClosed = errors.New("cache: worker pool closed")

const defaultPoolSize = 4

// Pool runs blocking functions on at most Size goroutines at a time.
type Pool struct {
	sem    *semaphore.Weighted
	size   int
	logger *slog.Logger

	mu     gosync.Mutex
	closed bool
	wg     gosync.WaitGroup
}

// NewPool creates a pool of the given size (minimum 1; 0 picks the
// default of 4).
func NewPool(size int, logger *slog.Logger) *Pool {
	if size <= 0 {
		size = defaultPoolSize
	}

	if logger == nil {
		logger = slog.Default()
	}

	logger.Debug("cache worker pool created", slog.Int("workers", size))

	return &Pool{
		sem:    semaphore.NewWeighted(int64(size)),
		size:   size,
		logger: logger,
	}
}

// Size returns the maximum number of concurrently running functions.
func (p *Pool) Size() int {
	return p.size
}

// Do runs fn on a pool worker and waits for it. If ctx ends first, Do
// returns ctx.Err() while fn finishes in the background with the same
// (now canceled) context.
func (p *Pool) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)

		return ErrPoolClosed
	}

	p.wg.Add(1)
	p.mu.Unlock()

	done := make(chan error, 1)

	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)

		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close rejects new work and waits for running functions to return.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Debug("cache worker pool closed")
}

// call is Do for functions with a result.
func call[T any](ctx context.Context, p *Pool, fn func(context.Context) (T, error)) (T, error) {
	var out T

	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}

		out = v

		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}

	return out, nil
}
