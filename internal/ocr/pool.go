package ocr

import (
	"context"
	"fmt"
)

// Pool holds a bounded set of engine handles. Engines such as tesseract are
// stateful and non-reentrant, so each page unit must acquire a handle for
// the duration of its recognition and release it afterwards. Pool size is
// matched to worker concurrency by the caller.
type Pool struct {
	engines chan Engine
	size    int
}

// NewPool builds a pool of size engines from the factory. If any engine
// fails to construct, the ones already built are closed.
func NewPool(size int, factory func() (Engine, error)) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("pool size must be at least 1, got %d", size)
	}
	engines := make(chan Engine, size)
	for i := 0; i < size; i++ {
		engine, err := factory()
		if err != nil {
			close(engines)
			for built := range engines {
				built.Close()
			}
			return nil, fmt.Errorf("failed to build engine %d/%d: %w", i+1, size, err)
		}
		engines <- engine
	}
	return &Pool{engines: engines, size: size}, nil
}

// Acquire takes an engine handle, blocking until one is free or the context
// is done.
func (p *Pool) Acquire(ctx context.Context) (Engine, error) {
	select {
	case engine := <-p.engines:
		return engine, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns an engine handle to the pool.
func (p *Pool) Release(engine Engine) {
	if engine == nil {
		return
	}
	p.engines <- engine
}

// Size reports the pool capacity.
func (p *Pool) Size() int { return p.size }

// Close drains the pool and closes every engine. Callers must not Acquire
// after Close.
func (p *Pool) Close() error {
	var firstErr error
	for i := 0; i < p.size; i++ {
		engine := <-p.engines
		if err := engine.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	close(p.engines)
	return firstErr
}
