// Package work bounds concurrent CPU-heavy computations. Requests beyond
// the pool size queue until a slot frees rather than spawning more
// goroutines or being rejected.
package work

import "context"

type Pool struct {
	sem chan struct{}
}

// NewPool sizes the pool; non-positive sizes fall back to 2.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = 2
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Do runs fn on the calling goroutine once a slot is free. Waiting is
// abandoned with ctx.Err() if the context ends first; fn itself is never
// interrupted once started.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.sem }()
	return fn()
}

// Size returns the number of slots.
func (p *Pool) Size() int { return cap(p.sem) }
