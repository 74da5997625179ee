package gate

import (
	"context"
	"sync"
)

// Gate bounds how many expert loops run at once. Council rounds and fallback
// fan-out share one gate, so a burst of requests queues instead of stacking
// concurrent model calls.
type Gate struct {
	slots chan struct{}
}

func New(capacity int) *Gate {
	if capacity <= 0 {
		capacity = 1
	}
	return &Gate{slots: make(chan struct{}, capacity)}
}

// Acquire blocks until a slot frees or ctx is done. The returned release
// function is idempotent; only its first call frees the slot, so a terminal
// transition racing a deferred cleanup cannot release twice.
func (g *Gate) Acquire(ctx context.Context) (func(), error) {
	select {
	case g.slots <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() { <-g.slots })
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryAcquire takes a slot without blocking. The second return is false when
// the gate is full.
func (g *Gate) TryAcquire() (func(), bool) {
	select {
	case g.slots <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() { <-g.slots })
		}, true
	default:
		return nil, false
	}
}

func (g *Gate) InUse() int {
	return len(g.slots)
}

func (g *Gate) Capacity() int {
	return cap(g.slots)
}
