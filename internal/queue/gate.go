package queue

import "context"

// Gate is the global counting resource bounding concurrent conversions.
// Workers acquire a slot before invoking the engine and release it
// unconditionally afterward.
type Gate struct {
	slots chan struct{}
}

func NewGate(capacity int) *Gate {
	if capacity < 1 {
		capacity = 1
	}
	return &Gate{slots: make(chan struct{}, capacity)}
}

// Acquire blocks until a slot frees or the context is cancelled. There is no
// timeout: a saturated gate makes callers wait as long as it takes.
func (g *Gate) Acquire(ctx context.Context) error {
	select {
	case g.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gate) Release() {
	<-g.slots
}

// InUse reports how many slots are currently held.
func (g *Gate) InUse() int {
	return len(g.slots)
}
