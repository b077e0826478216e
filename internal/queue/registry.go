package queue

import (
	"context"
	"sync"

	"media-conversion-bot/internal/models"
	"media-conversion-bot/internal/notify"
)

// Task is one admitted conversion waiting for its owner's worker, together
// with the transport handles the worker needs to report back.
type Task struct {
	Conversion models.Conversion
	Recipient  int64
	StatusMsg  notify.MessageHandle
}

// Registry keeps one FIFO queue per owner and guarantees a single worker
// goroutine drains each queue. Queues are created on first enqueue and
// discarded once drained, so one-off owners leave nothing behind.
//
// Queue state lives only in memory; a restart drops whatever was queued or
// running. The ledger rows for those conversions survive, but they are never
// resumed.
type Registry struct {
	mu     sync.Mutex
	queues map[int64][]Task
	active map[int64]bool
	run    func(ctx context.Context, t Task)
	wg     sync.WaitGroup
}

// NewRegistry builds a registry. run is invoked for each task, one at a time
// per owner, from that owner's worker goroutine.
func NewRegistry(run func(ctx context.Context, t Task)) *Registry {
	return &Registry{
		queues: make(map[int64][]Task),
		active: make(map[int64]bool),
		run:    run,
	}
}

// Enqueue appends the task to its owner's queue and starts a worker for the
// owner if none is running. It never blocks on the work itself.
//
// The append and the claim happen under one lock, so a task arriving exactly
// as the previous worker drains out either lands in front of that worker's
// final emptiness check or claims a fresh worker; it can never be stranded.
func (r *Registry) Enqueue(ctx context.Context, t Task) {
	owner := t.Conversion.UserID
	r.mu.Lock()
	r.queues[owner] = append(r.queues[owner], t)
	if !r.active[owner] {
		r.active[owner] = true
		r.wg.Add(1)
		go r.drain(ctx, owner)
	}
	r.mu.Unlock()
}

func (r *Registry) drain(ctx context.Context, owner int64) {
	defer r.wg.Done()
	for {
		r.mu.Lock()
		q := r.queues[owner]
		if len(q) == 0 {
			delete(r.queues, owner)
			delete(r.active, owner)
			r.mu.Unlock()
			return
		}
		t := q[0]
		r.queues[owner] = q[1:]
		r.mu.Unlock()

		r.run(ctx, t)
	}
}

// Depth reports the total number of queued (not yet started) tasks.
func (r *Registry) Depth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, q := range r.queues {
		n += len(q)
	}
	return n
}

// Wait blocks until every owner's worker has drained and exited.
func (r *Registry) Wait() {
	r.wg.Wait()
}
