package progress

import "sync"

// Snapshot is the latest observed progress of one conversion.
type Snapshot struct {
	Percent float64
	Phase   string
	Done    bool
}

// Bridge is the sole owner of "latest observed progress" for a job. The
// engine's progress callback publishes into it at its own cadence; the
// reporting loop polls it. Neither side ever blocks the other.
type Bridge struct {
	mu   sync.Mutex
	snap Snapshot
	done chan struct{}
	once sync.Once
}

func NewBridge() *Bridge {
	return &Bridge{done: make(chan struct{})}
}

// Publish records a progress update. Updates after Finish are dropped.
func (b *Bridge) Publish(percent float64, phase string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.snap.Done {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	b.snap.Percent = percent
	b.snap.Phase = phase
}

// Finish marks the operation complete (successfully or not) and wakes the
// reporting loop for its final push.
func (b *Bridge) Finish(percent float64, phase string) {
	b.mu.Lock()
	b.snap.Percent = percent
	b.snap.Phase = phase
	b.snap.Done = true
	b.mu.Unlock()
	b.once.Do(func() { close(b.done) })
}

// Snapshot returns a copy of the latest progress.
func (b *Bridge) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snap
}

// Done is closed once Finish has been called.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}
