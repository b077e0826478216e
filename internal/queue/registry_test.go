package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"media-conversion-bot/internal/models"
)

func task(owner, id int64) Task {
	return Task{Conversion: models.Conversion{ID: id, UserID: owner}}
}

func TestRegistryFIFOPerOwner(t *testing.T) {
	var mu sync.Mutex
	var order []int64
	started := make(chan struct{})

	reg := NewRegistry(func(_ context.Context, tk Task) {
		<-started
		mu.Lock()
		order = append(order, tk.Conversion.ID)
		mu.Unlock()
	})

	for i := int64(1); i <= 5; i++ {
		reg.Enqueue(context.Background(), task(42, i))
	}
	close(started)
	reg.Wait()

	if len(order) != 5 {
		t.Fatalf("expected 5 executions, got %d", len(order))
	}
	for i, id := range order {
		if id != int64(i+1) {
			t.Fatalf("expected submission order, got %v", order)
		}
	}
}

func TestRegistrySingleWorkerPerOwner(t *testing.T) {
	var current, max int64
	reg := NewRegistry(func(_ context.Context, tk Task) {
		c := atomic.AddInt64(&current, 1)
		for {
			m := atomic.LoadInt64(&max)
			if c <= m || atomic.CompareAndSwapInt64(&max, m, c) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt64(&current, -1)
	})

	for i := int64(0); i < 20; i++ {
		reg.Enqueue(context.Background(), task(7, i))
	}
	reg.Wait()

	if atomic.LoadInt64(&max) != 1 {
		t.Fatalf("expected at most one concurrent task for a single owner, saw %d", max)
	}
}

func TestRegistryEnqueueDuringDrainExit(t *testing.T) {
	// A task arriving exactly as the previous worker drains must still run.
	var ran atomic.Int64
	release := make(chan struct{})
	reg := NewRegistry(func(_ context.Context, tk Task) {
		if tk.Conversion.ID == 1 {
			<-release
		}
		ran.Add(1)
	})

	reg.Enqueue(context.Background(), task(7, 1))
	go func() {
		close(release)
		reg.Enqueue(context.Background(), task(7, 2))
	}()

	deadline := time.After(5 * time.Second)
	for ran.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("second task never ran; executed %d", ran.Load())
		case <-time.After(time.Millisecond):
		}
	}
	reg.Wait()
}

func TestRegistryIndependentOwnersRunConcurrently(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(2)
	barrier := make(chan struct{})
	reg := NewRegistry(func(_ context.Context, tk Task) {
		wg.Done()
		<-barrier
	})

	reg.Enqueue(context.Background(), task(1, 1))
	reg.Enqueue(context.Background(), task(2, 2))

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("owners did not run concurrently")
	}
	close(barrier)
	reg.Wait()
}

func TestRegistryDepthAndTeardown(t *testing.T) {
	release := make(chan struct{})
	claimed := make(chan struct{})
	var once sync.Once
	reg := NewRegistry(func(_ context.Context, tk Task) {
		once.Do(func() { close(claimed) })
		<-release
	})
	reg.Enqueue(context.Background(), task(7, 1))
	reg.Enqueue(context.Background(), task(7, 2))
	reg.Enqueue(context.Background(), task(7, 3))

	// First task is claimed by the worker; two remain queued.
	<-claimed
	if d := reg.Depth(); d != 2 {
		t.Fatalf("expected depth 2, got %d", d)
	}

	close(release)
	reg.Wait()

	if d := reg.Depth(); d != 0 {
		t.Fatalf("expected empty registry after drain, got depth %d", d)
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if len(reg.queues) != 0 || len(reg.active) != 0 {
		t.Fatalf("expected queue teardown, queues=%d active=%d", len(reg.queues), len(reg.active))
	}
}
