package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPool_StartStop(t *testing.T) {
	var processed atomic.Int64
	processor := func(ctx context.Context, job int) error {
		processed.Add(1)
		return nil
	}

	pool := NewPool(2, 10, processor)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	for i := 0; i < 5; i++ {
		if err := pool.Submit(ctx, i); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}

	// Stop drains the queue
	pool.Stop()

	if processed.Load() != 5 {
		t.Errorf("expected 5 jobs processed, got %d", processed.Load())
	}
}

func TestPool_ConcurrentSubmit(t *testing.T) {
	var processed atomic.Int64
	processor := func(ctx context.Context, job int) error {
		processed.Add(1)
		return nil
	}

	pool := NewPool(4, 100, processor)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			pool.Submit(ctx, n)
		}(i)
	}
	wg.Wait()
	pool.Stop()

	if processed.Load() != 100 {
		t.Errorf("expected 100 jobs processed, got %d", processed.Load())
	}
}

func TestPool_SubmitAfterStop(t *testing.T) {
	pool := NewPool(1, 1, func(ctx context.Context, job int) error { return nil })
	pool.Start(context.Background())
	pool.Stop()

	if err := pool.Submit(context.Background(), 1); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("expected ErrPoolClosed, got %v", err)
	}
	if pool.TrySubmit(1) {
		t.Error("expected TrySubmit to fail after Stop")
	}
	pool.Stop()
}

func TestPool_TrySubmitFull(t *testing.T) {
	block := make(chan struct{})
	pool := NewPool(1, 1, func(ctx context.Context, job int) error {
		<-block
		return nil
	})
	pool.Start(context.Background())

	pool.Submit(context.Background(), 1) // picked up by the worker
	deadline := time.After(time.Second)
	for pool.Len() != 0 {
		select {
		case <-deadline:
			t.Fatal("worker never picked up first job")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	if !pool.TrySubmit(2) {
		t.Fatal("expected buffer slot for second job")
	}
	if pool.TrySubmit(3) {
		t.Error("expected TrySubmit to fail when full")
	}

	close(block)
	pool.Stop()
}

func TestPool_OnError(t *testing.T) {
	var failed atomic.Int64
	pool := NewPool(2, 10, func(ctx context.Context, job int) error {
		if job%2 == 0 {
			return fmt.Errorf("job %d failed", job)
		}
		return nil
	}).OnError(func(job int, err error) {
		failed.Add(1)
	})

	pool.Start(context.Background())
	for i := 0; i < 10; i++ {
		pool.Submit(context.Background(), i)
	}
	pool.Stop()

	if failed.Load() != 5 {
		t.Errorf("expected 5 failures reported, got %d", failed.Load())
	}
}

func TestPool_ContextCancellation(t *testing.T) {
	var started atomic.Int64
	var completed atomic.Int64

	processor := func(ctx context.Context, job int) error {
		started.Add(1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
			completed.Add(1)
			return nil
		}
	}

	pool := NewPool(2, 10, processor)

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	for i := 0; i < 5; i++ {
		pool.Submit(ctx, i)
	}

	time.Sleep(50 * time.Millisecond)
	cancel()
	pool.Stop()

	if completed.Load() == 5 {
		t.Error("expected cancellation to cut work short")
	}
	t.Logf("started: %d, completed: %d", started.Load(), completed.Load())
}

func TestLanes_PreservePerKeyOrder(t *testing.T) {
	var (
		mu   sync.Mutex
		seen = make(map[string][]int)
	)
	type job struct {
		key string
		seq int
	}

	lanes := NewLanes(4, 64, func(ctx context.Context, j job) error {
		mu.Lock()
		seen[j.key] = append(seen[j.key], j.seq)
		mu.Unlock()
		return nil
	})
	ctx := context.Background()
	lanes.Start(ctx)

	keys := []string{"WL-01", "WL-02", "RF-01", "RF-02", "WX-01"}
	for seq := 0; seq < 20; seq++ {
		for _, k := range keys {
			if err := lanes.Submit(ctx, k, job{key: k, seq: seq}); err != nil {
				t.Fatalf("Submit failed: %v", err)
			}
		}
	}
	lanes.Stop()

	for _, k := range keys {
		got := seen[k]
		if len(got) != 20 {
			t.Fatalf("key %s: expected 20 jobs, got %d", k, len(got))
		}
		for i, v := range got {
			if v != i {
				t.Errorf("key %s: out of order at %d: %v", k, i, got)
				break
			}
		}
	}
}

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	km := NewKeyedMutex(16)

	var (
		wg      sync.WaitGroup
		inside  atomic.Int64
		overlap atomic.Bool
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("WL-01")
			defer unlock()
			if inside.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
		}()
	}
	wg.Wait()

	if overlap.Load() {
		t.Error("expected same-key critical sections never to overlap")
	}
}
