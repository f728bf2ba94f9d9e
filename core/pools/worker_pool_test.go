package pools

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerPool_Basic(t *testing.T) {
	pool := NewWorkerPool(4, 0)
	if err := pool.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer pool.Stop()

	var wg sync.WaitGroup
	var counter atomic.Int64

	// Submit 100 tasks
	wg.Add(100)
	for i := 0; i < 100; i++ {
		if err := pool.Execute(func() {
			counter.Add(1)
			wg.Done()
		}); err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if counter.Load() != 100 {
			t.Errorf("Expected 100 tasks completed, got %d", counter.Load())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Test timeout")
	}
}

func TestWorkerPool_StartIsIdempotent(t *testing.T) {
	pool := NewWorkerPool(2, 0)
	if err := pool.Start(); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := pool.Start(); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	pool.Stop()

	if err := pool.Start(); !errors.Is(err, ErrPoolStopped) {
		t.Errorf("Start after Stop = %v, want ErrPoolStopped", err)
	}
	if pool.Running() {
		t.Error("pool should not be running after Stop")
	}
}

func TestWorkerPool_ExecuteBeforeStart(t *testing.T) {
	pool := NewWorkerPool(1, 0)
	if err := pool.Execute(func() {}); !errors.Is(err, ErrPoolStopped) {
		t.Errorf("Execute on idle pool = %v, want ErrPoolStopped", err)
	}
}

func TestWorkerPool_FIFOWithSingleWorker(t *testing.T) {
	pool := NewWorkerPool(1, 0)
	if err := pool.Start(); err != nil {
		t.Fatal(err)
	}
	defer pool.Stop()

	var mu sync.Mutex
	var order []int
	var futures []*Future[int]
	for i := 0; i < 50; i++ {
		i := i
		f, err := Submit(pool, func() (int, error) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return i, nil
		})
		if err != nil {
			t.Fatal(err)
		}
		futures = append(futures, f)
	}

	for i, f := range futures {
		v, err := f.Wait()
		if err != nil || v != i {
			t.Fatalf("future %d = (%d, %v)", i, v, err)
		}
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("task %d ran at position %d", v, i)
		}
	}
}

func TestWorkerPool_SubmitPropagatesErrorsAndPanics(t *testing.T) {
	pool := NewWorkerPool(2, 0)
	if err := pool.Start(); err != nil {
		t.Fatal(err)
	}
	defer pool.Stop()
	if pool.Size() != 2 {
		t.Errorf("Size = %d, want 2", pool.Size())
	}

	boom := errors.New("boom")
	f, err := Submit(pool, func() (string, error) { return "", boom })
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-f.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("future not resolved")
	}
	if _, err := f.Wait(); !errors.Is(err, boom) {
		t.Errorf("Wait = %v, want boom", err)
	}

	f, err = Submit(pool, func() (string, error) { panic("bad task") })
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Wait(); !errors.Is(err, ErrTaskPanic) {
		t.Errorf("Wait = %v, want ErrTaskPanic", err)
	}

	// The worker that recovered must still serve tasks.
	f2, err := Submit(pool, func() (int, error) { return 7, nil })
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := f2.Wait(); v != 7 {
		t.Errorf("got %d after panic, want 7", v)
	}
}

func TestWorkerPool_Backpressure(t *testing.T) {
	pool := NewWorkerPool(1, 2)
	if err := pool.Start(); err != nil {
		t.Fatal(err)
	}

	release := make(chan struct{})
	started := make(chan struct{})
	if err := pool.Execute(func() {
		close(started)
		<-release
	}); err != nil {
		t.Fatal(err)
	}
	<-started

	// The only worker is blocked, so the queue fills up.
	for i := 0; i < 2; i++ {
		if err := pool.Execute(func() {}); err != nil {
			t.Fatalf("Execute %d: %v", i, err)
		}
	}
	if err := pool.Execute(func() {}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Execute past capacity = %v, want ErrQueueFull", err)
	}
	if got := pool.Stats().TasksRejected; got != 1 {
		t.Errorf("TasksRejected = %d, want 1", got)
	}

	close(release)
	pool.Stop()
}

func TestWorkerPool_StopJoinsInFlightTasks(t *testing.T) {
	pool := NewWorkerPool(3, 0)
	if err := pool.Start(); err != nil {
		t.Fatal(err)
	}

	var finished atomic.Int64
	var started sync.WaitGroup
	started.Add(3)
	for i := 0; i < 3; i++ {
		pool.Execute(func() {
			started.Done()
			time.Sleep(50 * time.Millisecond)
			finished.Add(1)
		})
	}
	started.Wait()
	pool.Stop()

	if finished.Load() != 3 {
		t.Errorf("Stop returned with %d of 3 in-flight tasks finished", finished.Load())
	}
}

func TestWorkerPool_Stats(t *testing.T) {
	pool := NewWorkerPool(2, 16)
	if err := pool.Start(); err != nil {
		t.Fatal(err)
	}

	f, _ := Submit(pool, func() (struct{}, error) { return struct{}{}, nil })
	f.Wait()
	pool.Stop()

	stats := pool.Stats()
	if stats.NumWorkers != 2 || stats.QueueCapacity != 16 {
		t.Errorf("unexpected shape: %+v", stats)
	}
	if stats.TasksSubmitted != 1 || stats.TasksCompleted != 1 {
		t.Errorf("unexpected counters: %+v", stats)
	}
}

func BenchmarkWorkerPool_Execute(b *testing.B) {
	pool := NewWorkerPool(8, 0)
	pool.Start()
	defer pool.Stop()

	var wg sync.WaitGroup
	wg.Add(b.N)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			pool.Execute(func() {
				// Simulate some work
				_ = 1 + 1
				wg.Done()
			})
		}
	})

	wg.Wait()
}
