package pools

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

// WorkerPool runs a fixed set of workers, each locked to its own OS thread,
// pulling tasks from one shared TaskQueue.
type WorkerPool struct {
	numWorkers int
	queue      *TaskQueue

	mu       sync.Mutex
	cond     *sync.Cond
	running  bool
	consumed bool
	wg       sync.WaitGroup

	// Statistics
	stats struct {
		tasksSubmitted atomic.Uint64
		tasksCompleted atomic.Uint64
		tasksRejected  atomic.Uint64
		tasksPanicked  atomic.Uint64
	}
}

// NewWorkerPool creates a pool of numWorkers workers whose queue holds at
// most queueCapacity pending tasks (0 = unbounded)
func NewWorkerPool(numWorkers, queueCapacity int) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}

	p := &WorkerPool{
		numWorkers: numWorkers,
		queue:      NewTaskQueue(queueCapacity),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Start spawns the workers. Calling Start on a running pool is a no-op;
// a pool cannot be restarted after Stop.
func (p *WorkerPool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	if p.consumed {
		return ErrPoolStopped
	}

	p.running = true
	p.consumed = true
	p.wg.Add(p.numWorkers)
	for i := 0; i < p.numWorkers; i++ {
		go p.run()
	}
	return nil
}

// Stop clears the running flag, wakes every waiting worker and joins them.
// Tasks already executing finish; tasks still queued are abandoned.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cond.Broadcast()
	p.mu.Unlock()

	p.wg.Wait()
}

// Running reports whether the workers are live
func (p *WorkerPool) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Size returns the number of workers
func (p *WorkerPool) Size() int {
	return p.numWorkers
}

// Execute enqueues a task without a result handle
func (p *WorkerPool) Execute(task Task) error {
	if !p.Running() {
		p.stats.tasksRejected.Add(1)
		return ErrPoolStopped
	}
	if err := p.queue.Enqueue(task); err != nil {
		p.stats.tasksRejected.Add(1)
		return err
	}
	p.stats.tasksSubmitted.Add(1)

	// Taking the lock orders this signal after any worker that saw an
	// empty queue has parked in Wait.
	p.mu.Lock()
	p.cond.Signal()
	p.mu.Unlock()
	return nil
}

// run is the main loop for a worker goroutine
func (p *WorkerPool) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer p.wg.Done()

	for {
		p.mu.Lock()
		for p.running && p.queue.Empty() {
			p.cond.Wait()
		}
		if !p.running {
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		if task, ok := p.queue.Dequeue(); ok {
			p.execute(task)
		}
	}
}

func (p *WorkerPool) execute(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.stats.tasksPanicked.Add(1)
		}
		p.stats.tasksCompleted.Add(1)
	}()
	task()
}

// Future resolves to the result of a task submitted with Submit
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Done is closed once the task has finished
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the task has finished and returns its result
func (f *Future[T]) Wait() (T, error) {
	<-f.done
	return f.value, f.err
}

// Submit enqueues fn and returns a handle resolving to its result.
// A panic inside fn resolves the handle with ErrTaskPanic.
func Submit[T any](p *WorkerPool, fn func() (T, error)) (*Future[T], error) {
	f := &Future[T]{done: make(chan struct{})}
	err := p.Execute(func() {
		defer close(f.done)
		defer func() {
			if r := recover(); r != nil {
				f.err = fmt.Errorf("%w: %v", ErrTaskPanic, r)
				p.stats.tasksPanicked.Add(1)
			}
		}()
		f.value, f.err = fn()
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Stats returns pool statistics
func (p *WorkerPool) Stats() WorkerPoolStats {
	return WorkerPoolStats{
		NumWorkers:     p.numWorkers,
		QueueCapacity:  p.queue.Capacity(),
		TasksSubmitted: p.stats.tasksSubmitted.Load(),
		TasksCompleted: p.stats.tasksCompleted.Load(),
		TasksRejected:  p.stats.tasksRejected.Load(),
		TasksPanicked:  p.stats.tasksPanicked.Load(),
		TasksPending:   p.queue.Len(),
	}
}

// WorkerPoolStats contains pool statistics
type WorkerPoolStats struct {
	NumWorkers     int    `json:"num_workers"`
	QueueCapacity  int    `json:"queue_capacity"`
	TasksSubmitted uint64 `json:"tasks_submitted"`
	TasksCompleted uint64 `json:"tasks_completed"`
	TasksRejected  uint64 `json:"tasks_rejected"`
	TasksPanicked  uint64 `json:"tasks_panicked"`
	TasksPending   int    `json:"tasks_pending"`
}
