package pools

import (
	"errors"
	"sync"

	"github.com/eapache/queue"
)

// Task represents a unit of work
type Task func()

var (
	ErrQueueFull   = errors.New("task queue is full")
	ErrPoolStopped = errors.New("worker pool is stopped")
	ErrTaskPanic   = errors.New("task panicked")
)

// TaskQueue is a mutex-guarded FIFO of tasks backed by a ring buffer.
// A capacity of 0 means unbounded.
type TaskQueue struct {
	mu       sync.Mutex
	tasks    *queue.Queue
	capacity int
}

// NewTaskQueue creates a task queue holding at most capacity tasks
func NewTaskQueue(capacity int) *TaskQueue {
	if capacity < 0 {
		capacity = 0
	}
	return &TaskQueue{
		tasks:    queue.New(),
		capacity: capacity,
	}
}

// Enqueue appends a task at the tail
func (q *TaskQueue) Enqueue(task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.capacity > 0 && q.tasks.Length() >= q.capacity {
		return ErrQueueFull
	}
	q.tasks.Add(task)
	return nil
}

// Dequeue removes and returns the oldest task, or false when empty
func (q *TaskQueue) Dequeue() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.tasks.Length() == 0 {
		return nil, false
	}
	return q.tasks.Remove().(Task), true
}

// Len returns the number of queued tasks. The value may be stale by the
// time the caller looks at it.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tasks.Length()
}

// Empty reports whether the queue currently holds no task
func (q *TaskQueue) Empty() bool {
	return q.Len() == 0
}

// Capacity returns the configured bound (0 = unbounded)
func (q *TaskQueue) Capacity() int {
	return q.capacity
}
