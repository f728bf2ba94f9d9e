package pools

import (
	"errors"
	"sync"
	"testing"
)

func TestTaskQueue_FIFO(t *testing.T) {
	q := NewTaskQueue(0)
	if !q.Empty() {
		t.Fatal("new queue should be empty")
	}

	var got []int
	for i := 0; i < 5; i++ {
		i := i
		if err := q.Enqueue(func() { got = append(got, i) }); err != nil {
			t.Fatal(err)
		}
	}
	if q.Len() != 5 {
		t.Fatalf("Len = %d, want 5", q.Len())
	}

	for {
		task, ok := q.Dequeue()
		if !ok {
			break
		}
		task()
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("position %d holds task %d", i, v)
		}
	}
	if _, ok := q.Dequeue(); ok {
		t.Error("Dequeue on empty queue returned a task")
	}
}

func TestTaskQueue_Capacity(t *testing.T) {
	q := NewTaskQueue(1)
	if err := q.Enqueue(func() {}); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(func() {}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Enqueue past capacity = %v, want ErrQueueFull", err)
	}
	q.Dequeue()
	if err := q.Enqueue(func() {}); err != nil {
		t.Errorf("Enqueue after Dequeue = %v", err)
	}
}

// Every enqueued task is dequeued exactly once under concurrent producers
// and consumers.
func TestTaskQueue_ConcurrentExactlyOnce(t *testing.T) {
	const producers = 8
	const perProducer = 2000
	total := producers * perProducer

	q := NewTaskQueue(0)
	seen := make([]int32, total)
	var seenMu sync.Mutex

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		p := p
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				id := p*perProducer + i
				q.Enqueue(func() {
					seenMu.Lock()
					seen[id]++
					seenMu.Unlock()
				})
			}
		}()
	}

	var consumed sync.WaitGroup
	var count int64
	var countMu sync.Mutex
	producing := make(chan struct{})
	for c := 0; c < 4; c++ {
		consumed.Add(1)
		go func() {
			defer consumed.Done()
			for {
				task, ok := q.Dequeue()
				if ok {
					task()
					countMu.Lock()
					count++
					countMu.Unlock()
					continue
				}
				select {
				case <-producing:
					if q.Empty() {
						return
					}
				default:
				}
			}
		}()
	}

	wg.Wait()
	close(producing)
	consumed.Wait()

	if count != int64(total) {
		t.Fatalf("dequeued %d tasks, want %d", count, total)
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("task %d ran %d times", id, n)
		}
	}
}
