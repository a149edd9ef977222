package mediabox

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewTaskQueueRejectsInvalidCapacity(t *testing.T) {
	if _, err := NewTaskQueue(0); err == nil {
		t.Fatal("expected error for capacity 0")
	}
	if _, err := NewTaskQueue(-3); err == nil {
		t.Fatal("expected error for negative capacity")
	}
}

func TestTaskQueueFIFOOrder(t *testing.T) {
	q, err := NewTaskQueue(2)
	if err != nil {
		t.Fatal(err)
	}

	var order []string
	var mu sync.Mutex
	record := func(name string) Task {
		return NewTask(func() {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}, nil)
	}

	// Producer pushes three tasks through a capacity-2 queue; the third
	// produce blocks until the consumer makes room.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, name := range []string{"a", "b", "c"} {
			if !q.Produce(record(name)) {
				t.Errorf("produce %q failed", name)
			}
		}
	}()

	for i := 0; i < 3; i++ {
		task, ok := q.Consume()
		if !ok {
			t.Fatalf("consume %d: queue invalidated", i)
		}
		task.Execute()
	}
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("wrong execution order: %v", order)
	}
}

func TestTaskQueueProduceBlocksWhenFull(t *testing.T) {
	q, err := NewTaskQueue(1)
	if err != nil {
		t.Fatal(err)
	}
	if !q.Produce(NewTask(func() {}, nil)) {
		t.Fatal("first produce failed")
	}

	produced := make(chan bool, 1)
	go func() {
		produced <- q.Produce(NewTask(func() {}, nil))
	}()

	select {
	case <-produced:
		t.Fatal("produce returned while queue full")
	case <-time.After(50 * time.Millisecond):
	}

	if _, ok := q.Consume(); !ok {
		t.Fatal("consume failed")
	}
	select {
	case ok := <-produced:
		if !ok {
			t.Fatal("unblocked produce reported failure")
		}
	case <-time.After(time.Second):
		t.Fatal("produce still blocked after consume")
	}
}

func TestTaskQueueInvalidateDropsQueuedExactlyOnce(t *testing.T) {
	q, err := NewTaskQueue(4)
	if err != nil {
		t.Fatal(err)
	}

	var executed, dropped atomic.Int32
	for i := 0; i < 3; i++ {
		q.Produce(NewTask(
			func() { executed.Add(1) },
			func() { dropped.Add(1) },
		))
	}

	q.Invalidate()
	q.Invalidate() // Idempotent.

	if got := executed.Load(); got != 0 {
		t.Fatalf("executed %d tasks after invalidate", got)
	}
	if got := dropped.Load(); got != 3 {
		t.Fatalf("dropped %d tasks, want 3", got)
	}
	if q.Produce(NewTask(func() {}, nil)) {
		t.Fatal("produce succeeded on invalidated queue")
	}
	if _, ok := q.Consume(); ok {
		t.Fatal("consume succeeded on invalidated queue")
	}
}

func TestTaskQueueInvalidateUnblocksWaiters(t *testing.T) {
	q, err := NewTaskQueue(1)
	if err != nil {
		t.Fatal(err)
	}
	q.Produce(NewTask(func() {}, nil))

	results := make(chan bool, 2)
	go func() { results <- q.Produce(NewTask(func() {}, nil)) }() // blocks: full
	go func() {
		q.Consume()        // drains the queued task
		_, ok := q.Consume() // blocks: empty (or observes invalidation)
		results <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.Invalidate()

	for i := 0; i < 2; i++ {
		select {
		case ok := <-results:
			_ = ok
		case <-time.After(time.Second):
			t.Fatal("blocked caller not released by invalidate")
		}
	}
}

func TestTaskLoopExecutesInOrder(t *testing.T) {
	loop, err := NewTaskLoop(8)
	if err != nil {
		t.Fatal(err)
	}
	loop.Start()

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		loop.Put(NewTask(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		}, func() { wg.Done() }))
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("out-of-order execution: %v", order)
		}
	}

	loop.Stop()
	loop.Wait()
}

func TestTaskLoopPutAfterStopDropsSynchronously(t *testing.T) {
	loop, err := NewTaskLoop(4)
	if err != nil {
		t.Fatal(err)
	}
	loop.Start()
	loop.Stop()
	loop.Wait()

	var executed, dropped atomic.Int32
	loop.Put(NewTask(
		func() { executed.Add(1) },
		func() { dropped.Add(1) },
	))

	// Drop runs before Put returns, no waiting needed.
	if executed.Load() != 0 {
		t.Fatal("task executed after stop")
	}
	if dropped.Load() != 1 {
		t.Fatal("task not dropped synchronously")
	}
}

func TestTaskLoopStopDropsQueued(t *testing.T) {
	loop, err := NewTaskLoop(8)
	if err != nil {
		t.Fatal(err)
	}
	loop.Start()

	// Park the worker on a slow task so the rest stay queued.
	gate := make(chan struct{})
	started := make(chan struct{})
	loop.Put(NewTask(func() { close(started); <-gate }, nil))
	<-started

	var fates atomic.Int32 // +1 per settled task, execute or drop
	for i := 0; i < 3; i++ {
		loop.Put(NewTask(func() { fates.Add(1) }, func() { fates.Add(1) }))
	}

	loop.Stop()
	close(gate)
	loop.Wait()

	if got := fates.Load(); got != 3 {
		t.Fatalf("settled %d queued tasks, want 3", got)
	}
}

func TestTaskLoopStartIdempotent(t *testing.T) {
	loop, err := NewTaskLoop(4)
	if err != nil {
		t.Fatal(err)
	}
	loop.Start()
	loop.Start()
	if !loop.Running() {
		t.Fatal("loop not running")
	}
	loop.Stop()
	loop.Stop()
	loop.Wait()
	if loop.Running() {
		t.Fatal("loop still running after stop")
	}
}

func TestTaskLoopStartAfterStopIsNoOp(t *testing.T) {
	loop, err := NewTaskLoop(4)
	if err != nil {
		t.Fatal(err)
	}
	loop.Start()
	loop.Stop()
	loop.Wait()

	// The loop is terminal once stopped; a second Start must not relaunch
	// the worker (which would re-close the done channel).
	loop.Start()
	if loop.Running() {
		t.Fatal("stopped loop reports running after restart attempt")
	}

	dropped := false
	loop.Put(NewTask(func() { t.Error("task executed on stopped loop") }, func() { dropped = true }))
	if !dropped {
		t.Fatal("task not dropped synchronously after restart attempt")
	}
	loop.Wait()
}
