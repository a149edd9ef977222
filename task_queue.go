package mediabox

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Task is an opaque unit of work with a guaranteed-run-once contract: a task
// handed to a TaskQueue or TaskLoop has either Execute or Drop called on it,
// exactly once. Drop runs when the task can no longer be executed (queue
// invalidated, loop stopped) so cleanup always happens.
type Task interface {
	Execute()
	Drop()
}

type funcTask struct {
	execute func()
	drop    func()
}

func (t *funcTask) Execute() { t.execute() }

func (t *funcTask) Drop() {
	if t.drop != nil {
		t.drop()
	}
}

// NewTask builds a Task from an execute func and an optional drop func.
func NewTask(execute, drop func()) Task {
	return &funcTask{execute: execute, drop: drop}
}

// TaskQueue is a fixed-capacity, thread-safe FIFO of tasks with blocking
// produce/consume semantics. Blocking is the only form of backpressure:
// producers wait while the queue is full, consumers wait while it is empty.
//
// Invalidation is terminal. Once invalidated the queue drops everything it
// holds, wakes every blocked caller, and refuses further work; construct a
// fresh queue for a new session.
type TaskQueue struct {
	mu          sync.Mutex
	notFull     *sync.Cond
	notEmpty    *sync.Cond
	tasks       []Task
	capacity    int
	invalidated bool
}

// DefaultTaskQueueCapacity matches the capture pipeline's command burst size.
const DefaultTaskQueueCapacity = 20

// NewTaskQueue creates a bounded task queue. Capacity must be at least 1.
func NewTaskQueue(capacity int) (*TaskQueue, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("mediabox: task queue capacity must be >= 1, got %d", capacity)
	}
	q := &TaskQueue{capacity: capacity}
	q.notFull = sync.NewCond(&q.mu)
	q.notEmpty = sync.NewCond(&q.mu)
	return q, nil
}

// Produce enqueues a task, blocking while the queue is full. It reports
// whether the task was enqueued; once the queue is invalidated it returns
// false immediately and the caller must treat the task as dropped.
func (q *TaskQueue) Produce(task Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.tasks) >= q.capacity && !q.invalidated {
		q.notFull.Wait()
	}
	if q.invalidated {
		return false
	}

	q.tasks = append(q.tasks, task)
	q.notEmpty.Signal()
	return true
}

// Consume removes and returns the oldest task, blocking while the queue is
// empty. It returns ok=false once the queue is invalidated.
func (q *TaskQueue) Consume() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.tasks) == 0 && !q.invalidated {
		q.notEmpty.Wait()
	}
	if q.invalidated {
		return nil, false
	}

	task := q.tasks[0]
	q.tasks = q.tasks[1:]
	q.notFull.Signal()
	return task, true
}

// Len returns the number of queued tasks.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Invalidate atomically clears the queue, wakes every blocked producer and
// consumer, and marks the queue unusable. Drop runs exactly once for each
// task that was still queued.
func (q *TaskQueue) Invalidate() {
	q.mu.Lock()
	if q.invalidated {
		q.mu.Unlock()
		return
	}
	dropped := q.tasks
	q.tasks = nil
	q.invalidated = true
	q.notFull.Broadcast()
	q.notEmpty.Broadcast()
	q.mu.Unlock()

	for _, task := range dropped {
		task.Drop()
	}
}

// Invalidated reports whether the queue has been invalidated.
func (q *TaskQueue) Invalidated() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.invalidated
}

// TaskLoop runs a single dedicated goroutine that drains one TaskQueue until
// stopped. It is the execution context for everything that must not run on
// the capture hardware's own delivery path.
type TaskLoop struct {
	queue *TaskQueue
	state atomic.Int32
	done  chan struct{}
}

const (
	loopIdle int32 = iota
	loopRunning
	loopStopped
)

// NewTaskLoop creates a loop over a fresh queue of the given capacity.
func NewTaskLoop(capacity int) (*TaskLoop, error) {
	queue, err := NewTaskQueue(capacity)
	if err != nil {
		return nil, err
	}
	return &TaskLoop{
		queue: queue,
		done:  make(chan struct{}),
	}, nil
}

// Start spins the worker goroutine. It is idempotent, and a stopped loop
// stays stopped: Start after Stop is a no-op (the queue is invalidated).
func (l *TaskLoop) Start() {
	if !l.state.CompareAndSwap(loopIdle, loopRunning) {
		return
	}
	go l.run()
}

// Stop invalidates the underlying queue so the worker unblocks and exits.
// Queued-but-undequeued tasks are dropped, never executed; an in-flight
// Execute is not preempted. Idempotent.
func (l *TaskLoop) Stop() {
	if !l.state.CompareAndSwap(loopRunning, loopStopped) {
		return
	}
	l.queue.Invalidate()
}

// Running reports whether the loop accepts tasks.
func (l *TaskLoop) Running() bool {
	return l.state.Load() == loopRunning
}

// Put submits a task to the loop. If the loop is not running the task's Drop
// runs synchronously before Put returns. Every task submitted while running
// is eventually either executed or dropped exactly once, even across a Stop
// race.
func (l *TaskLoop) Put(task Task) {
	if !l.Running() {
		task.Drop()
		return
	}
	if !l.queue.Produce(task) {
		task.Drop()
	}
}

// Wait blocks until the worker goroutine has exited. Only valid after Start.
func (l *TaskLoop) Wait() {
	<-l.done
}

func (l *TaskLoop) run() {
	defer close(l.done)
	for {
		task, ok := l.queue.Consume()
		if !ok {
			return
		}
		if l.Running() {
			task.Execute()
		} else {
			// Stop raced with Consume; honor the drop contract.
			task.Drop()
		}
	}
}
