// Package dispatch decouples user callbacks from the threads that produce
// their events. Tasks are queued and executed in submission order on
// dedicated worker goroutines, so a slow callback can never stall a network
// loop.
package dispatch

import (
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ftl/flexwave/rt"
)

var log = logrus.WithField("component", "dispatch")

// realtimePriority is the SCHED_FIFO priority of the realtime worker.
const realtimePriority = 10

// idleWait bounds how long a worker sleeps before rechecking for shutdown.
const idleWait = time.Second

// Task is a unit of callback work.
type Task func()

// Dispatcher runs two FIFO queues on separate workers: a realtime queue for
// data-path callbacks and a normal queue for everything else. Submission
// never blocks the caller.
type Dispatcher struct {
	realtime *queue
	normal   *queue

	closeOnce sync.Once
	done      sync.WaitGroup
}

// New creates a dispatcher and starts its workers.
func New() *Dispatcher {
	result := &Dispatcher{
		realtime: newQueue(),
		normal:   newQueue(),
	}
	result.done.Add(2)
	go result.work(result.realtime, true)
	go result.work(result.normal, false)
	return result
}

// Submit queues a task on the normal queue.
func (d *Dispatcher) Submit(task Task) {
	d.normal.push(task)
}

// SubmitRealtime queues a task on the realtime queue.
func (d *Dispatcher) SubmitRealtime(task Task) {
	d.realtime.push(task)
}

// Close stops both workers and waits for the tasks currently executing to
// finish. Tasks still queued are dropped without being executed.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.realtime.close()
		d.normal.close()
		d.done.Wait()
	})
}

func (d *Dispatcher) work(q *queue, realtime bool) {
	defer d.done.Done()

	if realtime {
		runtime.LockOSThread()
		if err := rt.ElevateCurrentThread(realtimePriority); err != nil {
			log.WithError(err).Warn("cannot elevate callback worker to realtime priority")
		}
	}

	for {
		task, ok := q.pop()
		if !ok {
			return
		}
		if task != nil {
			task()
		}
	}
}

// queue is an unbounded FIFO with a closeable wakeup channel.
type queue struct {
	mu     sync.Mutex
	tasks  []Task
	closed bool
	wake   chan struct{}
}

func newQueue() *queue {
	return &queue{
		wake: make(chan struct{}, 1),
	}
}

func (q *queue) push(task Task) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// pop blocks until a task is available or the queue is closed. The wait is
// bounded so a missed wakeup cannot park the worker forever.
func (q *queue) pop() (Task, bool) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		if len(q.tasks) > 0 {
			task := q.tasks[0]
			q.tasks = q.tasks[1:]
			q.mu.Unlock()
			return task, true
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-time.After(idleWait):
		}
	}
}

func (q *queue) close() {
	q.mu.Lock()
	dropped := len(q.tasks)
	q.closed = true
	q.tasks = nil
	q.mu.Unlock()

	if dropped > 0 {
		log.WithField("dropped", dropped).Debug("discarding queued callbacks on shutdown")
	}
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
