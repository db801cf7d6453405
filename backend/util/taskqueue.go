package util

import "sync"

// TaskQueue runs posted tasks serially on a single worker goroutine, in
// posting order. It is unbounded, so tasks may safely post follow-up tasks
// from within the worker without risk of self-deadlock.
type TaskQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	tasks   []func()
	running bool
	closed  bool
	done    chan struct{}
}

func NewTaskQueue() *TaskQueue {
	q := &TaskQueue{done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.loop()
	return q
}

// Post enqueues a task. Tasks posted after Close are dropped.
func (q *TaskQueue) Post(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.tasks = append(q.tasks, fn)
	q.cond.Broadcast()
}

// Drain blocks until all currently queued tasks, and any tasks they post,
// have finished executing.
func (q *TaskQueue) Drain() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.tasks) > 0 || q.running {
		q.cond.Wait()
	}
}

// Close stops the worker after the pending tasks have run. Blocks until the
// worker has exited.
func (q *TaskQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	<-q.done
}

func (q *TaskQueue) loop() {
	q.mu.Lock()
	for {
		for len(q.tasks) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.tasks) == 0 && q.closed {
			q.mu.Unlock()
			close(q.done)
			return
		}
		fn := q.tasks[0]
		q.tasks = q.tasks[1:]
		q.running = true
		q.mu.Unlock()

		fn()

		q.mu.Lock()
		q.running = false
		q.cond.Broadcast()
	}
}
