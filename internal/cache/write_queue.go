package cache

import "sync"

// writeQueue runs persistent-tier work on a single goroutine in submission
// order, so two writes to the same key land in the order they were made.
type writeQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	jobs   []func()
	busy   bool
	closed bool
	done   chan struct{}
}

func newWriteQueue() *writeQueue {
	q := &writeQueue{done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

func (q *writeQueue) run() {
	defer close(q.done)

	q.mu.Lock()
	for {
		for len(q.jobs) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.jobs) == 0 {
			q.mu.Unlock()
			return
		}

		job := q.jobs[0]
		q.jobs[0] = nil
		q.jobs = q.jobs[1:]
		q.busy = true
		q.mu.Unlock()

		job()

		q.mu.Lock()
		q.busy = false
		q.cond.Broadcast()
	}
}

// submit queues job. It reports false once the queue is closed.
func (q *writeQueue) submit(job func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.jobs = append(q.jobs, job)
	q.cond.Broadcast()
	return true
}

// flush blocks until every job submitted so far has run.
func (q *writeQueue) flush() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.jobs) > 0 || q.busy {
		q.cond.Wait()
	}
}

// close runs the remaining jobs and stops the worker.
func (q *writeQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()

	<-q.done
}
