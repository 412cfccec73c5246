// Package queue implements the per-instance Send Queue — spec.md §4.5.
// Each instance gets its own Queue: a single (or small, for the priority
// variant) worker pool with a minimum spacing between job starts, so a
// burst of outgoing messages against one WhatsApp session never exceeds
// the rate the worker process can tolerate.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCleared is delivered to any job still pending when Clear is called.
var ErrCleared = errors.New("queue: cleared")

// ErrRemoved is delivered when a pending job is cancelled via Remove.
var ErrRemoved = errors.New("queue: job removed")

// ErrTimeout is delivered when a job exceeds its per-job timeout.
var ErrTimeout = errors.New("queue: job timed out")

// Status is a point-in-time snapshot — spec.md §4.5 getStatus().
type Status struct {
	Pending       int
	Running       int
	Paused        bool
	TotalJobs     int64
	CompletedJobs int64
	FailedJobs    int64
	SuccessRate   float64
}

// Queue runs submitted jobs FIFO within priority class, honoring a
// concurrency limit and a minimum interval between dispatch windows —
// spec.md §4.5 (concurrency 1, minInterval 1000ms, intervalCap 1 for the
// default queue; concurrency 2, interval 500ms for the priority variant).
type Queue struct {
	concurrency int
	intervalCap int
	interval    time.Duration
	jobTimeout  time.Duration

	mu          sync.Mutex
	h           *jobHeap
	seq         int64
	active      int
	windowCount int
	paused      bool
	lastActive  time.Time

	totalJobs     int64
	completedJobs int64
	failedJobs    int64

	wake chan struct{}
	stop chan struct{}
	once sync.Once
}

// New constructs a Queue and starts its dispatch loop.
func New(concurrency, intervalCap int, interval, jobTimeout time.Duration) *Queue {
	q := &Queue{
		concurrency: concurrency,
		intervalCap: intervalCap,
		interval:    interval,
		jobTimeout:  jobTimeout,
		h:           newJobHeap(),
		wake:        make(chan struct{}, 1),
		stop:        make(chan struct{}),
		lastActive:  time.Now(),
	}
	go q.loop()
	return q
}

func (q *Queue) loop() {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()
	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
			q.mu.Lock()
			q.windowCount = 0
			q.mu.Unlock()
			q.dispatch()
		case <-q.wake:
			q.dispatch()
		}
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) dispatch() {
	for {
		q.mu.Lock()
		if q.paused || q.active >= q.concurrency || q.windowCount >= q.intervalCap {
			q.mu.Unlock()
			return
		}
		j := q.h.PopNext()
		if j == nil {
			q.mu.Unlock()
			return
		}
		q.active++
		q.windowCount++
		q.lastActive = time.Now()
		q.mu.Unlock()

		go q.run(j)
	}
}

func (q *Queue) run(j *job) {
	defer func() {
		q.mu.Lock()
		q.active--
		q.lastActive = time.Now()
		q.mu.Unlock()
		q.signal()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), q.jobTimeout)
	defer cancel()

	resultCh := make(chan error, 1)
	go func() { resultCh <- j.fn() }()

	var err error
	select {
	case err = <-resultCh:
	case <-ctx.Done():
		err = ErrTimeout
	}

	q.mu.Lock()
	if err != nil {
		q.failedJobs++
	} else {
		q.completedJobs++
	}
	q.mu.Unlock()

	j.done <- err
}

// Add enqueues fn at priority (lower runs sooner, FIFO on ties) and
// returns a channel delivering its single result — spec.md §4.5 add().
func (q *Queue) Add(priority int, fn func() error) <-chan error {
	q.mu.Lock()
	q.seq++
	j := &job{id: idFor(q.seq), priority: priority, seq: q.seq, fn: fn, done: make(chan error, 1)}
	q.h.Add(j)
	q.lastActive = time.Now()
	q.totalJobs++
	q.mu.Unlock()
	q.signal()
	return j.done
}

// AddBulk enqueues every fn and waits for all of them to settle —
// allSettled semantics per spec.md §4.5 addBulk(): a failure in one job
// never cancels the others.
func (q *Queue) AddBulk(priority int, fns []func() error) []error {
	chans := make([]<-chan error, len(fns))
	for i, fn := range fns {
		chans[i] = q.Add(priority, fn)
	}
	results := make([]error, len(fns))
	for i, ch := range chans {
		results[i] = <-ch
	}
	return results
}

// Pause stops dispatching new jobs; jobs already running continue.
func (q *Queue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
}

// Resume re-enables dispatch.
func (q *Queue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()
	q.signal()
}

// Clear drops every pending (not yet dispatched) job, resolving each with
// ErrCleared. Running jobs are left to finish.
func (q *Queue) Clear() {
	q.mu.Lock()
	pending := q.h.items
	q.h.Clear()
	for _, j := range pending {
		if j != nil {
			q.failedJobs++
		}
	}
	q.mu.Unlock()
	for _, j := range pending {
		if j != nil {
			j.done <- ErrCleared
		}
	}
}

// Remove cancels a single pending job by id, resolving it with ErrRemoved.
// Reports whether a pending job with that id existed.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	idx, ok := q.h.index[id]
	var j *job
	if ok {
		j = q.h.items[idx]
		q.h.Remove(id)
		q.failedJobs++
	}
	q.mu.Unlock()
	if j != nil {
		j.done <- ErrRemoved
	}
	return ok
}

// GetStatus reports pending/running counts, pause state, and cumulative
// job accounting with a derived success rate — spec.md §4.5 getStatus().
func (q *Queue) GetStatus() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := Status{
		Pending:       q.h.Size(),
		Running:       q.active,
		Paused:        q.paused,
		TotalJobs:     q.totalJobs,
		CompletedJobs: q.completedJobs,
		FailedJobs:    q.failedJobs,
	}
	if settled := s.CompletedJobs + s.FailedJobs; settled > 0 {
		s.SuccessRate = float64(s.CompletedJobs) / float64(settled)
	}
	return s
}

// LastActivity reports when a job was last enqueued, started, or
// finished, used by the Manager's idle sweeper.
func (q *Queue) LastActivity() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastActive
}

// Idle reports whether the queue has neither pending nor running work.
func (q *Queue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Size() == 0 && q.active == 0
}

// Stop terminates the dispatch loop. Safe to call more than once.
func (q *Queue) Stop() {
	q.once.Do(func() { close(q.stop) })
}

func idFor(seq int64) string {
	const digits = "0123456789abcdefghijklmnopqrstuvwxyz"
	if seq == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for seq > 0 {
		i--
		buf[i] = digits[seq%int64(len(digits))]
		seq /= int64(len(digits))
	}
	return string(buf[i:])
}
