package queue

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestQueueRunsJobsFIFOWithinPriority(t *testing.T) {
	q := New(1, 1, 5*time.Millisecond, time.Second)
	defer q.Stop()

	var order []int
	done := make(chan struct{})
	n := 0
	record := func(i int) func() error {
		return func() error {
			order = append(order, i)
			n++
			if n == 3 {
				close(done)
			}
			return nil
		}
	}

	q.Add(0, record(1))
	q.Add(0, record(2))
	q.Add(0, record(3))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for jobs")
	}

	for i, v := range order {
		if v != i+1 {
			t.Fatalf("expected FIFO order 1,2,3, got %v", order)
		}
	}
}

func TestQueuePriorityOrdering(t *testing.T) {
	q := New(1, 1, 5*time.Millisecond, time.Second)
	defer q.Stop()
	q.Pause()

	var seen []int
	for _, p := range []int{5, 1, 3} {
		p := p
		q.Add(p, func() error { seen = append(seen, p); return nil })
	}

	done := make(chan error, 1)
	q.Resume()
	go func() {
		time.Sleep(50 * time.Millisecond)
		done <- nil
	}()
	<-done

	if len(seen) != 3 || seen[0] != 1 || seen[1] != 3 || seen[2] != 5 {
		t.Fatalf("expected priority order 1,3,5, got %v", seen)
	}
}

func TestQueueAddBulkAllSettled(t *testing.T) {
	q := New(2, 2, 5*time.Millisecond, time.Second)
	defer q.Stop()

	results := q.AddBulk(0, []func() error{
		func() error { return nil },
		func() error { return errors.New("boom") },
		func() error { return nil },
	})

	if results[0] != nil || results[1] == nil || results[2] != nil {
		t.Fatalf("unexpected allSettled results: %v", results)
	}
}

func TestQueuePauseBlocksDispatch(t *testing.T) {
	q := New(1, 1, 5*time.Millisecond, time.Second)
	defer q.Stop()
	q.Pause()

	var ran int32
	ch := q.Add(0, func() error { atomic.AddInt32(&ran, 1); return nil })

	select {
	case <-ch:
		t.Fatal("job ran while queue paused")
	case <-time.After(50 * time.Millisecond):
	}

	q.Resume()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("job never ran after resume")
	}
	if atomic.LoadInt32(&ran) != 1 {
		t.Fatal("expected job to run exactly once")
	}
}

func TestQueueClearResolvesPendingWithErrCleared(t *testing.T) {
	q := New(1, 1, time.Hour, time.Second) // long interval so nothing dispatches
	defer q.Stop()
	q.Pause()

	ch := q.Add(0, func() error { return nil })
	q.Clear()

	select {
	case err := <-ch:
		if !errors.Is(err, ErrCleared) {
			t.Fatalf("expected ErrCleared, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cleared job result")
	}
}

func TestQueueGetStatus(t *testing.T) {
	q := New(1, 1, time.Hour, time.Second)
	defer q.Stop()
	q.Pause()

	q.Add(0, func() error { return nil })
	st := q.GetStatus()
	if st.Pending != 1 || !st.Paused {
		t.Fatalf("unexpected status: %+v", st)
	}
	if st.TotalJobs != 1 {
		t.Fatalf("expected totalJobs 1, got %d", st.TotalJobs)
	}
}

func TestQueueStatusAccountingOnCompletionAndFailure(t *testing.T) {
	q := New(1, 1, 5*time.Millisecond, time.Second)
	defer q.Stop()

	<-q.Add(0, func() error { return nil })
	<-q.Add(0, func() error { return errors.New("boom") })

	st := q.GetStatus()
	if st.TotalJobs != 2 {
		t.Fatalf("expected totalJobs 2, got %d", st.TotalJobs)
	}
	if st.CompletedJobs != 1 {
		t.Fatalf("expected completedJobs incremented by 1, got %d", st.CompletedJobs)
	}
	if st.FailedJobs != 1 {
		t.Fatalf("expected failedJobs 1, got %d", st.FailedJobs)
	}
	if st.SuccessRate != 0.5 {
		t.Fatalf("expected success rate 0.5, got %v", st.SuccessRate)
	}
}

func TestManagerGetOrCreateAndPriorityVariant(t *testing.T) {
	m := NewManager(time.Hour, time.Hour, time.Second)
	defer m.Stop()

	q1 := m.Get("abc")
	q2 := m.Get("abc")
	if q1 != q2 {
		t.Fatal("expected Get to return the same queue for the same hash")
	}

	pq := m.GetPriority("abc", 1)
	if pq == q1 {
		t.Fatal("expected the priority variant to be a distinct queue")
	}
	if m.Count() != 2 {
		t.Fatalf("expected 2 live queues, got %d", m.Count())
	}
}

func TestManagerSweepEvictsIdleQueues(t *testing.T) {
	m := NewManager(10*time.Millisecond, 20*time.Millisecond, time.Second)
	defer m.Stop()

	m.Get("idle-hash")
	if m.Count() != 1 {
		t.Fatal("expected queue to be created")
	}

	time.Sleep(200 * time.Millisecond)
	if m.Count() != 0 {
		t.Fatalf("expected idle queue to be swept, got count %d", m.Count())
	}
}
