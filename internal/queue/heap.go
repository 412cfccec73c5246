package queue

import "container/heap"

// job is a unit of work submitted to a Queue — spec.md §4.5.
type job struct {
	id       string
	priority int   // lower runs first
	seq      int64 // tiebreaker, assigned at submission time (FIFO on equal priority)
	fn       func() error
	timeout  bool
	done     chan error
}

// jobHeap orders jobs by (priority asc, seq asc) — spec.md §4.5 "priority
// ordering, lower number runs earlier, FIFO on ties". Adapted from the
// teacher's pkg/job jobHeap (container/heap + id index).
type jobHeap struct {
	items []*job
	index map[string]int
}

func newJobHeap() *jobHeap {
	return &jobHeap{items: make([]*job, 0), index: make(map[string]int)}
}

func (h *jobHeap) Len() int { return len(h.items) }

func (h *jobHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	return a.seq < b.seq
}

func (h *jobHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.index[h.items[i].id] = i
	h.index[h.items[j].id] = j
}

func (h *jobHeap) Push(x any) {
	j := x.(*job)
	h.index[j.id] = len(h.items)
	h.items = append(h.items, j)
}

func (h *jobHeap) Pop() any {
	old := h.items
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	h.items = old[0 : n-1]
	delete(h.index, j.id)
	return j
}

func (h *jobHeap) Add(j *job) {
	heap.Push(h, j)
}

func (h *jobHeap) PopNext() *job {
	if len(h.items) == 0 {
		return nil
	}
	return heap.Pop(h).(*job)
}

func (h *jobHeap) Remove(id string) bool {
	idx, ok := h.index[id]
	if !ok {
		return false
	}
	heap.Remove(h, idx)
	return true
}

func (h *jobHeap) Clear() {
	h.items = h.items[:0]
	h.index = make(map[string]int)
}

func (h *jobHeap) Size() int { return len(h.items) }
