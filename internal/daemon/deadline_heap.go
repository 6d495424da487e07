package daemon

import "container/heap"

// deadlineItem is one pending agent-connection deadline tracked by the
// net-loop task: once its deadline has passed, the net loop pops it from the
// heap and logs the fd; the connection itself is left untouched.
type deadlineItem struct {
	fd       int
	deadline int64 // UnixNano, for heap.Interface comparison without importing time into the heap itself
	index    int
}

// deadlineHeap is a container/heap min-heap ordered by deadline, giving the
// net loop O(log n) insert and O(1) peek-next-to-expire instead of
// scanning every tracked connection on each iteration.
type deadlineHeap []*deadlineItem

func (h deadlineHeap) Len() int { return len(h) }
func (h deadlineHeap) Less(i, j int) bool { return h[i].deadline < h[j].deadline }
func (h deadlineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *deadlineHeap) Push(x interface{}) {
	item := x.(*deadlineItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *deadlineHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// deadlineQueue wraps deadlineHeap with the fd-keyed lookup a net loop
// needs to cancel a tracked deadline when its connection finishes early.
type deadlineQueue struct {
	h     deadlineHeap
	byFD  map[int]*deadlineItem
}

func newDeadlineQueue() *deadlineQueue {
	return &deadlineQueue{byFD: make(map[int]*deadlineItem)}
}

// Track adds or replaces fd's deadline.
func (q *deadlineQueue) Track(fd int, deadlineUnixNano int64) {
	if existing, ok := q.byFD[fd]; ok {
		existing.deadline = deadlineUnixNano
		heap.Fix(&q.h, existing.index)
		return
	}
	item := &deadlineItem{fd: fd, deadline: deadlineUnixNano}
	heap.Push(&q.h, item)
	q.byFD[fd] = item
}

// Untrack removes fd's deadline, if any.
func (q *deadlineQueue) Untrack(fd int) {
	item, ok := q.byFD[fd]
	if !ok {
		return
	}
	heap.Remove(&q.h, item.index)
	delete(q.byFD, fd)
}

// Expired pops and returns every fd whose deadline is at or before nowNano.
func (q *deadlineQueue) Expired(nowNano int64) []int {
	var out []int
	for q.h.Len() > 0 && q.h[0].deadline <= nowNano {
		item := heap.Pop(&q.h).(*deadlineItem)
		delete(q.byFD, item.fd)
		out = append(out, item.fd)
	}
	return out
}

// NextDeadline returns the earliest tracked deadline and ok=true, or
// ok=false if nothing is tracked.
func (q *deadlineQueue) NextDeadline() (int64, bool) {
	if q.h.Len() == 0 {
		return 0, false
	}
	return q.h[0].deadline, true
}
