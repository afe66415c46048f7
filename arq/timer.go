package arq

import (
	"container/heap"
	"time"
)

// retransmitTimer is one pending deadline for an in-flight sequence.
type retransmitTimer struct {
	seq      uint32
	deadline time.Time
}

type timerHeap []retransmitTimer

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x interface{}) {
	*h = append(*h, x.(retransmitTimer))
}

func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	*h = old[:n-1]
	return t
}

// timerQueue orders per-packet retransmission deadlines so the next
// expiry is found in O(1) and scheduling costs O(log n). Entries are
// never removed from the middle: acking or rescheduling a packet leaves
// a stale entry behind, which the owner detects and skips on pop.
type timerQueue struct {
	h timerHeap
}

func newTimerQueue() *timerQueue {
	q := &timerQueue{h: make(timerHeap, 0)}
	heap.Init(&q.h)
	return q
}

func (q *timerQueue) Schedule(seq uint32, deadline time.Time) {
	heap.Push(&q.h, retransmitTimer{seq: seq, deadline: deadline})
}

func (q *timerQueue) Peek() (retransmitTimer, bool) {
	if len(q.h) == 0 {
		return retransmitTimer{}, false
	}
	return q.h[0], true
}

func (q *timerQueue) Pop() (retransmitTimer, bool) {
	if len(q.h) == 0 {
		return retransmitTimer{}, false
	}
	return heap.Pop(&q.h).(retransmitTimer), true
}

func (q *timerQueue) Len() int {
	return len(q.h)
}
