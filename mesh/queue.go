// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

package mesh

import (
	"container/heap"
	"sync"
)

// Inbound is one dispatch-ready message: a decoded, already verified
// envelope plus its queue insertion order.
type Inbound struct {
	Envelope *Envelope
	seq      uint64 // insertion order, for FIFO-within-priority
}

type pqItem struct {
	msg *Inbound
	idx int
}

type priorityHeap []*pqItem

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	pi, pj := h[i].msg.Envelope.Kind.Priority(), h[j].msg.Envelope.Kind.Priority()
	if pi != pj {
		return pi > pj // higher priority first
	}
	return h[i].msg.seq < h[j].msg.seq
}
func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].idx, h[j].idx = i, j
}
func (h *priorityHeap) Push(x any) {
	item := x.(*pqItem)
	item.idx = len(*h)
	*h = append(*h, item)
}
func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Queue is a fixed-capacity priority queue with shed-lowest-priority-first
// overflow behavior: pushing past capacity evicts the single
// lowest-priority, oldest item to make room, rather than rejecting the
// newly-arriving (possibly higher priority) message outright.
type Queue struct {
	mu       sync.Mutex
	cap      int
	h        priorityHeap
	nextSeq  uint64
	dropped  map[Kind]uint64
}

// NewQueue builds a Queue bounded at capacity.
func NewQueue(capacity int) *Queue {
	q := &Queue{cap: capacity, dropped: make(map[Kind]uint64)}
	heap.Init(&q.h)
	return q
}

// Push enqueues env. If the queue is at capacity, the current
// lowest-priority item is shed to make room; if the incoming message is
// itself the lowest priority item and the queue is full, it is the one
// dropped. Dropped messages are counted by kind, never silently discarded.
func (q *Queue) Push(env *Envelope) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item := &pqItem{msg: &Inbound{Envelope: env, seq: q.nextSeq}}
	q.nextSeq++
	heap.Push(&q.h, item)

	for len(q.h) > q.cap {
		worst := q.worstIndexLocked()
		victim := q.h[worst]
		heap.Remove(&q.h, worst)
		q.dropped[victim.msg.Envelope.Kind]++
	}
}

// worstIndexLocked finds the lowest-priority, oldest entry in the heap. The
// heap property only guarantees the root is best, so this is a linear scan
// (queues are small and bounded, so this stays cheap).
func (q *Queue) worstIndexLocked() int {
	worst := 0
	for i := 1; i < len(q.h); i++ {
		pi, pw := q.h[i].msg.Envelope.Kind.Priority(), q.h[worst].msg.Envelope.Kind.Priority()
		if pi < pw || (pi == pw && q.h[i].msg.seq > q.h[worst].msg.seq) {
			worst = i
		}
	}
	return worst
}

// Pop removes and returns the highest-priority, oldest message, or nil if
// the queue is empty.
func (q *Queue) Pop() *Inbound {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return nil
	}
	item := heap.Pop(&q.h).(*pqItem)
	return item.msg
}

// Len reports the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}

// Dropped returns a snapshot of shed-message counts by kind.
func (q *Queue) Dropped() map[Kind]uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[Kind]uint64, len(q.dropped))
	for k, v := range q.dropped {
		out[k] = v
	}
	return out
}
