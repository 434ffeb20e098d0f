package tasksched

import "container/heap"

// taskHeap is a container/heap.Interface over TaskHandle, ordered by
// priority descending then insertion sequence ascending: higher priority
// pops first, and equal-priority tasks pop in the order they were
// inserted (Testable Property 4). The insertion sequence is assigned by
// ReadyBook.Insert (via h.setSequence), not by priorityQueue itself.
type taskHeap []TaskHandle

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	pi, pj := h[i].Priority(), h[j].Priority()
	if pi != pj {
		return pi > pj
	}
	return h[i].sequence() < h[j].sequence()
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) {
	*h = append(*h, x.(TaskHandle))
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// priorityQueue is a thin, non-concurrent-safe wrapper around taskHeap;
// callers (readyBook) supply their own locking and insertion-sequence
// counter.
type priorityQueue struct {
	h taskHeap
}

func newPriorityQueue() *priorityQueue {
	pq := &priorityQueue{}
	heap.Init(&pq.h)
	return pq
}

func (pq *priorityQueue) push(handle TaskHandle) {
	heap.Push(&pq.h, handle)
}

func (pq *priorityQueue) pop() TaskHandle {
	return heap.Pop(&pq.h).(TaskHandle)
}

func (pq *priorityQueue) len() int { return len(pq.h) }

// remove removes handle from the queue if present, reporting whether it
// was found. Used when a waiting task becomes PrerequisiteFailed and must
// be pulled out of the waiting queue without waiting for it to be popped.
func (pq *priorityQueue) remove(handle TaskHandle) bool {
	for i, h := range pq.h {
		if h == handle {
			heap.Remove(&pq.h, i)
			return true
		}
	}
	return false
}
