package frontier

import (
	"container/heap"
	"time"
)

// jobHeap is a min-heap ordered by (-priority, insertionOrder), so the job
// with the highest priority pops first and ties break by arrival order.
type jobHeap []FrontierJob

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].insertionOrder < h[j].insertionOrder
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) {
	*h = append(*h, x.(FrontierJob))
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// delayHeap is a min-heap ordered by availableAt, holding jobs whose host
// had no token available at pop time.
type delayHeap []FrontierJob

func (h delayHeap) Len() int { return len(h) }

func (h delayHeap) Less(i, j int) bool {
	return h[i].availableAt.Before(h[j].availableAt)
}

func (h delayHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *delayHeap) Push(x any) {
	*h = append(*h, x.(FrontierJob))
}

func (h *delayHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// promoteDue moves every delay-heap job whose availableAt has passed into
// the main heap.
func promoteDue(main *jobHeap, delay *delayHeap, now time.Time) {
	for delay.Len() > 0 && !(*delay)[0].availableAt.After(now) {
		job := heap.Pop(delay).(FrontierJob)
		heap.Push(main, job)
	}
}

// heapify restores the heap invariant on a jobHeap populated directly
// (e.g. from a persisted snapshot) without going through Push.
func heapify(h *jobHeap) {
	heap.Init(h)
}

// heapifyDelay restores the heap invariant on a delayHeap populated
// directly from a persisted snapshot.
func heapifyDelay(h *delayHeap) {
	heap.Init(h)
}
