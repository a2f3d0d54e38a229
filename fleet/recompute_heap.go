package fleet

import (
	"container/heap"

	"github.com/fleetsim/fleetsim/request"
)

// recomputeHeap is a container/heap priority queue of evicted requests,
// keyed by request ID rather than a computed score, giving a stable
// re-admission order.
type recomputeHeap []*request.Request

func (h recomputeHeap) Len() int            { return len(h) }
func (h recomputeHeap) Less(i, j int) bool  { return h[i].ID < h[j].ID }
func (h recomputeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *recomputeHeap) Push(x any)         { *h = append(*h, x.(*request.Request)) }
func (h *recomputeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// peek returns the head of the heap without removing it, or nil if
// empty.
func (h recomputeHeap) peek() *request.Request {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}

// pop removes and returns the head of the heap, or nil if empty.
func (h *recomputeHeap) pop() *request.Request {
	if h.Len() == 0 {
		return nil
	}
	return heap.Pop(h).(*request.Request)
}

func (h *recomputeHeap) push(r *request.Request) {
	heap.Push(h, r)
}
