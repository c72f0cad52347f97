package containers

import "container/heap"

// indexHeap implements heap.Interface over released slot indices.
type indexHeap []int

func (h indexHeap) Len() int           { return len(h) }
func (h indexHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h indexHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *indexHeap) Push(x any) {
	*h = append(*h, x.(int))
}

func (h *indexHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// IndexHeap is the set of free indices. Popping always yields the smallest
// free index, which keeps the active range compact.
//
// Indices that were never handed out are kept as the range [next, end) and
// only released ones live in the heap. Every released index is below next,
// so the heap minimum is always the smallest free index when present.
type IndexHeap struct {
	released indexHeap
	next     int
	end      int
}

// NewIndexHeap returns a heap holding the indices [from, to).
func NewIndexHeap(from, to int) *IndexHeap {
	return &IndexHeap{next: from, end: max(from, to)}
}

// PushRange adds the indices [from, to). A range starting at the current end
// extends the unused range without touching the heap.
func (ih *IndexHeap) PushRange(from, to int) {
	if from == ih.end {
		if to > ih.end {
			ih.end = to
		}
		return
	}
	for i := from; i < to; i++ {
		heap.Push(&ih.released, i)
	}
}

// Push frees index. Indices that were never popped are already free.
func (ih *IndexHeap) Push(index int) {
	if index >= ih.next && index < ih.end {
		return
	}
	heap.Push(&ih.released, index)
}

// Pop removes and returns the smallest index.
func (ih *IndexHeap) Pop() (int, bool) {
	if len(ih.released) > 0 {
		return heap.Pop(&ih.released).(int), true
	}
	if ih.next < ih.end {
		ih.next++
		return ih.next - 1, true
	}
	return 0, false
}

func (ih *IndexHeap) Len() int {
	return len(ih.released) + ih.end - ih.next
}
