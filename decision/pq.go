package decision

import "container/heap"

// elem is anything that can sit in a pq: it tracks its own slice index so
// Update can be an O(log n) fix-up instead of a linear scan. Grounded on
// the teacher's (unretrieved) thirdparty/pq package, reimplemented here
// over container/heap since thirdparty/pq is an internal helper of the
// original monorepo, not a fetchable module in its own right.
type elem interface {
	Index() int
	SetIndex(i int)
}

// pq is a priority queue of elem, ordered by a caller-supplied "less"
// comparator. It supports Update so callers can re-sort in place after
// mutating an element already in the queue.
type pq struct {
	h *pqHeap
}

func newPQ(less func(a, b elem) bool) *pq {
	h := &pqHeap{less: less}
	heap.Init(h)
	return &pq{h: h}
}

func (q *pq) Len() int { return q.h.Len() }

func (q *pq) Push(e elem) {
	heap.Push(q.h, e)
}

func (q *pq) Pop() elem {
	if q.h.Len() == 0 {
		return nil
	}
	return heap.Pop(q.h).(elem)
}

// Update re-establishes heap order for the element currently at index i.
func (q *pq) Update(i int) {
	if i < 0 || i >= q.h.Len() {
		return
	}
	heap.Fix(q.h, i)
}

type pqHeap struct {
	items []elem
	less  func(a, b elem) bool
}

func (h *pqHeap) Len() int { return len(h.items) }
func (h *pqHeap) Less(i, j int) bool {
	return h.less(h.items[i], h.items[j])
}
func (h *pqHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].SetIndex(i)
	h.items[j].SetIndex(j)
}
func (h *pqHeap) Push(x interface{}) {
	e := x.(elem)
	e.SetIndex(len(h.items))
	h.items = append(h.items, e)
}
func (h *pqHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	e.SetIndex(-1)
	return e
}
