package hnsw

import "container/heap"

// candidateHeap is a min-heap ordered by distance: the frontier of nodes
// still to be explored during best-first search, nearest first.
type candidateHeap []candidate

func (h candidateHeap) Len() int            { return len(h) }
func (h candidateHeap) Less(i, j int) bool  { return h[i].dist < h[j].dist }
func (h candidateHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *candidateHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func heapPushNearest(h *candidateHeap, c candidate) { heap.Push(h, c) }
func heapPopNearest(h *candidateHeap) candidate     { return heap.Pop(h).(candidate) }

// farthestHeap is a max-heap ordered by distance: the current best ef
// results found so far, farthest on top so it can be evicted first once the
// result set is full and a closer candidate shows up.
type farthestHeap []candidate

func (h farthestHeap) Len() int            { return len(h) }
func (h farthestHeap) Less(i, j int) bool  { return h[i].dist > h[j].dist }
func (h farthestHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *farthestHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *farthestHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func heapPushFarthest(h *farthestHeap, c candidate) { heap.Push(h, c) }
func heapPopFarthest(h *farthestHeap) candidate     { return heap.Pop(h).(candidate) }
