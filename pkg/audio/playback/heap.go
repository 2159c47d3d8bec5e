// Package playback schedules decoded audio chunks onto a pull-driven output
// device. Chunks are laid end to end on a monotonic timeline so that they
// play gaplessly and strictly in enqueue order, regardless of when they
// arrive. An interrupt silences everything at once.
package playback

// source is one scheduled chunk. start and end are timeline positions in
// samples per channel; samples is interleaved.
type source struct {
	id      uint64
	start   int64
	end     int64
	samples []float32
}

// endHeap implements [container/heap.Interface] as a min-heap ordered by end
// position, with FIFO tie-breaking on id. It lets the renderer retire
// finished sources without scanning the live set.
type endHeap []*source

func (h endHeap) Len() int { return len(h) }

// Less reports whether element i ends before element j.
func (h endHeap) Less(i, j int) bool {
	if h[i].end != h[j].end {
		return h[i].end < h[j].end
	}
	return h[i].id < h[j].id
}

func (h endHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

// Push appends x to the heap. Called by [container/heap.Push]; callers must
// not invoke this directly.
func (h *endHeap) Push(x any) {
	*h = append(*h, x.(*source))
}

// Pop removes and returns the last element. Called by [container/heap.Pop];
// callers must not invoke this directly.
func (h *endHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
