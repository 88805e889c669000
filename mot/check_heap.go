package mot

// Copied from container/heap - https://golang.org/pkg/container/heap/
// Why make copy? Just want to avoid type conversion

// checkHeap is min-heap of tracks ordered by the time of the latest identity check.
// Ties are broken by track ID to keep scheduling deterministic.
type checkHeap []*Track

func (h checkHeap) Len() int { return len(h) }
func (h checkHeap) Less(i, j int) bool {
	ti, tj := h[i].identity.LastCheckTime, h[j].identity.LastCheckTime
	if ti.Equal(tj) {
		return h[i].id < h[j].id
	}
	return ti.Before(tj)
}
func (h checkHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

// Push pushes the element x onto the heap.
// The complexity is O(log n) where n = h.Len().
func (h *checkHeap) Push(x *Track) {
	*h = append(*h, x)
	h.up(h.Len() - 1)
}

// Pop removes and returns the minimum element (according to Less) from the heap.
// The complexity is O(log n) where n = h.Len().
func (h *checkHeap) Pop() *Track {
	n := h.Len() - 1
	h.Swap(0, n)
	h.down(0, n)
	heapSize := len(*h)
	lastNode := (*h)[heapSize-1]
	(*h)[heapSize-1] = nil
	*h = (*h)[0 : heapSize-1]
	return lastNode
}

func (h checkHeap) up(j int) {
	for {
		i := (j - 1) / 2
		if i == j || !h.Less(j, i) {
			break
		}
		h.Swap(i, j)
		j = i
	}
}

func (h checkHeap) down(i0, n int) bool {
	i := i0
	for {
		j1 := 2*i + 1
		if j1 >= n || j1 < 0 {
			break
		}
		j := j1
		if j2 := j1 + 1; j2 < n && h.Less(j2, j1) {
			j = j2
		}
		if !h.Less(j, i) {
			break
		}
		h.Swap(i, j)
		i = j
	}
	return i > i0
}
