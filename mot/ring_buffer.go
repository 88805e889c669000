package mot

// RingBuffer is a fixed-capacity FIFO: pushing into a full buffer overwrites the oldest element.
type RingBuffer[T any] struct {
	items []T
	head  int
	size  int
}

// NewRingBuffer creates ring buffer for given capacity. Capacity less than 1 is treated as 1.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	return &RingBuffer[T]{
		items: make([]T, maxInt(1, capacity)),
	}
}

// Push appends value evicting the oldest one when buffer is full
func (rb *RingBuffer[T]) Push(value T) {
	capacity := len(rb.items)
	if rb.size < capacity {
		rb.items[(rb.head+rb.size)%capacity] = value
		rb.size++
		return
	}
	rb.items[rb.head] = value
	rb.head = (rb.head + 1) % capacity
}

// Len returns number of stored elements
func (rb *RingBuffer[T]) Len() int {
	return rb.size
}

// Cap returns buffer capacity
func (rb *RingBuffer[T]) Cap() int {
	return len(rb.items)
}

// At returns i-th element where 0 is the oldest one. Panics on out of range index.
func (rb *RingBuffer[T]) At(i int) T {
	if i < 0 || i >= rb.size {
		panic("mot: ring buffer index out of range")
	}
	return rb.items[(rb.head+i)%len(rb.items)]
}

// First returns the oldest element
func (rb *RingBuffer[T]) First() (T, bool) {
	var zero T
	if rb.size == 0 {
		return zero, false
	}
	return rb.At(0), true
}

// Last returns the newest element
func (rb *RingBuffer[T]) Last() (T, bool) {
	var zero T
	if rb.size == 0 {
		return zero, false
	}
	return rb.At(rb.size - 1), true
}

// Values returns copy of stored elements ordered from the oldest to the newest
func (rb *RingBuffer[T]) Values() []T {
	out := make([]T, rb.size)
	for i := range out {
		out[i] = rb.items[(rb.head+i)%len(rb.items)]
	}
	return out
}

// Reset drops all elements keeping capacity
func (rb *RingBuffer[T]) Reset() {
	var zero T
	for i := range rb.items {
		rb.items[i] = zero
	}
	rb.head = 0
	rb.size = 0
}
