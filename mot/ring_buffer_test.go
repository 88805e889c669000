package mot

import (
	"testing"
)

func TestRingBufferEvictsOldestFirst(t *testing.T) {
	rb := NewRingBuffer[int](3)
	for i := 1; i <= 5; i++ {
		rb.Push(i)
		if rb.Len() > rb.Cap() {
			t.Fatalf("Length %d exceeds capacity %d", rb.Len(), rb.Cap())
		}
	}
	values := rb.Values()
	expected := []int{3, 4, 5}
	if len(values) != len(expected) {
		t.Fatalf("Expected %d values, got %d", len(expected), len(values))
	}
	for i := range expected {
		if values[i] != expected[i] {
			t.Errorf("Expected value %d at %d, got %d", expected[i], i, values[i])
		}
	}
	first, _ := rb.First()
	last, _ := rb.Last()
	if first != 3 || last != 5 {
		t.Errorf("Expected first=3 last=5, got first=%d last=%d", first, last)
	}
}

func TestRingBufferEmpty(t *testing.T) {
	rb := NewRingBuffer[float64](0)
	if rb.Cap() != 1 {
		t.Errorf("Expected capacity 1 for non-positive input, got %d", rb.Cap())
	}
	if _, ok := rb.First(); ok {
		t.Error("Empty buffer should not return first element")
	}
	if _, ok := rb.Last(); ok {
		t.Error("Empty buffer should not return last element")
	}
	rb.Push(1.5)
	rb.Push(2.5)
	if rb.Len() != 1 || rb.At(0) != 2.5 {
		t.Errorf("Expected single element 2.5, got %v", rb.Values())
	}
	rb.Reset()
	if rb.Len() != 0 {
		t.Errorf("Expected empty buffer after reset, got %d", rb.Len())
	}
}
