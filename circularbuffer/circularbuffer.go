package circularbuffer

import "sync"

// CircularBuffer keeps the most recent values pushed to it, dropping
// the oldest once capacity is reached. It is safe for concurrent use.
type CircularBuffer[T any] struct {
	values   []T
	position int
	full     bool
	mu       sync.Mutex
}

func New[T any](size int) *CircularBuffer[T] {
	if size < 1 {
		size = 1
	}

	return &CircularBuffer[T]{
		values: make([]T, size),
	}
}

func (cb *CircularBuffer[T]) Push(element T) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.values[cb.position] = element
	cb.position++

	if cb.position >= len(cb.values) {
		cb.position = 0
		cb.full = true
	}
}

func (cb *CircularBuffer[T]) Len() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.length()
}

func (cb *CircularBuffer[T]) length() int {
	if cb.full {
		return len(cb.values)
	}
	return cb.position
}

// Last returns up to n of the newest elements, oldest first.
// A non-positive n returns everything held.
func (cb *CircularBuffer[T]) Last(n int) []T {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	count := cb.length()
	if n <= 0 || n > count {
		n = count
	}

	out := make([]T, 0, n)
	start := cb.position - n
	if start < 0 {
		start += len(cb.values)
	}
	for i := 0; i < n; i++ {
		out = append(out, cb.values[(start+i)%len(cb.values)])
	}
	return out
}

// Each iterates over all elements in the buffer in the order they were inserted
func (cb *CircularBuffer[T]) Each(fn func(T)) {
	for _, v := range cb.Last(0) {
		fn(v)
	}
}
