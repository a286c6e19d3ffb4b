// Package safeset provides a mutex-guarded generic set.
package safeset

import "sync"

// SafeSet is a thread-safe set of unique comparable elements.
type SafeSet[T comparable] struct {
	m map[T]struct{}
	sync.RWMutex
}

// NewSafeSet creates and returns a new empty SafeSet.
func NewSafeSet[T comparable]() *SafeSet[T] {
	return &SafeSet[T]{m: make(map[T]struct{})}
}

// Add adds an element to the set.
func (s *SafeSet[T]) Add(value T) {
	s.Lock()
	defer s.Unlock()
	s.m[value] = struct{}{}
}

// TryAdd adds value only if it is absent. The membership test and the
// insertion happen under one lock acquisition.
//
// Parameters:
//   - value: The element to add
//
// Returns:
//   - true if value was added, false if it was already present
func (s *SafeSet[T]) TryAdd(value T) bool {
	s.Lock()
	defer s.Unlock()

	if _, ok := s.m[value]; ok {
		return false
	}

	s.m[value] = struct{}{}
	return true
}

// Remove removes an element from the set. Removing a missing element is a no-op.
func (s *SafeSet[T]) Remove(value T) {
	s.Lock()
	defer s.Unlock()
	delete(s.m, value)
}

// Contains reports whether the set contains value.
func (s *SafeSet[T]) Contains(value T) bool {
	s.RLock()
	defer s.RUnlock()
	_, ok := s.m[value]
	return ok
}

// Size returns the number of elements in the set.
func (s *SafeSet[T]) Size() int {
	s.RLock()
	defer s.RUnlock()
	return len(s.m)
}

// Values returns a snapshot of the elements in unspecified order.
func (s *SafeSet[T]) Values() []T {
	s.RLock()
	defer s.RUnlock()

	values := make([]T, 0, len(s.m))
	for v := range s.m {
		values = append(values, v)
	}

	return values
}
