package event

import (
	"sync"
)

// Signal fans a value out to registered observers, synchronously and in registration order.
//
// Usage:
//
//	cancel := sig.Observe(func(v T) { ... })
//	defer cancel()
type Signal[T any] struct {
	mu        sync.RWMutex
	nextID    uint64
	observers []observer[T]
}

type observer[T any] struct {
	id uint64
	fn func(T)
}

// Observe registers fn and returns a function that unregisters it. The returned function is
// safe to call more than once.
func (s *Signal[T]) Observe(fn func(T)) (cancel func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.observers = append(s.observers, observer[T]{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(id) })
	}
}

func (s *Signal[T]) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, o := range s.observers {
		if o.id == id {
			// Copy so that an in-flight Emit keeps iterating over its own snapshot.
			next := make([]observer[T], 0, len(s.observers)-1)
			next = append(next, s.observers[:i]...)
			s.observers = append(next, s.observers[i+1:]...)
			return
		}
	}
}

// Emit delivers v to every observer. Observers may register or cancel during delivery;
// changes take effect from the next Emit.
func (s *Signal[T]) Emit(v T) {
	s.mu.RLock()
	observers := s.observers
	s.mu.RUnlock()

	for _, o := range observers {
		o.fn(v)
	}
}

// Len returns the number of registered observers.
func (s *Signal[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.observers)
}
