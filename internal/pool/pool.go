package pool

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Poolable is anything a slot can hold. Values are compared by identity so Replace can
// tell whether the slot still holds the value the caller saw.
type Poolable interface {
	comparable
	Close() error
}

// Factory creates a fresh value for a key.
type Factory[T Poolable] func(ctx context.Context) (T, error)

// Slots maps a routing key to at most one live value. A value that is replaced or
// deleted is closed before the slot is refilled.
//
// The factory runs under the slot lock, so two callers racing for an empty key never
// both dial.
type Slots[T Poolable] struct {
	mu    sync.Mutex
	slots map[string]T
}

// NewSlots returns an empty slot map.
func NewSlots[T Poolable]() *Slots[T] {
	return &Slots[T]{slots: make(map[string]T)}
}

// Get returns the value stored under key. When the slot is empty, or stale reports the
// stored value unusable, the old value is closed and factory fills the slot. reused is
// true when an existing value was returned.
func (s *Slots[T]) Get(ctx context.Context, key string, stale func(T) bool, factory Factory[T]) (value T, reused bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.slots[key]; ok {
		if stale == nil || !stale(cur) {
			return cur, true, nil
		}
		_ = cur.Close()
		delete(s.slots, key)
	}

	value, err = factory(ctx)
	if err != nil {
		var zero T
		return zero, false, err
	}
	s.slots[key] = value
	return value, false, nil
}

// Replace closes old and stores a fresh value under key. If another caller already
// replaced old, the current value is returned as is. When factory fails the slot is
// left empty.
func (s *Slots[T]) Replace(ctx context.Context, key string, old T, factory Factory[T]) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.slots[key]; ok {
		if cur != old {
			return cur, nil
		}
		delete(s.slots, key)
	}
	_ = old.Close()

	value, err := factory(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	s.slots[key] = value
	return value, nil
}

// Delete closes and removes the value under key.
func (s *Slots[T]) Delete(key string) error {
	s.mu.Lock()
	cur, ok := s.slots[key]
	delete(s.slots, key)
	s.mu.Unlock()

	if !ok {
		return nil
	}
	return cur.Close()
}

// Len returns the number of occupied slots.
func (s *Slots[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

// Keys returns the occupied keys in sorted order.
func (s *Slots[T]) Keys() []string {
	s.mu.Lock()
	keys := make([]string, 0, len(s.slots))
	for k := range s.slots {
		keys = append(keys, k)
	}
	s.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Close closes every value and empties the map.
func (s *Slots[T]) Close() error {
	s.mu.Lock()
	slots := s.slots
	s.slots = make(map[string]T)
	s.mu.Unlock()

	var errs []string
	for key, value := range slots {
		if err := value.Close(); err != nil {
			errs = append(errs, key+": "+err.Error())
		}
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return fmt.Errorf("pool close errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
