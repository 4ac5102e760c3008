// Package boundedset implements a fixed-capacity append-only set, the Go
// stand-in for the spec's on-chain fixed-size arrays (the vault registry's
// stMint entries and vault entries): once built, its backing array never
// reallocates.
package boundedset

import "github.com/ncn-labs/tip-router/internal/ncnerrors"

// BoundedSet holds up to a fixed capacity of T, in insertion order, with no
// implicit growth past that capacity.
type BoundedSet[T any] struct {
	items []T
	cap   int
}

// New allocates a BoundedSet with room for exactly capacity items.
func New[T any](capacity int) *BoundedSet[T] {
	return &BoundedSet[T]{items: make([]T, 0, capacity), cap: capacity}
}

// Len returns the number of items currently held.
func (b *BoundedSet[T]) Len() int {
	return len(b.items)
}

// Cap returns the fixed capacity.
func (b *BoundedSet[T]) Cap() int {
	return b.cap
}

// Full reports whether Len has reached Cap.
func (b *BoundedSet[T]) Full() bool {
	return len(b.items) >= b.cap
}

// Append adds an item, returning ncnerrors.ErrCapacityExceeded if the set is
// already full.
func (b *BoundedSet[T]) Append(item T) error {
	if b.Full() {
		return ncnerrors.ErrCapacityExceeded
	}
	b.items = append(b.items, item)
	return nil
}

// At returns the item at index i and whether i was in range.
func (b *BoundedSet[T]) At(i int) (T, bool) {
	var zero T
	if i < 0 || i >= len(b.items) {
		return zero, false
	}
	return b.items[i], true
}

// Find returns the index of the first item for which match returns true, or
// -1 if none matches.
func (b *BoundedSet[T]) Find(match func(T) bool) int {
	for i, item := range b.items {
		if match(item) {
			return i
		}
	}
	return -1
}

// Each calls fn for every item in insertion order.
func (b *BoundedSet[T]) Each(fn func(int, T)) {
	for i, item := range b.items {
		fn(i, item)
	}
}

// Replace overwrites the item at index i, returning ncnerrors.ErrRangeOutOfBounds
// if i is out of range.
func (b *BoundedSet[T]) Replace(i int, item T) error {
	if i < 0 || i >= len(b.items) {
		return ncnerrors.ErrRangeOutOfBounds
	}
	b.items[i] = item
	return nil
}
