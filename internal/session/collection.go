package session

import (
	"sort"
	"time"
)

// collection keeps entities unique by key and ordered by their own
// timestamp, ties broken by arrival order. It is not safe for concurrent use;
// the Store guards it.
type collection[T any] struct {
	key   func(T) string
	stamp func(T) time.Time
	// merge resolves a delivery for a key already present. It may return the
	// existing value unchanged.
	merge func(existing, incoming T) T

	slots []T
	index map[string]struct{}
}

func newCollection[T any](key func(T) string, stamp func(T) time.Time, merge func(existing, incoming T) T) *collection[T] {
	if merge == nil {
		merge = func(existing, _ T) T { return existing }
	}
	return &collection[T]{
		key:   key,
		stamp: stamp,
		merge: merge,
		index: make(map[string]struct{}),
	}
}

// upsert inserts v in timestamp order and reports true, or merges it into the
// existing entry with the same key and reports false.
func (c *collection[T]) upsert(v T) bool {
	k := c.key(v)
	if _, ok := c.index[k]; ok {
		for i := range c.slots {
			if c.key(c.slots[i]) == k {
				c.slots[i] = c.merge(c.slots[i], v)
				break
			}
		}
		return false
	}

	// Entries with an equal timestamp keep arrival order: v goes after them.
	ts := c.stamp(v)
	pos := sort.Search(len(c.slots), func(i int) bool {
		return c.stamp(c.slots[i]).After(ts)
	})
	c.slots = append(c.slots, v)
	copy(c.slots[pos+1:], c.slots[pos:])
	c.slots[pos] = v
	c.index[k] = struct{}{}
	return true
}

func (c *collection[T]) get(k string) (T, bool) {
	if _, ok := c.index[k]; ok {
		for _, v := range c.slots {
			if c.key(v) == k {
				return v, true
			}
		}
	}
	var zero T
	return zero, false
}

func (c *collection[T]) update(k string, fn func(T) T) bool {
	if _, ok := c.index[k]; !ok {
		return false
	}
	for i := range c.slots {
		if c.key(c.slots[i]) == k {
			c.slots[i] = fn(c.slots[i])
			return true
		}
	}
	return false
}

func (c *collection[T]) remove(k string) bool {
	if _, ok := c.index[k]; !ok {
		return false
	}
	delete(c.index, k)
	for i := range c.slots {
		if c.key(c.slots[i]) == k {
			c.slots = append(c.slots[:i], c.slots[i+1:]...)
			break
		}
	}
	return true
}

func (c *collection[T]) items() []T {
	out := make([]T, len(c.slots))
	copy(out, c.slots)
	return out
}

func (c *collection[T]) len() int {
	return len(c.slots)
}

func (c *collection[T]) reset() {
	c.slots = nil
	c.index = make(map[string]struct{})
}
