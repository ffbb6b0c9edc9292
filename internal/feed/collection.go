// Package feed keeps identity-keyed, newest-first collections of feed items and
// pages older items into them on demand.
package feed

import (
	"bytes"
	"sync"

	json "github.com/goccy/go-json"
)

// UpsertResult reports what Upsert did with an item.
type UpsertResult int

const (
	// Unchanged means an item with the same identity and content was already present.
	Unchanged UpsertResult = iota
	// Inserted means the identity was new and the item was prepended.
	Inserted
	// Replaced means the identity existed and its content was swapped in place.
	Replaced
)

func (r UpsertResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Replaced:
		return "replaced"
	default:
		return "unchanged"
	}
}

// Collection is an ordered set of items keyed by identity. Items are never removed.
type Collection[T any] struct {
	key func(T) string

	mu     sync.RWMutex
	items  []T
	prints map[string][]byte
}

// NewCollection returns an empty collection using key to derive item identity.
func NewCollection[T any](key func(T) string) *Collection[T] {
	return &Collection[T]{key: key, prints: make(map[string][]byte)}
}

// Upsert prepends item when its identity is new, replaces the stored item when the
// serialized content differs and otherwise leaves the collection untouched.
func (c *Collection[T]) Upsert(item T) UpsertResult {
	id := c.key(item)
	content := fingerprint(item)

	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.prints[id]
	if !ok {
		c.items = append(c.items, item)
		copy(c.items[1:], c.items[:len(c.items)-1])
		c.items[0] = item
		c.prints[id] = content
		return Inserted
	}
	if content != nil && bytes.Equal(existing, content) {
		return Unchanged
	}
	for i := range c.items {
		if c.key(c.items[i]) == id {
			c.items[i] = item
			break
		}
	}
	c.prints[id] = content
	return Replaced
}

// Merge appends the items of page whose identity is not yet present, preserving
// page order, and returns how many were appended.
func (c *Collection[T]) Merge(page []T) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	added := 0
	for _, item := range page {
		id := c.key(item)
		if _, ok := c.prints[id]; ok {
			continue
		}
		c.items = append(c.items, item)
		c.prints[id] = fingerprint(item)
		added++
	}
	return added
}

// Items returns a copy of the items, newest first.
func (c *Collection[T]) Items() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]T, len(c.items))
	copy(out, c.items)
	return out
}

// Len returns the number of items.
func (c *Collection[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Contains reports whether an item with identity id is present.
func (c *Collection[T]) Contains(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.prints[id]
	return ok
}

// fingerprint returns the serialized content of item, or nil when it cannot be encoded.
// A nil fingerprint never compares equal, so such items are always replaced.
func fingerprint[T any](item T) []byte {
	b, err := json.Marshal(item)
	if err != nil {
		return nil
	}
	return b
}
