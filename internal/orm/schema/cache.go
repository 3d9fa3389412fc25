package schema

import "sync"

// viewCache is a lock-guarded map populated on first use. Metadata never
// changes after registration, so computed values are kept for the lifetime
// of the registry.
type viewCache[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]V
}

func newViewCache[K comparable, V any]() *viewCache[K, V] {
	return &viewCache[K, V]{items: make(map[K]V)}
}

// get returns the cached value or computes and stores it. The fast path only
// takes the read lock; the slow path re-checks under the write lock so that
// concurrent callers compute at most once.
func (c *viewCache[K, V]) get(key K, compute func() (V, error)) (V, error) {
	c.mu.RLock()
	v, ok := c.items[key]
	c.mu.RUnlock()
	if ok {
		return v, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.items[key]; ok {
		return v, nil
	}

	v, err := compute()
	if err != nil {
		return v, err
	}
	c.items[key] = v
	return v, nil
}

func (c *viewCache[K, V]) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
