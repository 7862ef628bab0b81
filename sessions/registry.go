// Package sessions keeps per-session state in memory for a sliding idle TTL.
package sessions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// LoadFunc builds the state of a session that is not in memory.
type LoadFunc[T any] func(ctx context.Context, id string) (T, error)

// Registry loads session state lazily, at most once per id at a time, and
// forgets it after ttl without access. Forgotten state must be rebuildable by
// LoadFunc, i.e. anything durable has to live in a Store. Pinned sessions are
// never forgotten.
type Registry[T any] struct {
	cache *cache.Cache
	group singleflight.Group
	load  LoadFunc[T]
	ttl   time.Duration

	mu     sync.Mutex
	pinned map[string]T
}

// New creates a registry. A ttl <= 0 keeps sessions forever.
func New[T any](ttl time.Duration, load LoadFunc[T]) *Registry[T] {
	exp := ttl
	if exp <= 0 {
		exp = cache.NoExpiration
	}
	cleanup := exp
	if cleanup > 0 {
		cleanup = exp / 2
	}
	return &Registry[T]{
		cache:  cache.New(exp, cleanup),
		load:   load,
		ttl:    exp,
		pinned: make(map[string]T),
	}
}

// Get returns the state of id, loading it on a miss. Every hit extends its TTL.
func (r *Registry[T]) Get(ctx context.Context, id string) (T, error) {
	if v, ok := r.pinnedValue(id); ok {
		return v, nil
	}
	if v, ok := r.cache.Get(id); ok {
		r.cache.Set(id, v, r.ttl)
		return v.(T), nil
	}
	v, err, _ := r.group.Do(id, func() (any, error) {
		// Re-check: another caller may have finished loading meanwhile.
		if v, ok := r.pinnedValue(id); ok {
			return v, nil
		}
		if v, ok := r.cache.Get(id); ok {
			return v, nil
		}
		v, err := r.load(ctx, id)
		if err != nil {
			return nil, err
		}
		r.cache.Set(id, v, r.ttl)
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, fmt.Errorf("load session %s: %w", id, err)
	}
	return v.(T), nil
}

// Pin keeps id in memory until Unpin, whatever its idle time. Gets for a
// pinned id return v and never reload.
func (r *Registry[T]) Pin(id string, v T) {
	r.mu.Lock()
	r.pinned[id] = v
	r.mu.Unlock()
}

// Unpin releases id. It stays in memory for another full ttl.
func (r *Registry[T]) Unpin(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.pinned[id]; ok {
		// Refresh before unpinning so a sweep in between cannot evict it.
		r.cache.Set(id, v, r.ttl)
		delete(r.pinned, id)
	}
}

func (r *Registry[T]) pinnedValue(id string) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.pinned[id]
	if ok {
		r.cache.Set(id, v, r.ttl)
	}
	return v, ok
}

// Len is the number of sessions held in memory, pinned ones included.
func (r *Registry[T]) Len() int {
	items := r.cache.Items()
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(items)
	for id := range r.pinned {
		if _, ok := items[id]; !ok {
			n++
		}
	}
	return n
}

// OnEvicted registers fn to run when a session leaves memory. Expiry of a
// pinned session does not count as leaving.
func (r *Registry[T]) OnEvicted(fn func(id string, v T)) {
	r.cache.OnEvicted(func(id string, v any) {
		r.mu.Lock()
		_, pinned := r.pinned[id]
		r.mu.Unlock()
		if pinned {
			return
		}
		fn(id, v.(T))
	})
}
