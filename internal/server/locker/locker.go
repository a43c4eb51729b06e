// Package locker serializes operations on the same subtree of the hierarchy.
package locker

import (
	"context"
	"slices"
	"sync"

	"golang.org/x/sync/semaphore"
)

type entry struct {
	sem  *semaphore.Weighted
	refs int
}

// Locker is a set of exclusive locks addressed by key. Entries are created on
// demand and dropped once nobody holds or waits for them.
type Locker struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New returns an empty Locker.
func New() *Locker {
	return &Locker{entries: make(map[string]*entry)}
}

func (l *Locker) ref(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *Locker) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.entries[key]
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// Lock acquires every key, in sorted order so that two callers asking for
// overlapping sets never deadlock. It returns a function releasing them all.
// If ctx is done first, nothing stays held and ctx's error is returned.
func (l *Locker) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = normalize(keys)

	held := make([]*entry, 0, len(keys))
	for _, k := range keys {
		e := l.ref(k)
		if err := e.sem.Acquire(ctx, 1); err != nil {
			l.unref(k)
			l.release(keys[:len(held)], held)
			return nil, err
		}
		held = append(held, e)
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(keys, held) })
	}, nil
}

func (l *Locker) release(keys []string, held []*entry) {
	for i := len(held) - 1; i >= 0; i-- {
		held[i].sem.Release(1)
		l.unref(keys[i])
	}
}

// Held reports how many keys currently have holders or waiters.
func (l *Locker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func normalize(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
