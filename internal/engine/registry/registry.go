// Package registry provides the concurrent, last-writer-wins index shared by
// indexing workers.
package registry

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Registry is a concurrent map where a later Insert of the same key replaces
// the earlier value. Implementations must be safe for concurrent use without
// caller-side locking.
type Registry[K comparable, V any] interface {
	Insert(key K, value V)
	Get(key K) (V, bool)
	Len() int
	Range(fn func(key K, value V) bool)
}

// SyncMap is a Registry backed by sync.Map with an atomically maintained size.
type SyncMap[K comparable, V any] struct {
	m    sync.Map
	size atomic.Int64
}

var _ Registry[string, int] = (*SyncMap[string, int])(nil)

func NewSyncMap[K comparable, V any]() *SyncMap[K, V] {
	return &SyncMap[K, V]{}
}

func (s *SyncMap[K, V]) Insert(key K, value V) {
	if _, loaded := s.m.Swap(key, value); !loaded {
		s.size.Add(1)
	}
}

func (s *SyncMap[K, V]) Get(key K) (V, bool) {
	v, ok := s.m.Load(key)
	if !ok {
		var zero V
		return zero, false
	}
	return v.(V), true
}

func (s *SyncMap[K, V]) Len() int {
	return int(s.size.Load())
}

// Range visits entries in unspecified order until fn returns false.
func (s *SyncMap[K, V]) Range(fn func(key K, value V) bool) {
	s.m.Range(func(k, v any) bool {
		return fn(k.(K), v.(V))
	})
}

// Keys returns the registry's string keys in sorted order.
func Keys[V any](r Registry[string, V]) []string {
	keys := make([]string, 0, r.Len())
	r.Range(func(key string, _ V) bool {
		keys = append(keys, key)
		return true
	})
	sort.Strings(keys)
	return keys
}
