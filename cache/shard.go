package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

// entry is a stored cache record. Values are held serialized so the cache
// never hands out a mutable reference to caller-owned data.
type entry struct {
	value     []byte
	expiresAt time.Time
	storedAt  time.Time
}

// shard holds a slice of the key space behind its own lock so concurrent
// access to different keys does not contend on a single global mutex.
type shard struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func newShard() *shard {
	return &shard{entries: make(map[string]*entry)}
}

// shardIndex maps a namespaced key to a shard via FNV-1a.
func shardIndex(key string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

func (s *shard) get(key string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	return e, ok
}

func (s *shard) put(key string, e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = e
}

func (s *shard) delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		return false
	}
	delete(s.entries, key)
	return true
}

// deleteIf removes the key only if it still maps to the same entry. Used by
// readers that observe an expired entry without holding the write lock,
// so a concurrent Set between the read and the delete is not lost.
func (s *shard) deleteIf(key string, e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.entries[key]; ok && cur == e {
		delete(s.entries, key)
	}
}

func (s *shard) size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// expireBefore removes entries whose expiry is at or before now and returns
// how many were removed.
func (s *shard) expireBefore(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, e := range s.entries {
		if !e.expiresAt.After(now) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// keyExpiry is a (key, expiresAt) pair collected for capacity eviction.
type keyExpiry struct {
	key       string
	expiresAt time.Time
}

// snapshotExpiries collects the expiry of every entry in the shard.
func (s *shard) snapshotExpiries(dst []keyExpiry) []keyExpiry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k, e := range s.entries {
		dst = append(dst, keyExpiry{key: k, expiresAt: e.expiresAt})
	}
	return dst
}
