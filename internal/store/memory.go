package store

import (
	"context"
	"path"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for local development and tests.
// Expiry is checked lazily on access.
type MemoryStore struct {
	mu      sync.RWMutex
	strings map[string]string
	hashes  map[string]map[string]string
	lists   map[string][]string
	expiry  map[string]time.Time
	now     func() time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		strings: make(map[string]string),
		hashes:  make(map[string]map[string]string),
		lists:   make(map[string][]string),
		expiry:  make(map[string]time.Time),
		now:     time.Now,
	}
}

// expired reports whether key has a passed deadline. Caller holds at least
// a read lock.
func (s *MemoryStore) expired(key string) bool {
	deadline, ok := s.expiry[key]
	return ok && s.now().After(deadline)
}

// purge removes an expired key. Caller holds the write lock.
func (s *MemoryStore) purge(key string) {
	delete(s.strings, key)
	delete(s.hashes, key)
	delete(s.lists, key)
	delete(s.expiry, key)
}

func (s *MemoryStore) GetHash(ctx context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired(key) {
		s.purge(key)
	}
	out := make(map[string]string, len(s.hashes[key]))
	for k, v := range s.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) SetHash(ctx context.Context, key string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired(key) {
		s.purge(key)
	}
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]string, len(fields))
		s.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired(key) {
		s.purge(key)
	}
	val, ok := s.strings[key]
	if !ok {
		return "", ErrNotFound
	}
	return val, nil
}

func (s *MemoryStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strings[key] = value
	// SET clears any previous TTL, matching redis
	delete(s.expiry, key)
	return nil
}

func (s *MemoryStore) Append(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired(key) {
		s.purge(key)
	}
	s.lists[key] = append(s.lists[key], value)
	return nil
}

func (s *MemoryStore) Pop(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired(key) {
		s.purge(key)
	}
	list := s.lists[key]
	if len(list) == 0 {
		return "", ErrNotFound
	}
	head := list[0]
	if len(list) == 1 {
		delete(s.lists, key)
	} else {
		s.lists[key] = list[1:]
	}
	return head, nil
}

func (s *MemoryStore) Range(ctx context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired(key) {
		s.purge(key)
	}
	list := s.lists[key]
	n := int64(len(list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop || start >= n {
		return []string{}, nil
	}
	out := make([]string, stop-start+1)
	copy(out, list[start:stop+1])
	return out, nil
}

func (s *MemoryStore) PopPush(ctx context.Context, src, dst string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired(src) {
		s.purge(src)
	}
	if s.expired(dst) {
		s.purge(dst)
	}
	list := s.lists[src]
	if len(list) == 0 {
		return "", ErrNotFound
	}
	head := list[0]
	if len(list) == 1 {
		delete(s.lists, src)
	} else {
		s.lists[src] = list[1:]
	}
	s.lists[dst] = append(s.lists[dst], head)
	return head, nil
}

func (s *MemoryStore) Remove(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired(key) {
		s.purge(key)
	}
	list := s.lists[key]
	for i, v := range list {
		if v != value {
			continue
		}
		list = append(list[:i], list[i+1:]...)
		if len(list) == 0 {
			delete(s.lists, key)
		} else {
			s.lists[key] = list
		}
		break
	}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		s.purge(key)
	}
	return nil
}

func (s *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.strings[key]; !ok {
		if _, ok := s.hashes[key]; !ok {
			if _, ok := s.lists[key]; !ok {
				return nil
			}
		}
	}
	s.expiry[key] = s.now().Add(ttl)
	return nil
}

func (s *MemoryStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	seen := make(map[string]bool)
	collect := func(key string) {
		if seen[key] || s.expired(key) {
			return
		}
		if ok, _ := path.Match(pattern, key); ok {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	for key := range s.strings {
		collect(key)
	}
	for key := range s.hashes {
		collect(key)
	}
	for key := range s.lists {
		collect(key)
	}
	return keys, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
