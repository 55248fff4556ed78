package sessionstore

import (
	"context"
	"sync"
	"time"
)

// MemoryStore 未配置 Redis 时使用的进程内存储
type MemoryStore struct {
	mu        sync.Mutex
	ttl       time.Duration
	now       func() time.Time
	items     map[string]memoryItem
	nextSweep time.Time
}

type memoryItem struct {
	value     string
	expiresAt time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, now: time.Now, items: map[string]memoryItem{}}
}

func (s *MemoryStore) Get(_ context.Context, sid, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := storageKey(sid, key)
	item, ok := s.items[k]
	if !ok {
		return "", ErrNotFound
	}
	if s.ttl > 0 && !s.now().Before(item.expiresAt) {
		delete(s.items, k)
		return "", ErrNotFound
	}
	return item.value, nil
}

func (s *MemoryStore) Set(_ context.Context, sid, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.sweep(now)
	s.items[storageKey(sid, key)] = memoryItem{value: value, expiresAt: now.Add(s.ttl)}
	return nil
}

// sweep 删除所有过期条目，每个 TTL 周期最多执行一次
func (s *MemoryStore) sweep(now time.Time) {
	if s.ttl <= 0 || now.Before(s.nextSweep) {
		return
	}
	for k, item := range s.items {
		if !now.Before(item.expiresAt) {
			delete(s.items, k)
		}
	}
	s.nextSweep = now.Add(s.ttl)
}

func (s *MemoryStore) Delete(_ context.Context, sid string, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.items, storageKey(sid, k))
	}
	return nil
}
