package cachestore

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

type memEntry struct {
	val     string
	set     map[string]bool
	list    []string
	expires time.Time
}

// MemStore is an in-process Store. Now may be replaced to simulate a clock in tests.
type MemStore struct {
	Now func() time.Time

	mu   sync.Mutex
	data map[string]*memEntry
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		Now:  time.Now,
		data: make(map[string]*memEntry),
	}
}

// lookup returns a live entry, dropping it if expired. Caller holds mu.
func (s *MemStore) lookup(key string) *memEntry {
	e, ok := s.data[key]
	if !ok {
		return nil
	}
	if !e.expires.IsZero() && !s.Now().Before(e.expires) {
		delete(s.data, key)
		return nil
	}
	return e
}

func (s *MemStore) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.Now().Add(ttl)
}

func (s *MemStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	old := s.lookup(key)
	if old != nil {
		v, err := strconv.ParseInt(old.val, 10, 64)
		if err != nil {
			return 0, err
		}
		n = v
	}
	n++
	e := &memEntry{val: strconv.FormatInt(n, 10)}
	if ttl > 0 {
		e.expires = s.deadline(ttl)
	} else if old != nil {
		e.expires = old.expires
	}
	s.data[key] = e
	return n, nil
}

func (s *MemStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e := s.lookup(key); e != nil {
		return e.val, nil
	}
	return "", nil
}

func (s *MemStore) Set(ctx context.Context, key, val string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = &memEntry{val: val, expires: s.deadline(ttl)}
	return nil
}

func (s *MemStore) SetNX(ctx context.Context, key, val string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lookup(key) != nil {
		return false, nil
	}
	s.data[key] = &memEntry{val: val, expires: s.deadline(ttl)}
	return true, nil
}

func (s *MemStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(key)
	if e == nil {
		return TTLMissing, nil
	}
	if e.expires.IsZero() {
		return TTLNoExpiry, nil
	}
	return e.expires.Sub(s.Now()), nil
}

func (s *MemStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

func (s *MemStore) SAdd(ctx context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(key)
	if e == nil {
		e = &memEntry{}
		s.data[key] = e
	}
	if e.set == nil {
		e.set = make(map[string]bool)
	}
	e.set[member] = true
	return nil
}

func (s *MemStore) SMembers(ctx context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []string{}
	if e := s.lookup(key); e != nil {
		for m := range e.set {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemStore) LPushTrim(ctx context.Context, key, val string, maxLen int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(key)
	if e == nil {
		e = &memEntry{}
		s.data[key] = e
	}
	e.list = append([]string{val}, e.list...)
	if maxLen > 0 && int64(len(e.list)) > maxLen {
		e.list = e.list[:maxLen]
	}
	return int64(len(e.list)), nil
}

func (s *MemStore) LRange(ctx context.Context, key string, limit int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(key)
	if e == nil {
		return []string{}, nil
	}
	n := int64(len(e.list))
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]string, n)
	copy(out, e.list[:n])
	return out, nil
}

func (s *MemStore) LLen(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e := s.lookup(key); e != nil {
		return int64(len(e.list)), nil
	}
	return 0, nil
}

func (s *MemStore) RPop(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(key)
	if e == nil || len(e.list) == 0 {
		return "", nil
	}
	last := e.list[len(e.list)-1]
	e.list = e.list[:len(e.list)-1]
	return last, nil
}
