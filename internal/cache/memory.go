package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type memEntry struct {
	val     string
	expires time.Time
}

// MemStore is an in-process Store backed by an expiring LRU. Entries carry
// their own expiry; the LRU-wide TTL only bounds how long anything can live.
// It is safe for concurrent use.
type MemStore struct {
	data *expirable.LRU[string, memEntry]
	now  func() time.Time
}

var _ Store = (*MemStore)(nil)

// NewMemStore creates a MemStore holding at most capacity entries, none of
// which outlives maxTTL.
func NewMemStore(capacity int, maxTTL time.Duration) *MemStore {
	return &MemStore{
		data: expirable.NewLRU[string, memEntry](capacity, nil, maxTTL),
		now:  time.Now,
	}
}

func (s *MemStore) Get(_ context.Context, key string) (string, error) {
	e, ok := s.data.Get(key)
	if !ok {
		return "", ErrMiss
	}
	if !e.expires.IsZero() && !s.now().Before(e.expires) {
		s.data.Remove(key)
		return "", ErrMiss
	}
	return e.val, nil
}

func (s *MemStore) Set(_ context.Context, key, val string, ttl time.Duration) error {
	e := memEntry{val: val}
	if ttl > 0 {
		e.expires = s.now().Add(ttl)
	}
	s.data.Add(key, e)
	return nil
}

func (s *MemStore) Purge(_ context.Context, keys ...string) error {
	for _, k := range keys {
		s.data.Remove(k)
	}
	return nil
}

func (s *MemStore) Ping(context.Context) error { return nil }

func (s *MemStore) Close() error {
	s.data.Purge()
	return nil
}

// Len reports the number of entries currently held.
func (s *MemStore) Len() int { return s.data.Len() }
