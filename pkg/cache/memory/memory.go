// Package memory is an in-process completion store with LRU eviction.
package memory

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/pario-ai/promptgate/pkg/models"
)

// Store keeps entries in an expirable LRU. Each entry also carries its own
// creation time and TTL, checked on read against the store's clock, so the
// LRU's eviction only reclaims memory.
type Store struct {
	lru *expirable.LRU[string, models.CacheEntry]
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a Store holding at most size entries (0 for unbounded). maxTTL
// bounds how long the LRU retains an entry; non-positive keeps entries until
// they are displaced.
func New(size int, maxTTL time.Duration, opts ...Option) *Store {
	s := &Store{
		lru: expirable.NewLRU[string, models.CacheEntry](size, nil, maxTTL),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the live value stored under key.
func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	entry, ok := s.lru.Get(key)
	if !ok {
		return "", false, nil
	}
	if entry.Expired(s.now()) {
		s.lru.Remove(key)
		return "", false, nil
	}
	return entry.Value, true, nil
}

// Put stores value under key for ttl.
func (s *Store) Put(_ context.Context, key, value string, ttl time.Duration) error {
	s.lru.Add(key, models.CacheEntry{
		Key:       key,
		Value:     value,
		CreatedAt: s.now(),
		TTL:       ttl,
	})
	return nil
}

// Stats reports the number of resident entries.
func (s *Store) Stats(_ context.Context) (models.CacheStats, error) {
	return models.CacheStats{Entries: int64(s.lru.Len())}, nil
}

// Clear drops every entry.
func (s *Store) Clear(_ context.Context) error {
	s.lru.Purge()
	return nil
}

// Purge removes entries whose TTL has elapsed.
func (s *Store) Purge(_ context.Context) (int64, error) {
	now := s.now()
	var n int64
	for _, key := range s.lru.Keys() {
		if entry, ok := s.lru.Peek(key); ok && entry.Expired(now) {
			s.lru.Remove(key)
			n++
		}
	}
	return n, nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}
