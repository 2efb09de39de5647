package memory

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/brand-dashboard/internal/brand"
	"github.com/JakeFAU/brand-dashboard/internal/clock/system"
)

type kvEntry struct {
	value     []byte
	expiresAt time.Time
}

// KVStore is a TTL-aware key-value store guarded by a mutex, which makes
// SetNX atomic within a single process.
type KVStore struct {
	mu      sync.Mutex
	entries map[string]kvEntry
	clock   brand.Clock
}

// NewKVStore creates an empty store. A nil clock uses the wall clock.
func NewKVStore(clock brand.Clock) *KVStore {
	if clock == nil {
		clock = system.New()
	}
	return &KVStore{
		entries: make(map[string]kvEntry),
		clock:   clock,
	}
}

// SetNX stores value only when key is absent or expired.
func (s *KVStore) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if entry, ok := s.entries[key]; ok && !entry.expired(now) {
		return false, nil
	}
	s.entries[key] = newEntry(value, now, ttl)
	return true, nil
}

// Set stores value unconditionally.
func (s *KVStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = newEntry(value, s.clock.Now(), ttl)
	return nil
}

// Get returns a copy of the value or brand.ErrKeyNotFound.
func (s *KVStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, brand.ErrKeyNotFound
	}
	if entry.expired(s.clock.Now()) {
		delete(s.entries, key)
		return nil, brand.ErrKeyNotFound
	}
	return append([]byte(nil), entry.value...), nil
}

// CompareAndSwap replaces key's value and ttl only while it holds oldValue.
func (s *KVStore) CompareAndSwap(_ context.Context, key string, oldValue, newValue []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	entry, ok := s.entries[key]
	if !ok || entry.expired(now) || !bytes.Equal(entry.value, oldValue) {
		return false, nil
	}
	s.entries[key] = newEntry(newValue, now, ttl)
	return true, nil
}

// DeleteIfEqual removes key only while it holds value.
func (s *KVStore) DeleteIfEqual(_ context.Context, key string, value []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || entry.expired(s.clock.Now()) || !bytes.Equal(entry.value, value) {
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}

// TTL reports the remaining lifetime of key, or false when it is absent.
func (s *KVStore) TTL(key string) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	now := s.clock.Now()
	if !ok || entry.expired(now) {
		return 0, false
	}
	if entry.expiresAt.IsZero() {
		return -1, true
	}
	return entry.expiresAt.Sub(now), true
}

func newEntry(value []byte, now time.Time, ttl time.Duration) kvEntry {
	entry := kvEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = now.Add(ttl)
	}
	return entry
}

func (e kvEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}
