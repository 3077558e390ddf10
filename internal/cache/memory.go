package cache

import (
	"context"
	"time"

	"github.com/emperorhan/nft-indexer/internal/metrics"
)

const (
	defaultMemoryEntries = 1024
	defaultMemoryTTL     = 30 * time.Second
)

// Memory is an in-process ResponseCache. It is lost on restart and not
// shared between replicas; use the redis backend for that.
type Memory struct {
	lru *bodyLRU
}

// NewMemory sizes the cache by entry count and total body bytes. maxBytes
// <= 0 bounds it by entry count alone.
func NewMemory(capacity int, maxBytes int64, ttl time.Duration) *Memory {
	if capacity <= 0 {
		capacity = defaultMemoryEntries
	}
	if ttl <= 0 {
		ttl = defaultMemoryTTL
	}
	return &Memory{lru: newBodyLRU(capacity, maxBytes, ttl)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.lru.get(key)
	if ok {
		metrics.ResponseCacheLookups.WithLabelValues(BackendMemory, "hit").Inc()
	} else {
		metrics.ResponseCacheLookups.WithLabelValues(BackendMemory, "miss").Inc()
	}
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.lru.put(key, value)
	_, size := m.lru.usage()
	metrics.ResponseCacheBytes.WithLabelValues(BackendMemory).Set(float64(size))
	return nil
}

func (m *Memory) InvalidatePrefix(_ context.Context, prefix string) error {
	m.lru.deletePrefix(prefix)
	_, size := m.lru.usage()
	metrics.ResponseCacheBytes.WithLabelValues(BackendMemory).Set(float64(size))
	return nil
}

func (m *Memory) Close() error { return nil }

// Stats exposes the hit and miss counters.
func (m *Memory) Stats() (hits, misses int64) {
	return m.lru.stats()
}
