// Package cache holds the read-side response cache used by the HTTP API.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// ResponseCache stores rendered API responses keyed by request. Entries
// expire after the backend's TTL; index runs invalidate a contract's entries
// by prefix.
type ResponseCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	InvalidatePrefix(ctx context.Context, prefix string) error
	Close() error
}

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendNone   = "none"
)

// Config selects and sizes a backend.
type Config struct {
	Backend  string
	TTL      time.Duration
	Capacity int
	MaxBytes int64
	RedisURL string
}

// New builds the configured backend. BackendNone yields a nil cache, which
// callers treat as disabled.
func New(ctx context.Context, cfg Config) (ResponseCache, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendMemory:
		return NewMemory(cfg.Capacity, cfg.MaxBytes, cfg.TTL), nil
	case BackendRedis:
		return NewRedis(ctx, cfg.RedisURL, cfg.TTL)
	case BackendNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// AssetsKey and OrdersKey share the ContractPrefix so one invalidation
// clears every cached view of a contract.
func AssetsKey(contract string, page, limit int) string {
	return fmt.Sprintf("%sassets:%d:%d", ContractPrefix(contract), page, limit)
}

func OrdersKey(contract string) string {
	return ContractPrefix(contract) + "orders"
}

// SupplyKey is a contract view too: a finished run may change the supply.
// tokenID < 0 selects the collection-wide supply.
func SupplyKey(contract, standard string, tokenID int64) string {
	if tokenID < 0 {
		return fmt.Sprintf("%ssupply:%s", ContractPrefix(contract), strings.ToLower(standard))
	}
	return fmt.Sprintf("%ssupply:%s:%d", ContractPrefix(contract), strings.ToLower(standard), tokenID)
}

func NameKey(name string) string {
	return "ens:" + strings.ToLower(name)
}

// ProxyKey hashes the forwarded path and query so arbitrary upstream URLs
// map to fixed-size keys.
func ProxyKey(path, rawQuery string) string {
	sum := sha256.Sum256([]byte(path + "?" + rawQuery))
	return "marketplace:" + hex.EncodeToString(sum[:])
}

func ContractPrefix(contract string) string {
	return "nft:" + strings.ToLower(contract) + ":"
}
