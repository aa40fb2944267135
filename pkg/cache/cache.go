// Package cache provides the rendered-formula cache: serialized response
// envelopes keyed by a digest of the MathML source.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// Key returns the cache key for a MathML source: the hex SHA-256 digest.
func Key(mathml string) string {
	sum := sha256.Sum256([]byte(mathml))
	return hex.EncodeToString(sum[:])
}

// Store holds rendered envelopes by digest.
type Store interface {
	// Get returns the envelope stored under key. ok is false when the key is
	// absent; absence is not an error.
	Get(ctx context.Context, key string) (envelope string, ok bool, err error)
	// Put stores an envelope under key. Last write wins.
	Put(ctx context.Context, key, envelope string) error
}

// MemoryStore is an in-process Store. Safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]string)}
}

// Get returns the envelope stored under key.
func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	envelope, ok := s.entries[key]
	return envelope, ok, nil
}

// Put stores an envelope under key.
func (s *MemoryStore) Put(_ context.Context, key, envelope string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = envelope
	return nil
}
