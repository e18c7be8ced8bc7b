package session

import (
	"context"
	"sync"
)

// TokenStore issues generation tokens per scope. A token is strictly larger
// than every token issued before it for the same scope, so a completion can
// tell whether a newer upload started while it was running.
type TokenStore interface {
	Next(ctx context.Context, scope string) (uint64, error)
	Current(ctx context.Context, scope string) (uint64, error)
}

// MemoryTokens is a TokenStore for a single process.
type MemoryTokens struct {
	mu     sync.Mutex
	counts map[string]uint64
}

func NewMemoryTokens() *MemoryTokens {
	return &MemoryTokens{counts: make(map[string]uint64)}
}

func (m *MemoryTokens) Next(_ context.Context, scope string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[scope]++
	return m.counts[scope], nil
}

func (m *MemoryTokens) Current(_ context.Context, scope string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[scope], nil
}
