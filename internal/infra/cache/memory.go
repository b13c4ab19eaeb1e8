package cache

import (
	"context"
	"sync"
	"time"

	"github.com/borisgern/tg-channels-digest/internal/domain"
)

// Memory реализует domain.Cache в памяти процесса.
type Memory struct {
	mu   sync.Mutex
	keys map[string]time.Time
	now  func() time.Time
}

var _ domain.Cache = (*Memory)(nil)

// NewMemory создаёт кэш в памяти.
func NewMemory() *Memory {
	return &Memory{keys: make(map[string]time.Time), now: time.Now}
}

func (m *Memory) acquire(key string, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if exp, ok := m.keys[key]; ok && now.Before(exp) {
		return false
	}
	m.keys[key] = now.Add(ttl)
	return true
}

func (m *Memory) release(key string) {
	m.mu.Lock()
	delete(m.keys, key)
	m.mu.Unlock()
}

// Once выполняет функцию, если ключ ещё не задан.
func (m *Memory) Once(_ context.Context, key string, ttl time.Duration, fn func() error) (bool, error) {
	if !m.acquire(key, ttl) {
		return false, nil
	}
	if err := fn(); err != nil {
		m.release(key)
		return true, err
	}
	return true, nil
}

// WithLock выполняет fn под ключом и освобождает его по завершении.
func (m *Memory) WithLock(_ context.Context, key string, ttl time.Duration, fn func() error) (bool, error) {
	if !m.acquire(key, ttl) {
		return false, nil
	}
	defer m.release(key)
	return true, fn()
}
