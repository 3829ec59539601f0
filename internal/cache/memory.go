package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Cache used in tests and single-process setups.
// TTLs are honored lazily on read.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	counts  map[string]int64
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		counts:  make(map[string]int64),
	}
}

func (m *Memory) Ping(_ context.Context) error { return nil }

func (m *Memory) set(key string, value []byte, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	m.entries[key] = memoryEntry{value: value, expiresAt: expires}
}

func (m *Memory) get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(m.entries, key)
		return nil, false
	}
	return e.value, true
}

func (m *Memory) delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

func (m *Memory) SetPayload(_ context.Context, jobID uuid.UUID, payload []byte, ttl time.Duration) error {
	m.set(PayloadKey(jobID), payload, ttl)
	return nil
}

func (m *Memory) GetPayload(_ context.Context, jobID uuid.UUID) ([]byte, bool, error) {
	v, ok := m.get(PayloadKey(jobID))
	return v, ok, nil
}

func (m *Memory) DeletePayload(_ context.Context, jobID uuid.UUID) error {
	m.delete(PayloadKey(jobID))
	return nil
}

func (m *Memory) SetJobState(_ context.Context, jobID uuid.UUID, state string, ttl time.Duration) error {
	m.set(JobStateKey(jobID), []byte(state), ttl)
	return nil
}

func (m *Memory) GetJobState(_ context.Context, jobID uuid.UUID) (string, bool, error) {
	v, ok := m.get(JobStateKey(jobID))
	return string(v), ok, nil
}

func (m *Memory) IncrWithExpiry(_ context.Context, key string, _ time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key]++
	return m.counts[key], nil
}

var _ Cache = (*Memory)(nil)
var _ Cache = (*RedisCache)(nil)
