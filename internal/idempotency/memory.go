package idempotency

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	transactionID string
	expiresAt     time.Time
}

// Memory is an in-process Store. Entries expire after the retention window
// and are swept at most once per window from Reserve.
type Memory struct {
	ttl       time.Duration
	now       func() time.Time
	mutex     sync.Mutex
	entries   map[string]memoryEntry
	lastSweep time.Time
}

// NewMemory creates an in-process store keeping keys for ttl
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

// Lookup implements Store
func (m *Memory) Lookup(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()

	entry, ok := m.live(key)
	if !ok {
		return "", false, nil
	}
	return entry.transactionID, true, nil
}

// Reserve implements Store
func (m *Memory) Reserve(ctx context.Context, key, transactionID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.sweep()
	if _, ok := m.live(key); ok {
		return false, nil
	}
	m.entries[key] = memoryEntry{transactionID: transactionID, expiresAt: m.now().Add(m.ttl)}
	return true, nil
}

// Release implements Store
func (m *Memory) Release(ctx context.Context, key, transactionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if entry, ok := m.entries[key]; ok && entry.transactionID == transactionID {
		delete(m.entries, key)
	}
	return nil
}

// Len returns the number of entries held, expired or not
func (m *Memory) Len() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.entries)
}

// sweep drops expired entries once per retention window. Callers hold the
// mutex.
func (m *Memory) sweep() {
	now := m.now()
	if now.Sub(m.lastSweep) < m.ttl {
		return
	}
	m.lastSweep = now
	for key, entry := range m.entries {
		if !now.Before(entry.expiresAt) {
			delete(m.entries, key)
		}
	}
}

// live returns the unexpired entry for key, evicting it when stale.
// Callers hold the mutex.
func (m *Memory) live(key string) (memoryEntry, bool) {
	entry, ok := m.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !m.now().Before(entry.expiresAt) {
		delete(m.entries, key)
		return memoryEntry{}, false
	}
	return entry, true
}

var _ Store = (*Memory)(nil)
