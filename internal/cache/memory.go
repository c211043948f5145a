package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend keeps entries in process memory. It is used in development,
// where nothing needs to survive the process.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		entries: make(map[string]Entry),
	}
}

func (b *MemoryBackend) Name() string {
	return "memory"
}

func (b *MemoryBackend) Get(_ context.Context, key string) (Entry, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entry, ok := b.entries[key]
	return entry, ok, nil
}

func (b *MemoryBackend) Set(_ context.Context, entry Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[entry.Key] = entry
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, keys ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, key := range keys {
		delete(b.entries, key)
	}
	return nil
}

func (b *MemoryBackend) Sweep(_ context.Context, now time.Time) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var removed int64
	for key, entry := range b.entries {
		if entry.ExpiresAt <= now.UnixMilli() {
			delete(b.entries, key)
			removed++
		}
	}
	return removed, nil
}

func (b *MemoryBackend) Close() error {
	return nil
}
