package cache

import (
	"context"
	"sync"
	"time"

	"github.com/qbsync/backend/internal/domain/shared"
)

// cleanupInterval is how often expired ledger entries are swept
const cleanupInterval = 5 * time.Minute

// entry is a ledger key with its expiration
type entry struct {
	expiresAt time.Time
}

// InMemoryLedger implements shared.IdempotencyStore using an in-memory map.
// Entries do not survive a restart, so it suits single runs and tests.
type InMemoryLedger struct {
	mu        sync.RWMutex
	entries   map[string]entry
	now       func() time.Time
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewInMemoryLedger creates an in-memory ledger and starts the goroutine
// that sweeps expired entries
func NewInMemoryLedger() *InMemoryLedger {
	l := &InMemoryLedger{
		entries:  make(map[string]entry),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}

	l.wg.Add(1)
	go l.cleanupLoop()

	return l
}

// MarkProcessed records a key with a TTL.
// Returns true if the key was newly recorded, false if it was already present.
func (l *InMemoryLedger) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, exists := l.entries[key]; exists && now.Before(e.expiresAt) {
		return false, nil
	}

	l.entries[key] = entry{expiresAt: now.Add(ttl)}
	return true, nil
}

// IsProcessed checks whether a live entry exists for key
func (l *InMemoryLedger) IsProcessed(ctx context.Context, key string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	e, exists := l.entries[key]
	if !exists {
		return false, nil
	}
	return l.now().Before(e.expiresAt), nil
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (l *InMemoryLedger) Close() error {
	l.closeOnce.Do(func() {
		close(l.stopChan)
		l.wg.Wait()
	})
	return nil
}

func (l *InMemoryLedger) cleanupLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			return
		case <-ticker.C:
			l.cleanup()
		}
	}
}

// cleanup removes expired entries
func (l *InMemoryLedger) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, e := range l.entries {
		if !now.Before(e.expiresAt) {
			delete(l.entries, key)
		}
	}
}

// Size returns the number of entries, expired ones included until swept
func (l *InMemoryLedger) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

var _ shared.IdempotencyStore = (*InMemoryLedger)(nil)
