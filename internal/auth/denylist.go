package auth

import (
	"context"
	"sync"
	"time"
)

// Denylist is a revocation set keyed by token jti. Entries carry the
// token's own expiry so the set never outlives the tokens it blocks.
// Implementations must treat an entry whose expiry has passed as absent.
type Denylist interface {
	Add(ctx context.Context, jti string, expiresAt time.Time) error
	Contains(ctx context.Context, jti string) (bool, error)
}

// MemoryDenylist is the process-local implementation. Expired entries
// are dropped lazily on read; Sweep offers a periodic full pass.
type MemoryDenylist struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewMemoryDenylist() *MemoryDenylist {
	return &MemoryDenylist{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (d *MemoryDenylist) Add(_ context.Context, jti string, expiresAt time.Time) error {
	if jti == "" {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[jti] = expiresAt
	return nil
}

func (d *MemoryDenylist) Contains(_ context.Context, jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	expiresAt, ok := d.entries[jti]
	if !ok {
		return false, nil
	}
	if d.now().After(expiresAt) {
		delete(d.entries, jti)
		return false, nil
	}

	return true, nil
}

// Sweep removes every expired entry and returns how many were dropped.
func (d *MemoryDenylist) Sweep() int {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for jti, expiresAt := range d.entries {
		if now.After(expiresAt) {
			delete(d.entries, jti)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep on the given interval until ctx is cancelled.
func (d *MemoryDenylist) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.Sweep()
			}
		}
	}()
}
