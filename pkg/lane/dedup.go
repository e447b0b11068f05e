package lane

import (
	"context"
	"sync"
	"time"
)

type dedupEntry struct {
	result    taskResult
	timestamp time.Time
}

// DedupCache caches task results by request id for a bounded window so a
// redelivered request (a gateway retry, a reconnecting client replaying
// its last message) returns the original result instead of running the
// turn again.
type DedupCache struct {
	entries map[string]*dedupEntry
	ttl     time.Duration
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewDedupCache creates a cache whose entries expire after ttl. A
// non-positive ttl defaults to five minutes.
func NewDedupCache(ttl time.Duration) *DedupCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	cache := &DedupCache{
		entries: make(map[string]*dedupEntry),
		ttl:     ttl,
		ctx:     ctx,
		cancel:  cancel,
	}

	go cache.cleanup()
	return cache
}

func (dc *DedupCache) Stop() {
	dc.cancel()
}

// Do executes fn unless a fresh result for requestID is already cached,
// in which case the cached result is returned without running fn. An
// empty requestID bypasses the cache. fn is typically a lane enqueue or
// an RPC handler invocation.
func (dc *DedupCache) Do(requestID string, fn func() (interface{}, error)) (interface{}, error) {
	if requestID == "" {
		return fn()
	}

	if cached, ok := dc.get(requestID); ok {
		return cached.value, cached.err
	}

	value, err := fn()
	dc.set(requestID, taskResult{value: value, err: err})
	return value, err
}

func (dc *DedupCache) get(requestID string) (taskResult, bool) {
	dc.mu.RLock()
	defer dc.mu.RUnlock()

	entry, exists := dc.entries[requestID]
	if !exists || time.Since(entry.timestamp) > dc.ttl {
		return taskResult{}, false
	}
	return entry.result, true
}

func (dc *DedupCache) set(requestID string, result taskResult) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	dc.entries[requestID] = &dedupEntry{
		result:    result,
		timestamp: time.Now(),
	}
}

func (dc *DedupCache) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-dc.ctx.Done():
			return
		case <-ticker.C:
			dc.mu.Lock()
			now := time.Now()
			for requestID, entry := range dc.entries {
				if now.Sub(entry.timestamp) > dc.ttl {
					delete(dc.entries, requestID)
				}
			}
			dc.mu.Unlock()
		}
	}
}

// Size returns the number of cached entries.
func (dc *DedupCache) Size() int {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return len(dc.entries)
}
