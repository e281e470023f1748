package location

import (
	"sync"
	"time"

	"tracklog/internal/types"
)

// ContinuityCache holds the last successfully acquired fix and the wall
// time it was recorded. It is a deliberate size-1 cache: only continuity of
// the very last point matters for gap-filling, not a history.
//
// The pacing loop is the sole writer; the status server reads concurrently,
// so access goes through a RWMutex.
type ContinuityCache struct {
	mu         sync.RWMutex
	fix        *types.Fix
	recordedAt time.Time
}

// NewContinuityCache creates an empty cache.
func NewContinuityCache() *ContinuityCache {
	return &ContinuityCache{}
}

// Record stores the fix and its recording time, replacing any prior entry.
func (c *ContinuityCache) Record(fix *types.Fix, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fix = fix
	c.recordedAt = now
}

// ReuseCandidate returns the stored fix when it was recorded no longer than
// maxAge before now. An expired entry stays in storage but is decisionally
// unusable until a new Record call supersedes it.
func (c *ContinuityCache) ReuseCandidate(now time.Time, maxAge time.Duration) *types.Fix {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.fix == nil {
		return nil
	}
	if now.Sub(c.recordedAt) > maxAge {
		return nil
	}
	return c.fix
}

// Last returns the stored fix and its recording time regardless of age.
// Used by the status endpoint; returns nil when nothing was ever recorded.
func (c *ContinuityCache) Last() (*types.Fix, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fix, c.recordedAt
}
