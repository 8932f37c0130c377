package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/strin/fortify/internal/store/model"
)

const (
	findingCacheTTL        = 5 * time.Minute
	findingCacheMaxEntries = 256
)

type findingCacheEntry struct {
	findings model.FindingList
	storedAt time.Time
}

// CacheFindingStore is a wrapper around FindingStore which caches per-job
// finding lists. Findings are immutable once written, so a cached list can
// only ever be stale in one way: it was read before the job completed. The
// TTL bounds that window; expired and overflowing entries are evicted on
// access, oldest first.
type CacheFindingStore struct {
	delegate Finding
	entries  map[uuid.UUID]findingCacheEntry
	mu       sync.Mutex
	now      func() time.Time
}

func NewCacheFindingStore(delegate Finding) Finding {
	return &CacheFindingStore{
		delegate: delegate,
		entries:  make(map[uuid.UUID]findingCacheEntry),
		now:      time.Now,
	}
}

func (c *CacheFindingStore) InitialMigration(ctx context.Context) error {
	return c.delegate.InitialMigration(ctx)
}

func (c *CacheFindingStore) CreateBulk(ctx context.Context, findings []model.Finding) ([]model.Finding, error) {
	created, err := c.delegate.CreateBulk(ctx, findings)
	if err != nil {
		return nil, err
	}

	// drop any list cached while the job was still running
	c.mu.Lock()
	for _, f := range created {
		delete(c.entries, f.JobID)
	}
	c.mu.Unlock()

	return created, nil
}

func (c *CacheFindingStore) ListByJob(ctx context.Context, jobID uuid.UUID) (model.FindingList, error) {
	c.mu.Lock()
	if entry, found := c.entries[jobID]; found {
		if c.now().Sub(entry.storedAt) < findingCacheTTL {
			c.mu.Unlock()
			return entry.findings, nil
		}
		delete(c.entries, jobID)
	}
	c.mu.Unlock()

	findings, err := c.delegate.ListByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.evictLocked()
	c.entries[jobID] = findingCacheEntry{findings: findings, storedAt: c.now()}
	c.mu.Unlock()

	return findings, nil
}

func (c *CacheFindingStore) CountByJob(ctx context.Context, jobID uuid.UUID) (int64, error) {
	return c.delegate.CountByJob(ctx, jobID)
}

// evictLocked removes expired entries and, if the cache is still full, the
// oldest entry. Callers must hold mu.
func (c *CacheFindingStore) evictLocked() {
	now := c.now()
	for id, entry := range c.entries {
		if now.Sub(entry.storedAt) >= findingCacheTTL {
			delete(c.entries, id)
		}
	}

	for len(c.entries) >= findingCacheMaxEntries {
		var oldestID uuid.UUID
		var oldestAt time.Time
		first := true
		for id, entry := range c.entries {
			if first || entry.storedAt.Before(oldestAt) {
				oldestID, oldestAt = id, entry.storedAt
				first = false
			}
		}
		delete(c.entries, oldestID)
	}
}
