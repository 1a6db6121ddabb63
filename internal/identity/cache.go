package identity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/syntrixbase/appview/internal/storage"
)

type cacheEntry struct {
	doc       *DIDDocument
	updatedAt time.Time
}

// Cache memoizes DID documents in memory and in the did_cache table. Stale
// entries are served immediately and refreshed in the background; expired
// entries are resolved again before returning. Handle lookups are not cached.
type Cache struct {
	next     Resolver
	db       storage.Querier
	front    *lru.Cache[string, cacheEntry]
	staleTTL time.Duration
	maxTTL   time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu         sync.Mutex
	refreshing map[string]struct{}
	closed     bool
	wg         sync.WaitGroup
}

// NewCache wraps next. db may be nil, in which case only the in-memory tier
// is used.
func NewCache(next Resolver, db storage.Querier, cfg Config) (*Cache, error) {
	size := cfg.CacheSize
	if size <= 0 {
		size = DefaultConfig().CacheSize
	}
	front, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create DID cache: %w", err)
	}
	return &Cache{
		next:       next,
		db:         db,
		front:      front,
		staleTTL:   cfg.StaleTTL,
		maxTTL:     cfg.MaxTTL,
		now:        time.Now,
		logger:     slog.Default().With("component", "did-cache"),
		refreshing: make(map[string]struct{}),
	}, nil
}

func (c *Cache) ResolveDID(ctx context.Context, did string) (*DIDDocument, error) {
	if entry, ok := c.lookup(ctx, did); ok {
		age := c.now().Sub(entry.updatedAt)
		switch {
		case age < c.staleTTL:
			return entry.doc, nil
		case age < c.maxTTL:
			c.refreshAsync(did)
			return entry.doc, nil
		}
	}
	return c.refresh(ctx, did)
}

func (c *Cache) ResolveHandle(ctx context.Context, handle string) (string, error) {
	return c.next.ResolveHandle(ctx, handle)
}

// Destroy stops scheduling background refreshes and waits for the ones in
// flight.
func (c *Cache) Destroy(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Cache) lookup(ctx context.Context, did string) (cacheEntry, bool) {
	if entry, ok := c.front.Get(did); ok {
		return entry, true
	}
	if c.db == nil {
		return cacheEntry{}, false
	}

	var raw []byte
	var updatedAt time.Time
	err := c.db.QueryRowContext(ctx, `SELECT doc, updated_at FROM did_cache WHERE did = $1`, did).Scan(&raw, &updatedAt)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			c.logger.Warn("Failed to read cached DID document", "did", did, "error", err)
		}
		return cacheEntry{}, false
	}

	var doc DIDDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		c.logger.Warn("Discarding malformed cached DID document", "did", did, "error", err)
		return cacheEntry{}, false
	}
	entry := cacheEntry{doc: &doc, updatedAt: updatedAt}
	c.front.Add(did, entry)
	return entry, true
}

func (c *Cache) refresh(ctx context.Context, did string) (*DIDDocument, error) {
	doc, err := c.next.ResolveDID(ctx, did)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		c.evict(ctx, did)
		return nil, nil
	}
	c.store(ctx, did, doc)
	return doc, nil
}

func (c *Cache) refreshAsync(did string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if _, ok := c.refreshing[did]; ok {
		c.mu.Unlock()
		return
	}
	c.refreshing[did] = struct{}{}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.refreshing, did)
			c.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := c.refresh(ctx, did); err != nil {
			c.logger.Warn("Background DID refresh failed", "did", did, "error", err)
		}
	}()
}

func (c *Cache) store(ctx context.Context, did string, doc *DIDDocument) {
	now := c.now()
	c.front.Add(did, cacheEntry{doc: doc, updatedAt: now})
	if c.db == nil {
		return
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO did_cache (did, doc, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (did) DO UPDATE SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at
	`, did, raw, now)
	if err != nil {
		c.logger.Warn("Failed to persist DID document", "did", did, "error", err)
	}
}

func (c *Cache) evict(ctx context.Context, did string) {
	c.front.Remove(did)
	if c.db == nil {
		return
	}
	if _, err := c.db.ExecContext(ctx, `DELETE FROM did_cache WHERE did = $1`, did); err != nil {
		c.logger.Warn("Failed to evict DID document", "did", did, "error", err)
	}
}

var _ Resolver = (*Cache)(nil)
