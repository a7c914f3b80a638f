package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"steamwatch/internal/model"
	"steamwatch/internal/storage"
	logx "steamwatch/pkg/logx"
)

// IdentityResolver turns a normalized identifier into an entity.
type IdentityResolver interface {
	Normalize(input string) string
	Resolve(ctx context.Context, identifier string) (model.IdentityEntry, error)
}

// IdentityCache maps normalized identifiers to resolved entities.
// Entries are refreshed but never evicted.
type IdentityCache struct {
	mu      sync.Mutex
	entries map[string]model.IdentityEntry

	resolver IdentityResolver
	store    storage.Store
	now      func() time.Time
	log      logx.Logger
}

func NewIdentityCache(resolver IdentityResolver, store storage.Store, now func() time.Time, log logx.Logger) *IdentityCache {
	if now == nil {
		now = time.Now
	}
	return &IdentityCache{
		entries:  map[string]model.IdentityEntry{},
		resolver: resolver,
		store:    store,
		now:      now,
		log:      log,
	}
}

func (c *IdentityCache) Load(ctx context.Context) error {
	m, err := c.store.LoadIdentities(ctx)
	if err != nil {
		return fmt.Errorf("load identities: %w", err)
	}
	c.mu.Lock()
	c.entries = m
	c.mu.Unlock()
	return nil
}

func (c *IdentityCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Lookup returns the cached entry for a raw input.
func (c *IdentityCache) Lookup(input string) (model.IdentityEntry, bool) {
	key := c.resolver.Normalize(input)
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e, ok
}

// Resolve returns the cached entry unless force is set or nothing is cached.
// A successful fetch is stored and persisted.
func (c *IdentityCache) Resolve(ctx context.Context, input string, force bool) (model.IdentityEntry, error) {
	key := c.resolver.Normalize(input)
	if !force {
		c.mu.Lock()
		e, ok := c.entries[key]
		c.mu.Unlock()
		if ok && e.EntityID != "" {
			return e, nil
		}
	}
	e, err := c.refresh(ctx, key)
	if err != nil {
		return model.IdentityEntry{}, err
	}
	_ = c.Save(ctx)
	return e, nil
}

func (c *IdentityCache) refresh(ctx context.Context, key string) (model.IdentityEntry, error) {
	e, err := c.resolver.Resolve(ctx, key)
	if err != nil {
		return model.IdentityEntry{}, err
	}
	e.ResolvedAt = c.now().Unix()
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
	return e, nil
}

// Stale lists the keys due for forced re-resolution, sorted for stable sweeps.
func (c *IdentityCache) Stale(now time.Time, interval time.Duration) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for k, e := range c.entries {
		if e.Stale(now, interval) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func (c *IdentityCache) Save(ctx context.Context) error {
	c.mu.Lock()
	snap := make(map[string]model.IdentityEntry, len(c.entries))
	for k, v := range c.entries {
		snap[k] = v
	}
	c.mu.Unlock()
	if err := c.store.SaveIdentities(context.WithoutCancel(ctx), snap); err != nil {
		c.log.Warn("persist identity cache failed", logx.Int("entries", len(snap)), logx.Err(err))
		return fmt.Errorf("persist identities: %w", err)
	}
	return nil
}
