package providers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ClientFactory builds a Client for a configuration.
type ClientFactory func(ctx context.Context, cfg ProviderConfiguration) (Client, error)

// CacheObserver receives cache hit/miss notifications. Optional.
type CacheObserver interface {
	RecordClientCacheLookup(ctx context.Context, hit bool)
}

// ClientCache memoizes server-side clients per auth config id. An entry is
// reused only while its configuration is structurally equal to the one
// presented; otherwise a new client replaces it. There is no TTL or size bound:
// the number of entries follows the number of auth configs the host manages.
type ClientCache struct {
	mu       sync.RWMutex
	entries  map[string]*cachedClient
	group    singleflight.Group
	logger   *slog.Logger
	observer CacheObserver
}

type cachedClient struct {
	config ProviderConfiguration
	client Client
}

// NewClientCache creates an empty cache.
func NewClientCache(logger *slog.Logger) *ClientCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClientCache{
		entries: make(map[string]*cachedClient),
		logger:  logger,
	}
}

// SetObserver sets the hit/miss observer.
func (c *ClientCache) SetObserver(o CacheObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observer = o
}

// Get returns the cached client for id when its configuration equals cfg,
// otherwise builds one with factory and caches it under id. Concurrent misses
// for the same id and configuration share a single factory call.
func (c *ClientCache) Get(ctx context.Context, id string, cfg ProviderConfiguration, factory ClientFactory) (Client, error) {
	if client, ok := c.lookup(id, cfg); ok {
		c.record(ctx, true)
		return client, nil
	}
	c.record(ctx, false)

	v, err, _ := c.group.Do(id+"/"+cfg.Fingerprint(), func() (any, error) {
		// Another caller may have stored it while we waited.
		if client, ok := c.lookup(id, cfg); ok {
			return client, nil
		}

		// Waiters share this call, so it must outlive the first caller's cancellation.
		client, err := factory(context.WithoutCancel(ctx), cfg)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		_, replaced := c.entries[id]
		c.entries[id] = &cachedClient{config: cfg, client: client}
		c.mu.Unlock()

		c.logger.Debug("Cached GitHub client",
			"auth_config_id", id,
			"config_fingerprint", cfg.Fingerprint(),
			"replaced", replaced)

		return client, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create github client for auth config %q: %w", id, err)
	}

	return v.(Client), nil
}

func (c *ClientCache) lookup(id string, cfg ProviderConfiguration) (Client, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[id]
	if !ok || !entry.config.Equal(cfg) {
		return nil, false
	}
	return entry.client, true
}

func (c *ClientCache) record(ctx context.Context, hit bool) {
	c.mu.RLock()
	o := c.observer
	c.mu.RUnlock()
	if o != nil {
		o.RecordClientCacheLookup(ctx, hit)
	}
}

// Remove drops the entry for id.
func (c *ClientCache) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

// Clear drops every entry.
func (c *ClientCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cachedClient)
}

// Len returns the number of cached clients.
func (c *ClientCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
