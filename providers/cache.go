// Package providers maintains the per-network provider cache. Providers are
// built lazily on first use; a network whose provider fails to initialize is
// degraded without taking the rest of the facilitator down.
package providers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vitwit/x402-facilitator/chain"
	"github.com/vitwit/x402-facilitator/logger"
	"github.com/vitwit/x402-facilitator/registry"
	"github.com/vitwit/x402-facilitator/types"
)

// Builder constructs a provider for one network. It is called at most once
// per network for the lifetime of the cache.
type Builder func(ctx context.Context, net *registry.Network) (chain.Provider, error)

// initTimeout bounds provider initialization independently of any caller.
const initTimeout = 15 * time.Second

// Cache hands out one provider per enabled network. Concurrent first
// requests for the same network share a single initialization; both success
// and failure are cached, so a misconfigured network fails fast on every
// subsequent payment instead of re-dialing.
type Cache struct {
	enabled map[string]*registry.Network
	ordered []*registry.Network
	build   Builder
	log     logger.Logger

	group singleflight.Group

	mu     sync.RWMutex
	ready  map[string]chain.Provider
	failed map[string]error
}

// NewCache builds a cache over the networks the deployment has configured.
func NewCache(nets []*registry.Network, build Builder, log logger.Logger) *Cache {
	if log == nil {
		log = logger.NoopLogger{}
	}
	enabled := make(map[string]*registry.Network, len(nets))
	for _, n := range nets {
		enabled[n.Name] = n
	}
	return &Cache{
		enabled: enabled,
		ordered: nets,
		build:   build,
		log:     log,
		ready:   make(map[string]chain.Provider),
		failed:  make(map[string]error),
	}
}

// Networks returns the enabled networks in registration order.
func (c *Cache) Networks() []*registry.Network {
	out := make([]*registry.Network, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// Get returns the provider for a canonical network name, initializing it on
// first use.
func (c *Cache) Get(ctx context.Context, name string) (chain.Provider, error) {
	net, ok := c.enabled[name]
	if !ok {
		return nil, types.NewConclusive(types.ErrCodeUnsupportedNetwork,
			fmt.Sprintf("network %q is not enabled", name), nil)
	}

	c.mu.RLock()
	if p, ok := c.ready[name]; ok {
		c.mu.RUnlock()
		return p, nil
	}
	if err, ok := c.failed[name]; ok {
		c.mu.RUnlock()
		return nil, err
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do(name, func() (interface{}, error) {
		// Another caller may have finished while we queued.
		c.mu.RLock()
		p, okReady := c.ready[name]
		cached, okFailed := c.failed[name]
		c.mu.RUnlock()
		if okReady {
			return p, nil
		}
		if okFailed {
			return nil, cached
		}

		// Initialization runs detached from the request context. The result
		// outlives the request either way, and a caller hanging up mid-dial
		// must not poison the network for every payment after it.
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), initTimeout)
		defer cancel()

		p, buildErr := c.build(bctx, net)
		c.mu.Lock()
		defer c.mu.Unlock()
		if buildErr != nil {
			c.failed[name] = buildErr
			c.log.Error("provider initialization failed", map[string]any{
				"network": name,
				"error":   buildErr.Error(),
			})
			return nil, buildErr
		}
		c.ready[name] = p
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(chain.Provider), nil
}

// Peek returns an already-initialized provider without triggering
// initialization.
func (c *Cache) Peek(name string) (chain.Provider, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.ready[name]
	return p, ok
}

// Close shuts down every initialized provider.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, p := range c.ready {
		p.Close()
		delete(c.ready, name)
	}
}
