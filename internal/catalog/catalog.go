// Package catalog holds the set of remote operations available for invocation.
// A reload swaps in a fully-built snapshot; readers never observe a partial
// catalog, and a failed reload leaves the previous snapshot intact.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vnstockai/chat-gateway/internal/mcp"
	"github.com/vnstockai/chat-gateway/internal/observability"
	"github.com/vnstockai/chat-gateway/internal/resilience"
)

var (
	// ErrCatalogUnavailable marks a fetch that could not complete
	ErrCatalogUnavailable = errors.New("tool catalog unavailable")

	// ErrUnknownTool marks a lookup for a name absent from the catalog
	ErrUnknownTool = errors.New("unknown tool")
)

// ToolLister fetches the full operation list from the tool server
type ToolLister interface {
	ListTools(ctx context.Context) ([]mcp.ToolDescriptor, error)
}

// snapshot is one immutable generation of the catalog
type snapshot struct {
	byName   map[string]mcp.ToolDescriptor
	ordered  []mcp.ToolDescriptor
	loadedAt time.Time
}

// Catalog caches ToolDescriptors keyed by name. It is the only shared mutable
// resource between orchestration cycles; reads never block on a reload.
type Catalog struct {
	lister ToolLister
	ttl    time.Duration
	retry  *resilience.RetryConfig

	mu   sync.RWMutex
	snap *snapshot
}

// New creates an empty catalog. The first EnsureFresh or Load populates it.
func New(lister ToolLister, ttl time.Duration, retry *resilience.RetryConfig) *Catalog {
	return &Catalog{
		lister: lister,
		ttl:    ttl,
		retry:  retry,
	}
}

// Load fetches the operation list and atomically replaces the snapshot.
// On failure the previous snapshot, if any, stays intact.
func (c *Catalog) Load(ctx context.Context) error {
	var descriptors []mcp.ToolDescriptor

	err := resilience.Retry(ctx, func(ctx context.Context) error {
		var listErr error
		descriptors, listErr = c.lister.ListTools(ctx)
		return listErr
	}, c.retry, resilience.IsRetryableNetworkError)

	if err != nil {
		observability.RecordCatalogReload(false, 0)
		return fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}

	byName := make(map[string]mcp.ToolDescriptor, len(descriptors))
	for _, d := range descriptors {
		byName[d.Name] = d
	}

	next := &snapshot{
		byName:   byName,
		ordered:  descriptors,
		loadedAt: time.Now(),
	}

	c.mu.Lock()
	c.snap = next
	c.mu.Unlock()

	observability.RecordCatalogReload(true, len(descriptors))
	logger := observability.GetLogger()
	logger.Info().Int("tools", len(descriptors)).Msg("tool catalog loaded")
	return nil
}

// EnsureFresh loads the catalog when it has never been loaded or its TTL has
// expired. A stale catalog that fails to reload is kept and no error is
// returned; only a missing catalog makes the failure fatal.
func (c *Catalog) EnsureFresh(ctx context.Context) error {
	c.mu.RLock()
	snap := c.snap
	c.mu.RUnlock()

	if snap != nil && (c.ttl <= 0 || time.Since(snap.loadedAt) < c.ttl) {
		return nil
	}

	if err := c.Load(ctx); err != nil {
		if snap != nil {
			logger := observability.GetLogger()
			logger.Warn().Err(err).Msg("catalog refresh failed, keeping stale snapshot")
			return nil
		}
		return err
	}
	return nil
}

// Get returns the descriptor for name or ErrUnknownTool
func (c *Catalog) Get(name string) (mcp.ToolDescriptor, error) {
	c.mu.RLock()
	snap := c.snap
	c.mu.RUnlock()

	if snap == nil {
		return mcp.ToolDescriptor{}, fmt.Errorf("%w: %q (catalog not loaded)", ErrUnknownTool, name)
	}
	d, ok := snap.byName[name]
	if !ok {
		return mcp.ToolDescriptor{}, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	return d, nil
}

// All returns the descriptors of the current snapshot in listing order
func (c *Catalog) All() []mcp.ToolDescriptor {
	c.mu.RLock()
	snap := c.snap
	c.mu.RUnlock()

	if snap == nil {
		return nil
	}
	return snap.ordered
}

// IsLoaded reports whether a snapshot has ever been installed
func (c *Catalog) IsLoaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap != nil
}

// LoadedAt returns the load timestamp of the current snapshot
func (c *Catalog) LoadedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap == nil {
		return time.Time{}
	}
	return c.snap.loadedAt
}

// Invalidate forces the next EnsureFresh to reload
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	if c.snap != nil {
		c.snap = &snapshot{
			byName:   c.snap.byName,
			ordered:  c.snap.ordered,
			loadedAt: time.Time{},
		}
	}
	c.mu.Unlock()
}
