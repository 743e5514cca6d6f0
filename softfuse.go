// Package softfuse assembles the catalog engine: multi-source record
// resolution, priority-ordered fusion, staleness-driven refresh, and
// similarity linking, behind one client interface.
package softfuse

import (
	"context"
	"io"
	"sync"
	"time"

	internalsources "github.com/softfuse/softfuse/internal/sources"
	"github.com/softfuse/softfuse/internal/storage/memory"
	"github.com/softfuse/softfuse/internal/storage/sqlite"
	"github.com/softfuse/softfuse/pkg/catalog"
	"github.com/softfuse/softfuse/pkg/errors"
	"github.com/softfuse/softfuse/pkg/fuse"
	"github.com/softfuse/softfuse/pkg/refresh"
	"github.com/softfuse/softfuse/pkg/resolve"
	"github.com/softfuse/softfuse/pkg/similar"
	"github.com/softfuse/softfuse/pkg/sources"
	"github.com/softfuse/softfuse/pkg/storage"
)

// SoftFuse manages a software catalog fed by multiple external
// sources.
type SoftFuse interface {
	// Import resolves a descriptor to a canonical entity, creating one
	// when no match exists, and replaces the entity's similarity set
	// when the descriptor carries one. The bool reports creation.
	Import(ctx context.Context, d catalog.Descriptor) (int64, bool, error)

	// Resolve finds the canonical entity for a descriptor without
	// creating anything.
	Resolve(ctx context.Context, d catalog.Descriptor) (int64, error)

	// Software returns the full view of an entity: canonical fields,
	// the fused external projection, and similar items.
	Software(ctx context.Context, id int64) (*catalog.View, error)

	// List returns canonical entities.
	List(ctx context.Context, opts storage.ListOptions) ([]catalog.Software, error)

	// SetSimilar replaces an entity's similarity set.
	SetSimilar(ctx context.Context, id int64, items []catalog.SimilarityDescriptor) error

	// Similar returns an entity's similar items.
	Similar(ctx context.Context, id int64) ([]catalog.SimilarItem, error)

	// Refresh re-fetches records whose data is older than the
	// configured staleness window.
	Refresh(ctx context.Context) (*refresh.Result, error)

	// AutoRefreshOn begins periodic refreshes if configured.
	AutoRefreshOn() error

	// AutoRefreshOff stops periodic refreshes.
	AutoRefreshOff() error

	// Dereference retires an entity from default listings.
	Dereference(ctx context.Context, id int64, reason string) error

	// Export writes the catalog as YAML.
	Export(ctx context.Context, w io.Writer) error

	// Registry returns the configured source registry.
	Registry() *sources.Registry

	// Close releases the underlying store.
	Close() error
}

// client is the internal implementation of the SoftFuse interface.
type client struct {
	options *options

	store        storage.Store
	registry     *sources.Registry
	resolver     *resolve.Resolver
	materializer *fuse.Materializer
	linker       *similar.Linker
	refresher    *refresh.Refresher

	mu            sync.Mutex
	refreshTicker *time.Ticker
	refreshCancel context.CancelFunc
	stopCh        chan struct{}
}

// New creates a SoftFuse instance. Without options it runs on an
// in-memory store with the default source registry.
func New(opts ...Option) (SoftFuse, error) {
	c := &client{
		options: defaultOptions(),
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(c.options); err != nil {
			return nil, err
		}
	}

	if err := c.setup(); err != nil {
		return nil, err
	}

	if c.options.autoRefresh {
		if err := c.AutoRefreshOn(); err != nil {
			c.store.Close()
			return nil, err
		}
	}
	return c, nil
}

func (c *client) setup() error {
	var err error

	c.registry = c.options.registry
	if c.registry == nil {
		c.registry = sources.Default()
	}

	c.store = c.options.store
	if c.store == nil {
		if c.options.sqliteDSN != "" {
			if c.store, err = sqlite.Open(c.options.sqliteDSN); err != nil {
				return err
			}
		} else {
			c.store = memory.New()
		}
	}

	fetchers := internalsources.NewFetchers(c.options.transport)
	for kind, fetcher := range c.options.fetcherOverrides {
		fetchers[kind] = fetcher
	}

	c.materializer = fuse.NewMaterializer(c.store.ExternalRecords(), c.registry)
	c.resolver = resolve.New(c.store, c.registry, resolve.WithInvalidator(c.materializer))
	c.linker = similar.New(c.store, c.registry)
	c.refresher = refresh.New(c.store, c.registry, fetchers,
		refresh.WithConcurrency(c.options.refreshConcurrency),
		refresh.WithRateLimit(c.options.refreshRPS),
		refresh.WithInvalidator(c.materializer),
	)
	return nil
}

// Import implements SoftFuse.
func (c *client) Import(ctx context.Context, d catalog.Descriptor) (int64, bool, error) {
	id, created, err := c.resolver.ResolveOrCreate(ctx, d)
	if err != nil {
		return 0, false, err
	}
	if d.SimilarItems != nil {
		if err := c.linker.SetSimilar(ctx, id, d.SimilarItems); err != nil {
			return id, created, err
		}
	}
	return id, created, nil
}

// Resolve implements SoftFuse.
func (c *client) Resolve(ctx context.Context, d catalog.Descriptor) (int64, error) {
	return c.resolver.Resolve(ctx, d)
}

// Software implements SoftFuse.
func (c *client) Software(ctx context.Context, id int64) (*catalog.View, error) {
	software, err := c.store.Software().Get(ctx, id)
	if err != nil {
		return nil, err
	}

	projection, err := c.materializer.Projection(ctx, id)
	if err != nil {
		return nil, err
	}

	similarItems, err := c.linker.ListSimilar(ctx, id)
	if err != nil {
		return nil, err
	}

	return &catalog.View{
		Software: *software,
		External: projection,
		Similar:  similarItems,
	}, nil
}

// List implements SoftFuse.
func (c *client) List(ctx context.Context, opts storage.ListOptions) ([]catalog.Software, error) {
	return c.store.Software().List(ctx, opts)
}

// SetSimilar implements SoftFuse.
func (c *client) SetSimilar(ctx context.Context, id int64, items []catalog.SimilarityDescriptor) error {
	return c.linker.SetSimilar(ctx, id, items)
}

// Similar implements SoftFuse.
func (c *client) Similar(ctx context.Context, id int64) ([]catalog.SimilarItem, error) {
	return c.linker.ListSimilar(ctx, id)
}

// Refresh implements SoftFuse.
func (c *client) Refresh(ctx context.Context) (*refresh.Result, error) {
	return c.refresher.Run(ctx, c.options.stalenessWindow)
}

// Dereference implements SoftFuse.
func (c *client) Dereference(ctx context.Context, id int64, reason string) error {
	if reason == "" {
		return errors.NewValidationError("reason", reason, "dereference reason must not be empty")
	}
	if err := c.store.Software().Dereference(ctx, id, reason, nowUTC()); err != nil {
		return err
	}
	c.materializer.Invalidate(id)
	return nil
}

// Registry implements SoftFuse.
func (c *client) Registry() *sources.Registry {
	return c.registry
}

// Close implements SoftFuse.
func (c *client) Close() error {
	if err := c.AutoRefreshOff(); err != nil {
		return err
	}
	return c.store.Close()
}
