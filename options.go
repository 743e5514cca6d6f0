package softfuse

import (
	"time"

	"github.com/agentstation/utc"

	"github.com/softfuse/softfuse/internal/transport"
	"github.com/softfuse/softfuse/pkg/catalog"
	"github.com/softfuse/softfuse/pkg/errors"
	"github.com/softfuse/softfuse/pkg/refresh"
	"github.com/softfuse/softfuse/pkg/sources"
	"github.com/softfuse/softfuse/pkg/storage"
)

// DefaultStalenessWindow is how old a record's data may be before a
// refresh re-fetches it.
const DefaultStalenessWindow = 24 * time.Hour

// DefaultRefreshInterval is how often automatic refreshes run.
const DefaultRefreshInterval = 6 * time.Hour

// refreshRunTimeout bounds one automatic refresh cycle.
const refreshRunTimeout = 30 * time.Minute

// Option is a function that configures a SoftFuse instance.
type Option func(*options) error

type options struct {
	store            storage.Store
	sqliteDSN        string
	registry         *sources.Registry
	transport        *transport.Client
	fetcherOverrides map[catalog.SourceKind]sources.Fetcher

	stalenessWindow    time.Duration
	refreshInterval    time.Duration
	refreshConcurrency int
	refreshRPS         float64
	autoRefresh        bool
}

func defaultOptions() *options {
	return &options{
		stalenessWindow:    DefaultStalenessWindow,
		refreshInterval:    DefaultRefreshInterval,
		refreshConcurrency: refresh.DefaultConcurrency,
		refreshRPS:         refresh.DefaultRequestsPerSecond,
	}
}

// WithStore configures a pre-built store. Takes precedence over
// WithSQLite.
func WithStore(store storage.Store) Option {
	return func(o *options) error {
		if store == nil {
			return errors.NewValidationError("store", nil, "store must not be nil")
		}
		o.store = store
		return nil
	}
}

// WithSQLite configures a SQLite store at the given DSN. Use
// ":memory:" for an ephemeral catalog.
func WithSQLite(dsn string) Option {
	return func(o *options) error {
		if dsn == "" {
			return errors.NewValidationError("dsn", dsn, "dsn must not be empty")
		}
		o.sqliteDSN = dsn
		return nil
	}
}

// WithSources configures the source registry.
func WithSources(registry *sources.Registry) Option {
	return func(o *options) error {
		if registry == nil || registry.Len() == 0 {
			return errors.NewValidationError("registry", nil, "registry must contain at least one source")
		}
		o.registry = registry
		return nil
	}
}

// WithFetcher overrides the fetcher for one source kind. Tests use
// this to point a kind at an httptest server or a stub.
func WithFetcher(kind catalog.SourceKind, fetcher sources.Fetcher) Option {
	return func(o *options) error {
		if !kind.IsValid() {
			return errors.NewValidationError("kind", kind, "unknown source kind")
		}
		if fetcher == nil {
			return errors.NewValidationError("fetcher", nil, "fetcher must not be nil")
		}
		if o.fetcherOverrides == nil {
			o.fetcherOverrides = make(map[catalog.SourceKind]sources.Fetcher)
		}
		o.fetcherOverrides[kind] = fetcher
		return nil
	}
}

// WithTransport configures the HTTP transport shared by the built-in
// fetchers.
func WithTransport(client *transport.Client) Option {
	return func(o *options) error {
		o.transport = client
		return nil
	}
}

// WithStalenessWindow configures how old record data may be before
// Refresh re-fetches it. Zero or negative means every refresh
// re-fetches everything.
func WithStalenessWindow(window time.Duration) Option {
	return func(o *options) error {
		o.stalenessWindow = window
		return nil
	}
}

// WithRefreshInterval configures how often automatic refreshes run.
func WithRefreshInterval(interval time.Duration) Option {
	return func(o *options) error {
		if interval <= 0 {
			return errors.NewValidationError("interval", interval, "refresh interval must be positive")
		}
		o.refreshInterval = interval
		return nil
	}
}

// WithAutoRefresh configures whether periodic refreshes start
// automatically.
func WithAutoRefresh(enabled bool) Option {
	return func(o *options) error {
		o.autoRefresh = enabled
		return nil
	}
}

// WithRefreshConcurrency configures the per-source worker count used
// during refreshes.
func WithRefreshConcurrency(n int) Option {
	return func(o *options) error {
		if n <= 0 {
			return errors.NewValidationError("concurrency", n, "concurrency must be positive")
		}
		o.refreshConcurrency = n
		return nil
	}
}

// WithRefreshRateLimit configures the per-source request rate used
// during refreshes.
func WithRefreshRateLimit(rps float64) Option {
	return func(o *options) error {
		if rps <= 0 {
			return errors.NewValidationError("rps", rps, "rate limit must be positive")
		}
		o.refreshRPS = rps
		return nil
	}
}

func nowUTC() utc.Time {
	return utc.Now()
}
