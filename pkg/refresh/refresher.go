package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/agentstation/utc"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/softfuse/softfuse/pkg/catalog"
	"github.com/softfuse/softfuse/pkg/errors"
	"github.com/softfuse/softfuse/pkg/logging"
	"github.com/softfuse/softfuse/pkg/sources"
	"github.com/softfuse/softfuse/pkg/storage"
)

const (
	// DefaultConcurrency bounds in-flight fetches per source.
	DefaultConcurrency = 4

	// DefaultRequestsPerSecond is the per-source rate limit.
	DefaultRequestsPerSecond = 5

	// breakerConsecutiveFailures trips a source's circuit.
	breakerConsecutiveFailures = 3

	// breakerOpenFor is how long a tripped circuit rejects fetches
	// before probing the provider again.
	breakerOpenFor = 30 * time.Second
)

// Invalidator drops cached projections after a record mutation.
type Invalidator interface {
	Invalidate(softwareID int64)
}

// Result summarizes one refresh run.
type Result struct {
	RunID      string
	Candidates int
	Fetched    int // records updated from their provider
	Missing    int // provider affirmatively had no record
	Failed     int // transient failures, retried next cycle
	Skipped    int // rejected by an open circuit
	Duration   time.Duration
}

// Refresher re-fetches stale external records. One provider's outage
// never blocks the refresh of other providers' records: transient fetch
// failures are logged and skipped, and a consistently failing source is
// cut off by its circuit breaker for the rest of the run.
type Refresher struct {
	store       storage.Store
	registry    *sources.Registry
	scheduler   *Scheduler
	fetchers    map[catalog.SourceKind]sources.Fetcher
	invalidator Invalidator

	concurrency int
	rps         rate.Limit

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	breakers map[string]*gobreaker.CircuitBreaker
}

// Option configures a Refresher.
type Option func(*Refresher)

// WithConcurrency bounds in-flight fetches per source.
func WithConcurrency(n int) Option {
	return func(r *Refresher) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithRateLimit sets the per-source requests-per-second limit.
func WithRateLimit(rps float64) Option {
	return func(r *Refresher) {
		if rps > 0 {
			r.rps = rate.Limit(rps)
		}
	}
}

// WithInvalidator registers the projection cache to invalidate when a
// linked record changes.
func WithInvalidator(inv Invalidator) Option {
	return func(r *Refresher) {
		r.invalidator = inv
	}
}

// New creates a refresher over the given store, registry, and fetcher
// set (one fetcher per source kind).
func New(store storage.Store, registry *sources.Registry, fetchers map[catalog.SourceKind]sources.Fetcher, opts ...Option) *Refresher {
	r := &Refresher{
		store:       store,
		registry:    registry,
		scheduler:   NewScheduler(store.ExternalRecords()),
		fetchers:    fetchers,
		concurrency: DefaultConcurrency,
		rps:         DefaultRequestsPerSecond,
		limiters:    make(map[string]*rate.Limiter),
		breakers:    make(map[string]*gobreaker.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Scheduler returns the refresher's candidate scheduler.
func (r *Refresher) Scheduler() *Scheduler {
	return r.scheduler
}

// Run refreshes every record due within the staleness window. A zero
// window re-fetches everything. Sources are refreshed concurrently;
// within a source, fetches are bounded by the concurrency limit and
// the source's rate limiter.
func (r *Refresher) Run(ctx context.Context, window time.Duration) (*Result, error) {
	result := &Result{RunID: uuid.NewString()}
	ctx = logging.WithRunID(ctx, result.RunID)
	started := time.Now()

	keys, err := r.scheduler.Due(ctx, window)
	if err != nil {
		return nil, err
	}
	result.Candidates = len(keys)

	bySource := make(map[string][]catalog.RecordKey)
	for _, key := range keys {
		bySource[key.SourceSlug] = append(bySource[key.SourceSlug], key)
	}

	logging.Ctx(ctx).Info().
		Int("candidates", len(keys)).
		Int("sources", len(bySource)).
		Dur("window", window).
		Msg("Refresh run starting")

	var wg sync.WaitGroup
	for slug, slugKeys := range bySource {
		wg.Add(1)
		go func(slug string, slugKeys []catalog.RecordKey) {
			defer wg.Done()
			r.refreshSource(ctx, slug, slugKeys, result)
		}(slug, slugKeys)
	}
	wg.Wait()

	result.Duration = time.Since(started)
	logging.Ctx(ctx).Info().
		Int("fetched", result.Fetched).
		Int("missing", result.Missing).
		Int("failed", result.Failed).
		Int("skipped", result.Skipped).
		Dur("took", result.Duration).
		Msg("Refresh run finished")
	return result, nil
}

// refreshSource works through one source's candidates with bounded
// concurrency.
func (r *Refresher) refreshSource(ctx context.Context, slug string, keys []catalog.RecordKey, result *Result) {
	log := logging.Ctx(ctx).With().Str("source", slug).Logger()

	src, err := r.registry.Require(slug)
	if err != nil {
		// Stored records referencing an unconfigured source stay stale.
		log.Error().Err(err).Int("records", len(keys)).Msg("Source not configured, records left unrefreshed")
		r.count(result, func(res *Result) { res.Failed += len(keys) })
		return
	}

	fetcher, ok := r.fetchers[src.Kind]
	if !ok {
		log.Error().Str("kind", src.Kind.String()).Int("records", len(keys)).Msg("No fetcher for source kind, records left unrefreshed")
		r.count(result, func(res *Result) { res.Failed += len(keys) })
		return
	}

	work := make(chan catalog.RecordKey)
	var wg sync.WaitGroup
	for i := 0; i < r.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for key := range work {
				r.refreshRecord(ctx, src, fetcher, key, result)
			}
		}()
	}

	for _, key := range keys {
		select {
		case work <- key:
		case <-ctx.Done():
			close(work)
			wg.Wait()
			return
		}
	}
	close(work)
	wg.Wait()
}

// refreshRecord fetches one record and writes the result back. Any
// failure is contained here; it never propagates to sibling fetches.
func (r *Refresher) refreshRecord(ctx context.Context, src catalog.Source, fetcher sources.Fetcher, key catalog.RecordKey, result *Result) {
	log := logging.Ctx(ctx).With().
		Str("source", key.SourceSlug).
		Str("external_id", key.ExternalID).
		Logger()

	if err := r.limiter(src.Slug).Wait(ctx); err != nil {
		r.count(result, func(res *Result) { res.Failed++ })
		return
	}

	fields, err := r.fetchThroughBreaker(ctx, src, fetcher, key.ExternalID)
	switch {
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		log.Debug().Msg("Circuit open, skipping record this cycle")
		r.count(result, func(res *Result) { res.Skipped++ })
		return
	case errors.Is(err, errors.ErrNotFound):
		// An affirmative "no such record" still bumps the fetch time so
		// the record does not hot-loop through every cycle.
		if touchErr := r.store.ExternalRecords().Touch(ctx, key, utc.Now()); touchErr != nil {
			log.Warn().Err(touchErr).Msg("Failed to mark record fetched")
		}
		r.count(result, func(res *Result) { res.Missing++ })
		return
	case err != nil:
		log.Warn().Err(err).Msg("Fetch failed, record stays stale this cycle")
		r.count(result, func(res *Result) { res.Failed++ })
		return
	}

	if err := r.writeBack(ctx, key, fields); err != nil {
		log.Warn().Err(err).Msg("Failed to store fetched record")
		r.count(result, func(res *Result) { res.Failed++ })
		return
	}
	r.count(result, func(res *Result) { res.Fetched++ })
}

// writeBack applies fetched fields to the stored record, bumps its
// fetch time, and invalidates any projection built from it.
func (r *Refresher) writeBack(ctx context.Context, key catalog.RecordKey, fields *catalog.RecordFields) error {
	records := r.store.ExternalRecords()

	rec, err := records.Get(ctx, key)
	switch {
	case errors.Is(err, errors.ErrNotFound):
		rec = &catalog.ExternalRecord{SourceSlug: key.SourceSlug, ExternalID: key.ExternalID}
	case err != nil:
		return err
	}

	rec.Apply(*fields)
	now := utc.Now()
	rec.LastFetchAt = &now

	if err := records.Upsert(ctx, rec); err != nil {
		return err
	}

	if r.invalidator != nil && rec.Linked() {
		r.invalidator.Invalidate(*rec.SoftwareID)
	}
	return nil
}

// fetchThroughBreaker runs one fetch guarded by the source's circuit
// breaker. Provider absence is not a failure and must not trip the
// circuit.
func (r *Refresher) fetchThroughBreaker(ctx context.Context, src catalog.Source, fetcher sources.Fetcher, externalID string) (*catalog.RecordFields, error) {
	out, err := r.breaker(src.Slug).Execute(func() (any, error) {
		fields, fetchErr := fetcher.Fetch(ctx, src, externalID)
		if errors.Is(fetchErr, errors.ErrNotFound) {
			return nil, nil
		}
		return fields, fetchErr
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, errors.ErrNotFound
	}
	return out.(*catalog.RecordFields), nil
}

func (r *Refresher) limiter(slug string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[slug]
	if !ok {
		l = rate.NewLimiter(r.rps, 1)
		r.limiters[slug] = l
	}
	return l
}

func (r *Refresher) breaker(slug string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[slug]
	if !ok {
		b = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    slug,
			Timeout: breakerOpenFor,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= breakerConsecutiveFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logging.Warn().
					Str("source", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("Source circuit state changed")
			},
		})
		r.breakers[slug] = b
	}
	return b
}

// count serializes result updates across fetch goroutines.
func (r *Refresher) count(result *Result, update func(*Result)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	update(result)
}
