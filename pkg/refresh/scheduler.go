// Package refresh decides which external records are stale enough to
// warrant a re-fetch and orchestrates the re-fetch batches against the
// provider fetchers: bounded concurrency, per-source rate limits and
// circuit breakers, and graceful degradation when a provider is down.
package refresh

import (
	"context"
	"time"

	"github.com/softfuse/softfuse/pkg/catalog"
	"github.com/softfuse/softfuse/pkg/errors"
	"github.com/softfuse/softfuse/pkg/storage"
)

// Scheduler enumerates refresh candidates. It performs no fetching
// itself.
type Scheduler struct {
	records storage.ExternalRecordStore
	now     func() time.Time
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithClock overrides the scheduler's clock. Used in tests.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		s.now = now
	}
}

// NewScheduler creates a scheduler over the given record store.
func NewScheduler(records storage.ExternalRecordStore, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		records: records,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Due returns the keys whose last fetch is unset or older than the
// staleness window. A zero (or negative) window selects every known
// key: full re-scan mode.
func (s *Scheduler) Due(ctx context.Context, window time.Duration) ([]catalog.RecordKey, error) {
	if window <= 0 {
		keys, err := s.records.Keys(ctx)
		if err != nil {
			return nil, errors.WrapResource("list", "external record keys", "", err)
		}
		return keys, nil
	}

	cutoff := s.now().Add(-window)
	keys, err := s.records.StaleKeys(ctx, cutoff)
	if err != nil {
		return nil, errors.WrapResource("list", "stale record keys", "", err)
	}
	return keys, nil
}
