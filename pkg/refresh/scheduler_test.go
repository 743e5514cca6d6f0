package refresh

import (
	"context"
	"testing"
	"time"

	"github.com/agentstation/utc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/softfuse/softfuse/internal/storage/memory"
	"github.com/softfuse/softfuse/pkg/catalog"
)

func TestSchedulerDue(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	records := store.ExternalRecords()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fresh := utc.Time{Time: now.Add(-5 * time.Minute)}
	old := utc.Time{Time: now.Add(-120 * time.Minute)}

	require.NoError(t, records.Upsert(ctx, &catalog.ExternalRecord{
		SourceSlug: "wikidata", ExternalID: "never-fetched",
	}))
	require.NoError(t, records.Upsert(ctx, &catalog.ExternalRecord{
		SourceSlug: "wikidata", ExternalID: "fresh", LastFetchAt: &fresh,
	}))
	require.NoError(t, records.Upsert(ctx, &catalog.ExternalRecord{
		SourceSlug: "hal", ExternalID: "old", LastFetchAt: &old,
	}))

	s := NewScheduler(records, WithClock(func() time.Time { return now }))

	due, err := s.Due(ctx, time.Hour)
	require.NoError(t, err)

	ids := make([]string, 0, len(due))
	for _, key := range due {
		ids = append(ids, key.ExternalID)
	}
	assert.ElementsMatch(t, []string{"never-fetched", "old"}, ids)
}

func TestSchedulerZeroWindowSelectsAll(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	records := store.ExternalRecords()

	now := utc.Now()
	require.NoError(t, records.Upsert(ctx, &catalog.ExternalRecord{
		SourceSlug: "wikidata", ExternalID: "a", LastFetchAt: &now,
	}))
	require.NoError(t, records.Upsert(ctx, &catalog.ExternalRecord{
		SourceSlug: "hal", ExternalID: "b",
	}))

	s := NewScheduler(records)

	due, err := s.Due(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, due, 2)
}
