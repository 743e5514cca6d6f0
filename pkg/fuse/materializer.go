package fuse

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/softfuse/softfuse/pkg/catalog"
	"github.com/softfuse/softfuse/pkg/errors"
	"github.com/softfuse/softfuse/pkg/logging"
	"github.com/softfuse/softfuse/pkg/sources"
	"github.com/softfuse/softfuse/pkg/storage"
)

// DefaultCacheSize bounds the number of cached projections.
const DefaultCacheSize = 1024

// DefaultCacheTTL bounds how long a projection may be served without
// re-fusing, independent of explicit invalidation.
const DefaultCacheTTL = 5 * time.Minute

// Materializer produces canonical projections by joining stored
// external records with the source registry and fusing them. It holds
// an explicit expirable cache; every entity or record mutation must go
// through Invalidate so no stale projection outlives a write.
type Materializer struct {
	records  storage.ExternalRecordStore
	registry *sources.Registry
	cache    *expirable.LRU[int64, *catalog.Projection]
}

// NewMaterializer creates a materializer over the given record store
// and source registry.
func NewMaterializer(records storage.ExternalRecordStore, registry *sources.Registry) *Materializer {
	return &Materializer{
		records:  records,
		registry: registry,
		cache:    expirable.NewLRU[int64, *catalog.Projection](DefaultCacheSize, nil, DefaultCacheTTL),
	}
}

// Projection returns the fused view for a canonical entity, nil when
// the entity has no linked external records.
func (m *Materializer) Projection(ctx context.Context, softwareID int64) (*catalog.Projection, error) {
	if cached, ok := m.cache.Get(softwareID); ok {
		return cached, nil
	}

	recs, err := m.records.BySoftware(ctx, softwareID)
	if err != nil {
		return nil, errors.WrapResource("list", "external records", "", err)
	}

	populated, err := m.Populate(recs)
	if err != nil {
		return nil, err
	}

	projection := Fuse(populated)
	if projection != nil {
		m.cache.Add(softwareID, projection)
	}
	return projection, nil
}

// Populate joins records with their sources' routing fields. A stored
// record naming an unconfigured source is a configuration error.
func (m *Materializer) Populate(recs []catalog.ExternalRecord) ([]catalog.PopulatedRecord, error) {
	populated := make([]catalog.PopulatedRecord, 0, len(recs))
	for _, rec := range recs {
		src, err := m.registry.Require(rec.SourceSlug)
		if err != nil {
			return nil, err
		}
		populated = append(populated, catalog.PopulatedRecord{
			ExternalRecord: rec,
			Priority:       src.Priority,
			Kind:           src.Kind,
			BaseURL:        src.URL,
		})
	}
	return populated, nil
}

// Invalidate drops the cached projection for an entity. Call after any
// mutation of the entity or of a record linked to it.
func (m *Materializer) Invalidate(softwareID int64) {
	if m.cache.Remove(softwareID) {
		logging.Debug().Int64("software_id", softwareID).Msg("Projection cache invalidated")
	}
}
