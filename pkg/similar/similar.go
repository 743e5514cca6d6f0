// Package similar manages the non-identity "similar to" relation
// between canonical entities and external records. Similarity is not
// identity: a referenced record may be unlinked, or linked to a
// different entity, and stays that way.
package similar

import (
	"context"

	"github.com/softfuse/softfuse/pkg/catalog"
	"github.com/softfuse/softfuse/pkg/errors"
	"github.com/softfuse/softfuse/pkg/logging"
	"github.com/softfuse/softfuse/pkg/sources"
	"github.com/softfuse/softfuse/pkg/storage"
)

// Linker maintains similarity link sets.
type Linker struct {
	store    storage.Store
	registry *sources.Registry
}

// New creates a linker over the given store and source registry.
func New(store storage.Store, registry *sources.Registry) *Linker {
	return &Linker{store: store, registry: registry}
}

// SetSimilar replaces the complete similarity set for an entity.
// Every descriptor's external record is created as a blank, unlinked
// record when absent; existing records keep their fetched data and
// their linkage. The link set itself is swapped wholesale — callers
// supply the full desired set, not a diff.
func (l *Linker) SetSimilar(ctx context.Context, softwareID int64, items []catalog.SimilarityDescriptor) error {
	if _, err := l.store.Software().Get(ctx, softwareID); err != nil {
		return errors.WrapResource("get", "software", "", err)
	}

	links := make([]catalog.SimilarityLink, 0, len(items))
	for _, item := range items {
		if _, err := l.registry.Require(item.SourceSlug); err != nil {
			return err
		}
		if item.ExternalID == "" {
			return errors.NewValidationError("external_id", item.ExternalID, "similarity descriptor needs an external id")
		}

		if err := l.ensureRecord(ctx, item); err != nil {
			return err
		}
		links = append(links, catalog.SimilarityLink{
			SoftwareID: softwareID,
			SourceSlug: item.SourceSlug,
			ExternalID: item.ExternalID,
		})
	}

	if err := l.store.Similarities().Replace(ctx, softwareID, links); err != nil {
		return errors.WrapResource("replace", "similarity links", "", err)
	}

	logging.Ctx(ctx).Debug().
		Int64("software_id", softwareID).
		Int("links", len(links)).
		Msg("Similarity set replaced")
	return nil
}

// ensureRecord creates the referenced external record when absent,
// seeded with the descriptor's label and description but no linkage.
func (l *Linker) ensureRecord(ctx context.Context, item catalog.SimilarityDescriptor) error {
	key := catalog.RecordKey{SourceSlug: item.SourceSlug, ExternalID: item.ExternalID}

	_, err := l.store.ExternalRecords().Get(ctx, key)
	if err == nil {
		return nil
	}
	if !errors.Is(err, errors.ErrNotFound) {
		return errors.WrapResource("get", "external record", item.ExternalID, err)
	}

	blank := &catalog.ExternalRecord{
		SourceSlug:  item.SourceSlug,
		ExternalID:  item.ExternalID,
		Label:       item.Label,
		Description: item.Description,
		IsLibre:     item.IsLibre,
	}
	if err := l.store.ExternalRecords().Upsert(ctx, blank); err != nil {
		return errors.WrapResource("create", "external record", item.ExternalID, err)
	}
	return nil
}

// ListSimilar returns an entity's similarity set annotated with whether
// each referenced record is registered (linked to a canonical entity).
func (l *Linker) ListSimilar(ctx context.Context, softwareID int64) ([]catalog.SimilarItem, error) {
	links, err := l.store.Similarities().BySoftware(ctx, softwareID)
	if err != nil {
		return nil, errors.WrapResource("list", "similarity links", "", err)
	}

	items := make([]catalog.SimilarItem, 0, len(links))
	for _, link := range links {
		key := catalog.RecordKey{SourceSlug: link.SourceSlug, ExternalID: link.ExternalID}
		rec, err := l.store.ExternalRecords().Get(ctx, key)
		if err != nil {
			return nil, errors.WrapResource("get", "external record", link.ExternalID, err)
		}

		items = append(items, catalog.SimilarItem{
			SourceSlug:  rec.SourceSlug,
			ExternalID:  rec.ExternalID,
			Label:       rec.Label,
			Description: rec.Description,
			IsLibre:     rec.IsLibre,
			Registered:  rec.Linked(),
			SoftwareID:  rec.SoftwareID,
		})
	}
	return items, nil
}
