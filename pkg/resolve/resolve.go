// Package resolve implements identity resolution: deciding whether an
// inbound provider descriptor refers to an already-known canonical
// entity or to a new one, and the resolve-or-create orchestration used
// by the ingestion path.
package resolve

import (
	"context"

	"github.com/agentstation/utc"
	"golang.org/x/text/cases"

	"github.com/softfuse/softfuse/pkg/catalog"
	"github.com/softfuse/softfuse/pkg/errors"
	"github.com/softfuse/softfuse/pkg/logging"
	"github.com/softfuse/softfuse/pkg/sources"
	"github.com/softfuse/softfuse/pkg/storage"
)

// Invalidator is notified after a resolution side effect mutates an
// entity's linked record set, so cached projections can be dropped.
type Invalidator interface {
	Invalidate(softwareID int64)
}

// Resolver resolves inbound descriptors against the canonical catalog.
type Resolver struct {
	store       storage.Store
	registry    *sources.Registry
	locks       *keyedMutex
	invalidator Invalidator
	fold        cases.Caser
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithInvalidator registers the projection cache to invalidate on
// resolution side effects.
func WithInvalidator(inv Invalidator) Option {
	return func(r *Resolver) {
		r.invalidator = inv
	}
}

// New creates a resolver over the given store and source registry.
func New(store storage.Store, registry *sources.Registry, opts ...Option) *Resolver {
	r := &Resolver{
		store:    store,
		registry: registry,
		locks:    newKeyedMutex(),
		fold:     cases.Fold(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the canonical entity id the descriptor refers to, or
// ErrNotFound when no existing entity matches. The match order is:
//
//  1. Exact display-name match among active entities. Names are the
//     primary human-facing key and are authoritative once any entity
//     bears one.
//  2. The (source, external id) pair is already linked.
//  3. Another provider's stored record carries an identifier for this
//     provider's base URL whose value equals the external id. A
//     success here attaches the pair as a linked record, since the
//     linkage is now known.
//
// Unknown source slugs are rejected before any lookup.
func (r *Resolver) Resolve(ctx context.Context, d catalog.Descriptor) (int64, error) {
	src, err := r.registry.Require(d.SourceSlug)
	if err != nil {
		return 0, err
	}
	if d.Name == "" {
		return 0, errors.NewValidationError("name", d.Name, "display name must not be empty")
	}

	log := logging.Ctx(ctx).With().
		Str("name", d.Name).
		Str("source", d.SourceSlug).
		Logger()

	// Step 1: authoritative name match.
	named, err := r.store.Software().GetByName(ctx, d.Name)
	switch {
	case err == nil:
		log.Debug().Int64("software_id", named.ID).Msg("Resolved by name")
		return named.ID, nil
	case !errors.Is(err, errors.ErrNotFound):
		return 0, errors.WrapResource("get", "software", d.Name, err)
	}

	if d.ExternalID == "" {
		return 0, errors.ErrNotFound
	}

	// Step 2: the pair is already linked.
	key := catalog.RecordKey{SourceSlug: d.SourceSlug, ExternalID: d.ExternalID}
	rec, err := r.store.ExternalRecords().Get(ctx, key)
	switch {
	case err == nil && rec.Linked():
		log.Debug().Int64("software_id", *rec.SoftwareID).Msg("Resolved by external id")
		return *rec.SoftwareID, nil
	case err != nil && !errors.Is(err, errors.ErrNotFound):
		return 0, errors.WrapResource("get", "external record", d.ExternalID, err)
	}

	// Step 3: another provider already references this pair.
	softwareID, err := r.resolveByForeignIdentifier(ctx, src, d.ExternalID)
	if err != nil {
		return 0, err
	}

	log.Info().Int64("software_id", softwareID).Msg("Resolved by cross-provider identifier, attaching record")
	if err := r.Attach(ctx, key, softwareID); err != nil {
		return 0, err
	}
	return softwareID, nil
}

// resolveByForeignIdentifier scans other providers' linked records for
// an identifier scoped to src's base URL whose value is externalID.
// Exactly one distinct entity resolves; several distinct entities for
// one provider-URL/value pair mean the store is corrupted, which is
// fatal rather than silently resolved.
func (r *Resolver) resolveByForeignIdentifier(ctx context.Context, src catalog.Source, externalID string) (int64, error) {
	recs, err := r.store.ExternalRecords().WithIdentifierSubject(ctx, src.URL, src.Slug)
	if err != nil {
		return 0, errors.WrapResource("scan", "external records", src.URL, err)
	}

	matched := make(map[int64]struct{})
	for i := range recs {
		rec := &recs[i]

		var forURL []catalog.Identifier
		for _, ident := range rec.Identifiers {
			if ident.SubjectURL == src.URL {
				forURL = append(forURL, ident)
			}
		}
		// At most one identifier per provider URL may exist on a record.
		if len(forURL) > 2 {
			return 0, errors.NewCorruptionError("external_records",
				rec.SourceSlug+"/"+rec.ExternalID,
				"several identifiers for the same provider URL on one record")
		}
		if len(forURL) == 0 || !rec.Linked() {
			continue
		}
		if forURL[0].Value == externalID {
			matched[*rec.SoftwareID] = struct{}{}
		}
	}

	switch len(matched) {
	case 0:
		return 0, errors.ErrNotFound
	case 1:
		for id := range matched {
			return id, nil
		}
	}
	return 0, errors.NewCorruptionError("external_records", externalID,
		"cross-provider identifier matches several distinct entities")
}

// Attach links (create-if-absent) an external record to an entity. A
// record already linked to a different entity is left untouched.
func (r *Resolver) Attach(ctx context.Context, key catalog.RecordKey, softwareID int64) error {
	records := r.store.ExternalRecords()

	rec, err := records.Get(ctx, key)
	switch {
	case errors.Is(err, errors.ErrNotFound):
		blank := &catalog.ExternalRecord{
			SourceSlug: key.SourceSlug,
			ExternalID: key.ExternalID,
			SoftwareID: &softwareID,
		}
		if err := records.Upsert(ctx, blank); err != nil {
			return errors.WrapResource("create", "external record", key.ExternalID, err)
		}
	case err != nil:
		return errors.WrapResource("get", "external record", key.ExternalID, err)
	case !rec.Linked():
		if err := records.Link(ctx, key, softwareID); err != nil {
			return errors.WrapResource("link", "external record", key.ExternalID, err)
		}
	default:
		// Already linked; possibly to another entity. Leave it.
		return nil
	}

	if r.invalidator != nil {
		r.invalidator.Invalidate(softwareID)
	}
	return nil
}

// ResolveOrCreate resolves the descriptor, creating a new canonical
// entity from its intrinsic fields on a miss, and attaches the
// descriptor's external record either way. The whole sequence is
// serialized per folded display name; the store's unique active-name
// constraint backstops anything the lock cannot see.
// The returned bool is true when a new entity was created.
func (r *Resolver) ResolveOrCreate(ctx context.Context, d catalog.Descriptor) (int64, bool, error) {
	unlock := r.locks.Lock(r.fold.String(d.Name))
	defer unlock()

	softwareID, err := r.Resolve(ctx, d)
	created := false

	switch {
	case errors.Is(err, errors.ErrNotFound):
		softwareID, err = r.create(ctx, d)
		if err != nil {
			return 0, false, err
		}
		created = true
	case err != nil:
		return 0, false, err
	}

	if d.ExternalID != "" {
		key := catalog.RecordKey{SourceSlug: d.SourceSlug, ExternalID: d.ExternalID}
		if err := r.Attach(ctx, key, softwareID); err != nil {
			return 0, false, err
		}
	}

	return softwareID, created, nil
}

// create inserts a new canonical entity from the descriptor's intrinsic
// fields. A unique-constraint conflict means another writer won the
// race after our resolve; the winner's entity is returned instead.
func (r *Resolver) create(ctx context.Context, d catalog.Descriptor) (int64, error) {
	now := utc.Now()
	software := &catalog.Software{
		Name:             d.Name,
		Description:      d.Description,
		License:          d.License,
		LogoURL:          d.LogoURL,
		Keywords:         d.Keywords,
		SoftwareType:     d.SoftwareType,
		CustomAttributes: d.CustomAttributes,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	id, err := r.store.Software().Create(ctx, software)
	if errors.Is(err, errors.ErrAlreadyExists) {
		existing, getErr := r.store.Software().GetByName(ctx, d.Name)
		if getErr != nil {
			return 0, errors.WrapResource("get", "software", d.Name, getErr)
		}
		return existing.ID, nil
	}
	if err != nil {
		return 0, errors.WrapResource("create", "software", d.Name, err)
	}

	logging.Ctx(ctx).Info().
		Int64("software_id", id).
		Str("name", d.Name).
		Msg("Created canonical entity")
	return id, nil
}
