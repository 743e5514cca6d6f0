// Package storage defines the relational store contracts consumed by
// the softfuse core. The interfaces are small and composable so that
// backends (sqlite, in-memory) can be implemented independently; the
// core never depends on a concrete engine.
package storage

import (
	"context"
	"time"

	"github.com/agentstation/utc"

	"github.com/softfuse/softfuse/pkg/catalog"
)

// ExternalRecordStore manages provider records keyed by
// (source slug, external id).
type ExternalRecordStore interface {
	// Upsert creates or replaces a record by its composite key. The
	// linkage (SoftwareID) of an existing record is preserved unless
	// the incoming record sets one.
	Upsert(ctx context.Context, record *catalog.ExternalRecord) error

	// Get retrieves a record by composite key.
	// Returns ErrNotFound if the record doesn't exist.
	Get(ctx context.Context, key catalog.RecordKey) (*catalog.ExternalRecord, error)

	// BySoftware lists all records linked to a canonical entity.
	BySoftware(ctx context.Context, softwareID int64) ([]catalog.ExternalRecord, error)

	// Keys lists every known composite key.
	Keys(ctx context.Context) ([]catalog.RecordKey, error)

	// StaleKeys lists keys whose LastFetchAt is null or before the
	// cutoff.
	StaleKeys(ctx context.Context, cutoff time.Time) ([]catalog.RecordKey, error)

	// Link attaches a record to a canonical entity.
	// Returns ErrNotFound if the record doesn't exist.
	Link(ctx context.Context, key catalog.RecordKey, softwareID int64) error

	// Unlink clears a record's canonical entity linkage.
	Unlink(ctx context.Context, key catalog.RecordKey) error

	// Touch sets a record's LastFetchAt. Called even when a fetch
	// affirmatively found no change, so permanently failing records do
	// not hot-loop.
	Touch(ctx context.Context, key catalog.RecordKey, at utc.Time) error

	// WithIdentifierSubject lists linked records from sources other
	// than excludeSlug that carry at least one identifier whose
	// SubjectURL equals subjectURL.
	WithIdentifierSubject(ctx context.Context, subjectURL, excludeSlug string) ([]catalog.ExternalRecord, error)

	// All lists every record.
	All(ctx context.Context) ([]catalog.ExternalRecord, error)

	// Delete removes a record. Returns true when a row was removed.
	Delete(ctx context.Context, key catalog.RecordKey) (bool, error)
}

// ListOptions controls canonical entity listing.
type ListOptions struct {
	// IncludeDereferenced also returns soft-deleted entities.
	IncludeDereferenced bool
}

// SoftwareStore manages canonical entities.
type SoftwareStore interface {
	// Create inserts a new entity and returns its generated id.
	// Returns ErrAlreadyExists when an active entity already bears the
	// name; the unique constraint is the backstop for concurrent
	// resolve-or-create races.
	Create(ctx context.Context, software *catalog.Software) (int64, error)

	// Get retrieves an entity by id.
	// Returns ErrNotFound if the entity doesn't exist.
	Get(ctx context.Context, id int64) (*catalog.Software, error)

	// GetByName retrieves an active entity by exact name.
	// Returns ErrNotFound when no active entity bears the name.
	GetByName(ctx context.Context, name string) (*catalog.Software, error)

	// Update modifies an existing entity's intrinsic fields.
	// Returns ErrNotFound if the entity doesn't exist.
	Update(ctx context.Context, software *catalog.Software) error

	// List retrieves entities, active only by default.
	List(ctx context.Context, opts ListOptions) ([]catalog.Software, error)

	// Dereference soft-deletes an entity from default listings.
	// Returns ErrNotFound if the entity doesn't exist.
	Dereference(ctx context.Context, id int64, reason string, at utc.Time) error
}

// SimilarityStore manages non-identity "similar to" links.
type SimilarityStore interface {
	// Replace swaps the full link set for an entity: delete all
	// existing links, then insert the new set. Diffing is deliberately
	// unsupported; callers supply the complete desired set.
	Replace(ctx context.Context, softwareID int64, links []catalog.SimilarityLink) error

	// BySoftware lists an entity's similarity links.
	BySoftware(ctx context.Context, softwareID int64) ([]catalog.SimilarityLink, error)
}

// Store composes the stores behind one handle.
type Store interface {
	ExternalRecords() ExternalRecordStore
	Software() SoftwareStore
	Similarities() SimilarityStore

	// Close releases any resources held by the store.
	Close() error
}
