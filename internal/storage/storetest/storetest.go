// Package storetest is a conformance suite run against every
// storage.Store backend. Both backends must be indistinguishable to the
// core: same linkage preservation, same name constraint, same staleness
// semantics.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/agentstation/utc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/softfuse/softfuse/pkg/catalog"
	"github.com/softfuse/softfuse/pkg/errors"
	"github.com/softfuse/softfuse/pkg/storage"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) storage.Store

// Run executes the conformance suite against the given backend.
func Run(t *testing.T, factory Factory) {
	t.Run("RecordRoundTrip", func(t *testing.T) { testRecordRoundTrip(t, factory(t)) })
	t.Run("UpsertPreservesLinkage", func(t *testing.T) { testUpsertPreservesLinkage(t, factory(t)) })
	t.Run("LinkUnlink", func(t *testing.T) { testLinkUnlink(t, factory(t)) })
	t.Run("Touch", func(t *testing.T) { testTouch(t, factory(t)) })
	t.Run("StaleKeys", func(t *testing.T) { testStaleKeys(t, factory(t)) })
	t.Run("WithIdentifierSubject", func(t *testing.T) { testWithIdentifierSubject(t, factory(t)) })
	t.Run("DeleteRecord", func(t *testing.T) { testDeleteRecord(t, factory(t)) })
	t.Run("SoftwareRoundTrip", func(t *testing.T) { testSoftwareRoundTrip(t, factory(t)) })
	t.Run("ActiveNameConstraint", func(t *testing.T) { testActiveNameConstraint(t, factory(t)) })
	t.Run("Dereference", func(t *testing.T) { testDereference(t, factory(t)) })
	t.Run("SimilarityReplace", func(t *testing.T) { testSimilarityReplace(t, factory(t)) })
}

func testRecordRoundTrip(t *testing.T, store storage.Store) {
	ctx := context.Background()
	defer store.Close()
	records := store.ExternalRecords()

	_, err := records.Get(ctx, catalog.RecordKey{SourceSlug: "wikidata", ExternalID: "Q1"})
	assert.ErrorIs(t, err, errors.ErrNotFound)

	libre := true
	published := utc.Time{Time: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}
	in := &catalog.ExternalRecord{
		SourceSlug:           "wikidata",
		ExternalID:           "Q1",
		Label:                "Nextcloud",
		Description:          "File sync and share",
		Developers:           []catalog.Developer{{Name: "Nextcloud GmbH", URL: "https://nextcloud.com"}},
		WebsiteURL:           "https://nextcloud.com",
		SourceURL:            "https://github.com/nextcloud/server",
		License:              "AGPL-3.0",
		Version:              "29.0",
		PublicationTime:      &published,
		Keywords:             []string{"files", "sync"},
		Categories:           []string{"collaboration"},
		ProgrammingLanguages: []string{"PHP"},
		Identifiers:          []catalog.Identifier{{SubjectURL: "https://github.com", Value: "nextcloud/server"}},
		IsLibre:              &libre,
	}
	require.NoError(t, records.Upsert(ctx, in))

	out, err := records.Get(ctx, catalog.RecordKey{SourceSlug: "wikidata", ExternalID: "Q1"})
	require.NoError(t, err)
	assert.Equal(t, in.Label, out.Label)
	assert.Equal(t, in.Developers, out.Developers)
	assert.Equal(t, in.Identifiers, out.Identifiers)
	require.NotNil(t, out.IsLibre)
	assert.True(t, *out.IsLibre)
	require.NotNil(t, out.PublicationTime)
	assert.True(t, out.PublicationTime.Equal(published))
	assert.Nil(t, out.SoftwareID)
	assert.Nil(t, out.LastFetchAt)

	all, err := records.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func testUpsertPreservesLinkage(t *testing.T, store storage.Store) {
	ctx := context.Background()
	defer store.Close()
	records := store.ExternalRecords()

	id, err := store.Software().Create(ctx, &catalog.Software{Name: "Nextcloud"})
	require.NoError(t, err)

	require.NoError(t, records.Upsert(ctx, &catalog.ExternalRecord{
		SourceSlug: "wikidata", ExternalID: "Q1", SoftwareID: &id, Label: "old",
	}))

	// A refresh write carries no linkage; the stored link survives.
	require.NoError(t, records.Upsert(ctx, &catalog.ExternalRecord{
		SourceSlug: "wikidata", ExternalID: "Q1", Label: "new",
	}))

	out, err := records.Get(ctx, catalog.RecordKey{SourceSlug: "wikidata", ExternalID: "Q1"})
	require.NoError(t, err)
	assert.Equal(t, "new", out.Label)
	require.NotNil(t, out.SoftwareID)
	assert.Equal(t, id, *out.SoftwareID)

	linked, err := records.BySoftware(ctx, id)
	require.NoError(t, err)
	assert.Len(t, linked, 1)
}

func testLinkUnlink(t *testing.T, store storage.Store) {
	ctx := context.Background()
	defer store.Close()
	records := store.ExternalRecords()

	id, err := store.Software().Create(ctx, &catalog.Software{Name: "GIMP"})
	require.NoError(t, err)

	key := catalog.RecordKey{SourceSlug: "hal", ExternalID: "9"}
	assert.ErrorIs(t, records.Link(ctx, key, id), errors.ErrNotFound)

	require.NoError(t, records.Upsert(ctx, &catalog.ExternalRecord{SourceSlug: "hal", ExternalID: "9"}))
	require.NoError(t, records.Link(ctx, key, id))

	out, err := records.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, out.SoftwareID)
	assert.Equal(t, id, *out.SoftwareID)

	require.NoError(t, records.Unlink(ctx, key))
	out, err = records.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, out.SoftwareID)
}

func testTouch(t *testing.T, store storage.Store) {
	ctx := context.Background()
	defer store.Close()
	records := store.ExternalRecords()

	key := catalog.RecordKey{SourceSlug: "cnll", ExternalID: "12"}
	at := utc.Time{Time: time.Date(2026, 1, 15, 8, 30, 0, 0, time.UTC)}
	assert.ErrorIs(t, records.Touch(ctx, key, at), errors.ErrNotFound)

	require.NoError(t, records.Upsert(ctx, &catalog.ExternalRecord{SourceSlug: "cnll", ExternalID: "12"}))
	require.NoError(t, records.Touch(ctx, key, at))

	out, err := records.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, out.LastFetchAt)
	assert.True(t, out.LastFetchAt.Equal(at))
}

func testStaleKeys(t *testing.T, store storage.Store) {
	ctx := context.Background()
	defer store.Close()
	records := store.ExternalRecords()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fresh := utc.Time{Time: now.Add(-time.Minute)}
	old := utc.Time{Time: now.Add(-time.Hour)}

	require.NoError(t, records.Upsert(ctx, &catalog.ExternalRecord{SourceSlug: "wikidata", ExternalID: "never"}))
	require.NoError(t, records.Upsert(ctx, &catalog.ExternalRecord{SourceSlug: "wikidata", ExternalID: "fresh", LastFetchAt: &fresh}))
	require.NoError(t, records.Upsert(ctx, &catalog.ExternalRecord{SourceSlug: "hal", ExternalID: "old", LastFetchAt: &old}))

	stale, err := records.StaleKeys(ctx, now.Add(-30*time.Minute))
	require.NoError(t, err)
	assert.ElementsMatch(t, []catalog.RecordKey{
		{SourceSlug: "wikidata", ExternalID: "never"},
		{SourceSlug: "hal", ExternalID: "old"},
	}, stale)

	keys, err := records.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 3)
}

func testWithIdentifierSubject(t *testing.T, store storage.Store) {
	ctx := context.Background()
	defer store.Close()
	records := store.ExternalRecords()

	id, err := store.Software().Create(ctx, &catalog.Software{Name: "Nextcloud"})
	require.NoError(t, err)

	forge := []catalog.Identifier{{SubjectURL: "https://github.com", Value: "nextcloud/server"}}
	require.NoError(t, records.Upsert(ctx, &catalog.ExternalRecord{
		SourceSlug: "wikidata", ExternalID: "Q1", SoftwareID: &id, Identifiers: forge,
	}))
	// Unlinked records never resolve an identity.
	require.NoError(t, records.Upsert(ctx, &catalog.ExternalRecord{
		SourceSlug: "hal", ExternalID: "2", Identifiers: forge,
	}))
	// Records from the querying source itself are excluded.
	require.NoError(t, records.Upsert(ctx, &catalog.ExternalRecord{
		SourceSlug: "github", ExternalID: "3", SoftwareID: &id, Identifiers: forge,
	}))

	out, err := records.WithIdentifierSubject(ctx, "https://github.com", "github")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "wikidata", out[0].SourceSlug)
}

func testDeleteRecord(t *testing.T, store storage.Store) {
	ctx := context.Background()
	defer store.Close()
	records := store.ExternalRecords()

	key := catalog.RecordKey{SourceSlug: "wikidata", ExternalID: "Q1"}
	removed, err := records.Delete(ctx, key)
	require.NoError(t, err)
	assert.False(t, removed)

	require.NoError(t, records.Upsert(ctx, &catalog.ExternalRecord{SourceSlug: "wikidata", ExternalID: "Q1"}))
	removed, err = records.Delete(ctx, key)
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = records.Get(ctx, key)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func testSoftwareRoundTrip(t *testing.T, store storage.Store) {
	ctx := context.Background()
	defer store.Close()
	softwares := store.Software()

	now := utc.Now()
	in := &catalog.Software{
		Name:             "Nextcloud",
		Description:      "File sync and share",
		License:          "AGPL-3.0",
		LogoURL:          "https://nextcloud.com/logo.svg",
		Keywords:         []string{"files"},
		SoftwareType:     catalog.SoftwareType{Type: "stack"},
		CustomAttributes: map[string]string{"tier": "gold"},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	id, err := softwares.Create(ctx, in)
	require.NoError(t, err)
	require.Positive(t, id)

	out, err := softwares.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Nextcloud", out.Name)
	assert.Equal(t, in.Keywords, out.Keywords)
	assert.Equal(t, in.CustomAttributes, out.CustomAttributes)

	byName, err := softwares.GetByName(ctx, "Nextcloud")
	require.NoError(t, err)
	assert.Equal(t, id, byName.ID)

	out.Description = "Self-hosted collaboration"
	require.NoError(t, softwares.Update(ctx, out))
	updated, err := softwares.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Self-hosted collaboration", updated.Description)

	_, err = softwares.Get(ctx, id+100)
	assert.ErrorIs(t, err, errors.ErrNotFound)
	_, err = softwares.GetByName(ctx, "Unknown")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func testActiveNameConstraint(t *testing.T, store storage.Store) {
	ctx := context.Background()
	defer store.Close()
	softwares := store.Software()

	id, err := softwares.Create(ctx, &catalog.Software{Name: "GIMP"})
	require.NoError(t, err)

	_, err = softwares.Create(ctx, &catalog.Software{Name: "GIMP"})
	assert.ErrorIs(t, err, errors.ErrAlreadyExists)

	// Dereferencing frees the name for a fresh entity.
	require.NoError(t, softwares.Dereference(ctx, id, "superseded", utc.Now()))
	_, err = softwares.Create(ctx, &catalog.Software{Name: "GIMP"})
	require.NoError(t, err)
}

func testDereference(t *testing.T, store storage.Store) {
	ctx := context.Background()
	defer store.Close()
	softwares := store.Software()

	id, err := softwares.Create(ctx, &catalog.Software{Name: "Legacy Tool"})
	require.NoError(t, err)
	keep, err := softwares.Create(ctx, &catalog.Software{Name: "Current Tool"})
	require.NoError(t, err)

	at := utc.Time{Time: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, softwares.Dereference(ctx, id, "abandoned upstream", at))
	assert.ErrorIs(t, softwares.Dereference(ctx, id+100, "x", at), errors.ErrNotFound)

	// Dereferenced entities stay readable by id.
	out, err := softwares.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, out.Dereferencing)
	assert.Equal(t, "abandoned upstream", out.Dereferencing.Reason)

	// But disappear from names and default listings.
	_, err = softwares.GetByName(ctx, "Legacy Tool")
	assert.ErrorIs(t, err, errors.ErrNotFound)

	active, err := softwares.List(ctx, storage.ListOptions{})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, keep, active[0].ID)

	all, err := softwares.List(ctx, storage.ListOptions{IncludeDereferenced: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func testSimilarityReplace(t *testing.T, store storage.Store) {
	ctx := context.Background()
	defer store.Close()

	id, err := store.Software().Create(ctx, &catalog.Software{Name: "Nextcloud"})
	require.NoError(t, err)
	require.NoError(t, store.ExternalRecords().Upsert(ctx, &catalog.ExternalRecord{SourceSlug: "wikidata", ExternalID: "Q1"}))
	require.NoError(t, store.ExternalRecords().Upsert(ctx, &catalog.ExternalRecord{SourceSlug: "wikidata", ExternalID: "Q2"}))

	require.NoError(t, store.Similarities().Replace(ctx, id, []catalog.SimilarityLink{
		{SoftwareID: id, SourceSlug: "wikidata", ExternalID: "Q1"},
	}))
	require.NoError(t, store.Similarities().Replace(ctx, id, []catalog.SimilarityLink{
		{SoftwareID: id, SourceSlug: "wikidata", ExternalID: "Q2"},
	}))

	links, err := store.Similarities().BySoftware(ctx, id)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "Q2", links[0].ExternalID)

	require.NoError(t, store.Similarities().Replace(ctx, id, nil))
	links, err = store.Similarities().BySoftware(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, links)
}
