package resolve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/softfuse/softfuse/internal/storage/memory"
	"github.com/softfuse/softfuse/pkg/catalog"
	"github.com/softfuse/softfuse/pkg/errors"
	"github.com/softfuse/softfuse/pkg/sources"
	"github.com/softfuse/softfuse/pkg/storage"
)

func testRegistry(t *testing.T) *sources.Registry {
	t.Helper()
	registry, err := sources.New(
		catalog.Source{Slug: "wikidata", Priority: 1, Kind: catalog.KindWikidata, URL: "https://www.wikidata.org"},
		catalog.Source{Slug: "hal", Priority: 2, Kind: catalog.KindHAL, URL: "https://hal.science"},
		catalog.Source{Slug: "github", Priority: 3, Kind: catalog.KindCodeForge, URL: "https://github.com"},
	)
	require.NoError(t, err)
	return registry
}

func TestResolveUnknownSourceRejected(t *testing.T) {
	r := New(memory.New(), testRegistry(t))

	_, err := r.Resolve(context.Background(), catalog.Descriptor{
		Name:       "Thunderbird",
		SourceSlug: "ghost",
	})
	require.Error(t, err)
	var configErr *errors.ConfigError
	assert.True(t, errors.As(err, &configErr))
}

func TestResolveByName(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	r := New(store, testRegistry(t))

	id, err := store.Software().Create(ctx, &catalog.Software{Name: "Thunderbird"})
	require.NoError(t, err)

	resolved, err := r.Resolve(ctx, catalog.Descriptor{
		Name:       "Thunderbird",
		SourceSlug: "hal",
		ExternalID: "54321",
	})
	require.NoError(t, err)
	assert.Equal(t, id, resolved)
}

func TestResolveByLinkedExternalID(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	r := New(store, testRegistry(t))

	id, err := store.Software().Create(ctx, &catalog.Software{Name: "Thunderbird"})
	require.NoError(t, err)
	require.NoError(t, store.ExternalRecords().Upsert(ctx, &catalog.ExternalRecord{
		SourceSlug: "wikidata",
		ExternalID: "Q483604",
		SoftwareID: &id,
	}))

	// Different display name, known external id.
	resolved, err := r.Resolve(ctx, catalog.Descriptor{
		Name:       "Mozilla Thunderbird",
		SourceSlug: "wikidata",
		ExternalID: "Q483604",
	})
	require.NoError(t, err)
	assert.Equal(t, id, resolved)
}

func TestResolveByForeignIdentifierAttaches(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	r := New(store, testRegistry(t))

	id, err := store.Software().Create(ctx, &catalog.Software{Name: "Thunderbird"})
	require.NoError(t, err)

	// A wikidata record already identifies the package at the github
	// forge.
	require.NoError(t, store.ExternalRecords().Upsert(ctx, &catalog.ExternalRecord{
		SourceSlug: "wikidata",
		ExternalID: "Q483604",
		SoftwareID: &id,
		Identifiers: []catalog.Identifier{
			{SubjectURL: "https://github.com", Value: "mozilla/thunderbird"},
		},
	}))

	resolved, err := r.Resolve(ctx, catalog.Descriptor{
		Name:       "thunderbird-desktop",
		SourceSlug: "github",
		ExternalID: "mozilla/thunderbird",
	})
	require.NoError(t, err)
	assert.Equal(t, id, resolved)

	// The resolution side effect linked the github record.
	rec, err := store.ExternalRecords().Get(ctx, catalog.RecordKey{SourceSlug: "github", ExternalID: "mozilla/thunderbird"})
	require.NoError(t, err)
	require.True(t, rec.Linked())
	assert.Equal(t, id, *rec.SoftwareID)
}

func TestResolveNoMatch(t *testing.T) {
	r := New(memory.New(), testRegistry(t))

	_, err := r.Resolve(context.Background(), catalog.Descriptor{
		Name:       "Unknown Package",
		SourceSlug: "hal",
		ExternalID: "99",
	})
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestResolveAmbiguousIdentifierIsCorruption(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	r := New(store, testRegistry(t))

	first, err := store.Software().Create(ctx, &catalog.Software{Name: "First"})
	require.NoError(t, err)
	second, err := store.Software().Create(ctx, &catalog.Software{Name: "Second"})
	require.NoError(t, err)

	// Two distinct entities both claim the same forge repository.
	require.NoError(t, store.ExternalRecords().Upsert(ctx, &catalog.ExternalRecord{
		SourceSlug: "wikidata",
		ExternalID: "Q1",
		SoftwareID: &first,
		Identifiers: []catalog.Identifier{
			{SubjectURL: "https://github.com", Value: "org/repo"},
		},
	}))
	require.NoError(t, store.ExternalRecords().Upsert(ctx, &catalog.ExternalRecord{
		SourceSlug: "hal",
		ExternalID: "77",
		SoftwareID: &second,
		Identifiers: []catalog.Identifier{
			{SubjectURL: "https://github.com", Value: "org/repo"},
		},
	}))

	_, err = r.Resolve(ctx, catalog.Descriptor{
		Name:       "Repo",
		SourceSlug: "github",
		ExternalID: "org/repo",
	})
	assert.ErrorIs(t, err, errors.ErrCorrupted)
}

func TestResolveOrCreateCreatesOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	r := New(store, testRegistry(t))

	d := catalog.Descriptor{
		Name:        "Thunderbird",
		SourceSlug:  "wikidata",
		ExternalID:  "Q483604",
		Description: "Email client",
		License:     "MPL-2.0",
	}

	id, created, err := r.ResolveOrCreate(ctx, d)
	require.NoError(t, err)
	assert.True(t, created)

	// The external record was attached during creation.
	rec, err := store.ExternalRecords().Get(ctx, catalog.RecordKey{SourceSlug: "wikidata", ExternalID: "Q483604"})
	require.NoError(t, err)
	require.True(t, rec.Linked())
	assert.Equal(t, id, *rec.SoftwareID)

	// Importing the same descriptor again is a no-op resolve.
	again, createdAgain, err := r.ResolveOrCreate(ctx, d)
	require.NoError(t, err)
	assert.False(t, createdAgain)
	assert.Equal(t, id, again)

	software, err := store.Software().List(ctx, storage.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, software, 1)
	assert.Equal(t, "Email client", software[0].Description)
}

func TestResolveOrCreateSameNameDifferentSources(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	r := New(store, testRegistry(t))

	first, created, err := r.ResolveOrCreate(ctx, catalog.Descriptor{
		Name:       "GIMP",
		SourceSlug: "wikidata",
		ExternalID: "Q8038",
	})
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := r.ResolveOrCreate(ctx, catalog.Descriptor{
		Name:       "GIMP",
		SourceSlug: "hal",
		ExternalID: "1234",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first, second)

	// Both source records are linked to the one entity.
	recs, err := store.ExternalRecords().BySoftware(ctx, first)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestAttachLeavesForeignLinkage(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	r := New(store, testRegistry(t))

	owner, err := store.Software().Create(ctx, &catalog.Software{Name: "Owner"})
	require.NoError(t, err)
	other, err := store.Software().Create(ctx, &catalog.Software{Name: "Other"})
	require.NoError(t, err)

	key := catalog.RecordKey{SourceSlug: "hal", ExternalID: "5"}
	require.NoError(t, store.ExternalRecords().Upsert(ctx, &catalog.ExternalRecord{
		SourceSlug: "hal",
		ExternalID: "5",
		SoftwareID: &owner,
	}))

	require.NoError(t, r.Attach(ctx, key, other))

	rec, err := store.ExternalRecords().Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, owner, *rec.SoftwareID)
}
