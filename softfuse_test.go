package softfuse

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/softfuse/softfuse/internal/storage/memory"
	"github.com/softfuse/softfuse/pkg/catalog"
	"github.com/softfuse/softfuse/pkg/errors"
	"github.com/softfuse/softfuse/pkg/sources"
	"github.com/softfuse/softfuse/pkg/storage"
)

type stubFetcher struct {
	kind   catalog.SourceKind
	fields map[string]*catalog.RecordFields
}

func (f *stubFetcher) Kind() catalog.SourceKind { return f.kind }

func (f *stubFetcher) Fetch(_ context.Context, _ catalog.Source, externalID string) (*catalog.RecordFields, error) {
	if fields, ok := f.fields[externalID]; ok {
		return fields, nil
	}
	return nil, errors.ErrNotFound
}

func newEngine(t *testing.T, opts ...Option) SoftFuse {
	t.Helper()
	engine, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	return engine
}

func TestImportIsIdempotent(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)

	d := catalog.Descriptor{
		Name:        "Nextcloud",
		SourceSlug:  "wikidata",
		ExternalID:  "Q25874683",
		Description: "Self-hosted file sync",
	}

	id, created, err := engine.Import(ctx, d)
	require.NoError(t, err)
	assert.True(t, created)

	again, createdAgain, err := engine.Import(ctx, d)
	require.NoError(t, err)
	assert.False(t, createdAgain)
	assert.Equal(t, id, again)

	list, err := engine.List(ctx, storage.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestImportMergesAcrossSources(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)

	id, created, err := engine.Import(ctx, catalog.Descriptor{
		Name: "Nextcloud", SourceSlug: "wikidata", ExternalID: "Q25874683",
	})
	require.NoError(t, err)
	require.True(t, created)

	halID, created, err := engine.Import(ctx, catalog.Descriptor{
		Name: "Nextcloud", SourceSlug: "hal", ExternalID: "4567",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id, halID)
}

func TestSoftwareViewFusesRefreshedRecords(t *testing.T) {
	ctx := context.Background()

	engine := newEngine(t,
		WithFetcher(catalog.KindWikidata, &stubFetcher{
			kind: catalog.KindWikidata,
			fields: map[string]*catalog.RecordFields{
				"Q25874683": {
					Label:       "Nextcloud",
					Description: "File hosting service",
					WebsiteURL:  "https://nextcloud.com",
					Keywords:    []string{"files"},
				},
			},
		}),
		WithFetcher(catalog.KindHAL, &stubFetcher{
			kind: catalog.KindHAL,
			fields: map[string]*catalog.RecordFields{
				"4567": {
					Label:    "nextcloud-server",
					License:  "AGPL-3.0",
					Keywords: []string{"files", "collaboration"},
				},
			},
		}),
		WithStalenessWindow(time.Hour),
	)

	id, _, err := engine.Import(ctx, catalog.Descriptor{
		Name: "Nextcloud", SourceSlug: "wikidata", ExternalID: "Q25874683",
	})
	require.NoError(t, err)
	_, _, err = engine.Import(ctx, catalog.Descriptor{
		Name: "Nextcloud", SourceSlug: "hal", ExternalID: "4567",
	})
	require.NoError(t, err)

	result, err := engine.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Fetched)

	view, err := engine.Software(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, view.External)

	// Wikidata fields take precedence, HAL fills the gaps.
	assert.Equal(t, "Nextcloud", view.External.Label)
	assert.Equal(t, "File hosting service", view.External.Description)
	assert.Equal(t, "AGPL-3.0", view.External.License)
	assert.ElementsMatch(t, []string{"files", "collaboration"}, view.External.Keywords)
}

func TestSimilaritySet(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)

	id, _, err := engine.Import(ctx, catalog.Descriptor{
		Name: "Nextcloud", SourceSlug: "wikidata", ExternalID: "Q25874683",
		SimilarItems: []catalog.SimilarityDescriptor{
			{SourceSlug: "wikidata", ExternalID: "Q10135", Label: "ownCloud"},
		},
	})
	require.NoError(t, err)

	items, err := engine.Similar(ctx, id)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "ownCloud", items[0].Label)
	assert.False(t, items[0].Registered)

	// The referenced package later joins the catalog under its own name.
	otherID, _, err := engine.Import(ctx, catalog.Descriptor{
		Name: "ownCloud", SourceSlug: "wikidata", ExternalID: "Q10135",
	})
	require.NoError(t, err)

	items, err = engine.Similar(ctx, id)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.True(t, items[0].Registered)
	assert.Equal(t, otherID, *items[0].SoftwareID)
}

func TestImportLinksReimportAndKeepsSimilarUnregistered(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	engine := newEngine(t, WithStore(store))

	id, created, err := engine.Import(ctx, catalog.Descriptor{
		Name: "Create React App", SourceSlug: "wikidata", ExternalID: "Q1",
		SimilarItems: []catalog.SimilarityDescriptor{
			{SourceSlug: "wikidata", ExternalID: "Q2", Label: "Vite JS"},
		},
	})
	require.NoError(t, err)
	require.True(t, created)

	// The same package arrives again under another identifier; name
	// resolution attaches the new record to the existing entity.
	sameID, created, err := engine.Import(ctx, catalog.Descriptor{
		Name: "Create React App", SourceSlug: "wikidata", ExternalID: "Q3",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id, sameID)

	list, err := engine.List(ctx, storage.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	keys, err := store.ExternalRecords().Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 3)

	q1, err := store.ExternalRecords().Get(ctx, catalog.RecordKey{SourceSlug: "wikidata", ExternalID: "Q1"})
	require.NoError(t, err)
	q3, err := store.ExternalRecords().Get(ctx, catalog.RecordKey{SourceSlug: "wikidata", ExternalID: "Q3"})
	require.NoError(t, err)
	require.NotNil(t, q1.SoftwareID)
	require.NotNil(t, q3.SoftwareID)
	assert.Equal(t, *q1.SoftwareID, *q3.SoftwareID)

	// The similar record is a placeholder outside the entity's record
	// set until it is imported under its own name.
	q2, err := store.ExternalRecords().Get(ctx, catalog.RecordKey{SourceSlug: "wikidata", ExternalID: "Q2"})
	require.NoError(t, err)
	assert.Nil(t, q2.SoftwareID)

	items, err := engine.Similar(ctx, id)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Vite JS", items[0].Label)
	assert.False(t, items[0].Registered)
}

func TestDereference(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)

	id, _, err := engine.Import(ctx, catalog.Descriptor{
		Name: "Legacy", SourceSlug: "wikidata", ExternalID: "Q1",
	})
	require.NoError(t, err)

	var validationErr *errors.ValidationError
	err = engine.Dereference(ctx, id, "")
	assert.True(t, errors.As(err, &validationErr))

	require.NoError(t, engine.Dereference(ctx, id, "merged into successor"))

	active, err := engine.List(ctx, storage.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := engine.List(ctx, storage.ListOptions{IncludeDereferenced: true})
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.NotNil(t, all[0].Dereferencing)
	assert.Equal(t, "merged into successor", all[0].Dereferencing.Reason)
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)

	_, _, err := engine.Import(ctx, catalog.Descriptor{
		Name: "Nextcloud", SourceSlug: "wikidata", ExternalID: "Q25874683",
		Description: "File sync", License: "AGPL-3.0",
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, engine.Export(ctx, &buf))

	out := buf.String()
	assert.Contains(t, out, "Nextcloud")
	assert.Contains(t, out, "AGPL-3.0")
	assert.Contains(t, out, "wikidata")
}

func TestCustomSourceRegistry(t *testing.T) {
	registry, err := sources.New(
		catalog.Source{Slug: "forge", Priority: 1, Kind: catalog.KindCodeForge, URL: "https://git.example.org"},
	)
	require.NoError(t, err)

	engine := newEngine(t, WithSources(registry))
	assert.Equal(t, []string{"forge"}, engine.Registry().Slugs())

	// Descriptors naming the default sources are now rejected.
	_, _, err = engine.Import(context.Background(), catalog.Descriptor{
		Name: "X", SourceSlug: "wikidata", ExternalID: "Q1",
	})
	var configErr *errors.ConfigError
	assert.True(t, errors.As(err, &configErr))
}

func TestAutoRefreshLifecycle(t *testing.T) {
	engine := newEngine(t, WithRefreshInterval(50*time.Millisecond))

	require.NoError(t, engine.AutoRefreshOn())
	// Restarting is allowed; the previous loop is stopped first.
	require.NoError(t, engine.AutoRefreshOn())
	time.Sleep(120 * time.Millisecond)
	require.NoError(t, engine.AutoRefreshOff())
	require.NoError(t, engine.AutoRefreshOff())
}
