package fuse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/softfuse/softfuse/internal/storage/memory"
	"github.com/softfuse/softfuse/pkg/catalog"
	"github.com/softfuse/softfuse/pkg/errors"
	"github.com/softfuse/softfuse/pkg/sources"
)

func testRegistry(t *testing.T) *sources.Registry {
	t.Helper()
	registry, err := sources.New(
		catalog.Source{Slug: "primary", Priority: 1, Kind: catalog.KindWikidata, URL: "https://primary.example.org"},
		catalog.Source{Slug: "secondary", Priority: 2, Kind: catalog.KindHAL, URL: "https://secondary.example.org"},
	)
	require.NoError(t, err)
	return registry
}

func TestMaterializerProjection(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	registry := testRegistry(t)
	m := NewMaterializer(store.ExternalRecords(), registry)

	softwareID := int64(7)
	require.NoError(t, store.ExternalRecords().Upsert(ctx, &catalog.ExternalRecord{
		SourceSlug: "secondary",
		ExternalID: "123",
		SoftwareID: &softwareID,
		Label:      "Stale Label",
		License:    "GPL-3.0",
	}))
	require.NoError(t, store.ExternalRecords().Upsert(ctx, &catalog.ExternalRecord{
		SourceSlug: "primary",
		ExternalID: "Q1",
		SoftwareID: &softwareID,
		Label:      "Fresh Label",
	}))

	projection, err := m.Projection(ctx, softwareID)
	require.NoError(t, err)
	require.NotNil(t, projection)
	assert.Equal(t, "Fresh Label", projection.Label)
	assert.Equal(t, "GPL-3.0", projection.License)
}

func TestMaterializerNoLinkedRecords(t *testing.T) {
	ctx := context.Background()
	m := NewMaterializer(memory.New().ExternalRecords(), testRegistry(t))

	projection, err := m.Projection(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, projection)
}

func TestMaterializerCacheInvalidation(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	m := NewMaterializer(store.ExternalRecords(), testRegistry(t))

	softwareID := int64(3)
	rec := &catalog.ExternalRecord{
		SourceSlug: "primary",
		ExternalID: "Q9",
		SoftwareID: &softwareID,
		Label:      "Before",
	}
	require.NoError(t, store.ExternalRecords().Upsert(ctx, rec))

	projection, err := m.Projection(ctx, softwareID)
	require.NoError(t, err)
	assert.Equal(t, "Before", projection.Label)

	rec.Label = "After"
	require.NoError(t, store.ExternalRecords().Upsert(ctx, rec))

	// The cache still serves the old projection until invalidated.
	cached, err := m.Projection(ctx, softwareID)
	require.NoError(t, err)
	assert.Equal(t, "Before", cached.Label)

	m.Invalidate(softwareID)
	fresh, err := m.Projection(ctx, softwareID)
	require.NoError(t, err)
	assert.Equal(t, "After", fresh.Label)
}

func TestMaterializerUnknownSourceIsConfigError(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	m := NewMaterializer(store.ExternalRecords(), testRegistry(t))

	softwareID := int64(5)
	require.NoError(t, store.ExternalRecords().Upsert(ctx, &catalog.ExternalRecord{
		SourceSlug: "ghost",
		ExternalID: "1",
		SoftwareID: &softwareID,
	}))

	_, err := m.Projection(ctx, softwareID)
	require.Error(t, err)
	var configErr *errors.ConfigError
	assert.True(t, errors.As(err, &configErr))
}
