package cnll

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/softfuse/softfuse/internal/transport"
	"github.com/softfuse/softfuse/pkg/catalog"
	"github.com/softfuse/softfuse/pkg/errors"
)

const directoryPayload = `[
  {
    "sill_id": 67,
    "nom": "Dolibarr",
    "url": "https://www.dolibarr.org",
    "description": "ERP et CRM",
    "licence": "GPL-3.0",
    "prestataires": [
      {"nom": "Easya Solutions", "url": "https://easya.solutions"},
      {"nom": "Open-DSI", "url": "https://www.open-dsi.fr"}
    ]
  },
  {"sill_id": 68, "nom": "Autre", "url": "", "description": "", "licence": "", "prestataires": []}
]`

func testSource(url string) catalog.Source {
	return catalog.Source{Slug: "cnll", Priority: 3, Kind: catalog.KindCNLL, URL: url}
}

func TestFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/prestataires-sill.json", r.URL.Path)
		w.Write([]byte(directoryPayload))
	}))
	defer server.Close()

	f := New(transport.New())
	fields, err := f.Fetch(context.Background(), testSource(server.URL), "67")
	require.NoError(t, err)

	assert.Equal(t, "Dolibarr", fields.Label)
	assert.Equal(t, "ERP et CRM", fields.Description)
	assert.Equal(t, "https://www.dolibarr.org", fields.WebsiteURL)
	assert.Equal(t, "GPL-3.0", fields.License)
	require.NotNil(t, fields.IsLibre)
	assert.True(t, *fields.IsLibre)
	assert.Equal(t, []catalog.Developer{
		{Name: "Easya Solutions", URL: "https://easya.solutions"},
		{Name: "Open-DSI", URL: "https://www.open-dsi.fr"},
	}, fields.Developers)
}

func TestFetchMissingEntry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(directoryPayload))
	}))
	defer server.Close()

	f := New(transport.New())
	_, err := f.Fetch(context.Background(), testSource(server.URL), "404")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestFetchRejectsNonNumericID(t *testing.T) {
	f := New(transport.New())
	_, err := f.Fetch(context.Background(), testSource("https://annuaire.cnll.fr"), "dolibarr")
	var validationErr *errors.ValidationError
	assert.True(t, errors.As(err, &validationErr))
}
