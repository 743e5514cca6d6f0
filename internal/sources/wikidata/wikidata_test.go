package wikidata

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

const entityPayload = `{
  "entities": {
    "Q171477": {
      "labels": {"en": {"language": "en", "value": "VLC media player"}},
      "descriptions": {"en": {"language": "en", "value": "free and open-source media player"}},
      "aliases": {"en": [{"language": "en", "value": "VLC"}, {"language": "en", "value": "VideoLAN Client"}]},
      "claims": {
        "P856": [{"mainsnak": {"datavalue": {"value": "https://www.videolan.org/vlc/"}}}],
        "P1324": [{"mainsnak": {"datavalue": {"value": "https://github.com/videolan/vlc"}}}],
        "P348": [{"mainsnak": {"datavalue": {"value": "3.0.20"}}}]
      },
      "modified": "2026-01-10T08:00:00Z"
    }
  }
}`

func testSource(url string) catalog.Source {
	return catalog.Source{Slug: "wikidata", Priority: 1, Kind: catalog.KindWikidata, URL: url}
}

func TestFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/wiki/Special:EntityData/Q171477.json", r.URL.Path)
		w.Write([]byte(entityPayload))
	}))
	defer server.Close()

	f := New(transport.New())
	fields, err := f.Fetch(context.Background(), testSource(server.URL), "Q171477")
	require.NoError(t, err)

	assert.Equal(t, "VLC media player", fields.Label)
	assert.Equal(t, "free and open-source media player", fields.Description)
	assert.Equal(t, "https://www.videolan.org/vlc/", fields.WebsiteURL)
	assert.Equal(t, "https://github.com/videolan/vlc", fields.SourceURL)
	assert.Equal(t, "3.0.20", fields.Version)
	assert.Equal(t, []string{"VLC", "VideoLAN Client"}, fields.Keywords)
	require.NotNil(t, fields.PublicationTime)

	// The forge repository claim doubles as a cross-provider identifier.
	require.Len(t, fields.Identifiers, 1)
	assert.Equal(t, "https://github.com", fields.Identifiers[0].SubjectURL)
	assert.Equal(t, "videolan/vlc", fields.Identifiers[0].Value)
}

func TestFetchRedirectedEntity(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The canonical id differs from the requested one.
		w.Write([]byte(`{"entities": {"Q999": {"labels": {"fr": {"language": "fr", "value": "Libellé"}}}}}`))
	}))
	defer server.Close()

	f := New(transport.New())
	fields, err := f.Fetch(context.Background(), testSource(server.URL), "Q1")
	require.NoError(t, err)
	assert.Equal(t, "Libellé", fields.Label)
}

func TestFetchNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	f := New(transport.New())
	_, err := f.Fetch(context.Background(), testSource(server.URL), "Q404")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestFetchRejectsMalformedID(t *testing.T) {
	f := New(transport.New())
	_, err := f.Fetch(context.Background(), testSource("https://www.wikidata.org"), "171477")
	var validationErr *errors.ValidationError
	assert.True(t, errors.As(err, &validationErr))
}

func TestForgeIdentifier(t *testing.T) {
	tests := []struct {
		repoURL string
		subject string
		value   string
	}{
		{"https://github.com/videolan/vlc", "https://github.com", "videolan/vlc"},
		{"https://github.com/videolan/vlc.git", "https://github.com", "videolan/vlc"},
		{"https://github.com/videolan/vlc/tree/master", "", ""},
		{"https://code.videolan.org/videolan/vlc", "", ""},
	}
	for _, tt := range tests {
		subject, value := forgeIdentifier(tt.repoURL)
		assert.Equal(t, tt.subject, subject, tt.repoURL)
		assert.Equal(t, tt.value, value, tt.repoURL)
	}
}
