package codeforge

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

const repoPayload = `{
  "name": "vlc",
  "full_name": "videolan/vlc",
  "description": "VLC media player",
  "html_url": "https://github.com/videolan/vlc",
  "homepage": "https://www.videolan.org/vlc/",
  "language": "C",
  "topics": ["multimedia", "player"],
  "pushed_at": "2026-02-01T10:00:00Z",
  "license": {"spdx_id": "GPL-2.0"},
  "owner": {"login": "videolan", "html_url": "https://github.com/videolan"}
}`

func testSource(url string) catalog.Source {
	return catalog.Source{Slug: "github", Priority: 4, Kind: catalog.KindCodeForge, URL: url}
}

func TestFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/videolan/vlc", r.URL.Path)
		w.Write([]byte(repoPayload))
	}))
	defer server.Close()

	f := New(transport.New())
	fields, err := f.Fetch(context.Background(), testSource(server.URL), "videolan/vlc")
	require.NoError(t, err)

	assert.Equal(t, "vlc", fields.Label)
	assert.Equal(t, "VLC media player", fields.Description)
	assert.Equal(t, "https://www.videolan.org/vlc/", fields.WebsiteURL)
	assert.Equal(t, "https://github.com/videolan/vlc", fields.SourceURL)
	assert.Equal(t, "GPL-2.0", fields.License)
	assert.Equal(t, []string{"multimedia", "player"}, fields.Keywords)
	assert.Equal(t, []string{"C"}, fields.ProgrammingLanguages)
	assert.Equal(t, []catalog.Developer{{Name: "videolan", URL: "https://github.com/videolan"}}, fields.Developers)
	require.NotNil(t, fields.PublicationTime)
}

func TestFetchIgnoresNoAssertionLicense(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name": "x", "license": {"spdx_id": "NOASSERTION"}}`))
	}))
	defer server.Close()

	f := New(transport.New())
	fields, err := f.Fetch(context.Background(), testSource(server.URL), "org/x")
	require.NoError(t, err)
	assert.Empty(t, fields.License)
}

func TestFetchRepositoryGone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	f := New(transport.New())
	_, err := f.Fetch(context.Background(), testSource(server.URL), "org/gone")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestFetchRejectsMalformedID(t *testing.T) {
	f := New(transport.New())
	for _, id := range []string{"", "vlc", "/vlc", "videolan/"} {
		_, err := f.Fetch(context.Background(), testSource("https://github.com"), id)
		var validationErr *errors.ValidationError
		assert.True(t, errors.As(err, &validationErr), id)
	}
}

func TestAPIBase(t *testing.T) {
	assert.Equal(t, "https://api.github.com", apiBase("https://github.com"))
	assert.Equal(t, "https://api.github.com", apiBase("https://github.com/"))
	assert.Equal(t, "https://forge.example.org", apiBase("https://forge.example.org/"))
}
