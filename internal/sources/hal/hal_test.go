package hal

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

const searchPayload = `{
  "response": {
    "numFound": 1,
    "docs": [{
      "docid": 2801317,
      "title_s": ["scikit-learn"],
      "abstract_s": ["Machine learning in Python"],
      "uri_s": "https://hal.science/hal-02801317",
      "softVersion_s": ["1.4"],
      "softCodeRepository_s": ["https://github.com/scikit-learn/scikit-learn"],
      "softProgrammingLanguage_s": ["Python", "Cython"],
      "softPlatform_s": ["Linux", "MacOS"],
      "keyword_s": ["machine learning"],
      "licence_s": ["BSD-3-Clause"],
      "authFullName_s": ["Olivier Grisel", "Gaël Varoquaux"],
      "producedDate_tdate": "2023-05-02T00:00:00Z"
    }]
  }
}`

func testSource(url string) catalog.Source {
	return catalog.Source{Slug: "hal", Priority: 2, Kind: catalog.KindHAL, URL: url}
}

func TestFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/", r.URL.Path)
		assert.Equal(t, "docid:2801317", r.URL.Query().Get("q"))
		assert.NotEmpty(t, r.URL.Query().Get("fl"))
		w.Write([]byte(searchPayload))
	}))
	defer server.Close()

	f := New(transport.New())
	fields, err := f.Fetch(context.Background(), testSource(server.URL), "2801317")
	require.NoError(t, err)

	assert.Equal(t, "scikit-learn", fields.Label)
	assert.Equal(t, "Machine learning in Python", fields.Description)
	assert.Equal(t, "https://hal.science/hal-02801317", fields.WebsiteURL)
	assert.Equal(t, "https://github.com/scikit-learn/scikit-learn", fields.SourceURL)
	assert.Equal(t, "BSD-3-Clause", fields.License)
	assert.Equal(t, "1.4", fields.Version)
	assert.Equal(t, []string{"machine learning"}, fields.Keywords)
	assert.Equal(t, []string{"Linux", "MacOS"}, fields.Categories)
	assert.Equal(t, []string{"Python", "Cython"}, fields.ProgrammingLanguages)
	assert.Equal(t, []catalog.Developer{
		{Name: "Olivier Grisel"},
		{Name: "Gaël Varoquaux"},
	}, fields.Developers)
	require.NotNil(t, fields.PublicationTime)
}

func TestFetchEmptyResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response": {"numFound": 0, "docs": []}}`))
	}))
	defer server.Close()

	f := New(transport.New())
	_, err := f.Fetch(context.Background(), testSource(server.URL), "999")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestFetchServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	f := New(transport.New())
	_, err := f.Fetch(context.Background(), testSource(server.URL), "1")
	require.Error(t, err)
	var apiErr *errors.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
}
