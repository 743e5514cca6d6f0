package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/softfuse/softfuse/pkg/errors"
)

func TestGetJSONSendsBearerToken(t *testing.T) {
	t.Setenv("SOFTFUSE_GITHUB_TOKEN", "ghp_test")

	var gotAuth, gotAccept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	var payload struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, New().GetJSON(context.Background(), "github", server.URL, &payload))
	assert.True(t, payload.OK)
	assert.Equal(t, "Bearer ghp_test", gotAuth)
	assert.Equal(t, "application/json", gotAccept)
}

func TestGetJSONNoTokenConfigured(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	var payload struct{}
	require.NoError(t, New().GetJSON(context.Background(), "nosuchsource", server.URL, &payload))
	assert.Empty(t, gotAuth)
}

func TestDecodeResponseNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	var payload struct{}
	err := New().GetJSON(context.Background(), "hal", server.URL, &payload)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestDecodeResponseUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("rate limit exceeded"))
	}))
	defer server.Close()

	var payload struct{}
	err := New().GetJSON(context.Background(), "hal", server.URL, &payload)
	require.Error(t, err)
	var apiErr *errors.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, "rate limit exceeded", apiErr.Message)
	assert.Equal(t, "hal", apiErr.Source)
}

func TestGetConnectionFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	var payload struct{}
	err := New().GetJSON(context.Background(), "hal", server.URL, &payload)
	require.Error(t, err)
	var apiErr *errors.APIError
	assert.True(t, errors.As(err, &apiErr))
}

func TestGetTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	client := NewWithHTTPClient(&http.Client{Timeout: 20 * time.Millisecond})
	var payload struct{}
	err := client.GetJSON(context.Background(), "hal", server.URL, &payload)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTimeout)
	var apiErr *errors.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "request timed out", apiErr.Message)
}
