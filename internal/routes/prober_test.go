package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProberProbe(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/base/healthz" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer healthy.Close()
	degraded := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer degraded.Close()

	snapshot, err := NewSnapshot([]Route{
		{Service: "billing", Type: Public, Upstream: healthy.URL + "/base/", Health: HealthCheck{Path: "/healthz"}},
		{Service: "crm", Type: Public, Upstream: degraded.URL, Health: HealthCheck{Path: "/healthz"}},
		{Service: "quiet", Type: Public, Upstream: degraded.URL},
		{Service: "teapot", Type: Public, Upstream: degraded.URL, Health: HealthCheck{Path: "/", AcceptedStatus: []int{503}}},
	})
	require.NoError(t, err)

	results := NewProber(nil, 2).Probe(context.Background(), snapshot)
	require.Len(t, results, 3)

	assert.Equal(t, "billing", results[0].Service)
	assert.True(t, results[0].Healthy)
	assert.Equal(t, http.StatusNoContent, results[0].Status)

	assert.Equal(t, "crm", results[1].Service)
	assert.False(t, results[1].Healthy)
	assert.Equal(t, http.StatusServiceUnavailable, results[1].Status)

	assert.Equal(t, "teapot", results[2].Service)
	assert.True(t, results[2].Healthy)
}

func TestProberUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	snapshot, err := NewSnapshot([]Route{{Service: "gone", Type: Public, Upstream: url, Health: HealthCheck{Path: "/healthz"}}})
	require.NoError(t, err)
	results := NewProber(nil, 1).Probe(context.Background(), snapshot)
	require.Len(t, results, 1)
	assert.False(t, results[0].Healthy)
	assert.NotEmpty(t, results[0].Error)
}
