package adnetwork

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type nopSink struct{}

func (nopSink) TrackImpression(ctx context.Context, adID string, viewTime int, metadata map[string]string) error {
	return nil
}

func tagServer(t *testing.T, body string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLoadBestAvailablePriorityOrder(t *testing.T) {
	empty := tagServer(t, `<html><body></body></html>`, nil)
	creative := tagServer(t, `<html><body><script src="https://ads.example.com/u.js"></script></body></html>`, nil)

	loader := NewLoader([]Network{
		NewTagNetwork("first", empty.URL),
		NewTagNetwork("second", creative.URL),
	}, nopSink{})

	res := loader.LoadBestAvailable(context.Background(), "c1", []string{"first", "second"})
	require.True(t, res.OK)
	require.Equal(t, "second", res.Network)
}

func TestLoadBestAvailableAllFail(t *testing.T) {
	empty := tagServer(t, `<html><body><p>nothing here</p></body></html>`, nil)

	loader := NewLoader([]Network{NewTagNetwork("only", empty.URL)}, nopSink{})

	res := loader.LoadBestAvailable(context.Background(), "c1", []string{"only", "unknown"})
	require.False(t, res.OK)
	require.Empty(t, res.Network)
}

func TestLoadBestAvailableIdempotent(t *testing.T) {
	var hits atomic.Int32
	creative := tagServer(t, `<html><body><ins class="unit"></ins></body></html>`, &hits)

	loader := NewLoader([]Network{NewTagNetwork("net", creative.URL)}, nopSink{})

	first := loader.LoadBestAvailable(context.Background(), "c1", []string{"net"})
	second := loader.LoadBestAvailable(context.Background(), "c1", []string{"net"})

	require.True(t, first.OK)
	require.Equal(t, first, second)
	require.Equal(t, int32(1), hits.Load(), "second call must not re-inject")
}

func TestLoadBestAvailableNoNetworks(t *testing.T) {
	loader := NewLoader(nil, nopSink{})

	res := loader.LoadBestAvailable(context.Background(), "c1", []string{"adsterra", "popads"})
	require.False(t, res.OK)
}

func TestTagNetworkRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	err := NewTagNetwork("net", srv.URL).Load(context.Background(), "c1")
	require.Error(t, err)
}
