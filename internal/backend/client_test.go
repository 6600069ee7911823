package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"adgate/internal/models"
)

func TestRandomAd(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    *models.Advertisement
		wantErr bool
	}{
		{
			name:   "script ad adopted",
			status: http.StatusOK,
			body:   `{"advertisement":{"id":"ad123","title":"Try this","adFormat":"script","scriptUrl":"https://ads.example.com/tag.js","settings":{"countdown":10}}}`,
			want: &models.Advertisement{
				ID:        "ad123",
				Title:     "Try this",
				Format:    models.FormatScript,
				ScriptURL: "https://ads.example.com/tag.js",
				Settings:  models.AdSettings{CountdownSeconds: 10},
			},
		},
		{
			name:   "direct link ad adopted",
			status: http.StatusOK,
			body:   `{"advertisement":{"id":"ad9","adFormat":"direct_link","directLink":"https://out.example.com/x"}}`,
			want: &models.Advertisement{
				ID:         "ad9",
				Format:     models.FormatDirectLink,
				DirectLink: "https://out.example.com/x",
			},
		},
		{
			name:   "unknown format fails closed",
			status: http.StatusOK,
			body:   `{"advertisement":{"id":"ad123","adFormat":"popunder"}}`,
			want:   nil,
		},
		{
			name:   "script ad without script url fails closed",
			status: http.StatusOK,
			body:   `{"advertisement":{"id":"ad123","adFormat":"script"}}`,
			want:   nil,
		},
		{
			name:   "empty response means no ad",
			status: http.StatusOK,
			body:   `{}`,
			want:   nil,
		},
		{
			name:   "no content",
			status: http.StatusNoContent,
			body:   ``,
			want:   nil,
		},
		{
			name:    "server error",
			status:  http.StatusInternalServerError,
			body:    `oops`,
			wantErr: true,
		},
		{
			name:    "garbage body",
			status:  http.StatusOK,
			body:    `[[[`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/api/v1/advertisements/random", r.URL.Path)
				require.Equal(t, "download", r.URL.Query().Get("type"))
				require.Equal(t, "button_click", r.URL.Query().Get("placement"))
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			ad, err := New(srv.URL).RandomAd(context.Background(), "download", "button_click")
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, ad)
		})
	}
}

func TestVerifyView(t *testing.T) {
	var got VerifyViewRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/advertisements/verify-view", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]bool{"success": true})
	}))
	defer srv.Close()

	ok, err := New(srv.URL).VerifyView(context.Background(), VerifyViewRequest{
		AdID:        "ad123",
		DownloadURL: "https://cdn.example.com/app.apk",
		Timestamp:   42,
		UserAgent:   "test",
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "ad123", got.AdID)
	require.Equal(t, "https://cdn.example.com/app.apk", got.DownloadURL)
}

func TestVerifyViewDenied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]bool{"success": false})
	}))
	defer srv.Close()

	ok, err := New(srv.URL).VerifyView(context.Background(), VerifyViewRequest{AdID: "ad123"})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyViewServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL).VerifyView(context.Background(), VerifyViewRequest{AdID: "ad123"})
	require.Error(t, err)
}

func TestTrackImpression(t *testing.T) {
	var got impressionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/advertisements/track-impression", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := New(srv.URL).TrackImpression(context.Background(), "ad123", 15, map[string]string{"network": "adsterra"})
	require.NoError(t, err)
	require.Equal(t, "ad123", got.AdID)
	require.Equal(t, 15, got.ViewTime)
	require.Equal(t, "adsterra", got.Metadata["network"])
}
