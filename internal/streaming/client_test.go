package streaming

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCreateAsset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/asset/request-upload", r.URL.Path)
		require.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "post-42", body["name"])

		_, _ = w.Write([]byte(`{"url":"https://up.example.com/direct","tusEndpoint":"https://up.example.com/tus","asset":{"id":"a1","playbackId":"pb1"}}`))
	}))
	defer srv.Close()

	client := NewClient(ClientOptions{APIURL: srv.URL + "/api/", APIKey: "key"}, zap.NewNop())
	asset, err := client.CreateAsset(context.Background(), "post-42")
	require.NoError(t, err)
	require.Equal(t, &Asset{ID: "a1", PlaybackID: "pb1", UploadURL: "https://up.example.com/direct", TusEndpoint: "https://up.example.com/tus"}, asset)
}

func TestCreateAssetMissingEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"asset":{"id":"a1"}}`))
	}))
	defer srv.Close()

	_, err := NewClient(ClientOptions{APIURL: srv.URL}, zap.NewNop()).CreateAsset(context.Background(), "post-1")
	require.Error(t, err)
}

func TestPlaybackSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/playback/ready":
			_, _ = w.Write([]byte(`{"type":"vod","meta":{"source":[{"hrn":"HLS","type":"html5/application/vnd.apple.mpegurl","url":"https://cdn.example.com/hls/index.m3u8"}]}}`))
		case "/playback/empty":
			_, _ = w.Write([]byte(`{"type":"vod","meta":{"source":[]}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewClient(ClientOptions{APIURL: srv.URL}, zap.NewNop())

	src, err := client.PlaybackSource(context.Background(), "ready")
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example.com/hls/index.m3u8", src)

	_, err = client.PlaybackSource(context.Background(), "empty")
	require.ErrorIs(t, err, ErrPlaybackNotReady)

	_, err = client.PlaybackSource(context.Background(), "missing")
	require.ErrorIs(t, err, ErrPlaybackNotReady)
}

func TestBreakerOpensOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(ClientOptions{APIURL: srv.URL, MaxFailures: 2}, zap.NewNop())
	for i := 0; i < 2; i++ {
		_, err := client.CreateAsset(context.Background(), "post-1")
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	}

	_, err := client.CreateAsset(context.Background(), "post-1")
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	require.Equal(t, int32(2), hits.Load())
}

func TestNotReadyDoesNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(ClientOptions{APIURL: srv.URL, MaxFailures: 1}, zap.NewNop())
	for i := 0; i < 3; i++ {
		_, err := client.PlaybackSource(context.Background(), "pending")
		require.ErrorIs(t, err, ErrPlaybackNotReady)
	}
}
