package streaming

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrPlaybackNotReady means the far end has not finished processing the
// asset yet. Callers fall back to the object-store URL.
var ErrPlaybackNotReady = errors.New("streaming: playback not ready")

// Asset is the descriptor returned when requesting an upload slot.
type Asset struct {
	ID          string
	PlaybackID  string
	UploadURL   string
	TusEndpoint string
}

type ClientOptions struct {
	APIURL         string
	APIKey         string
	MaxFailures    uint32
	BreakerTimeout time.Duration
	HTTPClient     *http.Client
}

type Client struct {
	http   *http.Client
	apiURL string
	apiKey string
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

func NewClient(options ClientOptions, logger *zap.Logger) *Client {
	httpClient := options.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	maxFailures := options.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}

	st := gobreaker.Settings{
		Name:        "streaming-api",
		MaxRequests: 1,
		Timeout:     options.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrPlaybackNotReady)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("circuit breaker state", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}

	return &Client{
		http:   httpClient,
		apiURL: strings.TrimRight(options.APIURL, "/"),
		apiKey: options.APIKey,
		cb:     gobreaker.NewCircuitBreaker(st),
		logger: logger,
	}
}

type requestUploadResponse struct {
	URL         string `json:"url"`
	TusEndpoint string `json:"tusEndpoint"`
	Asset       struct {
		ID         string `json:"id"`
		PlaybackID string `json:"playbackId"`
	} `json:"asset"`
}

// CreateAsset requests an upload slot and returns its resumable endpoint.
func (client *Client) CreateAsset(ctx context.Context, name string) (*Asset, error) {
	body, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return nil, err
	}

	result, err := client.cb.Execute(func() (interface{}, error) {
		var out requestUploadResponse
		if err := client.do(ctx, http.MethodPost, "/asset/request-upload", body, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("create asset: %w", err)
	}

	resp := result.(*requestUploadResponse)
	if resp.TusEndpoint == "" || resp.Asset.ID == "" {
		return nil, errors.New("create asset: response is missing tus endpoint or asset id")
	}
	return &Asset{
		ID:          resp.Asset.ID,
		PlaybackID:  resp.Asset.PlaybackID,
		UploadURL:   resp.URL,
		TusEndpoint: resp.TusEndpoint,
	}, nil
}

type playbackInfoResponse struct {
	Type string `json:"type"`
	Meta struct {
		Source []struct {
			Hrn  string `json:"hrn"`
			Type string `json:"type"`
			URL  string `json:"url"`
		} `json:"source"`
	} `json:"meta"`
}

// PlaybackSource returns the first playable source URL for playbackID.
func (client *Client) PlaybackSource(ctx context.Context, playbackID string) (string, error) {
	result, err := client.cb.Execute(func() (interface{}, error) {
		var out playbackInfoResponse
		if err := client.do(ctx, http.MethodGet, "/playback/"+url.PathEscape(playbackID), nil, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
	if err != nil {
		return "", err
	}

	info := result.(*playbackInfoResponse)
	if len(info.Meta.Source) == 0 || info.Meta.Source[0].URL == "" {
		return "", ErrPlaybackNotReady
	}
	return info.Meta.Source[0].URL, nil
}

// APIError is a non-2xx response from the streaming API.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

func (client *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, client.apiURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+client.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && method == http.MethodGet {
		return ErrPlaybackNotReady
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(msg)}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
