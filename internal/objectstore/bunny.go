package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// BunnyStore talks to a Bunny-style storage zone:
// PUT {baseURL}/{zone}/{key} with an AccessKey header, read back from
// {publicBaseURL}/{key}.
type BunnyStore struct {
	client        *http.Client
	baseURL       string
	zone          string
	accessKey     string
	publicBaseURL string
}

func NewBunnyStore(baseURL, zone, accessKey, publicBaseURL string, client *http.Client) *BunnyStore {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &BunnyStore{
		client:        client,
		baseURL:       baseURL,
		zone:          zone,
		accessKey:     accessKey,
		publicBaseURL: publicBaseURL,
	}
}

func (store *BunnyStore) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, joinURL(store.baseURL, store.zone, key), bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.ContentLength = int64(len(data))
	req.Header.Set("AccessKey", store.accessKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := store.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", &StatusError{Key: key, StatusCode: resp.StatusCode, Body: string(body)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	return joinURL(store.publicBaseURL, key), nil
}
