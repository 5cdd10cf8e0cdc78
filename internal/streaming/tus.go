package streaming

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"wildfire/internal/metrics"
)

const tusVersion = "1.0.0"

// DefaultRetryDelays are the waits between resumable upload attempts.
var DefaultRetryDelays = []time.Duration{0, 3 * time.Second, 5 * time.Second, 10 * time.Second, 20 * time.Second}

// Progress is advisory only.
type Progress func(sent, total int64)

// TusUploader implements the client side of the tus 1.0 core protocol with
// the creation extension.
type TusUploader struct {
	http      *http.Client
	chunkSize int64
	delays    []time.Duration
	logger    *zap.Logger
}

func NewTusUploader(chunkSize int64, delays []time.Duration, httpClient *http.Client, logger *zap.Logger) *TusUploader {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	if chunkSize <= 0 {
		chunkSize = 5 << 20
	}
	if delays == nil {
		delays = DefaultRetryDelays
	}
	return &TusUploader{
		http:      httpClient,
		chunkSize: chunkSize,
		delays:    delays,
		logger:    logger,
	}
}

// fixedDelays yields each configured delay once, then stops.
type fixedDelays struct {
	delays []time.Duration
	next   int
}

func (b *fixedDelays) NextBackOff() time.Duration {
	if b.next >= len(b.delays) {
		return backoff.Stop
	}
	d := b.delays[b.next]
	b.next++
	return d
}

func (b *fixedDelays) Reset() { b.next = 0 }

// Upload sends data to endpoint and returns the upload URL. Every retry
// resumes from the offset the server reports.
func (uploader *TusUploader) Upload(ctx context.Context, endpoint string, data []byte, metadata map[string]string, progress Progress) (string, error) {
	var uploadURL string
	total := int64(len(data))

	operation := func() error {
		if uploadURL == "" {
			created, err := uploader.create(ctx, endpoint, total, metadata)
			if err != nil {
				return err
			}
			uploadURL = created
		}

		offset, err := uploader.offset(ctx, uploadURL)
		if errors.Is(err, errUploadGone) {
			uploadURL = ""
			return err
		}
		if err != nil {
			return err
		}

		for offset < total {
			end := offset + uploader.chunkSize
			if end > total {
				end = total
			}
			next, err := uploader.patch(ctx, uploadURL, offset, data[offset:end])
			if err != nil {
				return err
			}
			// A PATCH that does not move the offset counts as a failed attempt.
			if next <= offset || next > total {
				return fmt.Errorf("%w: %d after %d", errOffsetStalled, next, offset)
			}
			offset = next
			if progress != nil {
				progress(offset, total)
			}
		}
		return nil
	}

	notify := func(err error, wait time.Duration) {
		metrics.StreamingRetries.Inc()
		uploader.logger.Warn("resumable upload attempt failed",
			zap.String("upload_url", uploadURL),
			zap.Duration("retry_in", wait),
			zap.Error(err))
	}

	policy := backoff.WithContext(&fixedDelays{delays: uploader.delays}, ctx)
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return uploadURL, fmt.Errorf("resumable upload: %w", err)
	}
	return uploadURL, nil
}

var (
	errUploadGone    = errors.New("tus: upload no longer exists")
	errOffsetStalled = errors.New("tus: upload offset did not advance")
)

func (uploader *TusUploader) create(ctx context.Context, endpoint string, length int64, metadata map[string]string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return "", backoff.Permanent(err)
	}
	req.Header.Set("Tus-Resumable", tusVersion)
	req.Header.Set("Upload-Length", strconv.FormatInt(length, 10))
	if encoded := encodeMetadata(metadata); encoded != "" {
		req.Header.Set("Upload-Metadata", encoded)
	}

	resp, err := uploader.http.Do(req)
	if err != nil {
		return "", err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusCreated {
		return "", statusError("create", resp)
	}
	location := resp.Header.Get("Location")
	if location == "" {
		return "", backoff.Permanent(errors.New("tus: create response has no Location"))
	}
	return resolveLocation(endpoint, location)
}

func (uploader *TusUploader) offset(ctx context.Context, uploadURL string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, uploadURL, nil)
	if err != nil {
		return 0, backoff.Permanent(err)
	}
	req.Header.Set("Tus-Resumable", tusVersion)

	resp, err := uploader.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer drain(resp)

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		return 0, errUploadGone
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return 0, statusError("head", resp)
	}
	return parseOffset(resp)
}

func (uploader *TusUploader) patch(ctx context.Context, uploadURL string, offset int64, chunk []byte) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, uploadURL, bytes.NewReader(chunk))
	if err != nil {
		return offset, backoff.Permanent(err)
	}
	req.ContentLength = int64(len(chunk))
	req.Header.Set("Tus-Resumable", tusVersion)
	req.Header.Set("Upload-Offset", strconv.FormatInt(offset, 10))
	req.Header.Set("Content-Type", "application/offset+octet-stream")

	resp, err := uploader.http.Do(req)
	if err != nil {
		return offset, err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return offset, statusError("patch", resp)
	}
	return parseOffset(resp)
}

// statusError makes 4xx responses permanent, except offset conflicts and
// throttling which a fresh HEAD can recover from.
func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("tus %s: status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(body)))
	switch {
	case resp.StatusCode == http.StatusConflict, resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusLocked:
		return err
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return backoff.Permanent(err)
	}
	return err
}

func parseOffset(resp *http.Response) (int64, error) {
	value := resp.Header.Get("Upload-Offset")
	offset, err := strconv.ParseInt(value, 10, 64)
	if err != nil || offset < 0 {
		return 0, fmt.Errorf("tus: bad Upload-Offset %q", value)
	}
	return offset, nil
}

func resolveLocation(endpoint, location string) (string, error) {
	base, err := url.Parse(endpoint)
	if err != nil {
		return "", backoff.Permanent(err)
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", backoff.Permanent(err)
	}
	return base.ResolveReference(ref).String(), nil
}

func encodeMetadata(metadata map[string]string) string {
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+" "+base64.StdEncoding.EncodeToString([]byte(metadata[k])))
	}
	return strings.Join(pairs, ",")
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
