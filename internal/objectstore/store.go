package objectstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Store writes a whole object in one request and returns its public URL.
type Store interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}

const (
	ContentTypeJPEG = "image/jpeg"
	ContentTypeMP4  = "video/mp4"
)

// Key builds {userID}/{stamp}.{ext}. The user id is escaped into a single
// path segment so it can never leave its own prefix.
func Key(userID string, stamp int64, ext string) string {
	segment := url.PathEscape(userID)
	if segment == "." || segment == ".." {
		segment = strings.ReplaceAll(segment, ".", "%2E")
	}
	return segment + "/" + fmt.Sprintf("%d.%s", stamp, strings.TrimPrefix(ext, "."))
}

// StatusError is returned for a non-2xx response.
type StatusError struct {
	Key        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("put %s: unexpected status %d: %s", e.Key, e.StatusCode, e.Body)
}

func joinURL(base string, parts ...string) string {
	out := strings.TrimRight(base, "/")
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			out += "/" + p
		}
	}
	return out
}
