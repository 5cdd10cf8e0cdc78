package post

import "time"

// Record is a published post. PlaybackID stays nil until the streaming
// upload is finalized; readers fall back to VideoURL meanwhile.
type Record struct {
	ID           int64     `json:"id"`
	UserID       string    `json:"user_id"`
	CountryID    *int64    `json:"country_id,omitempty"`
	VideoURL     string    `json:"video_url"`
	ThumbnailURL string    `json:"thumbnail_url"`
	PlaybackID   *string   `json:"playback_id"`
	Suppressed   bool      `json:"suppressed"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Pending reports whether phase two has not landed yet.
func (r *Record) Pending() bool {
	return r.PlaybackID == nil || *r.PlaybackID == ""
}

type Placeholder struct {
	UserID       string
	CountryID    *int64
	VideoURL     string
	ThumbnailURL string
}

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Query selects feed-visible records, newest first.
type Query struct {
	UserID            string
	CountryID         *int64
	IncludeSuppressed bool
	Limit             int
	Offset            int
}

func (q Query) Normalize() Query {
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// Matches applies the query filters to r, ignoring paging.
func (q Query) Matches(r *Record) bool {
	if r.Suppressed && !q.IncludeSuppressed {
		return false
	}
	if q.UserID != "" && r.UserID != q.UserID {
		return false
	}
	if q.CountryID != nil && (r.CountryID == nil || *r.CountryID != *q.CountryID) {
		return false
	}
	return true
}
