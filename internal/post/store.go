package post

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("post: not found")

// Store persists publish records in two phases. Finalize on an already
// finalized id overwrites the playback id.
type Store interface {
	InsertPlaceholder(ctx context.Context, p Placeholder) (int64, error)
	Finalize(ctx context.Context, id int64, playbackID string) error
	Get(ctx context.Context, id int64) (*Record, error)
	List(ctx context.Context, q Query) ([]Record, error)
	// ListPending returns records still missing a playback id that were
	// created before olderThan, oldest first.
	ListPending(ctx context.Context, olderThan time.Time, limit int) ([]Record, error)
	CountSince(ctx context.Context, userID string, since time.Time) (int, error)
	SetSuppressed(ctx context.Context, id int64, suppressed bool) error
}
