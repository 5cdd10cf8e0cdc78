package engagement

import (
	"context"
	"time"
)

// View is the per-viewer row. Count is separate from row existence.
type View struct {
	PostID   int64
	ViewerID string
	Count    int64
}

type Comment struct {
	ID        string    `json:"id"`
	PostID    int64     `json:"post_id"`
	UserID    string    `json:"user_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

type Aggregate struct {
	Views    int64 `json:"views"`
	Likes    int64 `json:"likes"`
	Comments int64 `json:"comments"`
}

// Store is the relational contract behind the counter. InsertView and
// InsertLike return store.ErrDuplicate on a unique key conflict.
type Store interface {
	ViewExists(ctx context.Context, postID int64, viewerID string) (bool, error)
	InsertView(ctx context.Context, postID int64, viewerID string) error
	IncrementView(ctx context.Context, postID int64, viewerID string) error
	Views(ctx context.Context, postID int64) ([]View, error)

	InsertLike(ctx context.Context, postID int64, userID string) error
	InsertComment(ctx context.Context, c Comment) error
	Follow(ctx context.Context, followerID, followeeID string) error

	Aggregates(ctx context.Context, postIDs []int64) (map[int64]Aggregate, error)
	LikedBy(ctx context.Context, viewerID string, postIDs []int64) (map[int64]bool, error)
	FollowedBy(ctx context.Context, viewerID string, authorIDs []string) (map[string]bool, error)
}
