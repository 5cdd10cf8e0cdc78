package engagement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wildfire/internal/media"
	"wildfire/internal/metrics"
	"wildfire/internal/store"
)

var ErrAlreadyLiked = errors.New("engagement: already liked")

const MaxCommentRunes = 500

type Counter struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

func NewCounter(s Store, logger *zap.Logger) *Counter {
	return &Counter{store: s, logger: logger, now: time.Now}
}

// RegisterView counts one view for the pair. A first-time viewer gets a row
// insert followed by an increment; a returning viewer only an increment.
// Check and insert are not atomic, so two concurrent first views may both
// insert; the loser finds the row already there and just increments.
func (counter *Counter) RegisterView(ctx context.Context, postID int64, viewerID string) error {
	if viewerID == "" {
		return &media.ValidationError{Field: "viewer", Reason: "is required"}
	}

	exists, err := counter.store.ViewExists(ctx, postID, viewerID)
	if err != nil {
		return fmt.Errorf("check view: %w", err)
	}

	kind := "returning"
	if !exists {
		kind = "first"
		err := counter.store.InsertView(ctx, postID, viewerID)
		if errors.Is(err, store.ErrDuplicate) {
			counter.logger.Debug("view row inserted concurrently", zap.Int64("post_id", postID))
		} else if err != nil {
			return fmt.Errorf("insert view: %w", err)
		}
	}

	if err := counter.store.IncrementView(ctx, postID, viewerID); err != nil {
		return fmt.Errorf("increment view: %w", err)
	}
	metrics.ViewsRegistered.WithLabelValues(kind).Inc()
	return nil
}

// TotalViews sums the per-viewer counts for postID.
func (counter *Counter) TotalViews(ctx context.Context, postID int64) (int64, error) {
	views, err := counter.store.Views(ctx, postID)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, v := range views {
		total += v.Count
	}
	return total, nil
}

func (counter *Counter) Like(ctx context.Context, postID int64, userID string) error {
	if userID == "" {
		return &media.ValidationError{Field: "user", Reason: "is required"}
	}
	err := counter.store.InsertLike(ctx, postID, userID)
	switch {
	case errors.Is(err, store.ErrDuplicate):
		metrics.Likes.WithLabelValues("duplicate").Inc()
		return ErrAlreadyLiked
	case err != nil:
		metrics.Likes.WithLabelValues("error").Inc()
		return fmt.Errorf("insert like: %w", err)
	}
	metrics.Likes.WithLabelValues("ok").Inc()
	return nil
}

func (counter *Counter) Comment(ctx context.Context, postID int64, userID, text string) (*Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &media.ValidationError{Field: "comment", Reason: "must not be empty"}
	}
	if utf8.RuneCountInString(text) > MaxCommentRunes {
		return nil, &media.ValidationError{Field: "comment", Reason: fmt.Sprintf("must be at most %d characters", MaxCommentRunes)}
	}

	c := Comment{
		ID:        uuid.NewString(),
		PostID:    postID,
		UserID:    userID,
		Text:      text,
		CreatedAt: counter.now().UTC(),
	}
	if err := counter.store.InsertComment(ctx, c); err != nil {
		return nil, fmt.Errorf("insert comment: %w", err)
	}
	return &c, nil
}

func (counter *Counter) Follow(ctx context.Context, followerID, followeeID string) error {
	if followerID == followeeID {
		return &media.ValidationError{Field: "followee", Reason: "cannot follow yourself"}
	}
	err := counter.store.Follow(ctx, followerID, followeeID)
	if errors.Is(err, store.ErrDuplicate) {
		return nil
	}
	return err
}

// Aggregates returns counts for every id in one round-trip. Missing ids map
// to zero values.
func (counter *Counter) Aggregates(ctx context.Context, postIDs []int64) (map[int64]Aggregate, error) {
	if len(postIDs) == 0 {
		return map[int64]Aggregate{}, nil
	}
	return counter.store.Aggregates(ctx, postIDs)
}

func (counter *Counter) LikedBy(ctx context.Context, viewerID string, postIDs []int64) (map[int64]bool, error) {
	if viewerID == "" || len(postIDs) == 0 {
		return map[int64]bool{}, nil
	}
	return counter.store.LikedBy(ctx, viewerID, postIDs)
}

func (counter *Counter) FollowedBy(ctx context.Context, viewerID string, authorIDs []string) (map[string]bool, error) {
	if viewerID == "" || len(authorIDs) == 0 {
		return map[string]bool{}, nil
	}
	return counter.store.FollowedBy(ctx, viewerID, authorIDs)
}
