package limits

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrLimitReached = errors.New("limits: daily post limit reached")

type PostCounter interface {
	CountSince(ctx context.Context, userID string, since time.Time) (int, error)
}

// CountGate allows at most limit posts per user in a rolling window. It only
// reads; the count goes up when the post store inserts a record.
type CountGate struct {
	posts  PostCounter
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewCountGate with limit <= 0 never blocks.
func NewCountGate(posts PostCounter, limit int, window time.Duration) *CountGate {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &CountGate{posts: posts, limit: limit, window: window, now: time.Now}
}

// Remaining returns how many posts the user may still create, or -1 when unlimited.
func (gate *CountGate) Remaining(ctx context.Context, userID string) (int, error) {
	if gate.limit <= 0 {
		return -1, nil
	}
	used, err := gate.posts.CountSince(ctx, userID, gate.now().Add(-gate.window))
	if err != nil {
		return 0, fmt.Errorf("count posts: %w", err)
	}
	if used >= gate.limit {
		return 0, nil
	}
	return gate.limit - used, nil
}

func (gate *CountGate) Check(ctx context.Context, userID string) error {
	remaining, err := gate.Remaining(ctx, userID)
	if err != nil {
		return err
	}
	if remaining == 0 {
		return ErrLimitReached
	}
	return nil
}
