package events

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Type string

const (
	PostCreated   Type = "post.created"
	PostFinalized Type = "post.finalized"
	// PostDegraded marks a post whose streaming phase gave up. The external
	// reconciliation job consumes these.
	PostDegraded Type = "post.degraded"
)

type Event struct {
	Type       Type      `json:"type"`
	PostID     int64     `json:"post_id"`
	UserID     string    `json:"user_id"`
	PlaybackID string    `json:"playback_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// LogPublisher writes events to the log only.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, e Event) error {
	p.logger.Info("post event",
		zap.String("type", string(e.Type)),
		zap.Int64("post_id", e.PostID),
		zap.String("user_id", e.UserID),
		zap.String("playback_id", e.PlaybackID),
		zap.String("reason", e.Reason))
	return nil
}

func (p *LogPublisher) Close() error { return nil }
