package streaming

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"wildfire/internal/metrics"
	"wildfire/internal/post"
)

type PlaybackSourcer interface {
	PlaybackSource(ctx context.Context, playbackID string) (string, error)
}

type Cache interface {
	Get(ctx context.Context, playbackID string) (string, bool, error)
	Set(ctx context.Context, playbackID, sourceURL string, ttl time.Duration) error
}

// Resolution is the URL a player should load for a record.
type Resolution struct {
	URL string `json:"url"`
	// Degraded is set when URL is the direct object-store video.
	Degraded bool   `json:"degraded"`
	Source   string `json:"source"`
}

const (
	SourceStreaming = "streaming"
	SourceCache     = "cache"
	SourceFallback  = "fallback"
)

// Resolver picks the streaming source for a record and falls back to the
// object-store URL whenever that is unavailable. It never fails.
type Resolver struct {
	source PlaybackSourcer
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewResolver accepts a nil cache.
func NewResolver(source PlaybackSourcer, cache Cache, ttl time.Duration, logger *zap.Logger) *Resolver {
	return &Resolver{source: source, cache: cache, ttl: ttl, logger: logger}
}

func (resolver *Resolver) Resolve(ctx context.Context, rec *post.Record) Resolution {
	fallback := Resolution{URL: rec.VideoURL, Degraded: true, Source: SourceFallback}
	if rec.Pending() || resolver.source == nil {
		metrics.PlaybackResolutions.WithLabelValues(SourceFallback).Inc()
		return fallback
	}
	playbackID := *rec.PlaybackID

	if resolver.cache != nil {
		cached, ok, err := resolver.cache.Get(ctx, playbackID)
		if err != nil {
			resolver.logger.Warn("playback cache get", zap.String("playback_id", playbackID), zap.Error(err))
		} else if ok {
			metrics.PlaybackResolutions.WithLabelValues(SourceCache).Inc()
			return Resolution{URL: cached, Source: SourceCache}
		}
	}

	sourceURL, err := resolver.source.PlaybackSource(ctx, playbackID)
	if err != nil {
		switch {
		case errors.Is(err, ErrPlaybackNotReady):
			resolver.logger.Debug("playback not ready", zap.Int64("post_id", rec.ID))
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			resolver.logger.Debug("streaming api breaker open", zap.Int64("post_id", rec.ID))
		default:
			resolver.logger.Warn("resolve playback", zap.Int64("post_id", rec.ID), zap.Error(err))
		}
		metrics.PlaybackResolutions.WithLabelValues(SourceFallback).Inc()
		return fallback
	}

	if resolver.cache != nil {
		if err := resolver.cache.Set(ctx, playbackID, sourceURL, resolver.ttl); err != nil {
			resolver.logger.Warn("playback cache set", zap.String("playback_id", playbackID), zap.Error(err))
		}
	}
	metrics.PlaybackResolutions.WithLabelValues(SourceStreaming).Inc()
	return Resolution{URL: sourceURL, Source: SourceStreaming}
}
