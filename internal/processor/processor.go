package processor

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"wildfire/internal/fsutil"
	"wildfire/internal/media"
	"wildfire/internal/publish"
	"wildfire/internal/transcoder"
)

type Normalizer interface {
	Normalize(ctx context.Context, raw *media.Asset) (*transcoder.Asset, error)
}

type Publisher interface {
	Publish(ctx context.Context, in publish.Input) (*publish.Attempt, error)
}

type Gate interface {
	Check(ctx context.Context, userID string) error
}

type Request struct {
	Asset     *media.Asset
	UserID    string
	CountryID *int64
	// DiscardRaw removes the raw file once the pipeline is done with it.
	DiscardRaw bool
}

// Processor runs a validated asset through transcoding and publishing.
type Processor struct {
	normalizer Normalizer
	publisher  Publisher
	gate       Gate
	logger     *zap.Logger
}

// New accepts a nil gate.
func New(normalizer Normalizer, publisher Publisher, gate Gate, logger *zap.Logger) *Processor {
	return &Processor{
		normalizer: normalizer,
		publisher:  publisher,
		gate:       gate,
		logger:     logger,
	}
}

func (p *Processor) Process(ctx context.Context, req Request) (*publish.Attempt, error) {
	if req.Asset == nil {
		return nil, errors.New("process: asset is required")
	}
	if req.DiscardRaw {
		defer func() {
			if err := fsutil.Cleanup(req.Asset.URI); err != nil {
				p.logger.Warn("discard raw media", zap.String("path", req.Asset.URI), zap.Error(err))
			}
		}()
	}

	if p.gate != nil {
		if err := p.gate.Check(ctx, req.UserID); err != nil {
			return nil, err
		}
	}

	p.logger.Info("processing media",
		zap.String("user_id", req.UserID),
		zap.String("kind", string(req.Asset.Kind)),
		zap.Int64("duration_ms", req.Asset.DurationMs),
		zap.Bool("reshape", req.Asset.NeedsReshape))

	transcoded, err := p.normalizer.Normalize(ctx, req.Asset)
	if err != nil {
		if transcoder.IsCancelled(err) {
			p.logger.Info("processing abandoned", zap.String("user_id", req.UserID))
		} else {
			p.logger.Error("transcode failed", zap.String("user_id", req.UserID), zap.Error(err))
		}
		return nil, err
	}

	attempt, err := p.publisher.Publish(ctx, publish.Input{
		Asset:     transcoded,
		UserID:    req.UserID,
		CountryID: req.CountryID,
	})
	if err != nil {
		if attempt == nil {
			// Publish never took ownership of the transcoded files.
			_ = transcoded.Cleanup()
		}
		return attempt, fmt.Errorf("publish: %w", err)
	}

	p.logger.Info("processing done",
		zap.String("attempt", attempt.ID()),
		zap.String("state", string(attempt.State())))
	return attempt, nil
}
