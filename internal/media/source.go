package media

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"wildfire/internal/fsutil"
	"wildfire/internal/probe"
)

type Prober interface {
	ProbeVideo(ctx context.Context, path string) (*probe.VideoInfo, error)
}

// Recorder writes a recording of at most maxDuration to dest. It returns
// early with ctx's error when ctx is cancelled.
type Recorder interface {
	Record(ctx context.Context, dest string, maxDuration time.Duration) error
}

// Picker returns the path of a user-selected file, or ErrCancelled.
type Picker interface {
	Pick(ctx context.Context) (string, error)
}

type PickerFunc func(ctx context.Context) (string, error)

func (f PickerFunc) Pick(ctx context.Context) (string, error) { return f(ctx) }

type Source struct {
	prober   Prober
	recorder Recorder
	scratch  *fsutil.Scratch
	logger   *zap.Logger
}

func NewSource(prober Prober, recorder Recorder, scratch *fsutil.Scratch, logger *zap.Logger) *Source {
	return &Source{
		prober:   prober,
		recorder: recorder,
		scratch:  scratch,
		logger:   logger,
	}
}

type captureOptions struct {
	constraints Constraints
	onTick      func(elapsed time.Duration)
	interval    time.Duration
}

type CaptureOption func(*captureOptions)

func WithConstraints(constraints Constraints) CaptureOption {
	return func(o *captureOptions) { o.constraints = constraints }
}

// WithCountdown reports elapsed recording time every interval.
func WithCountdown(interval time.Duration, onTick func(elapsed time.Duration)) CaptureOption {
	return func(o *captureOptions) {
		o.interval = interval
		o.onTick = onTick
	}
}

// Capture records for at most maxDuration. Cancelling ctx discards the
// recording and returns ErrCancelled.
func (source *Source) Capture(ctx context.Context, maxDuration time.Duration, opts ...CaptureOption) (*Asset, error) {
	if source.recorder == nil {
		return nil, errors.New("capture is not available")
	}

	options := captureOptions{constraints: DefaultConstraints(), interval: 10 * time.Millisecond}
	for _, opt := range opts {
		opt(&options)
	}

	dest := source.scratch.Path("capture", ".mp4")

	countdownCtx, stopCountdown := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if options.onTick != nil {
			RunCountdown(countdownCtx, options.interval, maxDuration, options.onTick)
		}
	}()

	err := source.recorder.Record(ctx, dest, maxDuration)
	stopCountdown()
	<-done

	if ctx.Err() != nil {
		source.discard(dest)
		return nil, ErrCancelled
	}
	if err != nil {
		source.discard(dest)
		return nil, fmt.Errorf("record: %w", err)
	}

	asset, err := source.FromFile(ctx, KindCapture, dest, options.constraints)
	if err != nil {
		source.discard(dest)
		return nil, err
	}
	return asset, nil
}

func (source *Source) PickFromLibrary(ctx context.Context, picker Picker, constraints Constraints) (*Asset, error) {
	path, err := picker.Pick(ctx)
	if errors.Is(err, ErrCancelled) || ctx.Err() != nil {
		return nil, ErrCancelled
	}
	if err != nil {
		return nil, fmt.Errorf("pick: %w", err)
	}
	return source.FromFile(ctx, KindLibrary, path, constraints)
}

// FromFile probes path and validates it against constraints.
func (source *Source) FromFile(ctx context.Context, kind Kind, path string, constraints Constraints) (*Asset, error) {
	info, err := source.prober.ProbeVideo(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}
		return nil, &ValidationError{Field: "file", Reason: "not a readable video"}
	}

	asset := &Asset{
		Kind:       kind,
		URI:        path,
		DurationMs: info.DurationMs,
		Width:      info.Width,
		Height:     info.Height,
	}
	if err := Validate(asset, constraints); err != nil {
		source.logger.Info("media rejected",
			zap.String("kind", string(kind)),
			zap.Int64("duration_ms", asset.DurationMs),
			zap.Error(err))
		return nil, err
	}
	if asset.NeedsReshape {
		source.logger.Debug("media flagged for reshape",
			zap.Int("width", asset.Width),
			zap.Int("height", asset.Height))
	}
	return asset, nil
}

func (source *Source) discard(path string) {
	if err := fsutil.Cleanup(path); err != nil {
		source.logger.Warn("discard capture", zap.String("path", path), zap.Error(err))
	}
}
