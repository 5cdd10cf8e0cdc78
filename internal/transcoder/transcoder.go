package transcoder

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"wildfire/internal/exec"
	"wildfire/internal/fsutil"
	"wildfire/internal/media"
	"wildfire/internal/metrics"
	"wildfire/internal/thumbnail"
)

type Options struct {
	AspectRatio  float64
	Tolerance    float64
	Thumbnail    thumbnail.Options
	VideoCodec   string
	VideoBitrate string
	AudioBitrate string
}

func DefaultOptions() Options {
	return Options{
		AspectRatio:  media.TargetAspectRatio,
		Tolerance:    media.AspectTolerance,
		Thumbnail:    thumbnail.DefaultOptions(),
		VideoCodec:   "libx264",
		VideoBitrate: "8000k",
		AudioBitrate: "128k",
	}
}

// Asset is the normalised output. It owns every scratch file it lists and
// removes them on Cleanup.
type Asset struct {
	VideoURI     string
	ThumbnailURI string
	// ReshapedURI is the video the thumbnail and compression were derived
	// from: the crop output, or the raw URI when no crop was needed.
	ReshapedURI string
	DurationMs  int64
	Width       int
	Height      int

	owned []string
}

func (asset *Asset) own(path string) string {
	asset.owned = append(asset.owned, path)
	return path
}

// Cleanup removes the scratch files produced for this asset. Best effort.
func (asset *Asset) Cleanup() error {
	err := fsutil.Cleanup(asset.owned...)
	asset.owned = nil
	return err
}

type Transcoder struct {
	ffmpegPath string
	runner     exec.Runner
	thumbs     *thumbnail.Generator
	scratch    *fsutil.Scratch
	options    Options
	logger     *zap.Logger
}

func NewTranscoder(ffmpegPath string, runner exec.Runner, scratch *fsutil.Scratch, options Options, logger *zap.Logger) *Transcoder {
	return &Transcoder{
		ffmpegPath: ffmpegPath,
		runner:     runner,
		thumbs:     thumbnail.NewGenerator(ffmpegPath, runner),
		scratch:    scratch,
		options:    options,
		logger:     logger,
	}
}

// Normalize crops to the target ratio when needed, grabs and compresses a
// thumbnail, then re-encodes the video. Steps run in order and the first
// non-success outcome aborts the rest.
func (transcoder *Transcoder) Normalize(ctx context.Context, raw *media.Asset) (*Asset, error) {
	out := &Asset{
		ReshapedURI: raw.URI,
		DurationMs:  raw.DurationMs,
		Width:       raw.Width,
		Height:      raw.Height,
	}

	if err := transcoder.normalize(ctx, raw, out); err != nil {
		if cleanupErr := out.Cleanup(); cleanupErr != nil {
			transcoder.logger.Warn("cleanup after transcode error", zap.Error(cleanupErr))
		}
		return nil, err
	}
	return out, nil
}

func (transcoder *Transcoder) normalize(ctx context.Context, raw *media.Asset, out *Asset) error {
	constraints := media.Constraints{AspectRatio: transcoder.options.AspectRatio, Tolerance: transcoder.options.Tolerance}

	if constraints.OutsideTolerance(raw.AspectRatio()) {
		rect := CropRect(raw.Width, raw.Height, transcoder.options.AspectRatio, transcoder.options.Tolerance)
		cropped := out.own(transcoder.scratch.Path("cropped_video", ".mp4"))
		err := transcoder.step(ctx, StepCrop, func() error {
			_, err := transcoder.runner.Run(ctx, transcoder.ffmpegPath,
				"-y",
				"-i", raw.URI,
				"-vf", rect.Filter(),
				"-c:a", "copy",
				cropped,
			)
			return err
		})
		if err != nil {
			return err
		}
		out.ReshapedURI = cropped
		out.Width, out.Height = rect.Width, rect.Height
	}

	thumb := out.own(transcoder.scratch.Path("thumb", ".jpg"))
	offset := thumbnail.FrameOffset(out.DurationMs, transcoder.options.Thumbnail.OffsetMs)
	if err := transcoder.step(ctx, StepThumbnail, func() error {
		return transcoder.thumbs.Extract(ctx, out.ReshapedURI, thumb, offset)
	}); err != nil {
		return err
	}

	compThumb := out.own(transcoder.scratch.Path("comp_thumb", ".jpg"))
	if err := transcoder.step(ctx, StepCompressThumbnail, func() error {
		return thumbnail.Compress(thumb, compThumb, transcoder.options.Thumbnail.Scale, transcoder.options.Thumbnail.Quality)
	}); err != nil {
		return err
	}

	compVideo := out.own(transcoder.scratch.Path("comp_video", ".mp4"))
	if err := transcoder.step(ctx, StepCompressVideo, func() error {
		_, err := transcoder.runner.Run(ctx, transcoder.ffmpegPath,
			"-y",
			"-i", out.ReshapedURI,
			"-c:v", transcoder.options.VideoCodec,
			"-b:v", transcoder.options.VideoBitrate,
			"-c:a", "aac",
			"-b:a", transcoder.options.AudioBitrate,
			"-ac", "2",
			"-filter:a", "loudnorm",
			compVideo,
		)
		return err
	}); err != nil {
		return err
	}

	out.ThumbnailURI = compThumb
	out.VideoURI = compVideo
	return nil
}

// step runs fn unless ctx is already done, and classifies the result.
func (transcoder *Transcoder) step(ctx context.Context, step Step, fn func() error) error {
	var err error
	if err = ctx.Err(); err == nil {
		err = fn()
	}

	outcome := classify(ctx, err)
	metrics.TranscodeSteps.WithLabelValues(string(step), string(outcome)).Inc()

	switch outcome {
	case OutcomeSuccess:
		transcoder.logger.Debug("transcode step done", zap.String("step", string(step)))
		return nil
	case OutcomeCancelled:
		transcoder.logger.Info("transcode cancelled", zap.String("step", string(step)))
	default:
		transcoder.logger.Error("transcode step failed", zap.String("step", string(step)), zap.Error(err))
	}
	return &Error{Step: step, Outcome: outcome, Err: err}
}

type Rect struct {
	Width  int
	Height int
	X      int
	Y      int
}

func (rect Rect) Filter() string {
	return fmt.Sprintf("crop=%d:%d:%d:%d", rect.Width, rect.Height, rect.X, rect.Y)
}

// CropRect returns the centred crop of width x height whose ratio is within
// tolerance of target. Wide inputs keep as much height as possible, narrow
// inputs as much width; both sides are even for h264. Frames too small for
// any even crop within tolerance get the plain rounded crop.
func CropRect(width, height int, target, tolerance float64) Rect {
	if width <= 0 || height <= 0 || target <= 0 {
		return Rect{Width: width, Height: height}
	}

	fits := func(w, h int) bool {
		return w >= 2 && h >= 2 && w <= width && h <= height &&
			math.Abs(float64(w)/float64(h)-target) <= tolerance
	}
	centred := func(w, h int) Rect {
		return Rect{Width: w, Height: h, X: (width - w) / 2, Y: (height - h) / 2}
	}

	if float64(width)/float64(height) > target {
		for h := even(height); h >= 2; h -= 2 {
			w := nearestEven(float64(h) * target)
			if w > width {
				w -= 2
			}
			if fits(w, h) {
				return centred(w, h)
			}
		}
		w := even(int(math.Round(float64(height) * target)))
		if w > width {
			w = even(width)
		}
		return centred(w, even(height))
	}

	for w := even(width); w >= 2; w -= 2 {
		h := nearestEven(float64(w) / target)
		if h > height {
			h -= 2
		}
		if fits(w, h) {
			return centred(w, h)
		}
	}
	h := even(int(math.Round(float64(width) / target)))
	if h > height {
		h = even(height)
	}
	return centred(even(width), h)
}

func nearestEven(v float64) int {
	return 2 * int(math.Round(v/2))
}

func even(n int) int {
	return n - n%2
}
