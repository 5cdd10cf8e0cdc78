package thumbnail

import (
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"wildfire/internal/exec"
)

type Generator struct {
	ffmpegPath string
	runner     exec.Runner
}

type Options struct {
	OffsetMs int64   // Frame offset; clamped for clips shorter than this
	Scale    float64 // Compression scale factor, 0 < scale <= 1
	Quality  int     // JPEG quality, 1-100
}

func NewGenerator(ffmpegPath string, runner exec.Runner) *Generator {
	return &Generator{
		ffmpegPath: ffmpegPath,
		runner:     runner,
	}
}

func DefaultOptions() Options {
	return Options{
		OffsetMs: 1500,
		Scale:    0.75,
		Quality:  90,
	}
}

// FrameOffset returns offsetMs, or half the clip when the clip is not longer than offsetMs.
func FrameOffset(durationMs, offsetMs int64) int64 {
	if durationMs > 0 && offsetMs >= durationMs {
		return durationMs / 2
	}
	return offsetMs
}

// Extract grabs a single frame at offsetMs into outputPath.
func (generator *Generator) Extract(ctx context.Context, inputPath, outputPath string, offsetMs int64) error {
	args := []string{
		"-y",
		"-ss", fmt.Sprintf("%.3f", float64(offsetMs)/1000),
		"-i", inputPath,
		"-vframes", "1",
		"-q:v", "2",
		outputPath,
	}

	if _, err := generator.runner.Run(ctx, generator.ffmpegPath, args...); err != nil {
		return fmt.Errorf("extract frame at %dms: %w", offsetMs, err)
	}
	return nil
}

// Compress downscales the still by scale and re-encodes it as JPEG.
func Compress(inputPath, outputPath string, scale float64, quality int) error {
	if scale <= 0 || scale > 1 {
		scale = 1
	}
	if quality <= 0 || quality > 100 {
		quality = 90
	}

	src, err := imaging.Open(inputPath, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("open thumbnail: %w", err)
	}

	var dst image.Image = src
	if scale < 1 {
		width := int(float64(src.Bounds().Dx()) * scale)
		if width < 1 {
			width = 1
		}
		dst = imaging.Resize(src, width, 0, imaging.Lanczos)
	}

	if err := imaging.Save(dst, outputPath, imaging.JPEGQuality(quality)); err != nil {
		return fmt.Errorf("save thumbnail: %w", err)
	}
	return nil
}
