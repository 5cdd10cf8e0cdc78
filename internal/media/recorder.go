package media

import (
	"context"
	"fmt"
	"time"

	"wildfire/internal/exec"
)

// FFmpegRecorder captures from a local device, e.g. v4l2 /dev/video0 or
// avfoundation "0:0".
type FFmpegRecorder struct {
	ffmpegPath string
	format     string
	device     string
	runner     exec.Runner
}

func NewFFmpegRecorder(ffmpegPath, format, device string, runner exec.Runner) *FFmpegRecorder {
	return &FFmpegRecorder{
		ffmpegPath: ffmpegPath,
		format:     format,
		device:     device,
		runner:     runner,
	}
}

func (recorder *FFmpegRecorder) Record(ctx context.Context, dest string, maxDuration time.Duration) error {
	args := []string{
		"-y",
		"-f", recorder.format,
		"-i", recorder.device,
		"-t", fmt.Sprintf("%.3f", maxDuration.Seconds()),
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		dest,
	}

	if _, err := recorder.runner.Run(ctx, recorder.ffmpegPath, args...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}
