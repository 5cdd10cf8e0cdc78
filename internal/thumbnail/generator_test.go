package thumbnail

import (
	"context"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
)

func TestFrameOffset(t *testing.T) {
	require.Equal(t, int64(1500), FrameOffset(3000, 1500))
	require.Equal(t, int64(600), FrameOffset(1200, 1500))
	require.Equal(t, int64(750), FrameOffset(1500, 1500))
	require.Equal(t, int64(1500), FrameOffset(0, 1500))
}

func TestCompressScalesDown(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "thumb.jpg")
	out := filepath.Join(dir, "comp_thumb.jpg")
	require.NoError(t, imaging.Save(imaging.New(400, 800, color.NRGBA{R: 200, A: 255}), in))

	require.NoError(t, Compress(in, out, 0.75, 90))

	img, err := imaging.Open(out)
	require.NoError(t, err)
	require.Equal(t, 300, img.Bounds().Dx())
	require.Equal(t, 600, img.Bounds().Dy())
}

func TestCompressMissingInput(t *testing.T) {
	dir := t.TempDir()
	require.Error(t, Compress(filepath.Join(dir, "nope.jpg"), filepath.Join(dir, "out.jpg"), 0.5, 80))
}

type recordingRunner struct {
	name string
	args []string
}

func (r *recordingRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.name, r.args = name, args
	return nil, nil
}

func TestExtractArgs(t *testing.T) {
	runner := &recordingRunner{}
	require.NoError(t, NewGenerator("ffmpeg", runner).Extract(context.Background(), "in.mp4", "out.jpg", 1500))

	require.Equal(t, "ffmpeg", runner.name)
	require.Equal(t, []string{"-y", "-ss", "1.500", "-i", "in.mp4", "-vframes", "1", "-q:v", "2", "out.jpg"}, runner.args)
}
