package fsutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStampIsStrictlyIncreasing(t *testing.T) {
	scratch, err := NewScratch(t.TempDir())
	require.NoError(t, err)
	frozen := time.UnixMilli(1_700_000_000_000)
	scratch.now = func() time.Time { return frozen }

	require.Equal(t, int64(1_700_000_000_000), scratch.Stamp())
	require.Equal(t, int64(1_700_000_000_001), scratch.Stamp())
	require.Equal(t, int64(1_700_000_000_002), scratch.Stamp())
}

func TestPathLayout(t *testing.T) {
	dir := t.TempDir()
	scratch, err := NewScratch(dir)
	require.NoError(t, err)
	scratch.now = func() time.Time { return time.UnixMilli(42) }

	require.Equal(t, filepath.Join(dir, "comp_video_42.mp4"), scratch.Path("comp_video", ".mp4"))
	require.Equal(t, filepath.Join(dir, "thumb_43.jpg"), scratch.Path("thumb", ".jpg"))
}

func TestCleanupIgnoresMissing(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "a.mp4")
	require.NoError(t, os.WriteFile(existing, []byte("x"), 0o644))

	require.NoError(t, Cleanup(existing, filepath.Join(dir, "gone.mp4"), ""))
	_, err := os.Stat(existing)
	require.True(t, os.IsNotExist(err))
}
