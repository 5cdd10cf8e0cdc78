package media

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wildfire/internal/fsutil"
	"wildfire/internal/probe"
)

type fakeProber struct {
	info *probe.VideoInfo
	err  error
}

func (p *fakeProber) ProbeVideo(ctx context.Context, path string) (*probe.VideoInfo, error) {
	if p.err != nil {
		return nil, p.err
	}
	info := *p.info
	return &info, nil
}

type fakeRecorder struct {
	block bool
	err   error
}

func (r *fakeRecorder) Record(ctx context.Context, dest string, maxDuration time.Duration) error {
	if err := os.WriteFile(dest, []byte("mp4"), 0o644); err != nil {
		return err
	}
	if r.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return r.err
}

func newTestSource(t *testing.T, prober Prober, recorder Recorder) (*Source, *fsutil.Scratch) {
	t.Helper()
	scratch, err := fsutil.NewScratch(t.TempDir())
	require.NoError(t, err)
	return NewSource(prober, recorder, scratch, zap.NewNop()), scratch
}

func TestValidateDurationBounds(t *testing.T) {
	c := DefaultConstraints()
	cases := []struct {
		durationMs int64
		ok         bool
	}{
		{2499, false},
		{2500, true},
		{3000, true},
		{3500, true},
		{3501, false},
	}
	for _, tc := range cases {
		asset := &Asset{DurationMs: tc.durationMs, Width: 1080, Height: 1920}
		err := Validate(asset, c)
		if tc.ok {
			require.NoError(t, err, tc.durationMs)
			continue
		}
		var validationErr *ValidationError
		require.ErrorAs(t, err, &validationErr, tc.durationMs)
		require.Equal(t, "duration", validationErr.Field)
	}
}

func TestValidateFlagsReshape(t *testing.T) {
	c := DefaultConstraints()

	portrait := &Asset{DurationMs: 3000, Width: 1080, Height: 1920}
	require.NoError(t, Validate(portrait, c))
	require.False(t, portrait.NeedsReshape)

	landscape := &Asset{DurationMs: 3000, Width: 1920, Height: 1080}
	require.NoError(t, Validate(landscape, c))
	require.True(t, landscape.NeedsReshape)

	// 0.5625 +- 0.01 is accepted as is.
	nearly := &Asset{DurationMs: 3000, Width: 1100, Height: 1920}
	require.NoError(t, Validate(nearly, c))
	require.False(t, nearly.NeedsReshape)

	require.True(t, IsValidationError(Validate(&Asset{DurationMs: 3000}, c)))

	tiny := &Asset{DurationMs: 3000, Width: 20, Height: 20}
	var validationErr *ValidationError
	require.ErrorAs(t, Validate(tiny, c), &validationErr)
	require.Equal(t, "dimensions", validationErr.Field)
}

func TestValidateUsername(t *testing.T) {
	for _, ok := range []string{"abc", "user_01", "0cool", "abcdefghijklmnop"} {
		require.NoError(t, ValidateUsername(ok), ok)
	}
	for _, bad := range []string{"ab", "_abc", "Abc", "abc-def", "abcdefghijklmnopq", ""} {
		require.True(t, IsValidationError(ValidateUsername(bad)), bad)
	}
}

func TestFormatElapsed(t *testing.T) {
	require.Equal(t, "00:000", FormatElapsed(0))
	require.Equal(t, "02:345", FormatElapsed(2345*time.Millisecond))
	require.Equal(t, "00:000", FormatElapsed(-time.Second))
}

func TestRunCountdownStopsAtLimit(t *testing.T) {
	var last atomic.Int64
	RunCountdown(context.Background(), 5*time.Millisecond, 30*time.Millisecond, func(elapsed time.Duration) {
		last.Store(int64(elapsed))
	})
	require.Equal(t, int64(30*time.Millisecond), last.Load())
}

func TestPickFromLibrary(t *testing.T) {
	source, _ := newTestSource(t, &fakeProber{info: &probe.VideoInfo{DurationMs: 3000, Width: 1920, Height: 1080}}, nil)
	picker := PickerFunc(func(ctx context.Context) (string, error) { return "/videos/a.mp4", nil })

	asset, err := source.PickFromLibrary(context.Background(), picker, DefaultConstraints())
	require.NoError(t, err)
	require.Equal(t, KindLibrary, asset.Kind)
	require.Equal(t, "/videos/a.mp4", asset.URI)
	require.True(t, asset.NeedsReshape)
}

func TestPickFromLibraryCancelled(t *testing.T) {
	source, _ := newTestSource(t, &fakeProber{info: &probe.VideoInfo{DurationMs: 3000, Width: 1080, Height: 1920}}, nil)
	picker := PickerFunc(func(ctx context.Context) (string, error) { return "", ErrCancelled })

	_, err := source.PickFromLibrary(context.Background(), picker, DefaultConstraints())
	require.ErrorIs(t, err, ErrCancelled)
}

func TestPickFromLibraryRejectsLongClip(t *testing.T) {
	source, _ := newTestSource(t, &fakeProber{info: &probe.VideoInfo{DurationMs: 4200, Width: 1080, Height: 1920}}, nil)
	picker := PickerFunc(func(ctx context.Context) (string, error) { return "/videos/long.mp4", nil })

	_, err := source.PickFromLibrary(context.Background(), picker, DefaultConstraints())
	require.True(t, IsValidationError(err))
}

func TestFromFileUnreadable(t *testing.T) {
	source, _ := newTestSource(t, &fakeProber{err: errors.New("invalid data")}, nil)

	_, err := source.FromFile(context.Background(), KindLibrary, "/videos/x.txt", DefaultConstraints())
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Equal(t, "file", validationErr.Field)
}

func TestCapture(t *testing.T) {
	source, _ := newTestSource(t, &fakeProber{info: &probe.VideoInfo{DurationMs: 3000, Width: 1080, Height: 1920}}, &fakeRecorder{})

	asset, err := source.Capture(context.Background(), 3*time.Second)
	require.NoError(t, err)
	require.Equal(t, KindCapture, asset.Kind)
	require.FileExists(t, asset.URI)
}

func TestCaptureCancelledDiscardsFile(t *testing.T) {
	source, scratch := newTestSource(t, &fakeProber{info: &probe.VideoInfo{DurationMs: 3000, Width: 1080, Height: 1920}}, &fakeRecorder{block: true})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	var ticks atomic.Int32
	_, err := source.Capture(ctx, 3*time.Second, WithCountdown(time.Millisecond, func(time.Duration) { ticks.Add(1) }))
	require.ErrorIs(t, err, ErrCancelled)

	entries, err := os.ReadDir(scratch.Dir())
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestCaptureRejectedDiscardsFile(t *testing.T) {
	source, scratch := newTestSource(t, &fakeProber{info: &probe.VideoInfo{DurationMs: 1200, Width: 1080, Height: 1920}}, &fakeRecorder{})

	_, err := source.Capture(context.Background(), 3*time.Second)
	require.True(t, IsValidationError(err))

	entries, err := os.ReadDir(scratch.Dir())
	require.NoError(t, err)
	require.Empty(t, entries)
}
