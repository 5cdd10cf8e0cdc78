package publish

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wildfire/internal/events"
	"wildfire/internal/media"
	"wildfire/internal/post"
	"wildfire/internal/store/memory"
	"wildfire/internal/streaming"
	"wildfire/internal/transcoder"
)

type fakeObjects struct {
	mu      sync.Mutex
	puts    []string
	failExt string
	// cancel is called after the first successful put.
	cancel context.CancelFunc
}

func (f *fakeObjects) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failExt != "" && strings.HasSuffix(key, f.failExt) {
		return "", errors.New("storage zone unavailable")
	}
	f.puts = append(f.puts, key)
	if f.cancel != nil {
		f.cancel()
	}
	return "https://cdn.example.com/" + key, nil
}

type fakeStreaming struct {
	err error
}

func (f *fakeStreaming) CreateAsset(ctx context.Context, name string) (*streaming.Asset, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &streaming.Asset{ID: "asset-" + name, PlaybackID: "pb-" + name, TusEndpoint: "https://up.example.com/tus"}, nil
}

type fakeUploader struct {
	err     error
	release chan struct{}
	ctxErr  error
	size    int
}

func (f *fakeUploader) Upload(ctx context.Context, endpoint string, data []byte, metadata map[string]string, progress streaming.Progress) (string, error) {
	if f.release != nil {
		<-f.release
	}
	f.ctxErr = ctx.Err()
	f.size = len(data)
	if f.err != nil {
		return "", f.err
	}
	return endpoint + "/1", nil
}

type recordingEvents struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEvents) Publish(ctx context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingEvents) Close() error { return nil }

func (r *recordingEvents) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Type
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	objects   *fakeObjects
	posts     *memory.Store
	streaming *fakeStreaming
	uploader  *fakeUploader
	events    *recordingEvents
	states    []State
	mu        sync.Mutex
}

func newHarness() *harness {
	return &harness{
		objects:   &fakeObjects{},
		posts:     memory.New(),
		streaming: &fakeStreaming{},
		uploader:  &fakeUploader{},
		events:    &recordingEvents{},
	}
}

func (h *harness) coordinator(background bool) *Coordinator {
	c := NewCoordinator(h.objects, h.posts, h.streaming, h.uploader, h.events, Options{
		Background: background,
		Observer: func(id string, from, to State) {
			h.mu.Lock()
			h.states = append(h.states, to)
			h.mu.Unlock()
		},
	}, zap.NewNop())
	c.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	return c
}

func (h *harness) transitions() []State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]State(nil), h.states...)
}

func testInput(t *testing.T) Input {
	t.Helper()
	dir := t.TempDir()
	video := filepath.Join(dir, "comp_video_1.mp4")
	thumb := filepath.Join(dir, "comp_thumb_1.jpg")
	require.NoError(t, os.WriteFile(video, []byte("video-bytes"), 0o644))
	require.NoError(t, os.WriteFile(thumb, []byte("jpeg-bytes"), 0o644))
	return Input{
		Asset:  &transcoder.Asset{VideoURI: video, ThumbnailURI: thumb, DurationMs: 3000, Width: 1080, Height: 1920},
		UserID: "user-1",
	}
}

func TestPublishFinalizes(t *testing.T) {
	h := newHarness()
	attempt, err := h.coordinator(false).Publish(context.Background(), testInput(t))
	require.NoError(t, err)

	require.Equal(t, StateFinalized, attempt.State())
	require.True(t, attempt.Published())
	require.False(t, attempt.Degraded())
	require.NoError(t, attempt.Err())
	require.Equal(t, []string{"user-1/1700000000000.jpg", "user-1/1700000000000.mp4"}, h.objects.puts)
	require.Equal(t, []State{
		StateUploadingThumbnail,
		StateUploadingVideo,
		StateRecordCreated,
		StateStreamingAssetRequested,
		StateStreamingUploadInProgress,
		StateFinalized,
	}, h.transitions())

	rec, err := h.posts.Get(context.Background(), attempt.Record().ID)
	require.NoError(t, err)
	require.Equal(t, "pb-post-1", *rec.PlaybackID)
	require.Equal(t, "https://cdn.example.com/user-1/1700000000000.mp4", rec.VideoURL)
	require.Equal(t, "https://cdn.example.com/user-1/1700000000000.jpg", rec.ThumbnailURL)
	require.Equal(t, "pb-post-1", *attempt.Record().PlaybackID)
	require.Equal(t, len("video-bytes"), h.uploader.size)
	require.Equal(t, []events.Type{events.PostCreated, events.PostFinalized}, h.events.types())

	select {
	case <-attempt.Done():
	default:
		t.Fatal("attempt not settled")
	}
}

func TestVideoUploadFailureLeavesNoRecord(t *testing.T) {
	h := newHarness()
	h.objects.failExt = ".mp4"

	attempt, err := h.coordinator(false).Publish(context.Background(), testInput(t))
	require.Error(t, err)

	var uploadErr *UploadError
	require.ErrorAs(t, err, &uploadErr)
	require.Equal(t, StateUploadingVideo, uploadErr.Stage)
	require.Equal(t, StateFailed, attempt.State())
	require.Equal(t, StateUploadingVideo, attempt.FailedStage())
	require.False(t, attempt.Published())

	records, err := h.posts.List(context.Background(), post.Query{IncludeSuppressed: true})
	require.NoError(t, err)
	require.Empty(t, records)
	require.Empty(t, h.events.types())
}

func TestThumbnailUploadFailureStopsBeforeVideo(t *testing.T) {
	h := newHarness()
	h.objects.failExt = ".jpg"

	_, err := h.coordinator(false).Publish(context.Background(), testInput(t))
	require.True(t, IsUploadError(err))
	require.Empty(t, h.objects.puts)
}

func TestStreamingFailureDegrades(t *testing.T) {
	for name, setup := range map[string]func(h *harness){
		"create asset": func(h *harness) { h.streaming.err = errors.New("api down") },
		"tus upload":   func(h *harness) { h.uploader.err = errors.New("retries exhausted") },
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness()
			setup(h)

			attempt, err := h.coordinator(false).Publish(context.Background(), testInput(t))
			require.NoError(t, err)

			require.Equal(t, StateFailed, attempt.State())
			require.True(t, attempt.Published())
			require.True(t, attempt.Degraded())
			require.NoError(t, attempt.Err())
			var streamingErr *StreamingError
			require.ErrorAs(t, attempt.StreamingErr(), &streamingErr)

			rec, err := h.posts.Get(context.Background(), attempt.Record().ID)
			require.NoError(t, err)
			require.True(t, rec.Pending())

			res := streaming.NewResolver(nil, nil, time.Minute, zap.NewNop()).Resolve(context.Background(), rec)
			require.True(t, res.Degraded)
			require.Equal(t, rec.VideoURL, res.URL)

			require.Equal(t, []events.Type{events.PostCreated, events.PostDegraded}, h.events.types())
		})
	}
}

// finalizeFailing lets every store call through except Finalize.
type finalizeFailing struct {
	*memory.Store
	err error
}

func (f *finalizeFailing) Finalize(ctx context.Context, id int64, playbackID string) error {
	return f.err
}

func TestFinalizeFailureDegrades(t *testing.T) {
	h := newHarness()
	posts := &finalizeFailing{Store: h.posts, err: errors.New("connection reset")}
	coordinator := NewCoordinator(h.objects, posts, h.streaming, h.uploader, h.events, Options{}, zap.NewNop())

	attempt, err := coordinator.Publish(context.Background(), testInput(t))
	require.NoError(t, err)

	require.Equal(t, StateFailed, attempt.State())
	require.Equal(t, StateStreamingUploadInProgress, attempt.FailedStage())
	require.True(t, attempt.Published())
	require.True(t, attempt.Degraded())
	require.NoError(t, attempt.Err())

	var finalizeErr *FinalizeError
	require.ErrorAs(t, attempt.StreamingErr(), &finalizeErr)
	require.Equal(t, attempt.Record().ID, finalizeErr.RecordID)
	require.Equal(t, len("video-bytes"), h.uploader.size)

	rec, err := h.posts.Get(context.Background(), attempt.Record().ID)
	require.NoError(t, err)
	require.True(t, rec.Pending())

	require.Equal(t, []events.Type{events.PostCreated, events.PostDegraded}, h.events.types())
	h.events.mu.Lock()
	defer h.events.mu.Unlock()
	require.Contains(t, h.events.events[1].Reason, "finalize post")
}

func TestBackgroundStreamingOutlivesRequest(t *testing.T) {
	h := newHarness()
	h.uploader.release = make(chan struct{})
	coordinator := h.coordinator(true)

	ctx, cancel := context.WithCancel(context.Background())
	attempt, err := coordinator.Publish(ctx, testInput(t))
	require.NoError(t, err)
	require.True(t, attempt.Published())

	cancel()
	require.Equal(t, int64(1), coordinator.InFlight())
	close(h.uploader.release)
	coordinator.Wait()

	<-attempt.Done()
	require.Zero(t, coordinator.InFlight())
	require.Equal(t, StateFinalized, attempt.State())
	require.NoError(t, h.uploader.ctxErr)
}

func TestCancelledBeforeVideoUpload(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	h.objects.cancel = cancel

	attempt, err := h.coordinator(false).Publish(ctx, testInput(t))
	require.ErrorIs(t, err, media.ErrCancelled)
	require.Equal(t, StateFailed, attempt.State())
	require.Equal(t, []string{"user-1/1700000000000.jpg"}, h.objects.puts)

	records, err := h.posts.List(context.Background(), post.Query{})
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestPublishRejectsMissingOwner(t *testing.T) {
	h := newHarness()
	in := testInput(t)
	in.UserID = ""

	_, err := h.coordinator(false).Publish(context.Background(), in)
	require.ErrorIs(t, err, ErrInvalidInput)
}
