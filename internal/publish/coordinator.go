package publish

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"wildfire/internal/events"
	"wildfire/internal/media"
	"wildfire/internal/metrics"
	"wildfire/internal/objectstore"
	"wildfire/internal/post"
	"wildfire/internal/streaming"
	"wildfire/internal/transcoder"
)

type StreamingClient interface {
	CreateAsset(ctx context.Context, name string) (*streaming.Asset, error)
}

type ResumableUploader interface {
	Upload(ctx context.Context, endpoint string, data []byte, metadata map[string]string, progress streaming.Progress) (string, error)
}

type Input struct {
	Asset     *transcoder.Asset
	UserID    string
	CountryID *int64
}

type Options struct {
	// Background returns from Publish once the record exists and runs the
	// streaming phase on its own goroutine.
	Background bool
	Observer   Observer
	Progress   streaming.Progress
}

type Coordinator struct {
	objects   objectstore.Store
	posts     post.Store
	streaming StreamingClient
	uploader  ResumableUploader
	events    events.Publisher
	options   Options
	logger    *zap.Logger

	now      func() time.Time
	readFile func(string) ([]byte, error)
	wg       sync.WaitGroup
	inFlight atomic.Int64
}

func NewCoordinator(objects objectstore.Store, posts post.Store, streamingClient StreamingClient, uploader ResumableUploader, publisher events.Publisher, options Options, logger *zap.Logger) *Coordinator {
	if publisher == nil {
		publisher = events.NewLogPublisher(logger)
	}
	return &Coordinator{
		objects:   objects,
		posts:     posts,
		streaming: streamingClient,
		uploader:  uploader,
		events:    publisher,
		options:   options,
		logger:    logger,
		now:       time.Now,
		readFile:  os.ReadFile,
	}
}

// Publish uploads the thumbnail then the video to the object store, inserts
// the placeholder record, then pushes the video to the streaming service and
// finalizes the record. Any error before the record exists is returned and
// leaves nothing behind in the post store. Later errors are logged and leave
// the post in degraded playback; they never fail the attempt for the caller.
//
// ctx is honoured between stages only. Once the record exists the streaming
// phase ignores cancellation: a published post is never retracted.
func (coordinator *Coordinator) Publish(ctx context.Context, in Input) (*Attempt, error) {
	if in.Asset == nil || in.UserID == "" {
		return nil, ErrInvalidInput
	}

	attempt := newAttempt(coordinator.options.Observer)
	cleanup := func() {
		if err := in.Asset.Cleanup(); err != nil {
			coordinator.logger.Warn("cleanup transcoded asset", zap.String("attempt", attempt.ID()), zap.Error(err))
		}
	}

	rec, video, err := coordinator.phaseOne(ctx, attempt, in)
	if err != nil {
		stage := attempt.fail(err)
		metrics.PublishStages.WithLabelValues(string(stage), "failed").Inc()
		coordinator.logger.Warn("publish failed",
			zap.String("attempt", attempt.ID()),
			zap.String("stage", string(stage)),
			zap.Error(err))
		cleanup()
		attempt.finish()
		return attempt, err
	}

	detached := context.WithoutCancel(ctx)
	if coordinator.options.Background {
		coordinator.wg.Add(1)
		coordinator.inFlight.Add(1)
		go func() {
			defer coordinator.wg.Done()
			defer coordinator.inFlight.Add(-1)
			defer attempt.finish()
			defer cleanup()
			coordinator.phaseTwo(detached, attempt, in, rec, video)
		}()
		return attempt, nil
	}

	coordinator.phaseTwo(detached, attempt, in, rec, video)
	cleanup()
	attempt.finish()
	return attempt, nil
}

// Wait blocks until every background streaming phase has settled.
func (coordinator *Coordinator) Wait() {
	coordinator.wg.Wait()
}

// InFlight is the number of background streaming phases still running.
func (coordinator *Coordinator) InFlight() int64 {
	return coordinator.inFlight.Load()
}

func (coordinator *Coordinator) enter(ctx context.Context, attempt *Attempt, to State) error {
	if ctx.Err() != nil {
		return media.ErrCancelled
	}
	attempt.transition(to)
	metrics.PublishStages.WithLabelValues(string(to), "entered").Inc()
	return nil
}

func (coordinator *Coordinator) phaseOne(ctx context.Context, attempt *Attempt, in Input) (*post.Record, []byte, error) {
	stamp := coordinator.now().UnixMilli()

	if err := coordinator.enter(ctx, attempt, StateUploadingThumbnail); err != nil {
		return nil, nil, err
	}
	thumbURL, err := coordinator.put(ctx, in.Asset.ThumbnailURI, objectstore.Key(in.UserID, stamp, "jpg"), objectstore.ContentTypeJPEG)
	if err != nil {
		return nil, nil, &UploadError{Stage: StateUploadingThumbnail, Err: err}
	}

	if err := coordinator.enter(ctx, attempt, StateUploadingVideo); err != nil {
		return nil, nil, err
	}
	video, err := coordinator.readFile(in.Asset.VideoURI)
	if err != nil {
		return nil, nil, &UploadError{Stage: StateUploadingVideo, Err: fmt.Errorf("read video: %w", err)}
	}
	videoURL, err := coordinator.objects.Put(ctx, objectstore.Key(in.UserID, stamp, "mp4"), objectstore.ContentTypeMP4, video)
	if err != nil {
		return nil, nil, &UploadError{Stage: StateUploadingVideo, Err: err}
	}

	if ctx.Err() != nil {
		return nil, nil, media.ErrCancelled
	}
	id, err := coordinator.posts.InsertPlaceholder(ctx, post.Placeholder{
		UserID:       in.UserID,
		CountryID:    in.CountryID,
		VideoURL:     videoURL,
		ThumbnailURL: thumbURL,
	})
	if err != nil {
		return nil, nil, &UploadError{Stage: StateRecordCreated, Err: fmt.Errorf("insert placeholder: %w", err)}
	}

	now := coordinator.now().UTC()
	rec := post.Record{
		ID:           id,
		UserID:       in.UserID,
		CountryID:    in.CountryID,
		VideoURL:     videoURL,
		ThumbnailURL: thumbURL,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	attempt.setRecord(rec)
	attempt.transition(StateRecordCreated)
	metrics.PublishStages.WithLabelValues(string(StateRecordCreated), "entered").Inc()
	coordinator.logger.Info("post published",
		zap.String("attempt", attempt.ID()),
		zap.Int64("post_id", id),
		zap.String("user_id", in.UserID))
	coordinator.emit(context.WithoutCancel(ctx), events.Event{Type: events.PostCreated, PostID: id, UserID: in.UserID})

	return &rec, video, nil
}

func (coordinator *Coordinator) put(ctx context.Context, path, key, contentType string) (string, error) {
	data, err := coordinator.readFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return coordinator.objects.Put(ctx, key, contentType, data)
}

func (coordinator *Coordinator) phaseTwo(ctx context.Context, attempt *Attempt, in Input, rec *post.Record, video []byte) {
	attempt.transition(StateStreamingAssetRequested)
	asset, err := coordinator.streaming.CreateAsset(ctx, fmt.Sprintf("post-%d", rec.ID))
	if err != nil {
		coordinator.degrade(ctx, attempt, rec, &StreamingError{Stage: StateStreamingAssetRequested, Err: err})
		return
	}

	attempt.transition(StateStreamingUploadInProgress)
	metadata := map[string]string{
		"filename": filepath.Base(in.Asset.VideoURI),
		"filetype": objectstore.ContentTypeMP4,
	}
	if _, err := coordinator.uploader.Upload(ctx, asset.TusEndpoint, video, metadata, coordinator.options.Progress); err != nil {
		coordinator.degrade(ctx, attempt, rec, &StreamingError{Stage: StateStreamingUploadInProgress, Err: err})
		return
	}

	if err := coordinator.posts.Finalize(ctx, rec.ID, asset.PlaybackID); err != nil {
		coordinator.degrade(ctx, attempt, rec, &FinalizeError{RecordID: rec.ID, Err: err})
		return
	}

	attempt.setPlaybackID(asset.PlaybackID)
	attempt.transition(StateFinalized)
	metrics.PublishStages.WithLabelValues(string(StateFinalized), "entered").Inc()
	coordinator.logger.Info("post finalized",
		zap.String("attempt", attempt.ID()),
		zap.Int64("post_id", rec.ID),
		zap.String("playback_id", asset.PlaybackID))
	coordinator.emit(ctx, events.Event{Type: events.PostFinalized, PostID: rec.ID, UserID: rec.UserID, PlaybackID: asset.PlaybackID})
}

func (coordinator *Coordinator) degrade(ctx context.Context, attempt *Attempt, rec *post.Record, err error) {
	stage := attempt.degrade(err)
	metrics.PublishStages.WithLabelValues(string(stage), "degraded").Inc()
	coordinator.logger.Warn("post left in degraded playback",
		zap.String("attempt", attempt.ID()),
		zap.Int64("post_id", rec.ID),
		zap.String("stage", string(stage)),
		zap.Error(err))
	coordinator.emit(ctx, events.Event{Type: events.PostDegraded, PostID: rec.ID, UserID: rec.UserID, Reason: err.Error()})
}

func (coordinator *Coordinator) emit(ctx context.Context, e events.Event) {
	e.At = coordinator.now().UTC()
	if err := coordinator.events.Publish(ctx, e); err != nil {
		coordinator.logger.Warn("publish event", zap.String("type", string(e.Type)), zap.Int64("post_id", e.PostID), zap.Error(err))
	}
}
