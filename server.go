package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"wildfire/internal/auth"
	"wildfire/internal/cache"
	"wildfire/internal/config"
	"wildfire/internal/engagement"
	"wildfire/internal/events"
	"wildfire/internal/exec"
	"wildfire/internal/feed"
	"wildfire/internal/fsutil"
	"wildfire/internal/limits"
	"wildfire/internal/logging"
	"wildfire/internal/media"
	"wildfire/internal/metrics"
	appmw "wildfire/internal/middleware"
	"wildfire/internal/objectstore"
	"wildfire/internal/playback"
	"wildfire/internal/post"
	"wildfire/internal/probe"
	"wildfire/internal/processor"
	"wildfire/internal/publish"
	"wildfire/internal/store"
	"wildfire/internal/store/memory"
	mongostore "wildfire/internal/store/mongo"
	pgstore "wildfire/internal/store/postgres"
	"wildfire/internal/streaming"
	"wildfire/internal/thumbnail"
	"wildfire/internal/transcoder"
)

func main() {
	cfg, err := config.Load(config.GetEnv("CONFIG_FILE", "config/config.yaml"))
	if err != nil {
		panic(err)
	}

	logger, err := logging.New(cfg.Development(), cfg.Log.Level)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	uploadsDir := fsutil.UploadsDir(cfg.Store.DataDir)
	if err := os.MkdirAll(uploadsDir, 0o755); err != nil {
		return err
	}
	scratch, err := fsutil.NewScratch(cfg.Media.ScratchDir)
	if err != nil {
		return err
	}

	runner := exec.NewCommandRunner()
	prober := probe.NewProber(cfg.Media.FFprobePath, runner)
	recorder := media.NewFFmpegRecorder(cfg.Media.FFmpegPath, cfg.Media.CaptureFormat, cfg.Media.CaptureDevice, runner)
	source := media.NewSource(prober, recorder, scratch, logger)

	tc := transcoder.NewTranscoder(cfg.Media.FFmpegPath, runner, scratch, transcoder.Options{
		AspectRatio: media.TargetAspectRatio,
		Tolerance:   cfg.Media.AspectTolerance,
		Thumbnail: thumbnail.Options{
			OffsetMs: cfg.Transcode.ThumbnailOffsetMs,
			Scale:    cfg.Transcode.ThumbnailScale,
			Quality:  cfg.Transcode.ThumbnailQuality,
		},
		VideoCodec:   "libx264",
		VideoBitrate: cfg.Transcode.VideoBitrate,
		AudioBitrate: cfg.Transcode.AudioBitrate,
	}, logger)

	objects, err := openObjectStore(ctx, cfg)
	if err != nil {
		return err
	}

	posts, engStore, closeStore, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	publisher, err := openPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	streamingClient := streaming.NewClient(streaming.ClientOptions{
		APIURL:         cfg.Streaming.APIURL,
		APIKey:         cfg.Streaming.APIKey,
		MaxFailures:    cfg.Streaming.BreakerMaxFailures,
		BreakerTimeout: time.Duration(cfg.Streaming.BreakerTimeoutSec) * time.Second,
	}, logger)
	tus := streaming.NewTusUploader(int64(cfg.Streaming.ChunkSizeKB)*1024, cfg.RetryDelays, nil, logger)

	coordinator := publish.NewCoordinator(objects, posts, streamingClient, tus, publisher, publish.Options{
		Background: cfg.Streaming.Background,
		Observer: func(attemptID string, from, to publish.State) {
			logger.Debug("publish transition", zap.String("attempt", attemptID), zap.String("from", string(from)), zap.String("to", string(to)))
		},
	}, logger)
	gate := limits.NewCountGate(posts, cfg.Limits.DailyPosts, 24*time.Hour)
	proc := processor.New(tc, coordinator, gate, logger)

	var playbackCache streaming.Cache
	if cfg.Redis.Addr != "" {
		cli, err := cache.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		pc := cache.NewPlaybackCache(cli)
		defer pc.Close()
		playbackCache = pc
	}
	resolver := streaming.NewResolver(streamingClient, playbackCache, cfg.PlaybackTTL, logger)

	counter := engagement.NewCounter(engStore, logger)
	feedService := feed.NewService(posts, counter, resolver, logger)

	var verifier appmw.TokenVerifier
	switch {
	case cfg.JWT.PublicKeyPath != "":
		v, err := auth.NewJWTVerifier(cfg.JWT.PublicKeyPath)
		if err != nil {
			return err
		}
		verifier = v
	case !cfg.Development():
		return errors.New("jwt.public_key_path is required outside development")
	default:
		logger.Warn("no jwt key configured, trusting X-User-ID header")
	}

	h := &handlers{
		cfg:        cfg,
		logger:     logger,
		source:     source,
		proc:       proc,
		posts:      posts,
		counter:    counter,
		feed:       feedService,
		resolver:   resolver,
		gate:       gate,
		players:    newPlayerSessions(counter, logger),
		uploadsDir: uploadsDir,
	}

	limiter := appmw.NewIPRateLimiter(cfg.RateLimit.UploadsPerMinute, cfg.RateLimit.Burst, logger)
	go limiter.Sweep(ctx, time.Minute, 5*time.Minute)

	e := newEcho(logger)
	h.register(e, verifier, limiter, appmw.NewValidator(cfg.Media.MaxUploadMB, cfg.Media.AllowedMIME))

	errCh := make(chan error, 1)
	go func() {
		if err := e.Start(":" + cfg.App.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		coordinator.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		// Stores and the event publisher close on return, so these attempts
		// stay pending until reconciliation picks them up.
		logger.Warn("abandoning streaming uploads at shutdown", zap.Int64("attempts", coordinator.InFlight()))
	}
	return nil
}

func newEcho(logger *zap.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("request_id", v.RequestID))
			return nil
		},
	}))
	e.Use(middleware.CORS())
	return e
}

func openObjectStore(ctx context.Context, cfg *config.Config) (objectstore.Store, error) {
	oc := cfg.ObjectStore
	switch oc.Driver {
	case "s3":
		return objectstore.NewS3Store(ctx, oc.Region, oc.Bucket, oc.Endpoint, oc.PublicBaseURL)
	case "bunny", "":
		return objectstore.NewBunnyStore(oc.BaseURL, oc.Zone, oc.AccessKey, oc.PublicBaseURL, nil), nil
	}
	return nil, errors.New("unknown object_store.driver " + oc.Driver)
}

func openStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (post.Store, engagement.Store, func(), error) {
	switch store.Driver(cfg.Store.Driver) {
	case store.DriverPostgres:
		db, err := pgstore.Connect(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return nil, nil, nil, err
		}
		if cfg.Store.AutoMigrate {
			if err := pgstore.Migrate(ctx, db); err != nil {
				_ = pgstore.Close(db)
				return nil, nil, nil, err
			}
		}
		repo := pgstore.NewRepository(db, logger)
		return repo, repo, func() { _ = pgstore.Close(db) }, nil

	case store.DriverMongo:
		client, err := mongostore.Connect(ctx, cfg.Store.MongoURI)
		if err != nil {
			return nil, nil, nil, err
		}
		repo := mongostore.NewRepository(client.Database(cfg.Store.MongoDatabase))
		if err := repo.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, nil, err
		}
		return repo, repo, func() { _ = client.Disconnect(context.Background()) }, nil

	case store.DriverMemory:
		mem := memory.New()
		return mem, mem, func() {}, nil

	case store.DriverLocal, "":
		posts, err := post.NewJSONStore(fsutil.PostsDir(cfg.Store.DataDir))
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Warn("local store keeps engagement in memory only")
		return posts, memory.New(), func() {}, nil
	}
	return nil, nil, nil, errors.New("unknown store.driver " + cfg.Store.Driver)
}

func openPublisher(cfg *config.Config, logger *zap.Logger) (events.Publisher, error) {
	switch cfg.Events.Driver {
	case "kafka":
		if len(cfg.Kafka.Brokers) == 0 {
			return nil, errors.New("kafka.brokers is required for the kafka events driver")
		}
		return events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic), nil
	case "nats":
		return events.NewNATSPublisher(cfg.NATS.URL)
	case "log", "":
		return events.NewLogPublisher(logger), nil
	}
	return nil, errors.New("unknown events.driver " + cfg.Events.Driver)
}

func newPlayerSessions(counter *engagement.Counter, logger *zap.Logger) *playback.Sessions {
	return playback.NewSessions(func(ctx context.Context, postID int64, viewerID string) {
		if err := counter.RegisterView(ctx, postID, viewerID); err != nil {
			logger.Warn("register view", zap.Int64("post_id", postID), zap.Error(err))
		}
	})
}
