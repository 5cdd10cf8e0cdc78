package main

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"wildfire/internal/config"
	"wildfire/internal/engagement"
	"wildfire/internal/feed"
	"wildfire/internal/fsutil"
	"wildfire/internal/limits"
	"wildfire/internal/media"
	"wildfire/internal/metrics"
	"wildfire/internal/playback"
	appmw "wildfire/internal/middleware"
	"wildfire/internal/post"
	"wildfire/internal/processor"
	"wildfire/internal/publish"
	"wildfire/internal/streaming"
	"wildfire/internal/transcoder"
)

type handlers struct {
	cfg        *config.Config
	logger     *zap.Logger
	source     *media.Source
	proc       *processor.Processor
	posts      post.Store
	counter    *engagement.Counter
	feed       *feed.Service
	resolver   *streaming.Resolver
	gate       *limits.CountGate
	players    *playback.Sessions
	uploadsDir string
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
	Step  string `json:"step,omitempty"`
}

type postResponse struct {
	post.Record
	Playback streaming.Resolution `json:"playback"`
}

func (h *handlers) register(e *echo.Echo, verifier appmw.TokenVerifier, limiter *appmw.IPRateLimiter, validator *appmw.Validator) {
	authed := appmw.Identity(verifier, true)
	optional := appmw.Identity(verifier, false)

	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	e.POST("/posts", h.createPost, authed, limiter.Middleware(), validator.ValidateUpload())
	e.POST("/posts/capture", h.capturePost, authed, limiter.Middleware())
	e.GET("/posts/pending", h.pendingPosts, appmw.OperatorToken(h.cfg.Ops.Token))
	e.GET("/posts/:id", h.getPost)
	e.GET("/posts/:id/views", h.totalViews)
	e.POST("/posts/:id/views", h.registerView, authed)
	e.POST("/posts/:id/likes", h.like, authed)
	e.POST("/posts/:id/comments", h.comment, authed)
	e.POST("/posts/:id/player", h.playerEvent, authed)

	e.GET("/feed", h.listFeed, optional)
	e.GET("/users/:id/posts", h.userPosts, optional)
	e.POST("/users/:id/followers", h.follow, authed)
	e.GET("/me/limits", h.remaining, authed)
}

func (h *handlers) constraints() media.Constraints {
	c := media.DefaultConstraints()
	c.MinDurationMs = h.cfg.Media.MinDurationMs
	c.MaxDurationMs = h.cfg.Media.MaxDurationMs
	c.Tolerance = h.cfg.Media.AspectTolerance
	return c
}

// createPost takes a library upload through validation, transcoding and publishing.
func (h *handlers) createPost(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "file is required"})
	}
	countryID, err := optionalInt64(c.FormValue("country_id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid country_id"})
	}

	ext := filepath.Ext(fh.Filename)
	if ext == "" {
		ext = ".mp4"
	}
	dstPath := filepath.Join(h.uploadsDir, uuid.NewString()+ext)
	if err := saveUpload(fh, dstPath); err != nil {
		h.logger.Error("save upload", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "cannot save file"})
	}

	ctx := c.Request().Context()
	picker := media.PickerFunc(func(ctx context.Context) (string, error) { return dstPath, nil })
	asset, err := h.source.PickFromLibrary(ctx, picker, h.constraints())
	if err != nil {
		_ = fsutil.Cleanup(dstPath)
		return h.writeError(c, err)
	}

	return h.process(c, asset, countryID)
}

// capturePost records from the configured device for the capture window.
func (h *handlers) capturePost(c echo.Context) error {
	if h.cfg.Media.CaptureDevice == "" {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "capture is not configured"})
	}
	countryID, err := optionalInt64(c.QueryParam("country_id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid country_id"})
	}

	ctx := c.Request().Context()
	window := time.Duration(h.cfg.Media.CaptureMs) * time.Millisecond
	asset, err := h.source.Capture(ctx, window,
		media.WithConstraints(h.constraints()),
		media.WithCountdown(100*time.Millisecond, func(elapsed time.Duration) {
			h.logger.Debug("capturing", zap.String("elapsed", media.FormatElapsed(elapsed)))
		}))
	if err != nil {
		return h.writeError(c, err)
	}
	return h.process(c, asset, countryID)
}

func (h *handlers) process(c echo.Context, asset *media.Asset, countryID *int64) error {
	attempt, err := h.proc.Process(c.Request().Context(), processor.Request{
		Asset:      asset,
		UserID:     appmw.UserID(c),
		CountryID:  countryID,
		DiscardRaw: true,
	})
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, attempt.Snapshot())
}

func (h *handlers) getPost(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid id"})
	}
	ctx := c.Request().Context()
	rec, err := h.posts.Get(ctx, id)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, postResponse{Record: *rec, Playback: h.resolver.Resolve(ctx, rec)})
}

// pendingPosts lists records still waiting on a playback id, for reconciliation.
func (h *handlers) pendingPosts(c echo.Context) error {
	olderThan := 10 * time.Minute
	if v := c.QueryParam("older_than_minutes"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid older_than_minutes"})
		}
		olderThan = time.Duration(n) * time.Minute
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	records, err := h.posts.ListPending(c.Request().Context(), time.Now().Add(-olderThan), limit)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"posts": records})
}

func (h *handlers) listFeed(c echo.Context) error {
	q, err := pageQuery(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	return h.writeFeed(c, q)
}

func (h *handlers) userPosts(c echo.Context) error {
	q, err := pageQuery(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	q.UserID = c.Param("id")
	return h.writeFeed(c, q)
}

func (h *handlers) writeFeed(c echo.Context, q feed.Query) error {
	q.ViewerID = appmw.UserID(c)
	items, err := h.feed.List(c.Request().Context(), q)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"items": items})
}

func (h *handlers) registerView(c echo.Context) error {
	id, ok := h.existingPost(c)
	if !ok {
		return nil
	}
	if err := h.counter.RegisterView(c.Request().Context(), id, appmw.UserID(c)); err != nil {
		return h.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) totalViews(c echo.Context) error {
	id, ok := h.existingPost(c)
	if !ok {
		return nil
	}
	total, err := h.counter.TotalViews(c.Request().Context(), id)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"views": total})
}

func (h *handlers) like(c echo.Context) error {
	id, ok := h.existingPost(c)
	if !ok {
		return nil
	}
	err := h.counter.Like(c.Request().Context(), id, appmw.UserID(c))
	if errors.Is(err, engagement.ErrAlreadyLiked) {
		return c.JSON(http.StatusConflict, map[string]bool{"already_liked": true})
	}
	if err != nil {
		return h.writeError(c, err)
	}
	return c.NoContent(http.StatusCreated)
}

type playerRequest struct {
	Event playback.Event `json:"event"`
}

// playerEvent drives the viewer's loop governor; re-engaging counts a view.
func (h *handlers) playerEvent(c echo.Context) error {
	id, ok := h.existingPost(c)
	if !ok {
		return nil
	}
	var req playerRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
	}
	snap, err := h.players.Apply(c.Request().Context(), id, appmw.UserID(c), req.Event)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, snap)
}

type commentRequest struct {
	Text string `json:"text"`
}

func (h *handlers) comment(c echo.Context) error {
	id, ok := h.existingPost(c)
	if !ok {
		return nil
	}
	var req commentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
	}
	comment, err := h.counter.Comment(c.Request().Context(), id, appmw.UserID(c), req.Text)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, comment)
}

func (h *handlers) follow(c echo.Context) error {
	if err := h.counter.Follow(c.Request().Context(), appmw.UserID(c), c.Param("id")); err != nil {
		return h.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) remaining(c echo.Context) error {
	n, err := h.gate.Remaining(c.Request().Context(), appmw.UserID(c))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int{"remaining_posts": n})
}

// existingPost parses :id and writes 400/404 itself when it returns false.
func (h *handlers) existingPost(c echo.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		_ = c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid id"})
		return 0, false
	}
	if _, err := h.posts.Get(c.Request().Context(), id); err != nil {
		_ = h.writeError(c, err)
		return 0, false
	}
	return id, true
}

func (h *handlers) writeError(c echo.Context, err error) error {
	var validationErr *media.ValidationError
	var transcodeErr *transcoder.Error
	switch {
	case errors.As(err, &validationErr):
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: validationErr.Reason, Field: validationErr.Field})
	case errors.Is(err, media.ErrCancelled), transcoder.IsCancelled(err):
		return c.JSON(http.StatusConflict, errorResponse{Error: "cancelled"})
	case errors.As(err, &transcodeErr):
		h.logger.Error("transcode failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "transcode failed", Step: string(transcodeErr.Step)})
	case errors.Is(err, limits.ErrLimitReached):
		return c.JSON(http.StatusTooManyRequests, errorResponse{Error: err.Error()})
	case publish.IsUploadError(err):
		h.logger.Error("publish failed", zap.Error(err))
		return c.JSON(http.StatusBadGateway, errorResponse{Error: "upload failed"})
	case errors.Is(err, post.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: "not found"})
	}
	h.logger.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

func saveUpload(fh *multipart.FileHeader, dstPath string) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	_, cErr := io.Copy(dst, src)
	dErr := dst.Close()
	if err := errors.Join(cErr, dErr); err != nil {
		_ = os.Remove(dstPath)
		return err
	}
	return nil
}

func pageQuery(c echo.Context) (feed.Query, error) {
	var q feed.Query
	var err error
	if v := c.QueryParam("limit"); v != "" {
		if q.Limit, err = strconv.Atoi(v); err != nil {
			return q, errors.New("invalid limit")
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if q.Offset, err = strconv.Atoi(v); err != nil {
			return q, errors.New("invalid offset")
		}
	}
	if q.CountryID, err = optionalInt64(c.QueryParam("country")); err != nil {
		return q, errors.New("invalid country")
	}
	return q, nil
}

func optionalInt64(v string) (*int64, error) {
	if v == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, err
	}
	return &n, nil
}
