package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"wildfire/internal/engagement"
	"wildfire/internal/post"
	"wildfire/internal/store"
)

// Repository implements post.Store and engagement.Store on gorm.
type Repository struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

func NewRepository(db *gorm.DB, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{db: db, logger: logger, now: time.Now}
}

func (r *Repository) InsertPlaceholder(ctx context.Context, p post.Placeholder) (int64, error) {
	now := r.now().UTC()
	row := postModel{
		UserID:       p.UserID,
		CountryID:    p.CountryID,
		VideoURL:     p.VideoURL,
		ThumbnailURL: p.ThumbnailURL,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, r.logError("insert_placeholder", err, zap.String("user_id", p.UserID))
	}
	return row.ID, nil
}

func (r *Repository) Finalize(ctx context.Context, id int64, playbackID string) error {
	return r.updatePost(ctx, "finalize", id, map[string]any{
		"playback_id": playbackID,
		"updated_at":  r.now().UTC(),
	})
}

func (r *Repository) SetSuppressed(ctx context.Context, id int64, suppressed bool) error {
	return r.updatePost(ctx, "set_suppressed", id, map[string]any{
		"suppressed": suppressed,
		"updated_at": r.now().UTC(),
	})
}

func (r *Repository) updatePost(ctx context.Context, event string, id int64, fields map[string]any) error {
	res := r.db.WithContext(ctx).Model(&postModel{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return r.logError(event, res.Error, zap.Int64("post_id", id))
	}
	if res.RowsAffected == 0 {
		return post.ErrNotFound
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id int64) (*post.Record, error) {
	var row postModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, post.ErrNotFound
		}
		return nil, r.logError("get_post", err, zap.Int64("post_id", id))
	}
	rec := row.toRecord()
	return &rec, nil
}

func (r *Repository) List(ctx context.Context, q post.Query) ([]post.Record, error) {
	q = q.Normalize()
	tx := r.db.WithContext(ctx).Model(&postModel{})
	if !q.IncludeSuppressed {
		tx = tx.Where("suppressed = ?", false)
	}
	if q.UserID != "" {
		tx = tx.Where("user_id = ?", q.UserID)
	}
	if q.CountryID != nil {
		tx = tx.Where("country_id = ?", *q.CountryID)
	}

	var rows []postModel
	if err := tx.Order("created_at DESC").Order("id DESC").Limit(q.Limit).Offset(q.Offset).Find(&rows).Error; err != nil {
		return nil, r.logError("list_posts", err)
	}
	return toRecords(rows), nil
}

func (r *Repository) ListPending(ctx context.Context, olderThan time.Time, limit int) ([]post.Record, error) {
	if limit <= 0 {
		limit = post.DefaultLimit
	}
	var rows []postModel
	err := r.db.WithContext(ctx).
		Where("(playback_id IS NULL OR playback_id = '') AND created_at < ?", olderThan.UTC()).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, r.logError("list_pending", err)
	}
	return toRecords(rows), nil
}

func (r *Repository) CountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&postModel{}).
		Where("user_id = ? AND created_at >= ?", userID, since.UTC()).
		Count(&count).Error
	if err != nil {
		return 0, r.logError("count_since", err, zap.String("user_id", userID))
	}
	return int(count), nil
}

func (r *Repository) ViewExists(ctx context.Context, postID int64, viewerID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&viewModel{}).
		Where("post_id = ? AND viewer_id = ?", postID, viewerID).
		Count(&count).Error
	if err != nil {
		return false, r.logError("view_exists", err, zap.Int64("post_id", postID))
	}
	return count > 0, nil
}

func (r *Repository) InsertView(ctx context.Context, postID int64, viewerID string) error {
	row := viewModel{PostID: postID, ViewerID: viewerID}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return r.logError("insert_view", err, zap.Int64("post_id", postID))
	}
	return nil
}

func (r *Repository) IncrementView(ctx context.Context, postID int64, viewerID string) error {
	res := r.db.WithContext(ctx).Model(&viewModel{}).
		Where("post_id = ? AND viewer_id = ?", postID, viewerID).
		UpdateColumn("view_count", gorm.Expr("view_count + 1"))
	if res.Error != nil {
		return r.logError("increment_view", res.Error, zap.Int64("post_id", postID))
	}
	if res.RowsAffected == 0 {
		return post.ErrNotFound
	}
	return nil
}

func (r *Repository) Views(ctx context.Context, postID int64) ([]engagement.View, error) {
	var rows []viewModel
	if err := r.db.WithContext(ctx).Where("post_id = ?", postID).Order("viewer_id ASC").Find(&rows).Error; err != nil {
		return nil, r.logError("list_views", err, zap.Int64("post_id", postID))
	}
	out := make([]engagement.View, 0, len(rows))
	for _, row := range rows {
		out = append(out, engagement.View{PostID: row.PostID, ViewerID: row.ViewerID, Count: row.ViewCount})
	}
	return out, nil
}

func (r *Repository) InsertLike(ctx context.Context, postID int64, userID string) error {
	row := likeModel{PostID: postID, UserID: userID, CreatedAt: r.now().UTC()}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return r.logError("insert_like", err, zap.Int64("post_id", postID))
	}
	return nil
}

func (r *Repository) InsertComment(ctx context.Context, c engagement.Comment) error {
	row := commentModelFrom(c)
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return r.logError("insert_comment", err, zap.Int64("post_id", c.PostID))
	}
	return nil
}

func (r *Repository) Follow(ctx context.Context, followerID, followeeID string) error {
	row := followerModel{FollowerID: followerID, FolloweeID: followeeID, CreatedAt: r.now().UTC()}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return r.logError("follow", err, zap.String("follower_id", followerID))
	}
	return nil
}

type countRow struct {
	PostID int64
	Total  int64
}

// Aggregates runs one grouped query per counter, regardless of len(postIDs).
func (r *Repository) Aggregates(ctx context.Context, postIDs []int64) (map[int64]engagement.Aggregate, error) {
	out := make(map[int64]engagement.Aggregate, len(postIDs))
	for _, id := range postIDs {
		out[id] = engagement.Aggregate{}
	}
	if len(postIDs) == 0 {
		return out, nil
	}

	var views, likes, comments []countRow
	db := r.db.WithContext(ctx)
	if err := db.Model(&viewModel{}).Select("post_id, COALESCE(SUM(view_count), 0)::bigint AS total").
		Where("post_id IN ?", postIDs).Group("post_id").Scan(&views).Error; err != nil {
		return nil, r.logError("aggregate_views", err)
	}
	if err := db.Model(&likeModel{}).Select("post_id, COUNT(*) AS total").
		Where("post_id IN ?", postIDs).Group("post_id").Scan(&likes).Error; err != nil {
		return nil, r.logError("aggregate_likes", err)
	}
	if err := db.Model(&commentModel{}).Select("post_id, COUNT(*) AS total").
		Where("post_id IN ?", postIDs).Group("post_id").Scan(&comments).Error; err != nil {
		return nil, r.logError("aggregate_comments", err)
	}

	for _, row := range views {
		agg := out[row.PostID]
		agg.Views = row.Total
		out[row.PostID] = agg
	}
	for _, row := range likes {
		agg := out[row.PostID]
		agg.Likes = row.Total
		out[row.PostID] = agg
	}
	for _, row := range comments {
		agg := out[row.PostID]
		agg.Comments = row.Total
		out[row.PostID] = agg
	}
	return out, nil
}

func (r *Repository) LikedBy(ctx context.Context, viewerID string, postIDs []int64) (map[int64]bool, error) {
	out := make(map[int64]bool, len(postIDs))
	for _, id := range postIDs {
		out[id] = false
	}
	var liked []int64
	err := r.db.WithContext(ctx).Model(&likeModel{}).
		Where("user_id = ? AND post_id IN ?", viewerID, postIDs).
		Pluck("post_id", &liked).Error
	if err != nil {
		return nil, r.logError("liked_by", err, zap.String("viewer_id", viewerID))
	}
	for _, id := range liked {
		out[id] = true
	}
	return out, nil
}

func (r *Repository) FollowedBy(ctx context.Context, viewerID string, authorIDs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(authorIDs))
	for _, id := range authorIDs {
		out[id] = false
	}
	var followed []string
	err := r.db.WithContext(ctx).Model(&followerModel{}).
		Where("follower_id = ? AND followee_id IN ?", viewerID, authorIDs).
		Pluck("followee_id", &followed).Error
	if err != nil {
		return nil, r.logError("followed_by", err, zap.String("viewer_id", viewerID))
	}
	for _, id := range followed {
		out[id] = true
	}
	return out, nil
}

func (r *Repository) logError(event string, err error, fields ...zap.Field) error {
	fields = append(fields, zap.String("event", event), zap.Error(err))
	r.logger.Error("postgres repository operation failed", fields...)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var (
	_ post.Store       = (*Repository)(nil)
	_ engagement.Store = (*Repository)(nil)
)
