package postgres

import (
	"time"

	"wildfire/internal/engagement"
	"wildfire/internal/post"
)

type postModel struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement"`
	UserID       string    `gorm:"column:user_id;not null;index:idx_posts_user_created,priority:1"`
	CountryID    *int64    `gorm:"column:country_id"`
	VideoURL     string    `gorm:"column:video_url;not null"`
	ThumbnailURL string    `gorm:"column:thumbnail_url;not null"`
	PlaybackID   *string   `gorm:"column:playback_id"`
	Suppressed   bool      `gorm:"column:suppressed;not null;default:false"`
	CreatedAt    time.Time `gorm:"column:created_at;not null;index:idx_posts_user_created,priority:2"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null"`
}

func (postModel) TableName() string {
	return "posts"
}

func (m postModel) toRecord() post.Record {
	return post.Record{
		ID:           m.ID,
		UserID:       m.UserID,
		CountryID:    m.CountryID,
		VideoURL:     m.VideoURL,
		ThumbnailURL: m.ThumbnailURL,
		PlaybackID:   m.PlaybackID,
		Suppressed:   m.Suppressed,
		CreatedAt:    m.CreatedAt.UTC(),
		UpdatedAt:    m.UpdatedAt.UTC(),
	}
}

func toRecords(rows []postModel) []post.Record {
	out := make([]post.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toRecord())
	}
	return out
}

type viewModel struct {
	PostID    int64  `gorm:"column:post_id;primaryKey;autoIncrement:false"`
	ViewerID  string `gorm:"column:viewer_id;primaryKey"`
	ViewCount int64  `gorm:"column:view_count;not null;default:0"`
}

func (viewModel) TableName() string {
	return "views"
}

type likeModel struct {
	PostID    int64     `gorm:"column:post_id;primaryKey;autoIncrement:false"`
	UserID    string    `gorm:"column:user_id;primaryKey"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

func (likeModel) TableName() string {
	return "likes"
}

type commentModel struct {
	ID        string    `gorm:"column:id;primaryKey"`
	PostID    int64     `gorm:"column:post_id;not null;index"`
	UserID    string    `gorm:"column:user_id;not null"`
	Text      string    `gorm:"column:text;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

func (commentModel) TableName() string {
	return "comments"
}

func commentModelFrom(c engagement.Comment) commentModel {
	return commentModel{
		ID:        c.ID,
		PostID:    c.PostID,
		UserID:    c.UserID,
		Text:      c.Text,
		CreatedAt: c.CreatedAt.UTC(),
	}
}

type followerModel struct {
	FollowerID string    `gorm:"column:follower_id;primaryKey"`
	FolloweeID string    `gorm:"column:followee_id;primaryKey"`
	CreatedAt  time.Time `gorm:"column:created_at;not null"`
}

func (followerModel) TableName() string {
	return "followers"
}
