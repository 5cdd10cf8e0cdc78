package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"wildfire/internal/engagement"
	"wildfire/internal/post"
	"wildfire/internal/store"
)

type postDoc struct {
	ID           int64     `bson:"_id"`
	UserID       string    `bson:"user_id"`
	CountryID    *int64    `bson:"country_id,omitempty"`
	VideoURL     string    `bson:"video_url"`
	ThumbnailURL string    `bson:"thumbnail_url"`
	PlaybackID   *string   `bson:"playback_id"`
	Suppressed   bool      `bson:"suppressed"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

func (d postDoc) toRecord() post.Record {
	return post.Record{
		ID:           d.ID,
		UserID:       d.UserID,
		CountryID:    d.CountryID,
		VideoURL:     d.VideoURL,
		ThumbnailURL: d.ThumbnailURL,
		PlaybackID:   d.PlaybackID,
		Suppressed:   d.Suppressed,
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
	}
}

type viewDoc struct {
	PostID    int64  `bson:"post_id"`
	ViewerID  string `bson:"viewer_id"`
	ViewCount int64  `bson:"view_count"`
}

type counterDoc struct {
	Seq int64 `bson:"seq"`
}

// Repository implements post.Store and engagement.Store on MongoDB. Post ids
// come from a counters document so they stay int64 like the SQL backend.
type Repository struct {
	counters  *mongo.Collection
	posts     *mongo.Collection
	views     *mongo.Collection
	likes     *mongo.Collection
	comments  *mongo.Collection
	followers *mongo.Collection
	now       func() time.Time
}

func NewRepository(db *mongo.Database) *Repository {
	return &Repository{
		counters:  db.Collection("counters"),
		posts:     db.Collection("posts"),
		views:     db.Collection("views"),
		likes:     db.Collection("likes"),
		comments:  db.Collection("comments"),
		followers: db.Collection("followers"),
		now:       time.Now,
	}
}

// EnsureIndexes creates the unique keys the engagement rules rely on.
func (r *Repository) EnsureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)
	if _, err := r.views.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "post_id", Value: 1}, {Key: "viewer_id", Value: 1}}, Options: unique,
	}); err != nil {
		return err
	}
	if _, err := r.likes.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "post_id", Value: 1}, {Key: "user_id", Value: 1}}, Options: unique,
	}); err != nil {
		return err
	}
	if _, err := r.followers.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "follower_id", Value: 1}, {Key: "followee_id", Value: 1}}, Options: unique,
	}); err != nil {
		return err
	}
	if _, err := r.comments.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "post_id", Value: 1}},
	}); err != nil {
		return err
	}
	_, err := r.posts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
	})
	return err
}

func (r *Repository) nextPostID(ctx context.Context) (int64, error) {
	res := r.counters.FindOneAndUpdate(
		ctx,
		bson.M{"_id": "posts"},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	)
	var c counterDoc
	if err := res.Decode(&c); err != nil {
		return 0, err
	}
	return c.Seq, nil
}

func (r *Repository) InsertPlaceholder(ctx context.Context, p post.Placeholder) (int64, error) {
	id, err := r.nextPostID(ctx)
	if err != nil {
		return 0, err
	}
	now := r.now().UTC()
	doc := postDoc{
		ID:           id,
		UserID:       p.UserID,
		CountryID:    p.CountryID,
		VideoURL:     p.VideoURL,
		ThumbnailURL: p.ThumbnailURL,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := r.posts.InsertOne(ctx, doc); err != nil {
		return 0, err
	}
	return id, nil
}

func (r *Repository) Finalize(ctx context.Context, id int64, playbackID string) error {
	return r.setPost(ctx, id, bson.M{"playback_id": playbackID})
}

func (r *Repository) SetSuppressed(ctx context.Context, id int64, suppressed bool) error {
	return r.setPost(ctx, id, bson.M{"suppressed": suppressed})
}

func (r *Repository) setPost(ctx context.Context, id int64, fields bson.M) error {
	fields["updated_at"] = r.now().UTC()
	res, err := r.posts.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": fields})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return post.ErrNotFound
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id int64) (*post.Record, error) {
	var doc postDoc
	if err := r.posts.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, post.ErrNotFound
		}
		return nil, err
	}
	rec := doc.toRecord()
	return &rec, nil
}

func (r *Repository) findPosts(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]post.Record, error) {
	cur, err := r.posts.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []postDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]post.Record, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toRecord())
	}
	return out, nil
}

func (r *Repository) List(ctx context.Context, q post.Query) ([]post.Record, error) {
	q = q.Normalize()
	filter := bson.M{}
	if !q.IncludeSuppressed {
		filter["suppressed"] = false
	}
	if q.UserID != "" {
		filter["user_id"] = q.UserID
	}
	if q.CountryID != nil {
		filter["country_id"] = *q.CountryID
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(q.Offset)).
		SetLimit(int64(q.Limit))
	return r.findPosts(ctx, filter, opts)
}

func (r *Repository) ListPending(ctx context.Context, olderThan time.Time, limit int) ([]post.Record, error) {
	if limit <= 0 {
		limit = post.DefaultLimit
	}
	filter := bson.M{
		"$or":        []bson.M{{"playback_id": nil}, {"playback_id": ""}},
		"created_at": bson.M{"$lt": olderThan.UTC()},
	}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}).SetLimit(int64(limit))
	return r.findPosts(ctx, filter, opts)
}

func (r *Repository) CountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	n, err := r.posts.CountDocuments(ctx, bson.M{"user_id": userID, "created_at": bson.M{"$gte": since.UTC()}})
	return int(n), err
}

func (r *Repository) ViewExists(ctx context.Context, postID int64, viewerID string) (bool, error) {
	n, err := r.views.CountDocuments(ctx, bson.M{"post_id": postID, "viewer_id": viewerID}, options.Count().SetLimit(1))
	return n > 0, err
}

func (r *Repository) InsertView(ctx context.Context, postID int64, viewerID string) error {
	_, err := r.views.InsertOne(ctx, viewDoc{PostID: postID, ViewerID: viewerID})
	return duplicate(err)
}

func (r *Repository) IncrementView(ctx context.Context, postID int64, viewerID string) error {
	res, err := r.views.UpdateOne(ctx,
		bson.M{"post_id": postID, "viewer_id": viewerID},
		bson.M{"$inc": bson.M{"view_count": 1}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return post.ErrNotFound
	}
	return nil
}

func (r *Repository) Views(ctx context.Context, postID int64) ([]engagement.View, error) {
	cur, err := r.views.Find(ctx, bson.M{"post_id": postID}, options.Find().SetSort(bson.D{{Key: "viewer_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []viewDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]engagement.View, 0, len(docs))
	for _, d := range docs {
		out = append(out, engagement.View{PostID: d.PostID, ViewerID: d.ViewerID, Count: d.ViewCount})
	}
	return out, nil
}

func (r *Repository) InsertLike(ctx context.Context, postID int64, userID string) error {
	_, err := r.likes.InsertOne(ctx, bson.M{"post_id": postID, "user_id": userID, "created_at": r.now().UTC()})
	return duplicate(err)
}

func (r *Repository) InsertComment(ctx context.Context, c engagement.Comment) error {
	_, err := r.comments.InsertOne(ctx, bson.M{
		"_id":        c.ID,
		"post_id":    c.PostID,
		"user_id":    c.UserID,
		"text":       c.Text,
		"created_at": c.CreatedAt.UTC(),
	})
	return err
}

func (r *Repository) Follow(ctx context.Context, followerID, followeeID string) error {
	_, err := r.followers.InsertOne(ctx, bson.M{"follower_id": followerID, "followee_id": followeeID, "created_at": r.now().UTC()})
	return duplicate(err)
}

type totalDoc struct {
	PostID int64 `bson:"_id"`
	Total  int64 `bson:"total"`
}

func (r *Repository) totals(ctx context.Context, coll *mongo.Collection, postIDs []int64, sum any) (map[int64]int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"post_id": bson.M{"$in": postIDs}}}},
		{{Key: "$group", Value: bson.M{"_id": "$post_id", "total": bson.M{"$sum": sum}}}},
	}
	cur, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []totalDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make(map[int64]int64, len(docs))
	for _, d := range docs {
		out[d.PostID] = d.Total
	}
	return out, nil
}

func (r *Repository) Aggregates(ctx context.Context, postIDs []int64) (map[int64]engagement.Aggregate, error) {
	out := make(map[int64]engagement.Aggregate, len(postIDs))
	if len(postIDs) == 0 {
		return out, nil
	}
	views, err := r.totals(ctx, r.views, postIDs, "$view_count")
	if err != nil {
		return nil, err
	}
	likes, err := r.totals(ctx, r.likes, postIDs, 1)
	if err != nil {
		return nil, err
	}
	comments, err := r.totals(ctx, r.comments, postIDs, 1)
	if err != nil {
		return nil, err
	}
	for _, id := range postIDs {
		out[id] = engagement.Aggregate{Views: views[id], Likes: likes[id], Comments: comments[id]}
	}
	return out, nil
}

func (r *Repository) LikedBy(ctx context.Context, viewerID string, postIDs []int64) (map[int64]bool, error) {
	out := make(map[int64]bool, len(postIDs))
	for _, id := range postIDs {
		out[id] = false
	}
	liked, err := r.likes.Distinct(ctx, "post_id", bson.M{"user_id": viewerID, "post_id": bson.M{"$in": postIDs}})
	if err != nil {
		return nil, err
	}
	for _, v := range liked {
		if id, ok := asInt64(v); ok {
			out[id] = true
		}
	}
	return out, nil
}

func (r *Repository) FollowedBy(ctx context.Context, viewerID string, authorIDs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(authorIDs))
	for _, id := range authorIDs {
		out[id] = false
	}
	followed, err := r.followers.Distinct(ctx, "followee_id", bson.M{"follower_id": viewerID, "followee_id": bson.M{"$in": authorIDs}})
	if err != nil {
		return nil, err
	}
	for _, v := range followed {
		if id, ok := v.(string); ok {
			out[id] = true
		}
	}
	return out, nil
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}

func duplicate(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return store.ErrDuplicate
	}
	return err
}

var (
	_ post.Store       = (*Repository)(nil)
	_ engagement.Store = (*Repository)(nil)
)
