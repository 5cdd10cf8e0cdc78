package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"wildfire/internal/engagement"
	"wildfire/internal/post"
	"wildfire/internal/store"
)

type viewKey struct {
	postID   int64
	viewerID string
}

type followKey struct {
	follower string
	followee string
}

// Store keeps posts and engagement rows in process memory.
type Store struct {
	mu       sync.RWMutex
	nextID   int64
	posts    map[int64]*post.Record
	views    map[viewKey]int64
	likes    map[viewKey]struct{}
	comments []engagement.Comment
	follows  map[followKey]struct{}
	now      func() time.Time
}

func New() *Store {
	return &Store{
		posts:   make(map[int64]*post.Record),
		views:   make(map[viewKey]int64),
		likes:   make(map[viewKey]struct{}),
		follows: make(map[followKey]struct{}),
		now:     time.Now,
	}
}

func (s *Store) InsertPlaceholder(ctx context.Context, p post.Placeholder) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	s.nextID++
	s.posts[s.nextID] = &post.Record{
		ID:           s.nextID,
		UserID:       p.UserID,
		CountryID:    p.CountryID,
		VideoURL:     p.VideoURL,
		ThumbnailURL: p.ThumbnailURL,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return s.nextID, nil
}

func (s *Store) Finalize(ctx context.Context, id int64, playbackID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.posts[id]
	if !ok {
		return post.ErrNotFound
	}
	r.PlaybackID = &playbackID
	r.UpdatedAt = s.now().UTC()
	return nil
}

func (s *Store) SetSuppressed(ctx context.Context, id int64, suppressed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.posts[id]
	if !ok {
		return post.ErrNotFound
	}
	r.Suppressed = suppressed
	r.UpdatedAt = s.now().UTC()
	return nil
}

func (s *Store) Get(ctx context.Context, id int64) (*post.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.posts[id]
	if !ok {
		return nil, post.ErrNotFound
	}
	out := *r
	return &out, nil
}

func (s *Store) List(ctx context.Context, q post.Query) ([]post.Record, error) {
	q = q.Normalize()
	s.mu.RLock()
	var out []post.Record
	for _, r := range s.posts {
		if q.Matches(r) {
			out = append(out, *r)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if q.Offset >= len(out) {
		return []post.Record{}, nil
	}
	out = out[q.Offset:]
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *Store) ListPending(ctx context.Context, olderThan time.Time, limit int) ([]post.Record, error) {
	if limit <= 0 {
		limit = post.DefaultLimit
	}
	s.mu.RLock()
	var out []post.Record
	for _, r := range s.posts {
		if r.Pending() && r.CreatedAt.Before(olderThan) {
			out = append(out, *r)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, r := range s.posts {
		if r.UserID == userID && !r.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *Store) ViewExists(ctx context.Context, postID int64, viewerID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.views[viewKey{postID, viewerID}]
	return ok, nil
}

func (s *Store) InsertView(ctx context.Context, postID int64, viewerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := viewKey{postID, viewerID}
	if _, ok := s.views[key]; ok {
		return store.ErrDuplicate
	}
	s.views[key] = 0
	return nil
}

func (s *Store) IncrementView(ctx context.Context, postID int64, viewerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := viewKey{postID, viewerID}
	if _, ok := s.views[key]; !ok {
		return post.ErrNotFound
	}
	s.views[key]++
	return nil
}

func (s *Store) Views(ctx context.Context, postID int64) ([]engagement.View, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []engagement.View
	for key, count := range s.views {
		if key.postID == postID {
			out = append(out, engagement.View{PostID: postID, ViewerID: key.viewerID, Count: count})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ViewerID < out[j].ViewerID })
	return out, nil
}

func (s *Store) InsertLike(ctx context.Context, postID int64, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := viewKey{postID, userID}
	if _, ok := s.likes[key]; ok {
		return store.ErrDuplicate
	}
	s.likes[key] = struct{}{}
	return nil
}

func (s *Store) InsertComment(ctx context.Context, c engagement.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.comments = append(s.comments, c)
	return nil
}

func (s *Store) Follow(ctx context.Context, followerID, followeeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := followKey{followerID, followeeID}
	if _, ok := s.follows[key]; ok {
		return store.ErrDuplicate
	}
	s.follows[key] = struct{}{}
	return nil
}

func (s *Store) Aggregates(ctx context.Context, postIDs []int64) (map[int64]engagement.Aggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[int64]engagement.Aggregate, len(postIDs))
	wanted := make(map[int64]bool, len(postIDs))
	for _, id := range postIDs {
		wanted[id] = true
		out[id] = engagement.Aggregate{}
	}
	for key, count := range s.views {
		if wanted[key.postID] {
			agg := out[key.postID]
			agg.Views += count
			out[key.postID] = agg
		}
	}
	for key := range s.likes {
		if wanted[key.postID] {
			agg := out[key.postID]
			agg.Likes++
			out[key.postID] = agg
		}
	}
	for _, c := range s.comments {
		if wanted[c.PostID] {
			agg := out[c.PostID]
			agg.Comments++
			out[c.PostID] = agg
		}
	}
	return out, nil
}

func (s *Store) LikedBy(ctx context.Context, viewerID string, postIDs []int64) (map[int64]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[int64]bool, len(postIDs))
	for _, id := range postIDs {
		_, out[id] = s.likes[viewKey{id, viewerID}]
	}
	return out, nil
}

func (s *Store) FollowedBy(ctx context.Context, viewerID string, authorIDs []string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]bool, len(authorIDs))
	for _, id := range authorIDs {
		_, out[id] = s.follows[followKey{viewerID, id}]
	}
	return out, nil
}

var (
	_ post.Store       = (*Store)(nil)
	_ engagement.Store = (*Store)(nil)
)
