package feed

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"wildfire/internal/engagement"
	"wildfire/internal/post"
	"wildfire/internal/streaming"
)

type Engagement interface {
	Aggregates(ctx context.Context, postIDs []int64) (map[int64]engagement.Aggregate, error)
	LikedBy(ctx context.Context, viewerID string, postIDs []int64) (map[int64]bool, error)
	FollowedBy(ctx context.Context, viewerID string, authorIDs []string) (map[string]bool, error)
}

type Resolver interface {
	Resolve(ctx context.Context, rec *post.Record) streaming.Resolution
}

type Item struct {
	post.Record
	Playback        streaming.Resolution `json:"playback"`
	Views           int64                `json:"views"`
	Likes           int64                `json:"likes"`
	Comments        int64                `json:"comments"`
	Liked           bool                 `json:"liked"`
	FollowingAuthor bool                 `json:"following_author"`
}

type Query struct {
	post.Query
	// ViewerID drives liked/followed flags; empty means anonymous.
	ViewerID string
}

// resolveParallelism bounds concurrent playback lookups per page.
const resolveParallelism = 8

type Service struct {
	posts      post.Store
	engagement Engagement
	resolver   Resolver
	logger     *zap.Logger
}

func NewService(posts post.Store, eng Engagement, resolver Resolver, logger *zap.Logger) *Service {
	return &Service{posts: posts, engagement: eng, resolver: resolver, logger: logger}
}

// List returns one page of visible posts, newest first. Counters and viewer
// flags are fetched with one batched call each for the whole page.
func (service *Service) List(ctx context.Context, q Query) ([]Item, error) {
	q.IncludeSuppressed = false
	records, err := service.posts.List(ctx, q.Query)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	if len(records) == 0 {
		return []Item{}, nil
	}

	ids := make([]int64, 0, len(records))
	authors := make([]string, 0, len(records))
	seen := make(map[string]bool, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
		if !seen[r.UserID] {
			seen[r.UserID] = true
			authors = append(authors, r.UserID)
		}
	}

	aggregates, err := service.engagement.Aggregates(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load aggregates: %w", err)
	}
	liked, err := service.engagement.LikedBy(ctx, q.ViewerID, ids)
	if err != nil {
		return nil, fmt.Errorf("load likes: %w", err)
	}
	followed, err := service.engagement.FollowedBy(ctx, q.ViewerID, authors)
	if err != nil {
		return nil, fmt.Errorf("load follows: %w", err)
	}

	items := make([]Item, len(records))
	for i, r := range records {
		agg := aggregates[r.ID]
		items[i] = Item{
			Record:          r,
			Views:           agg.Views,
			Likes:           agg.Likes,
			Comments:        agg.Comments,
			Liked:           liked[r.ID],
			FollowingAuthor: followed[r.UserID],
		}
	}

	service.resolveAll(ctx, items)
	return items, nil
}

func (service *Service) resolveAll(ctx context.Context, items []Item) {
	sem := make(chan struct{}, resolveParallelism)
	var wg sync.WaitGroup
	for i := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func(item *Item) {
			defer wg.Done()
			defer func() { <-sem }()
			item.Playback = service.resolver.Resolve(ctx, &item.Record)
		}(&items[i])
	}
	wg.Wait()
}
