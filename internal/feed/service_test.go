package feed

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wildfire/internal/engagement"
	"wildfire/internal/post"
	"wildfire/internal/store/memory"
	"wildfire/internal/streaming"
)

// countingEngagement wraps a counter and counts batched calls.
type countingEngagement struct {
	*engagement.Counter
	calls atomic.Int32
}

func (c *countingEngagement) Aggregates(ctx context.Context, ids []int64) (map[int64]engagement.Aggregate, error) {
	c.calls.Add(1)
	return c.Counter.Aggregates(ctx, ids)
}

func (c *countingEngagement) LikedBy(ctx context.Context, viewerID string, ids []int64) (map[int64]bool, error) {
	c.calls.Add(1)
	return c.Counter.LikedBy(ctx, viewerID, ids)
}

func (c *countingEngagement) FollowedBy(ctx context.Context, viewerID string, authors []string) (map[string]bool, error) {
	c.calls.Add(1)
	return c.Counter.FollowedBy(ctx, viewerID, authors)
}

type stubResolver struct{}

func (stubResolver) Resolve(ctx context.Context, rec *post.Record) streaming.Resolution {
	if rec.Pending() {
		return streaming.Resolution{URL: rec.VideoURL, Degraded: true, Source: streaming.SourceFallback}
	}
	return streaming.Resolution{URL: "https://hls.example.com/" + *rec.PlaybackID, Source: streaming.SourceStreaming}
}

func TestListAssemblesPage(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	counter := engagement.NewCounter(mem, zap.NewNop())
	eng := &countingEngagement{Counter: counter}

	var ids []int64
	for _, user := range []string{"alice", "bob", "alice"} {
		id, err := mem.InsertPlaceholder(ctx, post.Placeholder{UserID: user, VideoURL: "https://cdn.example.com/" + user + ".mp4"})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.NoError(t, mem.Finalize(ctx, ids[0], "pb1"))
	require.NoError(t, mem.SetSuppressed(ctx, ids[1], true))

	require.NoError(t, counter.RegisterView(ctx, ids[0], "carol"))
	require.NoError(t, counter.RegisterView(ctx, ids[0], "carol"))
	require.NoError(t, counter.Like(ctx, ids[2], "carol"))
	require.NoError(t, counter.Follow(ctx, "carol", "alice"))

	service := NewService(mem, eng, stubResolver{}, zap.NewNop())
	items, err := service.List(ctx, Query{Query: post.Query{IncludeSuppressed: true}, ViewerID: "carol"})
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, int32(3), eng.calls.Load())

	byID := map[int64]Item{}
	for _, item := range items {
		byID[item.ID] = item
	}

	first := byID[ids[0]]
	require.Equal(t, int64(2), first.Views)
	require.False(t, first.Liked)
	require.True(t, first.FollowingAuthor)
	require.Equal(t, streaming.SourceStreaming, first.Playback.Source)

	third := byID[ids[2]]
	require.Equal(t, int64(1), third.Likes)
	require.True(t, third.Liked)
	require.True(t, third.Playback.Degraded)
	require.Equal(t, "https://cdn.example.com/alice.mp4", third.Playback.URL)
}

func TestListEmpty(t *testing.T) {
	mem := memory.New()
	service := NewService(mem, engagement.NewCounter(mem, zap.NewNop()), stubResolver{}, zap.NewNop())

	items, err := service.List(context.Background(), Query{})
	require.NoError(t, err)
	require.NotNil(t, items)
	require.Empty(t, items)
}

func TestListAnonymousViewer(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	counter := engagement.NewCounter(mem, zap.NewNop())
	id, err := mem.InsertPlaceholder(ctx, post.Placeholder{UserID: "alice"})
	require.NoError(t, err)
	require.NoError(t, counter.Like(ctx, id, "bob"))

	items, err := NewService(mem, counter, stubResolver{}, zap.NewNop()).List(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.False(t, items[0].Liked)
	require.Equal(t, int64(1), items[0].Likes)
}
