package post

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*JSONStore, *time.Time) {
	t.Helper()
	s, err := NewJSONStore(t.TempDir())
	require.NoError(t, err)
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }
	return s, &clock
}

func TestInsertAndFinalize(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	country := int64(3)
	id, err := s.InsertPlaceholder(ctx, Placeholder{UserID: "u1", CountryID: &country, VideoURL: "https://cdn/u1/1.mp4", ThumbnailURL: "https://cdn/u1/1.jpg"})
	require.NoError(t, err)
	require.Equal(t, int64(1), id)

	rec, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, rec.Pending())
	require.Equal(t, "https://cdn/u1/1.mp4", rec.VideoURL)
	require.Equal(t, int64(3), *rec.CountryID)

	require.NoError(t, s.Finalize(ctx, id, "pb1"))
	rec, err = s.Get(ctx, id)
	require.NoError(t, err)
	require.False(t, rec.Pending())
	require.Equal(t, "pb1", *rec.PlaybackID)

	require.ErrorIs(t, s.Finalize(ctx, 99, "pb"), ErrNotFound)
	_, err = s.Get(ctx, 99)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestIDsSurviveReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewJSONStore(dir)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := s.InsertPlaceholder(ctx, Placeholder{UserID: "u1"})
		require.NoError(t, err)
	}

	reopened, err := NewJSONStore(dir)
	require.NoError(t, err)
	id, err := reopened.InsertPlaceholder(ctx, Placeholder{UserID: "u1"})
	require.NoError(t, err)
	require.Equal(t, int64(4), id)
}

func TestListFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)

	country := int64(7)
	for i, p := range []Placeholder{
		{UserID: "u1"},
		{UserID: "u2", CountryID: &country},
		{UserID: "u1", CountryID: &country},
		{UserID: "u3"},
	} {
		*clock = clock.Add(time.Duration(i+1) * time.Minute)
		_, err := s.InsertPlaceholder(ctx, p)
		require.NoError(t, err)
	}
	require.NoError(t, s.SetSuppressed(ctx, 4, true))

	all, err := s.List(ctx, Query{})
	require.NoError(t, err)
	require.Equal(t, []int64{3, 2, 1}, ids(all))

	mine, err := s.List(ctx, Query{UserID: "u1"})
	require.NoError(t, err)
	require.Equal(t, []int64{3, 1}, ids(mine))

	local, err := s.List(ctx, Query{CountryID: &country})
	require.NoError(t, err)
	require.Equal(t, []int64{3, 2}, ids(local))

	paged, err := s.List(ctx, Query{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Equal(t, []int64{2}, ids(paged))

	withSuppressed, err := s.List(ctx, Query{IncludeSuppressed: true})
	require.NoError(t, err)
	require.Len(t, withSuppressed, 4)
}

func TestListPendingAndCountSince(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)
	start := *clock

	for i := 0; i < 3; i++ {
		*clock = clock.Add(time.Hour)
		_, err := s.InsertPlaceholder(ctx, Placeholder{UserID: "u1"})
		require.NoError(t, err)
	}
	require.NoError(t, s.Finalize(ctx, 1, "pb1"))

	pending, err := s.ListPending(ctx, start.Add(3*time.Hour), 10)
	require.NoError(t, err)
	require.Equal(t, []int64{2}, ids(pending))

	n, err := s.CountSince(ctx, "u1", start.Add(2*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = s.CountSince(ctx, "u2", start)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestQueryNormalize(t *testing.T) {
	require.Equal(t, DefaultLimit, Query{}.Normalize().Limit)
	require.Equal(t, MaxLimit, Query{Limit: 1000}.Normalize().Limit)
	require.Zero(t, Query{Offset: -3}.Normalize().Offset)
}

func ids(records []Record) []int64 {
	out := make([]int64, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}
