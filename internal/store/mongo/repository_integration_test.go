//go:build integration

package mongo

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"wildfire/internal/engagement"
	"wildfire/internal/post"
	"wildfire/internal/store"
)

var (
	testClient    *mongo.Client
	testContainer testcontainers.Container
)

func TestMain(m *testing.M) {
	ctx := context.Background()
	if err := startMongo(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start mongo container: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	if testClient != nil {
		_ = testClient.Disconnect(context.Background())
	}
	if testContainer != nil {
		termCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = testContainer.Terminate(termCtx)
	}
	os.Exit(code)
}

func startMongo(ctx context.Context) error {
	req := testcontainers.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor: wait.ForListeningPort(nat.Port("27017/tcp")).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return err
	}
	testContainer = container

	host, err := container.Host(ctx)
	if err != nil {
		return err
	}
	port, err := container.MappedPort(ctx, "27017")
	if err != nil {
		return err
	}

	testClient, err = Connect(ctx, fmt.Sprintf("mongodb://%s:%s", host, port.Port()))
	return err
}

// freshRepository gives each test its own empty database with indexes.
func freshRepository(t *testing.T) *Repository {
	t.Helper()
	ctx := context.Background()
	db := testClient.Database("wildfire")
	require.NoError(t, db.Drop(ctx))

	repo := NewRepository(db)
	require.NoError(t, repo.EnsureIndexes(ctx))
	return repo
}

func TestPostLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := freshRepository(t)

	country := int64(4)
	id, err := repo.InsertPlaceholder(ctx, post.Placeholder{UserID: "u1", CountryID: &country, VideoURL: "v", ThumbnailURL: "t"})
	require.NoError(t, err)
	require.Equal(t, int64(1), id)

	second, err := repo.InsertPlaceholder(ctx, post.Placeholder{UserID: "u2", VideoURL: "v2"})
	require.NoError(t, err)
	require.Equal(t, int64(2), second)

	rec, err := repo.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, rec.Pending())
	require.Equal(t, int64(4), *rec.CountryID)

	pending, err := repo.ListPending(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, id, pending[0].ID)

	require.NoError(t, repo.Finalize(ctx, id, "pb1"))
	rec, err = repo.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "pb1", *rec.PlaybackID)

	pending, err = repo.ListPending(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, second, pending[0].ID)

	require.ErrorIs(t, repo.Finalize(ctx, id+100, "pb"), post.ErrNotFound)
	_, err = repo.Get(ctx, id+100)
	require.ErrorIs(t, err, post.ErrNotFound)

	n, err := repo.CountSince(ctx, "u1", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	byCountry, err := repo.List(ctx, post.Query{CountryID: &country})
	require.NoError(t, err)
	require.Len(t, byCountry, 1)

	require.NoError(t, repo.SetSuppressed(ctx, id, true))
	visible, err := repo.List(ctx, post.Query{})
	require.NoError(t, err)
	require.Len(t, visible, 1)
	require.Equal(t, second, visible[0].ID)
}

func TestEngagementRows(t *testing.T) {
	ctx := context.Background()
	repo := freshRepository(t)
	counter := engagement.NewCounter(repo, zap.NewNop())

	id, err := repo.InsertPlaceholder(ctx, post.Placeholder{UserID: "author"})
	require.NoError(t, err)

	require.NoError(t, counter.RegisterView(ctx, id, "alice"))
	require.NoError(t, counter.RegisterView(ctx, id, "alice"))
	require.NoError(t, counter.RegisterView(ctx, id, "bob"))
	require.ErrorIs(t, repo.InsertView(ctx, id, "alice"), store.ErrDuplicate)

	views, err := repo.Views(ctx, id)
	require.NoError(t, err)
	require.Equal(t, []engagement.View{
		{PostID: id, ViewerID: "alice", Count: 2},
		{PostID: id, ViewerID: "bob", Count: 1},
	}, views)

	total, err := counter.TotalViews(ctx, id)
	require.NoError(t, err)
	require.Equal(t, int64(3), total)

	require.NoError(t, counter.Like(ctx, id, "alice"))
	require.ErrorIs(t, counter.Like(ctx, id, "alice"), engagement.ErrAlreadyLiked)

	_, err = counter.Comment(ctx, id, "bob", "great")
	require.NoError(t, err)
	require.NoError(t, counter.Follow(ctx, "alice", "author"))
	require.NoError(t, counter.Follow(ctx, "alice", "author"))

	aggs, err := counter.Aggregates(ctx, []int64{id, id + 1})
	require.NoError(t, err)
	require.Equal(t, engagement.Aggregate{Views: 3, Likes: 1, Comments: 1}, aggs[id])
	require.Equal(t, engagement.Aggregate{}, aggs[id+1])

	liked, err := counter.LikedBy(ctx, "alice", []int64{id})
	require.NoError(t, err)
	require.True(t, liked[id])

	followed, err := counter.FollowedBy(ctx, "alice", []string{"author", "nobody"})
	require.NoError(t, err)
	require.Equal(t, map[string]bool{"author": true, "nobody": false}, followed)
}
