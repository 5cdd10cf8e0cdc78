package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogPublisher(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	p := NewLogPublisher(zap.New(core))

	require.NoError(t, p.Publish(context.Background(), Event{Type: PostDegraded, PostID: 7, UserID: "u1", Reason: "tus gave up"}))
	require.NoError(t, p.Close())

	entries := logs.FilterMessage("post event").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "post.degraded", fields["type"])
	require.Equal(t, int64(7), fields["post_id"])
	require.Equal(t, "tus gave up", fields["reason"])
}

func TestKafkaMessage(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msg, err := message(Event{Type: PostFinalized, PostID: 42, UserID: "u1", PlaybackID: "pb1", At: at})
	require.NoError(t, err)

	require.Equal(t, "42", string(msg.Key))
	require.Equal(t, at, msg.Time)
	require.Equal(t, "type", msg.Headers[0].Key)
	require.Equal(t, "post.finalized", string(msg.Headers[0].Value))

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	require.Equal(t, "pb1", decoded.PlaybackID)
	require.Equal(t, int64(42), decoded.PostID)
}
