package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherRecordsMessages(t *testing.T) {
	t.Parallel()

	pub := New(nil)
	id1, err := pub.Publish(context.Background(), "runs", map[string]string{"status": "success"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "audit", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "runs", msgs[0].Topic)
	require.JSONEq(t, `{"status":"success"}`, string(msgs[0].Data))
	require.Equal(t, `"payload"`, string(msgs[1].Data))
	require.False(t, msgs[0].PublishedAt.IsZero())

	require.Len(t, pub.Topic("runs"), 1)
	require.Empty(t, pub.Topic("missing"))

	msgs[0].Topic = "modified"
	require.Equal(t, "runs", pub.Messages()[0].Topic)
}

func TestPublisherRejectsUnencodablePayload(t *testing.T) {
	t.Parallel()

	pub := New(nil)
	_, err := pub.Publish(context.Background(), "runs", make(chan int))
	require.Error(t, err)
	require.Empty(t, pub.Messages())
}

func TestPublisherHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(nil).Publish(ctx, "runs", "x")
	require.ErrorIs(t, err, context.Canceled)
}
