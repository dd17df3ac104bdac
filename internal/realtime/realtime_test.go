package realtime

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBroadcaster(t *testing.T, queue int) (*Broadcaster, func(context.Context) error) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	b := NewBroadcaster(rdb, "t:", queue)
	return b, b.Start(2)
}

func TestSignalReachesSubscriber(t *testing.T) {
	b, stop := newBroadcaster(t, 16)
	defer func() { _ = stop(context.Background()) }()

	ctx := context.Background()
	sub, err := b.Subscribe(ctx, NotificationsTopic("u1"), TopicFeed)
	require.NoError(t, err)
	defer sub.Close()

	b.Signal(NotificationsTopic("u2"))
	b.Signal(NotificationsTopic("u1"))

	select {
	case topic := <-sub.C():
		assert.Equal(t, "notifications:u1", topic)
	case <-time.After(2 * time.Second):
		t.Fatal("no signal received")
	}
}

func TestSignalOnNilBroadcaster(t *testing.T) {
	var b *Broadcaster
	assert.NotPanics(t, func() { b.Signal(TopicFeed) })
}

func TestSignalDropsWhenFull(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	b := NewBroadcaster(rdb, "t:", 2)

	b.Signal("a", "b", "c", "d")
	assert.Equal(t, 2, b.QueueLen())

	stop := b.Start(1)
	require.NoError(t, stop(context.Background()))
	assert.Zero(t, b.QueueLen())
}

func TestStreamSnapshotThenReload(t *testing.T) {
	b, stop := newBroadcaster(t, 16)
	defer func() { _ = stop(context.Background()) }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := b.Subscribe(ctx, TopicFeed)
	require.NoError(t, err)
	defer sub.Close()

	var loads atomic.Int32
	emitted := make(chan int32, 8)
	done := make(chan error, 1)
	go func() {
		done <- Stream(ctx, sub,
			func(context.Context) (int32, error) { return loads.Add(1), nil },
			func(v int32) error { emitted <- v; return nil })
	}()

	assert.Equal(t, int32(1), <-emitted)
	b.Signal(TopicFeed)
	select {
	case v := <-emitted:
		assert.GreaterOrEqual(t, v, int32(2))
	case <-time.After(2 * time.Second):
		t.Fatal("no reload after signal")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop")
	}
}

func TestTopics(t *testing.T) {
	assert.Equal(t, "post:p1", PostTopic("p1"))
	assert.Equal(t, "conversations:u1", ConversationsTopic("u1"))
	assert.Equal(t, "messages:c1", MessagesTopic("c1"))
}
