package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/connectnow/internal/model"
)

func TestMarkRead(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	a, b := e.user(t, "a"), e.user(t, "b")
	require.NoError(t, e.graph.Follow(ctx, a.ID, b.ID))
	e.drainOutbox(t)

	list, err := e.notify.List(ctx, b.ID, 1, 20)
	require.NoError(t, err)
	require.Len(t, list, 1)
	id := list[0].ID
	assert.False(t, list[0].Read)
	assert.Empty(t, list[0].PostExcerpt)

	unread, err := e.notify.UnreadCount(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread)

	assert.ErrorIs(t, e.notify.MarkRead(ctx, id, a.ID), ErrForbidden)
	assert.ErrorIs(t, e.notify.MarkRead(ctx, "missing", b.ID), ErrNotificationNotFound)

	require.NoError(t, e.notify.MarkRead(ctx, id, b.ID))
	n, err := e.notifs.GetByID(ctx, id)
	require.NoError(t, err)
	require.True(t, n.Read)
	require.NotNil(t, n.ReadAt)
	firstReadAt := *n.ReadAt

	require.NoError(t, e.notify.MarkRead(ctx, id, b.ID))
	n, err = e.notifs.GetByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, n.Read)
	assert.True(t, firstReadAt.Equal(*n.ReadAt))

	unread, err = e.notify.UnreadCount(ctx, b.ID)
	require.NoError(t, err)
	assert.Zero(t, unread)
}

func TestNewNotificationAfterRead(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	a, b := e.user(t, "a"), e.user(t, "b")
	require.NoError(t, e.graph.Follow(ctx, a.ID, b.ID))
	e.drainOutbox(t)
	n, err := e.notify.MarkAllRead(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, e.graph.Unfollow(ctx, a.ID, b.ID))
	require.NoError(t, e.graph.Follow(ctx, a.ID, b.ID))
	e.drainOutbox(t)
	assert.Equal(t, int64(2), e.count(t, &model.Notification{}, "to_user_id = ?", b.ID))
}

func TestNotificationJoins(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	author, fan, gone := e.user(t, "author"), e.user(t, "fan"), e.user(t, "gone")
	short := e.post(t, author, "short", time.Now())
	deleted := e.post(t, author, "to be deleted", time.Now().Add(time.Second))

	_, err := e.feed.ToggleLike(ctx, short.ID, fan.ID)
	require.NoError(t, err)
	_, err = e.feed.ToggleLike(ctx, deleted.ID, fan.ID)
	require.NoError(t, err)
	require.NoError(t, e.graph.Follow(ctx, gone.ID, author.ID))
	e.drainOutbox(t)

	require.NoError(t, e.db.Delete(&model.Post{}, "id = ?", deleted.ID).Error)
	require.NoError(t, e.db.Delete(&model.User{}, "id = ?", gone.ID).Error)

	list, err := e.notify.List(ctx, author.ID, 1, 20)
	require.NoError(t, err)
	require.Len(t, list, 2)
	excerpts := map[string]string{}
	for _, v := range list {
		assert.Equal(t, model.NotificationLike, v.Kind)
		excerpts[*v.PostID] = v.PostExcerpt
	}
	assert.Equal(t, "short", excerpts[short.ID])
	assert.Equal(t, "your post", excerpts[deleted.ID])
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "abc", Excerpt("abc", 30))
	assert.Equal(t, "héllo...", Excerpt("héllo wörld", 5))
}

func TestWorkerReleasesOnFailure(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	a, b := e.user(t, "a"), e.user(t, "b")
	require.NoError(t, e.graph.Follow(ctx, a.ID, b.ID))

	require.NoError(t, e.db.Migrator().DropTable(&model.Notification{}))
	n, err := e.worker.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, int64(1), e.count(t, &model.Outbox{}, "status = ?", model.OutboxPending))

	require.NoError(t, e.db.AutoMigrate(&model.Notification{}))
	assert.Equal(t, 1, e.drainOutbox(t))
	assert.Equal(t, int64(1), e.count(t, &model.Outbox{}, "status = ?", model.OutboxDone))
}

func TestWorkerReclaimsAbandonedClaim(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	a, b := e.user(t, "a"), e.user(t, "b")
	require.NoError(t, e.graph.Follow(ctx, a.ID, b.ID))

	// 另一个 worker 认领后崩溃，既没有 MarkDone 也没有 Release
	claimed, err := e.outbox.Claim(ctx, 10, time.Now().UTC(), DefaultClaimLease)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	assert.Zero(t, e.drainOutbox(t), "lease still held")
	unread, err := e.notify.UnreadCount(ctx, b.ID)
	require.NoError(t, err)
	assert.Zero(t, unread)

	e.worker.now = func() time.Time { return time.Now().UTC().Add(2 * DefaultClaimLease) }
	assert.Equal(t, 1, e.drainOutbox(t))
	unread, err = e.notify.UnreadCount(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread)
	assert.Equal(t, int64(1), e.count(t, &model.Outbox{}, "status = ?", model.OutboxDone))
}

func TestWorkerStartStop(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	a, b := e.user(t, "a"), e.user(t, "b")
	w := NewNotificationWorker(e.outbox, e.notifs, e.live, 2, 10, 5*time.Millisecond)
	stop := w.Start()

	require.NoError(t, e.graph.Follow(ctx, a.ID, b.ID))
	require.Eventually(t, func() bool {
		unread, err := e.notify.UnreadCount(ctx, b.ID)
		return err == nil && unread == 1
	}, 2*time.Second, 10*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, stop(stopCtx))
}

func TestRetentionSweep(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	a, b := e.user(t, "a"), e.user(t, "b")
	require.NoError(t, e.graph.Follow(ctx, a.ID, b.ID))
	e.drainOutbox(t)
	_, err := e.notify.MarkAllRead(ctx, b.ID)
	require.NoError(t, err)

	c := e.user(t, "c")
	require.NoError(t, e.graph.Follow(ctx, c.ID, b.ID))
	e.drainOutbox(t)

	sweeper, err := NewRetentionSweeper(e.notifs, e.outbox, "0 3 * * *", time.Hour)
	require.NoError(t, err)

	n, ev, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, ev)

	sweeper.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	n, ev, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, int64(2), ev)
	// 未读通知保留
	assert.Equal(t, int64(1), e.count(t, &model.Notification{}, ""))

	next, err := sweeper.Next(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC), next)

	_, err = NewRetentionSweeper(e.notifs, e.outbox, "not a cron", time.Hour)
	assert.Error(t, err)
}
