package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/connectnow/internal/model"
)

func TestToggleLikeRoundTrip(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	author, fan := e.user(t, "author"), e.user(t, "fan")
	p := e.post(t, author, "hello world", time.Now())

	res, err := e.feed.ToggleLike(ctx, p.ID, fan.ID)
	require.NoError(t, err)
	assert.Equal(t, LikeResult{Liked: true, LikeCount: 1}, res)

	view, err := e.feed.GetPost(ctx, p.ID, fan.ID)
	require.NoError(t, err)
	assert.True(t, view.LikedByMe)
	assert.Equal(t, int64(1), view.LikeCount)

	res, err = e.feed.ToggleLike(ctx, p.ID, fan.ID)
	require.NoError(t, err)
	assert.Equal(t, LikeResult{Liked: false, LikeCount: 0}, res)
	assert.Zero(t, e.count(t, &model.Like{}, ""))

	_, err = e.feed.ToggleLike(ctx, "missing", fan.ID)
	assert.ErrorIs(t, err, ErrPostNotFound)
}

func TestConcurrentTogglesKeepCounterConsistent(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	author := e.user(t, "author")
	p := e.post(t, author, "race", time.Now())
	users := []*model.User{e.user(t, "u1"), e.user(t, "u2"), e.user(t, "u3")}

	var wg sync.WaitGroup
	for _, u := range users {
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				_, err := e.feed.ToggleLike(ctx, p.ID, id)
				assert.NoError(t, err)
			}(u.ID)
		}
	}
	wg.Wait()

	got, err := e.posts.GetByID(ctx, p.ID)
	require.NoError(t, err)
	// 每个用户切换奇数次，最终都处于已点赞状态
	assert.Equal(t, int64(3), got.LikeCount)
	assert.Equal(t, got.LikeCount, e.count(t, &model.Like{}, "post_id = ?", p.ID))
}

func TestLikeNotifications(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	author, fan := e.user(t, "author"), e.user(t, "fan")
	p := e.post(t, author, "a post long enough to need an excerpt, surely", time.Now())

	// 自己点赞不产生通知
	_, err := e.feed.ToggleLike(ctx, p.ID, author.ID)
	require.NoError(t, err)
	e.drainOutbox(t)
	assert.Zero(t, e.count(t, &model.Notification{}, ""))

	// unlike 再 like，未读期间只保留一条
	for i := 0; i < 3; i++ {
		_, err = e.feed.ToggleLike(ctx, p.ID, fan.ID)
		require.NoError(t, err)
	}
	e.drainOutbox(t)
	assert.Equal(t, int64(1), e.count(t, &model.Notification{}, "kind = ?", model.NotificationLike))

	list, err := e.notify.List(ctx, author.ID, 1, 20)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, fan.ID, list[0].From.ID)
	assert.Equal(t, "a post long enough to need an ...", list[0].PostExcerpt)
}

func TestFeedOrderingAndJoins(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	a, b := e.user(t, "a"), e.user(t, "b")
	base := time.Now().Add(-time.Hour)
	p1 := e.post(t, a, "first", base)
	p2 := e.post(t, b, "second", base.Add(time.Minute))
	p3 := e.post(t, a, "third", base.Add(2*time.Minute))

	_, err := e.feed.ToggleLike(ctx, p2.ID, a.ID)
	require.NoError(t, err)

	feed, err := e.feed.ListFeed(ctx, a.ID, nil, 10)
	require.NoError(t, err)
	require.Len(t, feed, 3)
	assert.Equal(t, []string{p3.ID, p2.ID, p1.ID}, []string{feed[0].ID, feed[1].ID, feed[2].ID})
	assert.Equal(t, "b", feed[1].Author.Username)
	assert.True(t, feed[1].LikedByMe)
	assert.False(t, feed[0].LikedByMe)

	before := p2.CreatedAt
	older, err := e.feed.ListFeed(ctx, a.ID, &before, 10)
	require.NoError(t, err)
	require.Len(t, older, 1)
	assert.Equal(t, p1.ID, older[0].ID)

	mine, err := e.feed.ListByAuthor(ctx, a.ID, b.ID, nil, 10)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	// 作者被直接删除后，其帖子在列表中不再出现
	require.NoError(t, e.db.Delete(&model.User{}, "id = ?", b.ID).Error)
	feed, err = e.feed.ListFeed(ctx, a.ID, nil, 10)
	require.NoError(t, err)
	assert.Len(t, feed, 2)
}

func TestCreatePost(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	a := e.user(t, "a")

	p, err := e.feed.CreatePost(ctx, a.ID, CreatePostInput{Content: "  look  ", MediaURL: "https://cdn/x.mp4", MediaType: model.MediaVideo, Song: "tune"})
	require.NoError(t, err)
	assert.Equal(t, "look", p.Content)
	assert.Equal(t, model.MediaVideo, p.MediaType)

	p, err = e.feed.CreatePost(ctx, a.ID, CreatePostInput{MediaURL: "https://cdn/x.png"})
	require.NoError(t, err)
	assert.Equal(t, model.MediaImage, p.MediaType)

	_, err = e.feed.CreatePost(ctx, a.ID, CreatePostInput{Content: "   "})
	assert.ErrorIs(t, err, ErrEmptyContent)
	_, err = e.feed.CreatePost(ctx, "ghost", CreatePostInput{Content: "x"})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestComments(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	a, b := e.user(t, "a"), e.user(t, "b")
	p := e.post(t, a, "discuss", time.Now())

	_, err := e.feed.AddComment(ctx, p.ID, b.ID, "one")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	c2, err := e.feed.AddComment(ctx, p.ID, a.ID, "two")
	require.NoError(t, err)
	assert.Equal(t, "a", c2.Author.Username)

	list, err := e.feed.ListComments(ctx, p.ID, 1, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "one", list[0].Text)
	assert.Equal(t, "two", list[1].Text)

	got, err := e.posts.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.CommentCount)

	_, err = e.feed.AddComment(ctx, "missing", a.ID, "x")
	assert.ErrorIs(t, err, ErrPostNotFound)
	_, err = e.feed.AddComment(ctx, p.ID, a.ID, " ")
	assert.ErrorIs(t, err, ErrEmptyContent)
}
