package relcache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/d60-Lab/connectnow/internal/model"
	"github.com/d60-Lab/connectnow/internal/repository"
)

type fixture struct {
	cache   *Cache
	follows repository.FollowRepository
	users   repository.UserRepository
	db      *gorm.DB
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&model.User{}, &model.Follow{}))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := &fixture{db: db, follows: repository.NewFollowRepository(db), users: repository.NewUserRepository(db)}
	f.cache = New(rdb, f.follows, f.users, time.Minute)
	return f
}

func (f *fixture) seedUsers(t *testing.T, n int) []string {
	t.Helper()
	ids := make([]string, n)
	for i := range ids {
		id := fmt.Sprintf("u%03d", i)
		require.NoError(t, f.users.Create(context.Background(), &model.User{ID: id, Name: id, Username: id, Email: id + "@example.com", Password: "p"}))
		ids[i] = id
	}
	return ids
}

func TestIsFollowingLoadsOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	ids := f.seedUsers(t, 3)
	_, err := f.follows.Create(ctx, ids[0], ids[1])
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		ok, err := f.cache.IsFollowing(ctx, ids[0], ids[1])
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = f.cache.IsFollowing(ctx, ids[0], ids[2])
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.Equal(t, int64(1), f.cache.Counters().SetLoads)

	// 不关注任何人的用户同样只加载一次
	for i := 0; i < 3; i++ {
		ok, err := f.cache.IsFollowing(ctx, ids[2], ids[0])
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.Equal(t, int64(2), f.cache.Counters().SetLoads)

	_, err = f.follows.Create(ctx, ids[0], ids[2])
	require.NoError(t, err)
	f.cache.Invalidate(ctx, ids[0], ids[2])
	ok, err := f.cache.IsFollowing(ctx, ids[0], ids[2])
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFollowerIDsPaging(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	ids := f.seedUsers(t, 6)
	for _, id := range ids[1:] {
		_, err := f.follows.Create(ctx, id, ids[0])
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}

	first, err := f.cache.FollowerIDs(ctx, ids[0], 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{ids[5], ids[4]}, first)

	f.cache.ResetCounters()
	second, err := f.cache.FollowerIDs(ctx, ids[0], 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{ids[3], ids[2]}, second)
	third, err := f.cache.FollowerIDs(ctx, ids[0], 3, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{ids[1]}, third)
	beyond, err := f.cache.FollowerIDs(ctx, ids[0], 9, 2)
	require.NoError(t, err)
	assert.Empty(t, beyond)
	assert.Zero(t, f.cache.Counters().IndexLoads)

	none, err := f.cache.FollowerIDs(ctx, ids[5], 1, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestUsersSkipsMissingAndCaches(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	ids := f.seedUsers(t, 3)

	snaps, err := f.cache.Users(ctx, []string{ids[2], "ghost", ids[0]})
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, ids[2], snaps[0].ID)
	assert.Equal(t, ids[0], snaps[1].ID)
	assert.Equal(t, int64(1), f.cache.Counters().UserBulkLoad)

	_, err = f.cache.Users(ctx, []string{ids[0], ids[2]})
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.cache.Counters().UserBulkLoad)

	require.NoError(t, f.users.Update(ctx, ids[0], map[string]interface{}{"name": "renamed"}))
	f.cache.InvalidateUser(ctx, ids[0])
	snaps, err = f.cache.Users(ctx, []string{ids[0]})
	require.NoError(t, err)
	assert.Equal(t, "renamed", snaps[0].Name)
}

// pausingFollows 读完数据库后停住，等待放行
type pausingFollows struct {
	repository.FollowRepository
	read    chan struct{}
	release chan struct{}
}

func (p *pausingFollows) FollowingIDs(ctx context.Context, followerID string) ([]string, error) {
	ids, err := p.FollowRepository.FollowingIDs(ctx, followerID)
	p.read <- struct{}{}
	<-p.release
	return ids, err
}

func (p *pausingFollows) ListFollowers(ctx context.Context, followeeID string, offset, limit int) ([]*model.Follow, error) {
	edges, err := p.FollowRepository.ListFollowers(ctx, followeeID, offset, limit)
	p.read <- struct{}{}
	<-p.release
	return edges, err
}

func TestLoadRacingInvalidateDoesNotStoreStaleView(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	ids := f.seedUsers(t, 2)
	a, b := ids[0], ids[1]

	paused := &pausingFollows{FollowRepository: f.follows, read: make(chan struct{}), release: make(chan struct{})}
	racy := New(f.cache.client, paused, f.users, time.Minute)

	done := make(chan bool)
	go func() {
		ok, err := racy.IsFollowing(ctx, a, b)
		assert.NoError(t, err)
		done <- ok
	}()
	<-paused.read

	// 读者拿到旧数据之后，关注写入并失效缓存
	_, err := f.follows.Create(ctx, a, b)
	require.NoError(t, err)
	f.cache.Invalidate(ctx, a, b)

	close(paused.release)
	assert.False(t, <-done, "the in-flight read saw the graph before the follow")

	ok, err := f.cache.IsFollowing(ctx, a, b)
	require.NoError(t, err)
	assert.True(t, ok)

	paused.release = make(chan struct{})
	go func() {
		list, err := racy.FollowerIDs(ctx, b, 1, 10)
		assert.NoError(t, err)
		assert.Equal(t, []string{a}, list)
		done <- true
	}()
	<-paused.read
	_, err = f.follows.Delete(ctx, a, b)
	require.NoError(t, err)
	f.cache.Invalidate(ctx, a, b)
	close(paused.release)
	<-done

	list, err := f.cache.FollowerIDs(ctx, b, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}
